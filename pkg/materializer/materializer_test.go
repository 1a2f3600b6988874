package materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/settings"
	"github.com/inkton/nester-develop/pkg/topology"
)

const csproj = `<Project Sdk="Microsoft.NET.Sdk.Web">
  <PropertyGroup>
    <TargetFramework>net8.0</TargetFramework>
  </PropertyGroup>
</Project>`

type stubPorts map[int]string

func (s stubPorts) ResolvePort(ctx context.Context, svc *topology.ServiceDescriptor, containerPort int, envKey string) error {
	port, ok := s[containerPort]
	if !ok {
		return fmt.Errorf("no binding for %d", containerPort)
	}
	svc.Set(envKey, port)
	return nil
}

type recordingGit struct {
	dirs []string
	err  error
}

func (g *recordingGit) ConfigureLocal(ctx context.Context, dir, root string) error {
	g.dirs = append(g.dirs, dir)
	return g.err
}

func newProject(t *testing.T, root, tagCap string) string {
	t.Helper()
	dir := filepath.Join(root, "source", tagCap)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", tagCap+".csproj"), []byte(csproj), 0644))
	return dir
}

func apiService(root string) *topology.ServiceDescriptor {
	return &topology.ServiceDescriptor{
		Key:           "app1",
		Role:          topology.RoleApp,
		ContainerName: "c_app1",
		Environment: topology.Environment{
			topology.EnvPlatformTag:     "api",
			topology.EnvTag:             "api",
			topology.EnvTagCap:          "Api",
			topology.EnvFolderRoot:      root,
			topology.EnvDockerMachineIP: "192.168.99.100",
			"NEST_CONTACT_NAME":         "Zoë Ångström",
		},
	}
}

func TestMaterializeApp(t *testing.T) {
	root := t.TempDir()
	dir := newProject(t, root, "Api")
	git := &recordingGit{}
	sink := reporting.NewMemorySink()
	svc := apiService(root)

	m := New(stubPorts{22: "32769", 5000: "5000"}, git, nil)
	require.NoError(t, m.Materialize(context.Background(), sink, svc))

	assert.Equal(t, "32769", svc.Get(topology.EnvSSHPort))
	assert.Equal(t, "5000", svc.Get(topology.EnvHTTPPort))
	assert.Equal(t, "http://*:5000", svc.Get("ASPNETCORE_URLS"))
	assert.Equal(t, "Zoë Ångström", svc.Get("NEST_CONTACT_NAME"))
	assert.Equal(t, []string{dir}, git.dirs)

	marker, err := settings.LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, "5000", marker.Get(topology.EnvHTTPPort))

	data, err := os.ReadFile(filepath.Join(dir, ".vscode", "launch.json"))
	require.NoError(t, err)

	var launch LaunchFile
	require.NoError(t, json.Unmarshal(data, &launch))
	assert.Equal(t, "2.0.0", launch.Version)
	require.Len(t, launch.Configurations, 2)

	debug := launch.Configurations[0]
	assert.Equal(t, "/var/app/source/Api/src/bin/Debug/net8.0/Api.dll", debug.Program)
	assert.Equal(t, "/var/app/source/Api/src/", debug.Cwd)
	assert.Equal(t, []string{"exec -i c_app1"}, debug.PipeTransport.PipeArgs)
	assert.Equal(t, filepath.Join(root, "source", "shared"), debug.SourceFileMap["/var/app/source/shared"])
	require.NotNil(t, debug.LaunchBrowser)
	assert.Equal(t, "http://192.168.99.100:5000/swagger", debug.LaunchBrowser.Args)
	assert.Equal(t, "Zoe Angstrom", debug.Env["NEST_CONTACT_NAME"])

	tests := launch.Configurations[1]
	assert.Equal(t, "attach", tests.Request)
	assert.Contains(t, tests.SourceFileMap, "/var/app/source/Api/test/")
	assert.Empty(t, tests.Env)
}

func TestMaterializeWorker(t *testing.T) {
	root := t.TempDir()
	newProject(t, root, "Jobs")
	svc := &topology.ServiceDescriptor{
		Key:           "worker1",
		Role:          topology.RoleWorker,
		ContainerName: "c_worker1",
		Environment: topology.Environment{
			topology.EnvPlatformTag: "worker",
			topology.EnvTagCap:      "Jobs",
			topology.EnvFolderRoot:  root,
		},
	}

	// Workers do not expose HTTP
	m := New(stubPorts{22: "32770"}, nil, nil)
	require.NoError(t, m.Materialize(context.Background(), reporting.NewMemorySink(), svc))

	data, err := os.ReadFile(filepath.Join(root, "source", "Jobs", ".vscode", "launch.json"))
	require.NoError(t, err)

	var launch LaunchFile
	require.NoError(t, json.Unmarshal(data, &launch))
	assert.Equal(t, "0.2.0", launch.Version)
	assert.Nil(t, launch.Configurations[0].LaunchBrowser)
	assert.Equal(t, "32770", launch.Configurations[1].Env[topology.EnvSSHPort])
	assert.Empty(t, svc.Get(topology.EnvHTTPPort))
}

func TestMaterializeAccentedRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "José", "nest")
	dir := newProject(t, root, "Api")
	svc := apiService(root)

	m := New(stubPorts{22: "32769", 5000: "5000"}, nil, nil)
	require.NoError(t, m.Materialize(context.Background(), reporting.NewMemorySink(), svc))

	assert.Equal(t, root, svc.FolderRoot())

	marker, err := settings.LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, root, marker.FolderRoot())

	data, err := os.ReadFile(filepath.Join(dir, ".vscode", "launch.json"))
	require.NoError(t, err)

	var launch LaunchFile
	require.NoError(t, json.Unmarshal(data, &launch))

	// Host paths keep the accent, values sent to the container are folded
	debug := launch.Configurations[0]
	assert.Equal(t, filepath.Join(root, "source", "shared"), debug.SourceFileMap["/var/app/source/shared"])
	assert.NotContains(t, debug.Env[topology.EnvFolderRoot], "é")
}

func TestSanitizeEnvironmentCopies(t *testing.T) {
	env := topology.Environment{"CITY": "Zürich"}

	folded := SanitizeEnvironment(env)
	assert.Equal(t, "Zurich", folded["CITY"])
	assert.Equal(t, "Zürich", env["CITY"])
}

func TestMaterializeMissingProjectDir(t *testing.T) {
	m := New(stubPorts{22: "32769", 5000: "5000"}, nil, nil)

	err := m.Materialize(context.Background(), reporting.NewMemorySink(), apiService(t.TempDir()))
	assert.True(t, errors.Is(err, ErrArtifactWriteFailed))
}

func TestMaterializeInvalidProjectFile(t *testing.T) {
	root := t.TempDir()
	dir := newProject(t, root, "Api")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Api.csproj"), []byte("<Project><PropertyGroup>"), 0644))

	m := New(stubPorts{22: "32769", 5000: "5000"}, nil, nil)
	err := m.Materialize(context.Background(), reporting.NewMemorySink(), apiService(root))
	assert.True(t, errors.Is(err, ErrProjectFileInvalid))

	// The marker written before the failure stays
	assert.FileExists(t, filepath.Join(dir, settings.ProjectFileName))
}

func TestMaterializePortFailure(t *testing.T) {
	root := t.TempDir()
	newProject(t, root, "Api")
	git := &recordingGit{}

	err := New(stubPorts{22: "32769"}, git, nil).Materialize(context.Background(), reporting.NewMemorySink(), apiService(root))
	require.Error(t, err)
	assert.Empty(t, git.dirs)
}

func TestReadTargetFrameworkMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Empty.csproj")
	require.NoError(t, os.WriteFile(path, []byte("<Project><PropertyGroup><OutputType>Exe</OutputType></PropertyGroup></Project>"), 0644))

	_, err := ReadTargetFramework(path)
	assert.True(t, errors.Is(err, ErrProjectFileInvalid))
}

func TestFoldASCII(t *testing.T) {
	assert.Equal(t, "Creme brulee", FoldASCII("Crème brûlée"))
	assert.Equal(t, "Zurich 8000", FoldASCII("Zürich 8000"))
	assert.Equal(t, "plain", FoldASCII("plain"))
	assert.Equal(t, "ab", FoldASCII("a日本b"))
}
