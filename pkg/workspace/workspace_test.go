package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/settings"
	"github.com/inkton/nester-develop/pkg/topology"
)

func makeRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme.devkit"), []byte("services: {}\n"), 0644))
	return root
}

func TestLocateFromRoot(t *testing.T) {
	root := makeRoot(t)

	ws, err := Locate(root)
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, filepath.Join(root, "acme.devkit"), ws.Document)
	assert.True(t, ws.IsRoot())
	assert.False(t, ws.InProject())
}

func TestLocateFromProjectCheckout(t *testing.T) {
	root := makeRoot(t)
	project := filepath.Join(root, SourceDir, "App1")
	require.NoError(t, os.MkdirAll(project, 0755))

	svc := &topology.ServiceDescriptor{
		Key:         "app1",
		Role:        topology.RoleApp,
		Environment: topology.Environment{topology.EnvTagCap: "App1", topology.EnvFolderRoot: root},
	}
	require.NoError(t, settings.SaveProject(project, svc))

	ws, err := Locate(project)
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
	assert.False(t, ws.IsRoot())
	require.True(t, ws.InProject())
	assert.Equal(t, "app1", ws.Project.Key)
	assert.Equal(t, project, ws.ProjectPath(ws.Project))
}

func TestLocateFromMarkerOnly(t *testing.T) {
	root := makeRoot(t)
	elsewhere := t.TempDir()
	svc := &topology.ServiceDescriptor{
		Key:         "app1",
		Environment: topology.Environment{topology.EnvFolderRoot: root},
	}
	require.NoError(t, settings.SaveProject(elsewhere, svc))

	ws, err := Locate(elsewhere)
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)
}

func TestLocateNothing(t *testing.T) {
	_, err := Locate(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoWorkspace))
}
