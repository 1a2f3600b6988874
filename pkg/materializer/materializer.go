// Package materializer writes the local artifacts of a provisioned project:
// the project marker, the debugger launch file and git integration.
package materializer

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/settings"
	"github.com/inkton/nester-develop/pkg/topology"
	"github.com/inkton/nester-develop/pkg/workspace"
)

// Container ports resolved before rendering
const (
	sshPort  = 22
	httpPort = 5000
)

var (
	// ErrArtifactWriteFailed wraps local file system failures
	ErrArtifactWriteFailed = errors.New("artifact write failed")

	// ErrProjectFileInvalid is returned when the project file cannot be read
	// or has no target framework
	ErrProjectFileInvalid = errors.New("project file invalid")
)

// PortResolver resolves a container port into a service environment key
type PortResolver interface {
	ResolvePort(ctx context.Context, svc *topology.ServiceDescriptor, containerPort int, envKey string) error
}

// GitIntegrator configures a checkout to use the workspace ssh config
type GitIntegrator interface {
	ConfigureLocal(ctx context.Context, dir, root string) error
}

// Materializer renders project artifacts
type Materializer struct {
	ports  PortResolver
	git    GitIntegrator
	logger *reporting.Logger
}

// New creates a materializer. git may be nil to skip git integration.
func New(ports PortResolver, git GitIntegrator, logger *reporting.Logger) *Materializer {
	if logger == nil {
		logger = reporting.NopLogger()
	}
	return &Materializer{ports: ports, git: git, logger: logger}
}

// Materialize resolves the ports of a project service and writes its
// nest.json, .vscode/launch.json and local git config. Files written before a
// failure are left in place.
func (m *Materializer) Materialize(ctx context.Context, sink reporting.ProgressSink, svc *topology.ServiceDescriptor) error {
	if !svc.IsProject() {
		return fmt.Errorf("service %s has no project role", svc.Key)
	}

	if err := m.ports.ResolvePort(ctx, svc, sshPort, topology.EnvSSHPort); err != nil {
		return err
	}

	if svc.Role == topology.RoleApp {
		if err := m.ports.ResolvePort(ctx, svc, httpPort, topology.EnvHTTPPort); err != nil {
			return err
		}
		svc.Set("ASPNETCORE_ENVIRONMENT", "Development")
		svc.Set("ASPNETCORE_URLS", fmt.Sprintf("http://*:%d", httpPort))
	}

	root := svc.FolderRoot()
	projectDir := workspace.ProjectPath(root, svc)
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: download failed, %s does not exist", ErrArtifactWriteFailed, projectDir)
	}

	if err := settings.SaveProject(projectDir, svc); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}
	sink.Step(svc.Key, "Ensured a nest project file exists, creating assets ...")

	tfm, err := ReadTargetFramework(filepath.Join(projectDir, "src", svc.TagCap()+".csproj"))
	if err != nil {
		return err
	}

	launch, err := RenderLaunch(LaunchParams{Service: svc, Root: root, TargetFramework: tfm})
	if err != nil {
		return err
	}

	launchPath, err := writeLaunch(projectDir, launch)
	if err != nil {
		return err
	}
	sink.Step(svc.Key, "Launch file saved -> "+launchPath)

	if m.git != nil {
		if err := m.git.ConfigureLocal(ctx, projectDir, root); err != nil {
			return fmt.Errorf("failed to integrate git in %s: %w", projectDir, err)
		}
		sink.Step(svc.Key, "Integration of git folder complete -> "+projectDir)
	}

	m.logger.Debug("Project materialized", "service", svc.Key, "dir", projectDir, "framework", tfm)
	return nil
}

type projectFile struct {
	PropertyGroups []struct {
		TargetFramework string `xml:"TargetFramework"`
	} `xml:"PropertyGroup"`
}

// ReadTargetFramework returns the first TargetFramework of a csproj file
func ReadTargetFramework(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", ErrProjectFileInvalid, path, err)
	}

	var project projectFile
	if err := xml.Unmarshal(data, &project); err != nil {
		return "", fmt.Errorf("%w: failed to parse %s: %v", ErrProjectFileInvalid, path, err)
	}

	for _, group := range project.PropertyGroups {
		if tfm := strings.TrimSpace(group.TargetFramework); tfm != "" {
			return tfm, nil
		}
	}

	return "", fmt.Errorf("%w: %s has no TargetFramework", ErrProjectFileInvalid, path)
}

func writeLaunch(projectDir string, launch *LaunchFile) (string, error) {
	vscodeDir := filepath.Join(projectDir, ".vscode")
	if err := os.MkdirAll(vscodeDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactWriteFailed, err)
	}

	data, err := json.MarshalIndent(launch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal launch file: %w", err)
	}

	path := filepath.Join(vscodeDir, "launch.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%w: failed to create %s: %v", ErrArtifactWriteFailed, path, err)
	}
	return path, nil
}
