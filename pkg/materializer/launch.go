package materializer

import (
	"fmt"
	"path/filepath"

	"github.com/inkton/nester-develop/pkg/topology"
)

// Container paths of the project sources
const (
	containerSourceRoot = "/var/app/source"
	containerShared     = "/var/app/source/shared"
	debuggerPath        = "/vsdbg/vsdbg"
)

// LaunchFile is the .vscode/launch.json document
type LaunchFile struct {
	Version        string                `json:"version"`
	Configurations []LaunchConfiguration `json:"configurations"`
}

// LaunchConfiguration is one debugger configuration
type LaunchConfiguration struct {
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	Request            string            `json:"request"`
	Cwd                string            `json:"cwd,omitempty"`
	Program            string            `json:"program,omitempty"`
	ProcessID          string            `json:"processId,omitempty"`
	RequireExactSource *bool             `json:"requireExactSource,omitempty"`
	SourceFileMap      map[string]string `json:"sourceFileMap"`
	Env                map[string]string `json:"env,omitempty"`
	LaunchBrowser      *LaunchBrowser    `json:"launchBrowser,omitempty"`
	PipeTransport      PipeTransport     `json:"pipeTransport"`
}

// LaunchBrowser opens the app once the debugger has started it
type LaunchBrowser struct {
	Enabled bool           `json:"enabled"`
	Args    string         `json:"args"`
	Windows BrowserCommand `json:"windows"`
	OSX     BrowserCommand `json:"osx"`
	Linux   BrowserCommand `json:"linux"`
}

// BrowserCommand is the per-OS browser launcher
type BrowserCommand struct {
	Command string `json:"command"`
	Args    string `json:"args,omitempty"`
}

// PipeTransport reaches the debugger inside the container through docker
type PipeTransport struct {
	PipeProgram  string   `json:"pipeProgram"`
	PipeCwd      string   `json:"pipeCwd"`
	PipeArgs     []string `json:"pipeArgs"`
	QuoteArgs    bool     `json:"quoteArgs"`
	DebuggerPath string   `json:"debuggerPath"`
}

// LaunchParams carries everything a launch file is rendered from
type LaunchParams struct {
	Service *topology.ServiceDescriptor

	// Root is the workspace root
	Root string

	// TargetFramework is read from the project file
	TargetFramework string
}

// RenderLaunch builds the launch file for a project service. Workers get a
// launch and a unit test attach configuration; apps additionally open a
// browser on the resolved HTTP port.
func RenderLaunch(p LaunchParams) (*LaunchFile, error) {
	svc := p.Service
	tagCap := svc.TagCap()
	if tagCap == "" {
		return nil, fmt.Errorf("service %s has no %s", svc.Key, topology.EnvTagCap)
	}

	appSource := fmt.Sprintf("%s/%s/src/", containerSourceRoot, tagCap)
	testSource := fmt.Sprintf("%s/%s/test/", containerSourceRoot, tagCap)
	sharedHost := filepath.Join(p.Root, "source", "shared")
	pipe := pipeTransport(svc.ContainerName)
	env := SanitizeEnvironment(svc.Environment)

	debug := LaunchConfiguration{
		Name:    "Debug Nest",
		Type:    "coreclr",
		Request: "launch",
		Cwd:     appSource,
		Program: fmt.Sprintf("%sbin/Debug/%s/%s.dll", appSource, p.TargetFramework, tagCap),
		SourceFileMap: map[string]string{
			appSource:       workspacePath("src"),
			containerShared: sharedHost,
		},
		Env:           env,
		PipeTransport: pipe,
	}

	exact := false
	unitTests := LaunchConfiguration{
		Name:               "Debug Unit Tests",
		Type:               "coreclr",
		Request:            "attach",
		ProcessID:          "${command:unitTestProcId}",
		RequireExactSource: &exact,
		SourceFileMap: map[string]string{
			appSource:       workspacePath("src"),
			testSource:      workspacePath("test"),
			containerShared: sharedHost,
		},
		PipeTransport: pipe,
	}

	file := &LaunchFile{}

	switch svc.Role {
	case topology.RoleWorker:
		file.Version = "0.2.0"
		unitTests.Env = env
	case topology.RoleApp:
		file.Version = "2.0.0"
		page := BrowsePage(svc)
		debug.LaunchBrowser = &LaunchBrowser{
			Enabled: true,
			Args:    page,
			Windows: BrowserCommand{Command: "cmd.exe", Args: "/C start " + page},
			OSX:     BrowserCommand{Command: "open"},
			Linux:   BrowserCommand{Command: "xdg-open"},
		}
	default:
		return nil, fmt.Errorf("service %s has no project role", svc.Key)
	}

	file.Configurations = []LaunchConfiguration{debug, unitTests}
	return file, nil
}

// BrowsePage returns the URL the debugger opens for an app service
func BrowsePage(svc *topology.ServiceDescriptor) string {
	ip := svc.Get(topology.EnvDockerMachineIP)
	if ip == "" {
		ip = "127.0.0.1"
	}

	page := fmt.Sprintf("http://%s:%s", ip, svc.Get(topology.EnvHTTPPort))
	if svc.PlatformTag() == "api" {
		page += "/swagger"
	}
	return page
}

func pipeTransport(container string) PipeTransport {
	return PipeTransport{
		PipeProgram:  "docker",
		PipeCwd:      "${workspaceFolder}",
		PipeArgs:     []string{"exec -i " + container},
		QuoteArgs:    false,
		DebuggerPath: debuggerPath,
	}
}

func workspacePath(dir string) string {
	return "${workspaceFolder}" + string(filepath.Separator) + dir
}
