package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inkton/nester-develop/pkg/gitops"
	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
	"github.com/inkton/nester-develop/pkg/workspace"
)

var (
	// ErrTestsNotBuilt is returned when no unit test host is running
	ErrTestsNotBuilt = errors.New("no unit test debug host, run `nest test-build` first")

	// ErrFolderExists is returned by FolderCreate for a name with branches
	ErrFolderExists = errors.New("the folder already exists")

	// ErrFolderNotFound is returned by FolderFetch for a name without branches
	ErrFolderNotFound = errors.New("there are no folders with that name")
)

// ViewTarget names a service UI
type ViewTarget string

const (
	ViewData  ViewTarget = "data"
	ViewQueue ViewTarget = "queue"
	ViewCICD  ViewTarget = "cicd"
)

// Kind returns the service kind serving the UI
func (v ViewTarget) Kind() (topology.Kind, error) {
	switch v {
	case ViewData:
		return topology.KindStorage, nil
	case ViewQueue:
		return topology.KindBatch, nil
	case ViewCICD:
		return topology.KindBuild, nil
	default:
		return topology.KindNone, fmt.Errorf("unknown view %q, expected data, queue or cicd", v)
	}
}

// ServiceView is how to reach a service UI
type ServiceView struct {
	Service  string
	URL      string
	Username string
	Password string
}

// View returns the UI address and login of a service
func (o *Orchestrator) View(target ViewTarget) (*ServiceView, error) {
	kind, err := target.Kind()
	if err != nil {
		return nil, err
	}

	settings, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	svc := settings.Service(kind)
	if svc == nil {
		return nil, fmt.Errorf("a %s %w", kind, ErrServiceMissing)
	}

	port := svc.Get(topology.EnvServiceViewPort)
	if port == "" {
		return nil, fmt.Errorf("%s has no resolved view port, run `nest reset`", svc.Key)
	}

	return &ServiceView{
		Service:  svc.Key,
		URL:      fmt.Sprintf("http://%s:%s", svc.Get(topology.EnvDockerMachineIP), port),
		Username: svc.Get(topology.EnvAppTag),
		Password: svc.Get(topology.EnvServicesPassword),
	}, nil
}

// Selection is one folder a developer can open
type Selection struct {
	Name   string
	Folder string
}

// Select lists the shared folder and every tagged project folder
func (o *Orchestrator) Select() ([]Selection, error) {
	settings, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	out := []Selection{{Name: workspace.SharedDir, Folder: o.ws.SharedPath()}}
	for _, svc := range settings.Ordered() {
		if svc.Tag() != "" {
			out = append(out, Selection{Name: svc.Key, Folder: o.ws.ProjectPath(svc)})
		}
	}
	return out, nil
}

// UnitTestPID returns the process id of the unit test debug host of a project
func (o *Orchestrator) UnitTestPID(ctx context.Context, tag string) (int, error) {
	svc, err := o.Project(tag)
	if err != nil {
		return 0, err
	}

	out, err := o.commands.Exec(ctx, svc.ContainerName, o.cfg.Docker.NesterBinary, "deployment", "unit_test_debug_host")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTestsNotBuilt, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || pid <= 0 {
		return 0, ErrTestsNotBuilt
	}
	return pid, nil
}

// FolderCreate creates a new source folder with a <name>-master branch
func (o *Orchestrator) FolderCreate(ctx context.Context, sink reporting.ProgressSink, name string) error {
	return o.operation(ctx, sink, "folder create", func(ctx context.Context) error {
		app, err := o.folderPreflight(name)
		if err != nil {
			return err
		}

		branches, err := o.git.RemoteBranches(ctx, o.ws.SharedPath(), gitops.FolderBranchPrefix(name))
		if err != nil {
			return fmt.Errorf("no matching git hives found: %w", err)
		}
		if len(branches) > 0 {
			return fmt.Errorf("%w: %s", ErrFolderExists, name)
		}

		dir := filepath.Join(o.ws.SourcePath(), name)
		if err := o.git.PrepareFolder(ctx, dir, o.ws.Root, o.cfg.Git.Remote, identity(app)); err != nil {
			return err
		}

		branch := strings.ToLower(strings.TrimSpace(name)) + "-master"
		if err := o.git.CreateBranch(ctx, dir, branch); err != nil {
			return err
		}
		sink.Step("", fmt.Sprintf("%s checked out in %s", branch, dir))
		return nil
	})
}

// FolderFetch checks out an existing source folder. With several matching
// branches the first is taken unless branch names one.
func (o *Orchestrator) FolderFetch(ctx context.Context, sink reporting.ProgressSink, name, branch string) error {
	return o.operation(ctx, sink, "folder fetch", func(ctx context.Context) error {
		app, err := o.folderPreflight(name)
		if err != nil {
			return err
		}

		branches, err := o.git.RemoteBranches(ctx, o.ws.SharedPath(), gitops.FolderBranchPrefix(name))
		if err != nil {
			return fmt.Errorf("no matching git hives found: %w", err)
		}
		if len(branches) == 0 {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, name)
		}

		pick, err := pickBranch(branches, branch)
		if err != nil {
			return err
		}
		if len(branches) > 1 && branch == "" {
			sink.Step("", fmt.Sprintf("%d branches match, taking %s (use --branch to choose)", len(branches), pick))
		}

		dir := filepath.Join(o.ws.SourcePath(), name)
		if err := o.git.PrepareFolder(ctx, dir, o.ws.Root, o.cfg.Git.Remote, identity(app)); err != nil {
			return err
		}
		if err := o.git.TrackBranch(ctx, dir, pick); err != nil {
			return err
		}
		sink.Step("", fmt.Sprintf("%s checked out in %s", pick, dir))
		return nil
	})
}

// Branches lists the remote branches of a project
func (o *Orchestrator) Branches(ctx context.Context, tag string) ([]string, error) {
	svc, err := o.Project(tag)
	if err != nil {
		return nil, err
	}
	return o.git.RemoteBranches(ctx, o.ws.ProjectPath(svc), gitops.FolderBranchPrefix(svc.Tag()))
}

// Checkout switches a project checkout to one of its remote branches
func (o *Orchestrator) Checkout(ctx context.Context, sink reporting.ProgressSink, tag, branch string) error {
	return o.operation(ctx, sink, "checkout", func(ctx context.Context) error {
		svc, err := o.Project(tag)
		if err != nil {
			return err
		}

		branches, err := o.Branches(ctx, tag)
		if err != nil {
			return err
		}
		pick, err := pickBranch(branches, branch)
		if err != nil {
			return err
		}

		dir := o.ws.ProjectPath(svc)
		if err := gitops.EnsureSSHPermissions(o.ws.Root); err != nil {
			return err
		}
		if err := o.git.TrackBranch(ctx, dir, pick); err != nil {
			return err
		}
		sink.Step(svc.Key, fmt.Sprintf("%s checked out in %s", pick, dir))
		return nil
	})
}

// ServiceStatus is the container state of one service
type ServiceStatus struct {
	Key       string
	Container string
	State     string
	Running   bool
	Ports     map[string]string
	Err       error
}

// Status inspects the container of every service
func (o *Orchestrator) Status(ctx context.Context) ([]ServiceStatus, error) {
	if o.inspector == nil {
		return nil, fmt.Errorf("container inspection is not available")
	}

	settings, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	out := make([]ServiceStatus, 0, len(settings.Names))
	for _, svc := range settings.Ordered() {
		status := ServiceStatus{Key: svc.Key, Container: svc.ContainerName}
		ctr, err := o.inspector.GetContainer(ctx, svc.ContainerName)
		if err != nil {
			status.State = "missing"
			status.Err = err
		} else {
			status.State = ctr.State
			status.Running = ctr.Running
			status.Ports = ctr.Ports
		}
		out = append(out, status)
	}
	return out, nil
}

func (o *Orchestrator) folderPreflight(name string) (*topology.ServiceDescriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t/\\") {
		return nil, fmt.Errorf("invalid folder name %q, the name cannot have spaces or separators", name)
	}

	settings, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	app := settings.App()
	if app == nil {
		return nil, fmt.Errorf("an app %w", ErrServiceMissing)
	}

	if err := gitops.EnsureSSHPermissions(o.ws.Root); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(o.ws.SourcePath(), name)); err == nil {
		return nil, fmt.Errorf("%w: %s is already on disk", ErrFolderExists, name)
	}
	return app, nil
}

func identity(app *topology.ServiceDescriptor) gitops.Identity {
	return gitops.Identity{
		Name:  app.Get(topology.EnvContactID),
		Email: app.Get(topology.EnvContactEmail),
	}
}

func pickBranch(branches []string, want string) (string, error) {
	if len(branches) == 0 {
		return "", fmt.Errorf("no remote branches found")
	}
	if want == "" {
		return branches[0], nil
	}
	for _, b := range branches {
		if b == want || strings.TrimPrefix(b, "origin/") == want {
			return b, nil
		}
	}
	return "", fmt.Errorf("branch %q not found, choose one of: %s", want, strings.Join(branches, ", "))
}
