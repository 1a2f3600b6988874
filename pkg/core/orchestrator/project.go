package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

// ErrNoProject is returned when no project is open or selected
var ErrNoProject = errors.New("no nest project, run the command from a project folder (nest.json) or pass --project")

// ErrServiceMissing is returned when the topology lacks a required service kind
var ErrServiceMissing = errors.New("service has not been configured for this app")

// ProjectCommand is a single-project remote command
type ProjectCommand struct {
	// Name is the operation name
	Name string

	// Tokens are passed to nester
	Tokens []string

	// Prompt asks for confirmation first when set
	Prompt string

	// Requires names a service kind that must be configured
	Requires topology.Kind

	// Rematerialize re-renders the project config afterwards
	Rematerialize bool

	// KickCI triggers a CI build afterwards
	KickCI bool
}

// The single-project commands
var (
	CommandPull = ProjectCommand{
		Name:          "pull",
		Tokens:        []string{"deployment", "pull"},
		Prompt:        "Replace local content from production? The project and shared source are replaced.",
		Rematerialize: true,
	}
	CommandPush = ProjectCommand{
		Name:   "push",
		Tokens: []string{"deployment", "push"},
		Prompt: "Ready to push the code?",
	}
	CommandDeploy = ProjectCommand{
		Name:   "deploy",
		Tokens: []string{"deployment", "deploy"},
		Prompt: "Ready to deploy?",
	}
	CommandRestore = ProjectCommand{
		Name:   "restore",
		Tokens: []string{"deployment", "restore"},
	}
	CommandBuild = ProjectCommand{
		Name:   "build",
		Tokens: []string{"deployment", "build"},
		KickCI: true,
	}
	CommandClean = ProjectCommand{
		Name:   "clean",
		Tokens: []string{"deployment", "clean"},
	}
	CommandClear = ProjectCommand{
		Name:   "clear",
		Tokens: []string{"deployment", "clear"},
	}
	CommandKill = ProjectCommand{
		Name:   "kill",
		Tokens: []string{"nests", "kill"},
	}
	CommandTestBuild = ProjectCommand{
		Name:   "test build",
		Tokens: []string{"deployment", "clean_build_tests"},
	}
	CommandDataUp = ProjectCommand{
		Name:     "data up",
		Tokens:   []string{"data", "push"},
		Requires: topology.KindStorage,
	}
	CommandDataDown = ProjectCommand{
		Name:     "data down",
		Tokens:   []string{"data", "pull"},
		Prompt:   "Replace local database from production?",
		Requires: topology.KindStorage,
	}
)

// Project returns the project service to operate on: the service with NEST_TAG
// tag when given, else the project of the current folder
func (o *Orchestrator) Project(tag string) (*topology.ServiceDescriptor, error) {
	if tag == "" {
		if o.ws.Project == nil {
			return nil, ErrNoProject
		}
		return o.ws.Project, nil
	}

	settings, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	svc, ok := settings.FindByTag(tag)
	if !ok {
		return nil, fmt.Errorf("%w: no project tagged %q", ErrNoProject, tag)
	}
	return svc, nil
}

// RunProject runs a single-project command on the project tagged tag (or the
// current project)
func (o *Orchestrator) RunProject(ctx context.Context, sink reporting.ProgressSink, tag string, command ProjectCommand) error {
	return o.operation(ctx, sink, command.Name, func(ctx context.Context) error {
		svc, err := o.Project(tag)
		if err != nil {
			return err
		}

		var settings *topology.NestSettings
		if command.Requires != topology.KindNone || command.KickCI {
			if settings, err = o.store.Load(); err != nil {
				return err
			}
		}

		if command.Requires != topology.KindNone && settings.Service(command.Requires) == nil {
			return fmt.Errorf("a %s %w", command.Requires, ErrServiceMissing)
		}

		if command.Prompt != "" {
			if err := o.ask(ctx, command.Prompt); err != nil {
				return err
			}
		}

		if err := o.commands.Run(ctx, sink, svc, command.Tokens...); err != nil {
			return err
		}

		if command.Rematerialize {
			if err := o.materializer.Materialize(ctx, sink, svc); err != nil {
				return err
			}
		}

		if command.KickCI {
			if settings.Service(topology.KindBuild) == nil {
				sink.Step(svc.Key, "No build service, CI not kicked")
				return nil
			}
			return o.kick(ctx, sink, settings, o.cfg.CI.CIJob, fmt.Sprintf("project %s was built", svc.TagCap()))
		}

		return nil
	})
}

// KickCI triggers the continuous integration job
func (o *Orchestrator) KickCI(ctx context.Context, sink reporting.ProgressSink) error {
	return o.operation(ctx, sink, "kick ci", func(ctx context.Context) error {
		settings, err := o.store.Load()
		if err != nil {
			return err
		}
		return o.kick(ctx, sink, settings, o.cfg.CI.CIJob, "on request")
	})
}

// KickCD triggers the continuous deployment job
func (o *Orchestrator) KickCD(ctx context.Context, sink reporting.ProgressSink) error {
	return o.operation(ctx, sink, "kick cd", func(ctx context.Context) error {
		settings, err := o.store.Load()
		if err != nil {
			return err
		}
		return o.kick(ctx, sink, settings, o.cfg.CI.CDJob, "on request")
	})
}

// kick requests a job build from inside the build container
func (o *Orchestrator) kick(ctx context.Context, sink reporting.ProgressSink, settings *topology.NestSettings, job, cause string) error {
	build := settings.Service(topology.KindBuild)
	if build == nil {
		return fmt.Errorf("a %s %w", topology.KindBuild, ErrServiceMissing)
	}

	url := fmt.Sprintf(o.cfg.CI.JobURL, job)
	out, err := o.commands.Exec(ctx, build.ContainerName, "curl", "-s", url)
	if err != nil {
		return fmt.Errorf("failed to kick %s: %w", job, err)
	}
	if out = strings.TrimSpace(out); out != "" {
		sink.Step(build.Key, out)
	}

	sink.Step(build.Key, fmt.Sprintf("Kicked off a new %s session -> %s", job, cause))
	return nil
}
