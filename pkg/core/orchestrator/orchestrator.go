// Package orchestrator sequences the nest workflow: per-service pipelines,
// fan-out/fan-in over the topology and the single-project operations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/inkton/nester-develop/pkg/config"
	"github.com/inkton/nester-develop/pkg/confirm"
	"github.com/inkton/nester-develop/pkg/core/cleanup"
	"github.com/inkton/nester-develop/pkg/discovery"
	"github.com/inkton/nester-develop/pkg/gitops"
	"github.com/inkton/nester-develop/pkg/monitoring/metrics"
	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
	"github.com/inkton/nester-develop/pkg/workspace"
)

// Operation names
const (
	OpScaffoldUp   = "scaffold up"
	OpScaffoldDown = "scaffold down"
	OpReset        = "reset"
)

var (
	// ErrDeclined is returned when the user declines a confirmation
	ErrDeclined = errors.New("operation declined")

	// ErrNotAtRoot is returned when a root-only operation runs in a project
	ErrNotAtRoot = errors.New("run the command from the root folder")

	// ErrScaffoldExists is returned by scaffold up when source/ exists
	ErrScaffoldExists = errors.New("a scaffold already exists, down the scaffold before proceeding")
)

// TopologyParser discovers the services of a workspace root
type TopologyParser interface {
	ParseRoot(root string) (*topology.NestSettings, error)
}

// SettingsStore persists the classified topology
type SettingsStore interface {
	Load() (*topology.NestSettings, error)
	Save(settings *topology.NestSettings) error
}

// CommandRunner runs commands inside service containers
type CommandRunner interface {
	Run(ctx context.Context, sink reporting.ProgressSink, svc *topology.ServiceDescriptor, tokens ...string) error
	Exec(ctx context.Context, container string, cmd ...string) (string, error)
}

// PortResolver resolves view ports and the docker host IP
type PortResolver interface {
	ResolveViewPort(ctx context.Context, svc *topology.ServiceDescriptor) error
	ResolveHostIP(ctx context.Context) string
}

// ProjectMaterializer writes the local artifacts of a project service
type ProjectMaterializer interface {
	Materialize(ctx context.Context, sink reporting.ProgressSink, svc *topology.ServiceDescriptor) error
}

// ComposeDriver brings the devkit containers up and down
type ComposeDriver interface {
	Up(ctx context.Context, sink reporting.ProgressSink) error
	Down(ctx context.Context, sink reporting.ProgressSink) error
}

// GitDriver drives the local git CLI
type GitDriver interface {
	CheckVersion(ctx context.Context, min string) error
	ConfigureLocal(ctx context.Context, dir, root string) error
	PrepareFolder(ctx context.Context, dir, root, remote string, who gitops.Identity) error
	CreateBranch(ctx context.Context, dir, branch string) error
	TrackBranch(ctx context.Context, dir, remoteBranch string) error
	RemoteBranches(ctx context.Context, dir, prefix string) ([]string, error)
}

// ContainerInspector reports container state
type ContainerInspector interface {
	GetContainer(ctx context.Context, name string) (*discovery.Container, error)
}

// Deps are the collaborators of an Orchestrator. Inspector may be nil.
type Deps struct {
	Config       *config.Config
	Workspace    *workspace.Workspace
	Topology     TopologyParser
	Store        SettingsStore
	Commands     CommandRunner
	Ports        PortResolver
	Materializer ProjectMaterializer
	Compose      ComposeDriver
	Git          GitDriver
	Confirm      confirm.Confirmer
	Inspector    ContainerInspector
	Metrics      *metrics.Metrics
	Logger       *reporting.Logger
}

// Orchestrator coordinates the nest workflow
type Orchestrator struct {
	cfg          *config.Config
	ws           *workspace.Workspace
	topology     TopologyParser
	store        SettingsStore
	commands     CommandRunner
	ports        PortResolver
	materializer ProjectMaterializer
	compose      ComposeDriver
	git          GitDriver
	confirm      confirm.Confirmer
	inspector    ContainerInspector
	metrics      *metrics.Metrics
	logger       *reporting.Logger
}

// New creates a new Orchestrator
func New(deps Deps) *Orchestrator {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Confirm == nil {
		deps.Confirm = confirm.AutoYes{}
	}
	if deps.Logger == nil {
		deps.Logger = reporting.NopLogger()
	}

	return &Orchestrator{
		cfg:          deps.Config,
		ws:           deps.Workspace,
		topology:     deps.Topology,
		store:        deps.Store,
		commands:     deps.Commands,
		ports:        deps.Ports,
		materializer: deps.Materializer,
		compose:      deps.Compose,
		git:          deps.Git,
		confirm:      deps.Confirm,
		inspector:    deps.Inspector,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
	}
}

// operation brackets fn with start/end progress, the operation timeout and
// metrics
func (o *Orchestrator) operation(ctx context.Context, sink reporting.ProgressSink, name string, fn func(ctx context.Context) error) error {
	if timeout := o.cfg.Execution.OperationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	o.logger.Info("Operation started", "operation", name, "root", o.ws.Root)
	sink.Start(name)

	err := fn(ctx)

	sink.End(name, err)
	o.metrics.ObserveOperation(name, err)
	if err != nil {
		o.logger.Error("Operation failed", "operation", name, "error", err)
	} else {
		o.logger.Info("Operation completed", "operation", name)
	}
	return err
}

// ScaffoldUp discovers the topology, brings the containers up, provisions
// every service and persists the settings. When a pipeline or the finalization
// fails the settings are persisted marked partial so that reset can recover.
func (o *Orchestrator) ScaffoldUp(ctx context.Context, sink reporting.ProgressSink) ([]*OperationResult, error) {
	var results []*OperationResult

	err := o.operation(ctx, sink, OpScaffoldUp, func(ctx context.Context) error {
		if err := o.git.CheckVersion(ctx, o.cfg.Git.MinVersion); err != nil {
			return err
		}

		if o.ws.InProject() {
			return fmt.Errorf("scaffold: %w", ErrNotAtRoot)
		}
		if _, err := os.Stat(o.ws.SourcePath()); err == nil {
			if cached, loadErr := o.store.Load(); loadErr == nil && cached.IsPartial() {
				return fmt.Errorf("%w: the last scaffold partially failed, run `nest reset`", ErrScaffoldExists)
			}
			return ErrScaffoldExists
		}

		settings, err := o.topology.ParseRoot(o.ws.Root)
		if err != nil {
			return err
		}
		sink.Step("", fmt.Sprintf("Discovered %d services", len(settings.Names)))

		o.injectHostIP(ctx, sink, settings)

		if err := o.compose.Up(ctx, sink); err != nil {
			return err
		}

		results = o.fanOut(ctx, sink, settings, PipelineProvisioning)
		if err := Settle(OpScaffoldUp, results); err != nil {
			return o.savePartial(sink, settings, failedKeys(err), err)
		}

		if err := o.finalizeScaffold(ctx, sink, settings); err != nil {
			return o.savePartial(sink, settings, finalizeKeys(settings), err)
		}

		return o.save(sink, settings)
	})

	return results, err
}

// Reset restarts the containers, re-resolves every port and rebuilds the
// projects from the cached settings. Partial settings from a failed scaffold
// are finalized too. On failure the settings are persisted marked partial.
func (o *Orchestrator) Reset(ctx context.Context, sink reporting.ProgressSink) ([]*OperationResult, error) {
	var results []*OperationResult

	err := o.operation(ctx, sink, OpReset, func(ctx context.Context) error {
		if o.ws.InProject() {
			return fmt.Errorf("reset: %w", ErrNotAtRoot)
		}

		settings, err := o.store.Load()
		if err != nil {
			return err
		}

		o.injectHostIP(ctx, sink, settings)

		sink.Step("", "Re-starting services ...")
		if err := o.compose.Down(ctx, sink); err != nil {
			return err
		}
		if err := o.compose.Up(ctx, sink); err != nil {
			return err
		}

		results = o.fanOut(ctx, sink, settings, PipelineRebuild)
		if err := Settle(OpReset, results); err != nil {
			return o.savePartial(sink, settings, failedKeys(err), err)
		}

		if settings.IsPartial() {
			if err := o.finalizeScaffold(ctx, sink, settings); err != nil {
				return o.savePartial(sink, settings, finalizeKeys(settings), err)
			}
		}

		settings.Partial = nil
		return o.save(sink, settings)
	})

	return results, err
}

// ScaffoldDown stops the containers and deletes every derived artifact of the
// workspace. The topology document, nest.yaml and .env are kept.
func (o *Orchestrator) ScaffoldDown(ctx context.Context, sink reporting.ProgressSink) (*cleanup.CleanupSummary, error) {
	var summary *cleanup.CleanupSummary

	err := o.operation(ctx, sink, OpScaffoldDown, func(ctx context.Context) error {
		if o.ws.InProject() {
			return fmt.Errorf("scaffold down: %w", ErrNotAtRoot)
		}

		if err := o.ask(ctx, "Down the scaffold? The containers are removed and all local source is deleted."); err != nil {
			return err
		}

		if err := o.compose.Down(ctx, sink); err != nil {
			sink.Fail("", fmt.Sprintf("compose down failed, continuing: %v", err))
		}

		keep := []string{o.ws.Document, config.FileName, ".env"}
		coordinator := cleanup.New(o.ws.Root, keep, o.logger)
		err := coordinator.CleanupAll(ctx, sink)

		s := coordinator.GetSummary()
		summary = &s
		sink.Step("", s.String())
		return err
	})

	return summary, err
}

// jobs classifies every service into its pipeline. Project roles take
// precedence over service kinds.
func (o *Orchestrator) jobs(sink reporting.ProgressSink, settings *topology.NestSettings, projectPipeline string) []Job {
	jobs := make([]Job, 0, len(settings.Names))
	for _, svc := range settings.Ordered() {
		switch {
		case svc.IsProject() && projectPipeline == PipelineRebuild:
			jobs = append(jobs, Job{Subject: svc, Pipeline: PipelineRebuild, Stages: o.rebuildStages(sink, svc)})
		case svc.IsProject():
			jobs = append(jobs, Job{Subject: svc, Pipeline: PipelineProvisioning, Stages: o.provisioningStages(sink, svc)})
		case svc.Kind != topology.KindNone:
			jobs = append(jobs, Job{Subject: svc, Pipeline: PipelineDiscovery, Stages: o.discoveryStages(svc)})
		}
	}
	return jobs
}

func (o *Orchestrator) fanOut(ctx context.Context, sink reporting.ProgressSink, settings *topology.NestSettings, projectPipeline string) []*OperationResult {
	jobs := o.jobs(sink, settings, projectPipeline)
	sink.Step("", fmt.Sprintf("Running %d service pipelines ...", len(jobs)))

	results := FanOut(ctx, sink, o.metrics, jobs)

	for _, r := range results {
		o.metrics.ObservePipeline(r.Pipeline, r.Err)
		o.logger.Debug("Pipeline settled", "service", r.Subject.Key, "pipeline", r.Pipeline, "state", r.State.String())
	}
	return results
}

func (o *Orchestrator) provisioningStages(sink reporting.ProgressSink, svc *topology.ServiceDescriptor) []Stage {
	return []Stage{
		o.remoteStage(sink, svc, StageAttach, StateAttaching, "app", "attach"),
		o.remoteStage(sink, svc, StagePull, StatePulling, "deployment", "pull"),
		o.remoteStage(sink, svc, StageRestore, StateRestoring, "deployment", "restore"),
		o.remoteStage(sink, svc, StageBuild, StateBuilding, "deployment", "build"),
		o.remoteStage(sink, svc, StageTestBuild, StateTestBuilding, "deployment", "clean_build_tests"),
		o.materializeStage(sink, svc),
	}
}

func (o *Orchestrator) rebuildStages(sink reporting.ProgressSink, svc *topology.ServiceDescriptor) []Stage {
	return []Stage{
		o.remoteStage(sink, svc, StageAttach, StateAttaching, "app", "attach"),
		o.remoteStage(sink, svc, StageBuild, StateBuilding, "deployment", "build"),
		o.remoteStage(sink, svc, StageTestBuild, StateTestBuilding, "deployment", "clean_build_tests"),
		o.materializeStage(sink, svc),
	}
}

func (o *Orchestrator) discoveryStages(svc *topology.ServiceDescriptor) []Stage {
	return []Stage{{
		Name:  StageResolveViewPort,
		State: StateResolvingPort,
		Run: func(ctx context.Context) error {
			return o.ports.ResolveViewPort(ctx, svc)
		},
	}}
}

func (o *Orchestrator) remoteStage(sink reporting.ProgressSink, svc *topology.ServiceDescriptor, name string, state State, tokens ...string) Stage {
	return Stage{
		Name:  name,
		State: state,
		Run: func(ctx context.Context) error {
			return o.commands.Run(ctx, sink, svc, tokens...)
		},
	}
}

func (o *Orchestrator) materializeStage(sink reporting.ProgressSink, svc *topology.ServiceDescriptor) Stage {
	return Stage{
		Name:  StageMaterialize,
		State: StateMaterializing,
		Run: func(ctx context.Context) error {
			return o.materializer.Materialize(ctx, sink, svc)
		},
	}
}

// finalizeScaffold writes the ssh assets and integrates the shared checkout
func (o *Orchestrator) finalizeScaffold(ctx context.Context, sink reporting.ProgressSink, settings *topology.NestSettings) error {
	app := settings.App()
	if app == nil {
		sink.Step("", "No app service, skipping git setup")
		return nil
	}

	if err := gitops.SetupSSH(o.ws.Root, app, o.cfg.Git.HostSuffix); err != nil {
		return err
	}
	sink.Step("", "Git setup on root folder complete")

	shared := o.ws.SharedPath()
	if info, err := os.Stat(shared); err != nil || !info.IsDir() {
		sink.Step("", "No shared folder to integrate")
		return nil
	}

	if err := o.git.ConfigureLocal(ctx, shared, o.ws.Root); err != nil {
		return fmt.Errorf("failed to integrate the shared folder: %w", err)
	}
	sink.Step("", "Integration of git folder complete -> "+shared)
	return nil
}

func (o *Orchestrator) injectHostIP(ctx context.Context, sink reporting.ProgressSink, settings *topology.NestSettings) {
	ip := o.ports.ResolveHostIP(ctx)
	settings.SetAll(topology.EnvDockerMachineIP, ip)
	sink.Step("", "Docker IP is ... "+ip)
}

// save persists settings. A failed save fails the operation.
func (o *Orchestrator) save(sink reporting.ProgressSink, settings *topology.NestSettings) error {
	if err := o.store.Save(settings); err != nil {
		return err
	}
	sink.Step("", "Nest settings saved")
	return nil
}

// savePartial persists settings marked partial and returns cause. A failed
// save is joined to cause.
func (o *Orchestrator) savePartial(sink reporting.ProgressSink, settings *topology.NestSettings, failed []string, cause error) error {
	settings.MarkPartial(failed)
	if err := o.store.Save(settings); err != nil {
		return errors.Join(cause, err)
	}
	sink.Fail("", fmt.Sprintf("Nest settings saved as partial (%s), run `nest reset` once the cause is fixed", strings.Join(failed, ", ")))
	return cause
}

func failedKeys(err error) []string {
	var batch *BatchError
	if errors.As(err, &batch) {
		return batch.FailedKeys()
	}
	return nil
}

// finalizeKeys names the service a failed finalization is charged to
func finalizeKeys(settings *topology.NestSettings) []string {
	if app := settings.App(); app != nil {
		return []string{app.Key}
	}
	return nil
}

func (o *Orchestrator) ask(ctx context.Context, prompt string) error {
	ok, err := o.confirm.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

// Settings returns the cached settings
func (o *Orchestrator) Settings() (*topology.NestSettings, error) {
	return o.store.Load()
}
