package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkton/nester-develop/pkg/compose"
	"github.com/inkton/nester-develop/pkg/config"
	"github.com/inkton/nester-develop/pkg/confirm"
	"github.com/inkton/nester-develop/pkg/core/cleanup"
	"github.com/inkton/nester-develop/pkg/core/orchestrator"
	"github.com/inkton/nester-develop/pkg/discovery/docker"
	"github.com/inkton/nester-develop/pkg/emergency"
	"github.com/inkton/nester-develop/pkg/executor"
	"github.com/inkton/nester-develop/pkg/gitops"
	"github.com/inkton/nester-develop/pkg/materializer"
	"github.com/inkton/nester-develop/pkg/monitoring/metrics"
	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/resolver"
	"github.com/inkton/nester-develop/pkg/topology"
	"github.com/inkton/nester-develop/pkg/workspace"
)

// app holds everything a command needs
type app struct {
	cfg      *config.Config
	logger   *reporting.Logger
	ws       *workspace.Workspace
	progress reporting.ProgressSink
	metrics  *metrics.Metrics
	docker   *docker.Client
	stop     *emergency.Controller
	orch     *orchestrator.Orchestrator
}

// loadConfig loads the configuration from the --config file or the
// workspace root. A missing file yields defaults.
func loadConfig(root string) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" && root != "" {
		configPath = filepath.Join(root, config.FileName)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if outputFormat != "" {
		cfg.Framework.OutputFormat = outputFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) *reporting.Logger {
	logLevel := reporting.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		logLevel = reporting.LogLevelDebug
	}

	return reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stderr,
	})
}

func locateWorkspace() (*workspace.Workspace, error) {
	dir := workspaceDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	return workspace.Locate(dir)
}

// newApp locates the workspace and wires the orchestrator
func newApp() (*app, error) {
	ws, err := locateWorkspace()
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(ws.Root)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)
	logger.Debug("Workspace located", "root", ws.Root, "document", ws.Document, "in_project", ws.InProject())

	a := &app{
		cfg:      cfg,
		logger:   logger,
		ws:       ws,
		progress: reporting.NewProgressReporter(reporting.OutputFormat(cfg.Framework.OutputFormat), logger),
		metrics:  metrics.New(),
		stop: emergency.New(emergency.Config{
			StopFile:             cfg.Emergency.StopFile,
			PollInterval:         cfg.Emergency.PollInterval,
			EnableSignalHandlers: true,
		}, logger),
	}

	if client, err := docker.New(); err != nil {
		logger.Warn("Docker API unavailable, falling back to the docker CLI", "error", err)
	} else {
		a.docker = client
	}

	git := gitops.New(cfg.Git.Binary, logger)
	ports := a.newResolver()

	var direct executor.ContainerExecer
	var inspector orchestrator.ContainerInspector
	if a.docker != nil {
		direct = a.docker
		inspector = a.docker
	}

	var confirmer confirm.Confirmer = confirm.NewPrompt(os.Stdin, os.Stdout)
	if assumeYes {
		confirmer = confirm.AutoYes{}
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Workspace: ws,
		Topology:  topology.New(nil),
		Store:     ws.SettingsStore(logger),
		Commands: executor.New(executor.Config{
			DockerBinary: cfg.Docker.Binary,
			NesterBinary: cfg.Docker.NesterBinary,
			NesterLog:    cfg.Docker.NesterLog,
			Timeout:      cfg.Execution.CommandTimeout,
		}, direct, logger, a.metrics),
		Ports:        ports,
		Materializer: materializer.New(ports, git, logger),
		Compose: compose.New(compose.Config{
			Command:  cfg.Docker.ComposeBinary,
			Document: ws.Document,
			Root:     ws.Root,
			Timeout:  cfg.Execution.ComposeTimeout,
		}, logger),
		Git:       git,
		Confirm:   confirmer,
		Inspector: inspector,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	return a, nil
}

// newResolver picks the port backend. The docker-machine IP is only queried
// when the binary is installed.
func (a *app) newResolver() *resolver.Resolver {
	var ports resolver.PortQuery = resolver.CLIPortQuery{Binary: a.cfg.Docker.Binary}
	if a.cfg.Docker.PortBackend == "sdk" && a.docker != nil {
		ports = a.docker
	}

	var machine resolver.HostIPQuery
	if _, err := exec.LookPath(a.cfg.Docker.MachineBinary); err == nil {
		machine = resolver.CLIMachineIP{Binary: a.cfg.Docker.MachineBinary}
	}

	return resolver.New(ports, machine, a.cfg.Topology.ViewPorts, a.logger)
}

// context returns a context cancelled by the stop file or a signal
func (a *app) context(cmd *cobra.Command) context.Context {
	return a.stop.Start(cmd.Context())
}

// close flushes metrics and releases the docker client
func (a *app) close() {
	if err := a.metrics.WriteTextfile(a.cfg.Reporting.MetricsTextfile); err != nil {
		a.logger.Warn("Failed to write metrics textfile", "error", err)
	}
	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			a.logger.Debug("Failed to close docker client", "error", err)
		}
	}
}

// storage returns the run report storage under the workspace root
func (a *app) storage() (*reporting.Storage, error) {
	dir := a.cfg.Reporting.OutputDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(a.ws.Root, dir)
	}
	return reporting.NewStorage(dir, a.cfg.Reporting.KeepLastN, a.logger)
}

// record saves a run report for a workspace-wide operation
func (a *app) record(report *reporting.RunReport, results []*orchestrator.OperationResult, summary *cleanup.CleanupSummary, err error) {
	report.Services = convertResults(results)
	if summary != nil {
		report.Cleanup = &reporting.CleanupInfo{
			TotalActions: summary.TotalActions,
			Succeeded:    summary.Succeeded,
			Failed:       summary.Failed,
			Failures:     summary.Failures,
		}
	}
	report.Finish(err)

	storage, storageErr := a.storage()
	if storageErr != nil {
		a.logger.Warn("Failed to open report storage", "error", storageErr)
		return
	}
	if path, saveErr := storage.SaveReport(report); saveErr != nil {
		a.logger.Warn("Failed to save report", "error", saveErr)
	} else {
		a.logger.Debug("Run report saved", "path", path, "run_id", report.RunID)
	}
}

// convertResults converts pipeline results to report entries
func convertResults(results []*orchestrator.OperationResult) []reporting.ServiceResult {
	out := make([]reporting.ServiceResult, 0, len(results))
	for _, r := range results {
		entry := reporting.ServiceResult{
			Key:           r.Subject.Key,
			ContainerName: r.Subject.ContainerName,
			Role:          string(r.Subject.Role),
			Kind:          string(r.Subject.Kind),
			Pipeline:      r.Pipeline,
			State:         r.State.String(),
			FailedStage:   r.FailedStage,
			Success:       r.Success,
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}

// withApp runs fn with a wired app and releases it afterwards
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return fn(a.context(cmd), a)
}
