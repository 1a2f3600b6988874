package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkton/nester-develop/pkg/core/orchestrator"
	"github.com/inkton/nester-develop/pkg/reporting"
)

var scaffoldCmd = &cobra.Command{
	Use:     "scaffold",
	Aliases: []string{"up"},
	Args:    cobra.NoArgs,
	Short:   "Create the local workspace from the devkit",
	Long: `Parses the devkit in the root folder, brings the containers up and
provisions every service concurrently: projects are attached, pulled,
restored, built and materialized, services get their view ports resolved.
The settings cache is written only when every service succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report := reporting.NewRunReport(orchestrator.OpScaffoldUp, a.ws.Root)
			results, err := a.orch.ScaffoldUp(ctx, a.progress)
			a.record(report, results, nil, err)
			return err
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Args:  cobra.NoArgs,
	Short: "Restart the containers and rebuild every project",
	Long: `Restarts the containers from the devkit, re-resolves every dynamic
port and rebuilds the projects from the cached settings. Use it after the
docker host restarts or a scaffold partially failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report := reporting.NewRunReport(orchestrator.OpReset, a.ws.Root)
			results, err := a.orch.Reset(ctx, a.progress)
			a.record(report, results, nil, err)
			return err
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Args:  cobra.NoArgs,
	Short: "Remove the containers and every local artifact",
	Long: `Stops the containers and deletes the source folders, settings cache and
git assets of the workspace. The devkit, nest.yaml and .env are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report := reporting.NewRunReport(orchestrator.OpScaffoldDown, a.ws.Root)
			summary, err := a.orch.ScaffoldDown(ctx, a.progress)
			a.record(report, nil, summary, err)
			if err == nil {
				fmt.Println("✅ Scaffold removed, run `nest scaffold` to start over")
			}
			return err
		})
	},
}
