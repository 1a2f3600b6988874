package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkton/nester-develop/pkg/core/orchestrator"
)

// projectCommand builds a cobra command running a single-project command on
// the current project or the one named by --project
func projectCommand(use, short string, command orchestrator.ProjectCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Args:  cobra.NoArgs,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.orch.RunProject(ctx, a.progress, projectTag, command)
			})
		},
	}
	cmd.Flags().StringVarP(&projectTag, "project", "p", "", "project tag (default is the project of the current folder)")
	return cmd
}

func projectCommands() []*cobra.Command {
	return []*cobra.Command{
		projectCommand("pull", "Replace the project and shared source from production", orchestrator.CommandPull),
		projectCommand("push", "Push the project source to the app", orchestrator.CommandPush),
		projectCommand("deploy", "Deploy the project to production", orchestrator.CommandDeploy),
		projectCommand("restore", "Restore the project packages", orchestrator.CommandRestore),
		projectCommand("build", "Build the project and kick the CI job", orchestrator.CommandBuild),
		projectCommand("clean", "Clean the project build output", orchestrator.CommandClean),
		projectCommand("clear", "Clear the project deployment", orchestrator.CommandClear),
		projectCommand("kill", "Kill the project processes in the container", orchestrator.CommandKill),
		projectCommand("test-build", "Clean and build the project unit tests", orchestrator.CommandTestBuild),
	}
}

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Move data between the local storage service and production",
}

var kickCmd = &cobra.Command{
	Use:   "kick",
	Short: "Trigger a CI or CD job on the build service",
}

var unitTestPIDCmd = &cobra.Command{
	Use:   "unit-test-pid",
	Args:  cobra.NoArgs,
	Short: "Print the process id of the unit test debug host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			pid, err := a.orch.UnitTestPID(ctx, projectTag)
			if err != nil {
				return err
			}
			fmt.Println(pid)
			return nil
		})
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout [branch]",
	Args:  cobra.MaximumNArgs(1),
	Short: "List or switch the remote branches of a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 0 {
				branches, err := a.orch.Branches(ctx, projectTag)
				if err != nil {
					return err
				}
				for _, b := range branches {
					fmt.Println(b)
				}
				return nil
			}
			return a.orch.Checkout(ctx, a.progress, projectTag, args[0])
		})
	},
}

func init() {
	dataCmd.AddCommand(
		projectCommand("up", "Push the local database to production", orchestrator.CommandDataUp),
		projectCommand("down", "Replace the local database from production", orchestrator.CommandDataDown),
	)

	kickCmd.AddCommand(
		&cobra.Command{
			Use:   "ci",
			Args:  cobra.NoArgs,
			Short: "Trigger the continuous integration job",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return a.orch.KickCI(ctx, a.progress)
				})
			},
		},
		&cobra.Command{
			Use:   "cd",
			Args:  cobra.NoArgs,
			Short: "Trigger the continuous deployment job",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return a.orch.KickCD(ctx, a.progress)
				})
			},
		},
	)

	unitTestPIDCmd.Flags().StringVarP(&projectTag, "project", "p", "", "project tag (default is the project of the current folder)")
	checkoutCmd.Flags().StringVarP(&projectTag, "project", "p", "", "project tag (default is the project of the current folder)")
}
