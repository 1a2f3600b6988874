package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inkton/nester-develop/pkg/config"
	"github.com/inkton/nester-develop/pkg/core/orchestrator"
	"github.com/inkton/nester-develop/pkg/emergency"
)

var viewCmd = &cobra.Command{
	Use:       "view data|queue|cicd",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(orchestrator.ViewData), string(orchestrator.ViewQueue), string(orchestrator.ViewCICD)},
	Short:     "Show the address and login of a service UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			view, err := a.orch.View(orchestrator.ViewTarget(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("%s -> %s\n", view.Service, view.URL)
			fmt.Printf("   username: %s\n", view.Username)
			fmt.Printf("   password: %s\n", view.Password)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Args:  cobra.NoArgs,
	Short: "List the folders that can be opened in the editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			selections, err := a.orch.Select()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, s := range selections {
				fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Folder)
			}
			return w.Flush()
		})
	},
}

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Create or fetch a shared source folder",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Create a new source folder with a <name>-master branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.orch.FolderCreate(ctx, a.progress, args[0])
		})
	},
}

var folderFetchCmd = &cobra.Command{
	Use:   "fetch <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Check out an existing source folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.orch.FolderFetch(ctx, a.progress, args[0], branch)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Args:  cobra.NoArgs,
	Short: "Show the container state of every service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			statuses, err := a.orch.Status(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tCONTAINER\tSTATE\tPORTS")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Container, s.State, formatPorts(s.Ports))
			}
			return w.Flush()
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Args:  cobra.NoArgs,
	Short: "Ask a running nest operation to stop",
	Long: `Creates the stop file watched by running operations. Pipelines in
flight stop before their next stage. Use --clear to remove the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(rootForConfig())
		if err != nil {
			return err
		}

		controller := emergency.New(emergency.Config{StopFile: cfg.Emergency.StopFile}, newLogger(cfg))
		if remove, _ := cmd.Flags().GetBool("clear"); remove {
			if err := controller.RemoveStopFile(); err != nil {
				return err
			}
			fmt.Printf("✓ Stop file removed: %s\n", controller.StopFilePath())
			return nil
		}

		if err := controller.CreateStopFile(); err != nil {
			return err
		}
		fmt.Printf("🛑 Stop requested: %s\n", controller.StopFilePath())
		fmt.Println("   Remove it with `nest stop --clear` before the next run")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the nest.yaml configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Args:  cobra.NoArgs,
	Short: "Write a default nest.yaml to the workspace root",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = filepath.Join(rootForConfig(), config.FileName)
		}

		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}

		if err := config.DefaultConfig().Save(path); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		fmt.Printf("✓ Default configuration written to %s\n", path)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect the run reports of scaffold, reset and down",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Args:  cobra.NoArgs,
	Short: "List the saved run reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			storage, err := a.storage()
			if err != nil {
				return err
			}
			summaries, err := storage.ListReports()
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No run reports found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tOPERATION\tSTARTED\tDURATION\tSTATUS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.RunID, s.Operation, s.StartTime.Format("2006-01-02 15:04:05"), s.Duration, s.Status)
			}
			return w.Flush()
		})
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Args:  cobra.ExactArgs(1),
	Short: "Print a run report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			storage, err := a.storage()
			if err != nil {
				return err
			}
			report, err := storage.FindReport(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal report: %w", err)
			}
			fmt.Println(string(data))
			return nil
		})
	},
}

func init() {
	folderFetchCmd.Flags().String("branch", "", "branch to track when several match")
	folderCmd.AddCommand(folderCreateCmd, folderFetchCmd)

	stopCmd.Flags().Bool("clear", false, "remove the stop file")

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	reportCmd.AddCommand(reportListCmd, reportShowCmd)
}

// rootForConfig returns the workspace root, or the current folder outside a
// workspace
func rootForConfig() string {
	if ws, err := locateWorkspace(); err == nil {
		return ws.Root
	}
	if workspaceDir != "" {
		return workspaceDir
	}
	return "."
}

func formatPorts(ports map[string]string) string {
	if len(ports) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(ports))
	for k := range ports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s->%s", ports[k], k))
	}
	return strings.Join(parts, ", ")
}
