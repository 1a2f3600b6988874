package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
	assumeYes    bool
	workspaceDir string
	projectTag   string
	version      = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "nest",
	Short: "Development workflow for Nest apps",
	Long: `Nest scaffolds a local development workspace from a devkit document,
drives the nester toolchain inside each service container and keeps the
local project configuration in step with the running containers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <root>/nest.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "progress format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace or project folder (default is the current folder)")

	rootCmd.AddCommand(scaffoldCmd, downCmd, resetCmd)
	rootCmd.AddCommand(projectCommands()...)
	rootCmd.AddCommand(dataCmd, kickCmd, unitTestPIDCmd, checkoutCmd)
	rootCmd.AddCommand(viewCmd, selectCmd, folderCmd, statusCmd, stopCmd, configCmd, reportCmd)
}

// Commands are defined in separate files:
// - scaffold, down and reset in scaffold.go
// - single-project commands in project.go
// - workspace tools in tools.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
