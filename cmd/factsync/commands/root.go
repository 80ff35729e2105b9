package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd returns the factsync command tree. Every call starts from a fresh
// default configuration.
func NewRootCmd() *cobra.Command {
	cli := NewDefaultCLIConfig()

	rootCmd := &cobra.Command{
		Use:              "factsync",
		Short:            "Local-first fact store with peer sync",
		TraverseChildren: true,
	}

	AddGlobalFlags(rootCmd, cli)

	rootCmd.AddCommand(
		NewRunCmd(cli),
		NewKeygenCmd(cli),
		NewAssertCmd(cli),
		NewResolveCmd(cli),
		NewGetCmd(cli),
		NewHistoryCmd(cli),
		NewSnapshotCmd(cli),
		NewRestoreCmd(cli),
		NewVersionCmd(),
	)

	return rootCmd
}

// AddGlobalFlags adds the flags shared by every command.
func AddGlobalFlags(cmd *cobra.Command, cli *CLIConfig) {
	cmd.PersistentFlags().String("datadir", cli.Factsync.DataDir, "Top-level directory for configuration and data")
	cmd.PersistentFlags().String("log", cli.Factsync.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.PersistentFlags().String("log_dir", cli.Factsync.LogDir, "Also write the log to <log_dir>/factsync.log")
	cmd.PersistentFlags().StringP("output", "o", cli.Output, "Output format: text, json or yaml")

	// Store
	cmd.PersistentFlags().String("store", cli.Factsync.Store, "Fact store backend: badger, sqlite or inmem")
	cmd.PersistentFlags().String("db", cli.Factsync.DatabaseDir, "Database directory")
}
