package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shoplane/factsync/src/config"
)

// CLIConfig contains the configuration of the commands.
type CLIConfig struct {
	Factsync config.Config `mapstructure:",squash"`
	Output   string        `mapstructure:"output"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Factsync: *config.NewDefaultConfig(),
		Output:   outputText,
	}
}

// loadConfig returns the PreRunE hook binding the command flags and the
// optional config file into cli.
func loadConfig(cli *CLIConfig) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := bindFlagsLoadViper(cmd, cli); err != nil {
			return err
		}

		// If --datadir was explicitely set, but not --db, this will update the
		// default database dir to be inside the new datadir
		cli.Factsync.SetDataDir(cli.Factsync.DataDir)

		if err := cli.Factsync.Validate(); err != nil {
			return err
		}

		// the config file may have changed the level
		cli.Factsync.Logger().Logger.SetLevel(config.LogLevel(cli.Factsync.LogLevel))

		cli.Factsync.Logger().WithFields(logrus.Fields{
			"factsync.DataDir":          cli.Factsync.DataDir,
			"factsync.DatabaseDir":      cli.Factsync.DatabaseDir,
			"factsync.Store":            cli.Factsync.Store,
			"factsync.BindAddr":         cli.Factsync.BindAddr,
			"factsync.AdvertiseAddr":    cli.Factsync.AdvertiseAddr,
			"factsync.DiscoveryAddr":    cli.Factsync.DiscoveryAddr,
			"factsync.DiscoveryTargets": cli.Factsync.DiscoveryTargets,
			"factsync.ServiceAddr":      cli.Factsync.ServiceAddr,
			"factsync.NoService":        cli.Factsync.NoService,
			"factsync.HeartbeatTimeout": cli.Factsync.HeartbeatTimeout,
			"factsync.AnnounceInterval": cli.Factsync.AnnounceInterval,
			"factsync.SessionTimeout":   cli.Factsync.SessionTimeout,
			"factsync.MaxSessions":      cli.Factsync.MaxSessions,
			"factsync.SyncLimit":        cli.Factsync.SyncLimit,
			"factsync.LogLevel":         cli.Factsync.LogLevel,
			"factsync.Moniker":          cli.Factsync.Moniker,
			"factsync.Author":           cli.Factsync.Author,
		}).Debug("CONFIG")

		return nil
	}
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command, cli *CLIConfig) error {
	v := viper.New()

	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := v.Unmarshal(cli); err != nil {
		return err
	}

	// look for config file in [datadir]/factsync.toml (.json, .yaml also work)
	v.SetConfigName("factsync")
	v.AddConfigPath(cli.Factsync.DataDir)

	// If a config file is found, read it in.
	if err := v.ReadInConfig(); err == nil {
		cli.Factsync.Logger().Debugf("Using config file: %s", v.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		cli.Factsync.Logger().Debugf("No config file found in: %s", cli.Factsync.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return v.Unmarshal(cli)
}
