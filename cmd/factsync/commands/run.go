package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shoplane/factsync/src/factsync"
)

// NewRunCmd returns the command that starts a factsync device
func NewRunCmd(cli *CLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the device: sync, discovery and HTTP API",
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFactsync(cmd, cli)
		},
	}
	AddRunFlags(cmd, cli)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runFactsync(cmd *cobra.Command, cli *CLIConfig) error {
	engine := factsync.NewFactsync(&cli.Factsync)

	if err := engine.Init(); err != nil {
		cli.Factsync.Logger().Error("Cannot initialize engine: ", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return engine.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command, cli *CLIConfig) {
	conf := &cli.Factsync

	cmd.Flags().String("moniker", conf.Moniker, "Optional name of this device")
	cmd.Flags().String("author", conf.Author, "Author of the facts written through the HTTP API")

	// Network
	cmd.Flags().StringP("listen", "l", conf.BindAddr, "Listen IP:Port of the sync transport")
	cmd.Flags().StringP("advertise", "a", conf.AdvertiseAddr, "Advertise IP:Port of the sync transport")
	cmd.Flags().DurationP("timeout", "t", conf.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", conf.MaxPool, "Connection pool size max")

	// Discovery
	cmd.Flags().String("discovery-listen", conf.DiscoveryAddr, "Listen IP:Port for announcements")
	cmd.Flags().StringSlice("discovery-broadcast", conf.DiscoveryTargets, "IP:Port announcements are sent to")
	cmd.Flags().Duration("announce-interval", conf.AnnounceInterval, "Time between unconditional announcements")
	cmd.Flags().Int("announce-burst", conf.AnnounceBurst, "Change announcements allowed back to back")
	cmd.Flags().Duration("peer-expiry", conf.PeerExpiry, "Forget peers not heard from for this long")

	// Service
	cmd.Flags().StringP("service-listen", "s", conf.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", conf.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("badger-sync-writes", conf.BadgerSyncWrites, "Sync every badger write to disk")
	cmd.Flags().Duration("badger-gc-interval", conf.BadgerGCInterval, "Time between badger value log GCs")

	// Node configuration
	cmd.Flags().Duration("heartbeat", conf.HeartbeatTimeout, "Time between anti-entropy ticks")
	cmd.Flags().Duration("session-timeout", conf.SessionTimeout, "Max duration of one sync session")
	cmd.Flags().Int("max-sessions", conf.MaxSessions, "Max number of concurrent sync sessions")
	cmd.Flags().Int("sync-limit", conf.SyncLimit, "Max number of records or prefixes in one sync message")
}
