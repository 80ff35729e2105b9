package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoplane/factsync/src/crypto/keys"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/factsync"
	"github.com/shoplane/factsync/src/node"
	"github.com/shoplane/factsync/src/service"
)

// The data commands open the local store directly. With the badger backend
// the device must not be running; use the HTTP API instead.

// openCore loads the device key, creating it if needed, and opens the
// configured store.
func openCore(cli *CLIConfig) (*node.Core, error) {
	conf := &cli.Factsync

	key, _, err := keys.NewSimpleKeyfile(conf.Keyfile()).ReadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("loading device key: %w", err)
	}

	s, err := factsync.OpenStore(conf)
	if err != nil {
		return nil, err
	}

	core, err := node.NewCore(keys.DeviceID(&key.PublicKey), s, conf.ComponentLogger("core"))
	if err != nil {
		s.Close()
		return nil, err
	}

	return core, nil
}

// withCore runs fn over an open core and closes it afterwards.
func withCore(cli *CLIConfig, fn func(core *node.Core) error) error {
	core, err := openCore(cli)
	if err != nil {
		return err
	}

	err = fn(core)

	if cerr := core.Close(); err == nil {
		err = cerr
	}

	return err
}

func addAuthorFlag(cmd *cobra.Command, cli *CLIConfig) {
	cmd.Flags().String("author", cli.Factsync.Author, "Author recorded in the new facts")
}

func addAsOfFlag(cmd *cobra.Command, asOf *string, usage string) {
	cmd.Flags().StringVar(asOf, "as-of", "", usage+" (RFC 3339 or Unix nanoseconds)")
}

// NewAssertCmd returns the command asserting a value.
func NewAssertCmd(cli *CLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assert <entity> <property> <value>",
		Short:   "Assert a value, obsoleting every current fact of the key",
		Args:    cobra.ExactArgs(3),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cli, func(core *node.Core) error {
				rec, err := core.Assert(args[0], args[1], args[2], core.Meta(cli.Factsync.Author))
				if err != nil {
					return err
				}
				return renderRecords(cmd.OutOrStdout(), cli, []fact.Record{*rec})
			})
		},
	}
	addAuthorFlag(cmd, cli)
	return cmd
}

// NewResolveCmd returns the command resolving a conflict.
func NewResolveCmd(cli *CLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resolve <entity> <property> <value>",
		Short:   "Resolve a conflict by asserting the chosen value",
		Args:    cobra.ExactArgs(3),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cli, func(core *node.Core) error {
				rec, err := core.Resolve(args[0], args[1], args[2], core.Meta(cli.Factsync.Author))
				if err != nil {
					return err
				}
				return renderRecords(cmd.OutOrStdout(), cli, []fact.Record{*rec})
			})
		},
	}
	addAuthorFlag(cmd, cli)
	return cmd
}

// NewGetCmd returns the command showing the current state of an entity or of
// one of its properties.
func NewGetCmd(cli *CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "get <entity> [property]",
		Short:   "Show the current state of an entity or property",
		Args:    cobra.RangeArgs(1, 2),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cli, func(core *node.Core) error {
				out := cmd.OutOrStdout()

				if len(args) == 2 {
					st, err := core.State(args[0], args[1])
					if err != nil {
						return err
					}
					return renderProperty(out, cli, args[0], service.NewPropertyView(args[1], st))
				}

				states, err := core.Entity(args[0])
				if err != nil {
					return err
				}
				return renderEntity(out, cli, service.NewEntityView(args[0], states))
			})
		},
	}
}

// NewHistoryCmd returns the command listing every fact of a key.
func NewHistoryCmd(cli *CLIConfig) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:     "history <entity> <property>",
		Short:   "List the facts of a property, oldest first",
		Args:    cobra.ExactArgs(2),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := service.ParseAsOf(asOf)
			if err != nil {
				return err
			}

			return withCore(cli, func(core *node.Core) error {
				history, err := core.History(args[0], args[1], ts)
				if err != nil {
					return err
				}

				facts := make([]fact.Fact, 0, len(history))
				for _, f := range history {
					facts = append(facts, *f)
				}

				return render(cmd.OutOrStdout(), cli.Output, facts, func(w io.Writer) error {
					return writeFactsText(w, facts)
				})
			})
		},
	}
	addAsOfFlag(cmd, &asOf, "Ignore facts after this time")
	return cmd
}

// NewSnapshotCmd returns the command showing an entity as it was at a point
// in time.
func NewSnapshotCmd(cli *CLIConfig) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:     "snapshot <entity> [property]",
		Short:   "Show the state an entity or property had at a point in time",
		Args:    cobra.RangeArgs(1, 2),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			if asOf == "" {
				return errors.New("--as-of is required")
			}
			ts, err := service.ParseAsOf(asOf)
			if err != nil {
				return err
			}

			return withCore(cli, func(core *node.Core) error {
				projector := node.NewProjector(core)
				out := cmd.OutOrStdout()

				if len(args) == 2 {
					st, err := projector.SnapshotProperty(args[0], args[1], ts)
					if err != nil {
						return err
					}
					return renderProperty(out, cli, args[0], service.NewPropertyView(args[1], st))
				}

				states, err := projector.Snapshot(args[0], ts)
				if err != nil {
					return err
				}
				view := service.NewEntityView(args[0], states)
				at := time.Unix(0, ts).UTC()
				view.AsOf = &at
				return renderEntity(out, cli, view)
			})
		},
	}
	addAsOfFlag(cmd, &asOf, "Point in time")
	return cmd
}

// NewRestoreCmd returns the command bringing an entity, or one property, back
// to the values it had at a point in time.
func NewRestoreCmd(cli *CLIConfig) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:     "restore <entity> [property]",
		Short:   "Assert the values an entity or property had at a point in time",
		Args:    cobra.RangeArgs(1, 2),
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			if asOf == "" {
				return errors.New("--as-of is required")
			}
			ts, err := service.ParseAsOf(asOf)
			if err != nil {
				return err
			}

			return withCore(cli, func(core *node.Core) error {
				projector := node.NewProjector(core)
				meta := core.Meta(cli.Factsync.Author)

				var records []fact.Record
				if len(args) == 2 {
					rec, err := projector.RestoreProperty(args[0], args[1], ts, meta)
					if err != nil && !errors.Is(err, node.ErrNothingToRestore) {
						return err
					}
					if rec != nil {
						records = append(records, *rec)
					}
				} else {
					records, err = projector.Restore(args[0], ts, meta)
					if err != nil {
						return err
					}
				}

				if len(records) == 0 && cli.Output == outputText {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), node.ErrNothingToRestore)
					return err
				}
				return renderRecords(cmd.OutOrStdout(), cli, records)
			})
		},
	}
	addAuthorFlag(cmd, cli)
	addAsOfFlag(cmd, &asOf, "Point in time to restore")
	return cmd
}

func renderRecords(w io.Writer, cli *CLIConfig, records []fact.Record) error {
	if records == nil {
		records = []fact.Record{}
	}
	return render(w, cli.Output, records, func(w io.Writer) error {
		return writeRecordsText(w, records)
	})
}

func renderEntity(w io.Writer, cli *CLIConfig, view service.EntityView) error {
	return render(w, cli.Output, view, func(w io.Writer) error {
		return writeEntityText(w, view)
	})
}

func renderProperty(w io.Writer, cli *CLIConfig, entityID string, view service.PropertyView) error {
	return render(w, cli.Output, view, func(w io.Writer) error {
		return writePropertyText(w, entityID, view)
	})
}
