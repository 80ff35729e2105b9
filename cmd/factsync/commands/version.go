package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shoplane/factsync/src/version"
)

// NewVersionCmd displays the version of factsync being used
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
