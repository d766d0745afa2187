package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/practicesync/pkg/practicesync"
)

const modulePath = "github.com/mesh-intelligence/practicesync"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the practicesync version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "practicesync v%s\nmodule: %s\n", practicesync.Version, modulePath)
			return nil
		},
	}
}
