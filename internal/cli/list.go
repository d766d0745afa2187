package cli

import (
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the signed-in user's records, newest first",
		Long:  "List clients, documents or tasks owned by the signed-in user.\nDocuments and tasks can be narrowed with --client-id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.openWorkspace(cmd.Context(), args[0], false, nil)
			if err != nil {
				return err
			}
			defer w.close()

			rows, err := w.ops.rows()
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			printRows(cmd.OutOrStdout(), w.ops.Table(), rows)
			return nil
		},
	}
}
