package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <json>",
		Short: "Insert a record",
		Long: "Insert a record described by a JSON object. The owner is the signed-in user;\n" +
			"--client-id fills client_id for documents and tasks when the object omits it.",
		Example: `  practicesync --user u1 add clients '{"name":"Acme","status":"active"}'
  practicesync --user u1 --client-id c1 add tasks '{"title":"File 1040","priority":2}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseObject(args[1])
			if err != nil {
				return err
			}
			if a.flags.clientID != "" && args[0] != types.TableClients {
				if _, ok := fields["client_id"]; !ok {
					fields["client_id"] = a.flags.clientID
				}
			}
			data, err := json.Marshal(fields)
			if err != nil {
				return userError(err)
			}

			w, err := a.openWorkspace(cmd.Context(), args[0], false, nil)
			if err != nil {
				return err
			}
			defer w.close()

			row, err := w.ops.insert(cmd.Context(), data)
			if err != nil {
				return mutationExit(err)
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), row)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", w.ops.Table(), row.ID())
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "update <collection> <id> <json>",
		Short:   "Apply changes to a record",
		Example: `  practicesync --user u1 update tasks 0190... '{"status":"done"}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseObject(args[2])
			if err != nil {
				return err
			}
			w, err := a.openWorkspace(cmd.Context(), args[0], false, nil)
			if err != nil {
				return err
			}
			defer w.close()

			if err := w.ops.update(cmd.Context(), args[1], changes); err != nil {
				return mutationExit(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %s\n", w.ops.Table(), args[1])
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.openWorkspace(cmd.Context(), args[0], false, nil)
			if err != nil {
				return err
			}
			defer w.close()

			if err := w.ops.remove(cmd.Context(), args[1]); err != nil {
				return mutationExit(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", w.ops.Table(), args[1])
			return nil
		},
	}
}

// parseObject decodes a JSON object argument.
func parseObject(arg string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(arg), &fields); err != nil {
		return nil, userError(fmt.Errorf("%w: %v", types.ErrInvalidData, err))
	}
	if fields == nil {
		return nil, userError(fmt.Errorf("%w: expected a JSON object", types.ErrInvalidData))
	}
	return fields, nil
}

// mutationExit classifies a failed mutation. Rejections caused by the
// caller's input are user errors; anything else is a system error.
func mutationExit(err error) error {
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInvalidStatus),
		errors.Is(err, types.ErrNotAuthenticated):
		return userError(err)
	}
	return sysError(err)
}
