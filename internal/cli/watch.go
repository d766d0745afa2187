package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/realtime"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

func newWatchCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Print a collection every time it changes",
		Long: "Mount a collection and print it again after every change until interrupted.\n" +
			"Changes come from files rewritten by other processes, or with --remote from\n" +
			"the serve command at realtime.url.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), cmd, args[0], remote)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "receive changes from realtime.url instead of watching files")
	return cmd
}

func (a *app) runWatch(ctx context.Context, cmd *cobra.Command, name string, remote bool) error {
	var channel types.ChangeChannel
	if remote {
		if a.config.Realtime.URL == "" {
			return userError(fmt.Errorf("realtime.url is not configured"))
		}
		token, err := a.realtimeToken()
		if err != nil {
			return userError(err)
		}
		client := realtime.NewClient(a.config.Realtime.URL, token, realtime.WithClientLogger(a.logger))
		defer client.Close()
		channel = client
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := a.openWorkspace(ctx, name, !remote, channel)
	if err != nil {
		return err
	}
	defer w.close()

	changed := make(chan struct{}, 1)
	cancel := w.ops.onChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	out := cmd.OutOrStdout()
	if err := a.printWatch(out, w); err != nil {
		return sysError(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := a.printWatch(out, w); err != nil {
				return sysError(err)
			}
		}
	}
}

func (a *app) printWatch(out io.Writer, w *workspace) error {
	rows, err := w.ops.rows()
	if err != nil {
		return err
	}
	if ferr := w.ops.Err(); ferr != nil {
		a.logger.Warn("collection error", zap.String("table", w.ops.Table()), zap.Error(ferr))
	}
	if a.flags.jsonMode {
		return printJSON(out, rows)
	}
	printRows(out, w.ops.Table(), rows)
	fmt.Fprintln(out)
	return nil
}
