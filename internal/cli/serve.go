package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/practicesync/internal/auth"
	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/internal/realtime"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the change feed over websockets",
		Long: "Serve the row store's change feed at /realtime to token-authenticated\n" +
			"watchers, with prometheus metrics at /metrics. Tables rewritten by other\n" +
			"processes are reloaded and their changes forwarded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.config.Realtime.Listen
			}
			return a.runServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: realtime.listen)")
	return cmd
}

func (a *app) runServe(ctx context.Context, listen string) error {
	verifier, err := a.verifier()
	if err != nil {
		return userError(err)
	}
	store, err := a.openStore(true)
	if err != nil {
		return err
	}
	defer store.Detach()

	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m, collectors.NewGoCollector())

	rs := realtime.NewServer(store.Channel(), verifier.Verify,
		realtime.WithServerLogger(a.logger),
		realtime.WithServerMetrics(m))
	defer rs.Close()

	srv := &http.Server{
		Addr:              listen,
		Handler:           newServeMux(rs, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("serving change feed", zap.String("addr", listen), zap.String("data_dir", store.DataDir()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sysError(fmt.Errorf("listen: %w", err))
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Hijacked websocket connections are not closed by Shutdown.
		rs.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newServeMux routes the realtime endpoint, metrics and a health check.
func newServeMux(rs *realtime.Server, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/realtime", rs)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok %d\n", rs.Sessions())
	})
	return mux
}

// realtimeToken returns the token a watcher presents to the serve command:
// --token when given, else one signed for --user with the configured secret.
func (a *app) realtimeToken() (string, error) {
	if a.flags.token != "" {
		return a.flags.token, nil
	}
	if a.flags.user == "" {
		return "", fmt.Errorf("%w: pass --user or --token", types.ErrNotAuthenticated)
	}
	if a.config.Auth.Secret == "" {
		return "", errNoSecret
	}
	signer, err := auth.NewSigner(a.config.Auth.Secret, nil)
	if err != nil {
		return "", err
	}
	return signer.Sign(a.flags.user, a.config.Auth.TokenTTL)
}
