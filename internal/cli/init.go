package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/sqlite"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and storage",
		Long:  "Create the configuration and data directories, write a default config.yaml\nwith a fresh signing secret, then initialize the row store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd)
		},
	}
}

func (a *app) runInit(cmd *cobra.Command) error {
	configDir, path, err := configPath(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create config directory: %w", err))
	}
	wrote, err := writeConfigIfMissing(path, a.config.DataDir)
	if err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}
	if wrote {
		a.logger.Debug("wrote default config", zap.String("path", path))
	}

	store := sqlite.NewBackend(sqlite.WithLogger(a.logger))
	if err := store.Attach(a.config); err != nil {
		return sysError(fmt.Errorf("initialize storage: %w", err))
	}
	if err := store.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize storage: %w", err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "practicesync initialized\nconfig: %s\ndata:   %s\n", path, a.config.DataDir)
	return nil
}
