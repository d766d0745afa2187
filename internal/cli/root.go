// Package cli implements the practicesync command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/paths"
	"github.com/mesh-intelligence/practicesync/pkg/practicesync"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries the exit code a failed command should end with.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// exitCode maps an error returned by a command to a process exit code.
// Errors that are not classified are treated as user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	user      string
	token     string
	clientID  string
	jsonMode  bool
	verbose   bool
}

// app is the state one invocation of the root command shares with its
// subcommands.
type app struct {
	flags  rootFlags
	config types.Config
	logger *zap.Logger
	out    io.Writer
}

// NewRootCmd creates the top-level "practicesync" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:     "practicesync",
		Short:   "Synchronized clients, documents and tasks for a tax practice",
		Long:    "practicesync keeps per-user collections of clients, documents and tasks\nin sync with the row store and its change feed.",
		Version: practicesync.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return sysError(fmt.Errorf("resolve config dir: %w", err))
			}
			cfg, level, err := loadConfig(configDir, a.flags.dataDir)
			if err != nil {
				return sysError(err)
			}
			a.config = cfg
			logger, err := newLogger(level, a.flags.verbose)
			if err != nil {
				return userError(err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	pf.StringVar(&a.flags.user, "user", "", "act as this user id")
	pf.StringVar(&a.flags.token, "token", "", "session token (overrides --user)")
	pf.StringVar(&a.flags.clientID, "client-id", "", "narrow documents and tasks to one client")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newTokenCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
