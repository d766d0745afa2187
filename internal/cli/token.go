package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/practicesync/internal/auth"
)

var errNoSecret = errors.New("auth.secret is not configured; run init or set PRACTICESYNC_AUTH_SECRET")

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.config.Auth.Secret == "" {
				return userError(errNoSecret)
			}
			signer, err := auth.NewSigner(a.config.Auth.Secret, nil)
			if err != nil {
				return userError(err)
			}
			token, err := signer.Sign(args[0], a.config.Auth.TokenTTL)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

// verifier returns a token verifier for the configured secret.
func (a *app) verifier() (*auth.Verifier, error) {
	if a.config.Auth.Secret == "" {
		return nil, errNoSecret
	}
	return auth.NewVerifier(a.config.Auth.Secret, nil)
}
