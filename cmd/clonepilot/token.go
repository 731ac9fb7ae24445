// ABOUTME: token subcommand minting API JWTs
// ABOUTME: Signs with auth.jwt_secret; subjects default to a random id

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/clonepilot/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject   string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the relay API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured; the API accepts requests without a token")
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			if subject == "" {
				subject = "client-" + uuid.NewString()
			}

			token, err := verifier.Generate(subject, expiresIn)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "token subject (default: random client id)")
	cmd.Flags().DurationVar(&expiresIn, "expires", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
