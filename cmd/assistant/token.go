package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/campaignhq/assistant/internal/auth"
	"github.com/campaignhq/assistant/internal/config"
)

// newTokenCmd mints a bearer token for a user, for local development and
// for collaborator services that authenticate on the user's behalf.
func newTokenCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a signed JWT for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("invalid user id %q: %w", userID, err)
			}

			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
			if err != nil {
				return fmt.Errorf("invalid jwt_expires_in %q: %w", cfg.Auth.JWTExpiresIn, err)
			}

			signed, expiresAt, err := auth.GenerateToken(userID, cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (UUID) the token authenticates")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
