package main

import (
	"context"
	"fmt"
	"time"

	"github.com/a-essam23/taskpulse/internal/auth"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a credential for a user in the configured directory",
		Long: `Mint a signed credential for a user.

Examples:
  taskpulse token --user 1
  taskpulse token --user 3 --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			if _, err := store.GetUser(context.Background(), userID); err != nil {
				return fmt.Errorf("user %q: %w", userID, err)
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Server.Auth.TokenTTL
			}
			token, err := auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret, store).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to issue the credential for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "credential lifetime (defaults to server.auth.tokenTTL, 0 for no expiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
