package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go-file-transfer/internal/app"
	"go-file-transfer/internal/config"
	"go-file-transfer/internal/logger"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "transferd",
		Short:         "Task manager for resumable uploads and server-side file operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newTokenCmd())
	root.RunE = newServeCmd().RunE
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintln(os.Stderr, "invalid configuration:", err)
				return err
			}
			slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg)
			if err != nil {
				slog.Error("failed to initialize application", "error", err)
				return err
			}

			if err := application.Run(ctx); err != nil {
				slog.Error("application run failed", "error", err)
				return err
			}
			return nil
		},
	}
}

// newTokenCmd mints a bearer token signed with JWT_SECRET. User management is
// out of scope for the server, so operators issue tokens here.
func newTokenCmd() *cobra.Command {
	var (
		username string
		userID   string
		role     string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if userID == "" {
				userID = uuid.NewString()
			}

			token, err := service.NewTokenService(cfg.JWTSecret).Issue(userID, username, role, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "operator", "username embedded in the token")
	cmd.Flags().StringVar(&userID, "user-id", "", "stable user id (random when empty)")
	cmd.Flags().StringVar(&role, "role", model.RoleUser, "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
