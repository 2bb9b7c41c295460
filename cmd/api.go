package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/homecam-relay/internal/application"
	"github.com/psds-microservice/homecam-relay/internal/config"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the API: connection codes, sessions, media URLs, signaling WebSocket",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	app, err := application.NewAPI(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
