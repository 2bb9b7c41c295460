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

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the media relay (token-admitted WebSocket fan-out)",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	app, err := application.NewRelay(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
