package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/homecam-relay/internal/config"
	"github.com/psds-microservice/homecam-relay/internal/database"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply camera directory migrations (database/migrations)",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (--steps N, default all)",
	RunE:  runMigrateDown,
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to roll back (0 = all)")
	migrateCmd.AddCommand(migrateDownCmd)
}

func loadDatabaseConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !cfg.HasDatabase() {
		return nil, errors.New("config: DB_HOST is required for migrations")
	}
	return cfg, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	return database.MigrateUp(cfg.DatabaseURL())
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	cfg, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	return database.MigrateDown(cfg.DatabaseURL(), migrateSteps)
}
