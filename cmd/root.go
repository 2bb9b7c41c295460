package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "homecam-relay",
	Short: "Home camera pairing, signaling and media relay",
	Long:  `HTTP + WebSocket API and media relay. Commands: api, relay, migrate, seed, command.`,
	RunE:  runAPI, // default: run API (same as "homecam-relay api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
