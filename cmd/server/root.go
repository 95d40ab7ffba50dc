package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"identity-service/internal/config"
	"identity-service/internal/logger"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "identity-service",
	Short: "External identity authentication and session service",
	Long: `identity-service signs users in through external identity providers
(Google, Keycloak, GitHub), reconciles them with local accounts and issues
session tokens.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Debug = true
		}
		logger.Init(cfg.Debug)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
