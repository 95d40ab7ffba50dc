package main

import (
	"github.com/spf13/cobra"

	"identity-service/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Migrate(cmd.Context(), cfg)
	},
}
