package commands

import (
	"github.com/spf13/cobra"
)

// MigrateCmd creates or updates the job and domain tables.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("migration complete")
		return nil
	},
}
