package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/fuel-ledger/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := sqlite.Migrate(cmd.Context(), db); err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.Database.Path, err)
		}
		fmt.Printf("migrations applied to %s\n", cfg.Database.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
