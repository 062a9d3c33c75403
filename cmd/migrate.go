package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/database"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := database.Up
			if len(args) == 1 {
				parsed, err := database.ParseDirection(args[0])
				if err != nil {
					return err
				}
				dir = parsed
			}
			if a.cfg.Store != "postgres" {
				return fmt.Errorf("migrate requires the postgres store, got %q", a.cfg.Store)
			}
			return database.Migrate(a.cfg.DB.URL("pgx5"), dir, a.logger)
		},
	}
}
