package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/sysutil"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := repo.Open(repo.Options{
				Driver: cfg.DBDriver,
				Path:   cfg.DBPath,
				DSN:    cfg.DBDSN,
				Debug:  sysutil.IsTruthy(os.Getenv("DB_DEBUG")),
			})
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("schema up to date")
			return nil
		},
	}
}
