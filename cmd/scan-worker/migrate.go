package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/config"
	"github.com/riskscan/scan-worker/internal/store"
	"github.com/riskscan/scan-worker/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer setupLogger(cfg)()

		ctx := context.Background()
		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}
		s := store.NewStore(db)
		defer s.Close()

		if err := migrations.MigrateStore(db, cfg); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		if cfg.Database.Type == "pgsql" {
			pool, err := store.NewPgxPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := migrations.MigrateRiver(ctx, pool); err != nil {
				return err
			}
		}

		zap.S().Named("scan_worker").Info("db migrated")
		return nil
	},
}
