package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, teardown, err := setup()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer teardown()

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := migrations.MigrateStore(context.Background(), db, cfg); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		zap.S().Info("Db migrated")
		return nil
	},
}
