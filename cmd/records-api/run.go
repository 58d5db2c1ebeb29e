package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/gradebook/records-api/internal/api_server"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/pkg/migrations"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the records api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, teardown, err := setup()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer teardown()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if cfg.Service.AutoMigrate || cfg.Database.Type != "pgsql" {
			if err := migrations.MigrateStore(ctx, db, cfg); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
		}

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}
		metricsListener, err := newListener(cfg.Service.MetricsAddress)
		if err != nil {
			return fmt.Errorf("creating metrics listener: %w", err)
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return apiserver.New(cfg, s, listener).Run(ctx)
		})
		g.Go(func() error {
			return apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener).Run(ctx)
		})

		return g.Wait()
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
