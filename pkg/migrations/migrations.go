package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gradebook/records-api/internal/config"
	"github.com/gradebook/records-api/internal/store"
)

//go:embed sql/*.sql
var embedded embed.FS

// MigrateStore brings the schema up to date. Postgres runs the goose
// migrations, from cfg.Service.MigrationFolder when set, then the river
// queue tables. Other databases are migrated from the models.
func MigrateStore(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	if cfg.Database.Type != "pgsql" {
		zap.S().Named("migrations").Infof("auto migrating %s schema", cfg.Database.Type)
		return store.NewStore(db).InitialMigration(ctx)
	}

	goose.SetLogger(&logger{})

	fsys, err := migrationFS(cfg.Service.MigrationFolder)
	if err != nil {
		return err
	}
	goose.SetBaseFS(fsys)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, store.PostgresDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()

	if err := migrateRiver(ctx, pool); err != nil {
		return fmt.Errorf("river migrations: %w", err)
	}

	return nil
}

func migrationFS(folder string) (fs.FS, error) {
	if folder == "" {
		return fs.Sub(embedded, "sql")
	}

	fi, err := os.Stat(folder)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsDir() {
		return nil, fmt.Errorf("failed to open migration folder: %s is not a folder", folder)
	}
	return os.DirFS(folder), nil
}

func migrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	_, err = migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	return err
}

// logger adapts zap to goose.Logger.
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
