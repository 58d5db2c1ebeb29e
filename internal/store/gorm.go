package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gradebook/records-api/internal/config"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ngrok/sqlmw"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const instrumentedPgxDriver = "pgx-instrumented"

var registerDriver sync.Once

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dia gorm.Dialector

	switch cfg.Database.Type {
	case "pgsql":
		registerDriver.Do(func() {
			sql.Register(instrumentedPgxDriver, sqlmw.Driver(stdlib.GetDefaultDriver(), &metricInterceptor{}))
		})
		dia = postgres.New(postgres.Config{
			DriverName: instrumentedPgxDriver,
			DSN:        PostgresDSN(cfg),
		})
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Hostname,
			cfg.Database.Port,
			cfg.Database.Name,
		)
		dia = mysql.Open(dsn)
	default:
		dia = sqlite.Open(sqliteDSN(cfg.Database.Name))
	}

	newLogger := logger.New(
		gormWriter{},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	newDB, err := gorm.Open(dia, &gorm.Config{Logger: newLogger, TranslateError: true})
	if err != nil {
		zap.S().Named("gorm").Errorf("failed to connect database: %v", err)
		return nil, err
	}

	sqlDB, err := newDB.DB()
	if err != nil {
		zap.S().Named("gorm").Errorf("failed to configure connections: %v", err)
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	if cfg.Database.Type != "pgsql" && cfg.Database.Type != "mysql" {
		// one writer at a time, otherwise concurrent chunks fail with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	var version string
	if result := newDB.Raw(versionQuery(cfg.Database.Type)).Scan(&version); result.Error != nil {
		zap.S().Named("gorm").Infoln(result.Error.Error())
		return nil, result.Error
	}
	zap.S().Named("gorm").Infof("database %s information: '%s'", cfg.Database.Type, version)

	return newDB, nil
}

// PostgresDSN is shared with the pgx pool backing the durable queue.
func PostgresDSN(cfg *config.Config) string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s",
		cfg.Database.Hostname,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Port,
	)
	if cfg.Database.Name != "" {
		dsn = fmt.Sprintf("%s dbname=%s", dsn, cfg.Database.Name)
	}
	return dsn
}

func sqliteDSN(name string) string {
	sep := "?"
	if strings.Contains(name, "?") {
		sep = "&"
	}
	return name + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func versionQuery(dbType string) string {
	switch dbType {
	case "pgsql", "mysql":
		return "SELECT version()"
	default:
		return "SELECT sqlite_version()"
	}
}

// gormWriter routes gorm's own logger to zap.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	zap.S().Named("gorm").Warnf(format, args...)
}
