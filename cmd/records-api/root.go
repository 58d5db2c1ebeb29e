package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gradebook/records-api/internal/config"
	"github.com/gradebook/records-api/pkg/log"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:          "records-api",
	Short:        "Batch ingestion of school records",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)

	addLogFlags(rootCmd.PersistentFlags())
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.StringVar(&logLevel, "log-level", "", "Log level, overrides RECORDS_LOG_LEVEL")
}

// setup reads the configuration and installs the global logger. The returned
// function flushes and restores the previous logger.
func setup() (*config.Config, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Service.LogLevel = logLevel
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
	undo := zap.ReplaceGlobals(logger)

	return cfg, func() {
		_ = logger.Sync()
		undo()
	}, nil
}
