package cmd

import (
	"log"

	"github.com/copperlabs/engine/internal/config"
	"github.com/copperlabs/engine/internal/version"
	"github.com/copperlabs/engine/pkg/logger"
	"github.com/copperlabs/engine/pkg/postgres"
	"github.com/copperlabs/engine/pkg/runtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Create the database if needed and apply all migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}

		db, grm, err := postgres.SetupDatabase(cfg, true, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup database", zap.Error(err))
		}
		defer db.Close()

		if err := runtime.NewEngineRuntime(grm, l).ValidateAndUpdateVersion(version.GetVersion()); err != nil {
			l.Sugar().Fatalw("Failed to validate engine version", zap.Error(err))
		}
		l.Sugar().Infow("Database migrated", zap.String("database", cfg.DatabaseConfig.DbName))
	},
}
