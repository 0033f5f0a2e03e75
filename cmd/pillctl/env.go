package main

import (
	"database/sql"
	"fmt"

	"pillbox/common/database"
	"pillbox/common/logger"
	"pillbox/common/mqtt"
	"pillbox/internal/clock"
	"pillbox/internal/config"
	"pillbox/internal/metrics"
	"pillbox/internal/repository"
	"pillbox/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cliEnv 一次命令所需的服务；不启动消费者与定时评估
type cliEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	services *service.Services
	db       *sql.DB
	mqtt     *mqtt.Client
}

func newCLIEnv(cmd *cobra.Command, withMQTT bool) (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, _ := cmd.Flags().GetString("log-level")
	log, err := logger.NewLogger(level, "console", "pillctl")
	if err != nil {
		return nil, err
	}

	env := &cliEnv{cfg: cfg, logger: log, clock: clock.NewSystemClock(cfg.Location)}

	var repos *service.Repositories
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := repository.EnsureSchema(cmd.Context(), db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		env.db = db
		repos = service.NewPostgresRepositories(db, log)
	} else {
		log.Warn("DB disabled, using in-memory repositories")
		repos = service.NewMemoryRepositories(repository.NewMemoryStore())
	}

	var publisher service.Publisher
	if withMQTT {
		env.mqtt = mqtt.NewClient(&cfg.MQTT, log)
		if err := env.mqtt.Connect(); err != nil {
			env.Close()
			return nil, err
		}
		publisher = env.mqtt
	}

	var directory service.PatientDirectory = service.NewMemoryPatientDirectory()
	if cfg.PatientDirectoryURL != "" {
		directory = service.NewHTTPPatientDirectory(cfg.PatientDirectoryURL, log)
	}

	env.services = service.NewServices(cfg, repos, directory, publisher, nil, env.clock, metrics.New(), log)
	return env, nil
}

func (e *cliEnv) Close() {
	if e.mqtt != nil && e.mqtt.IsConnected() {
		e.mqtt.Disconnect()
	}
	if e.db != nil {
		_ = database.Close(e.db)
	}
	_ = e.logger.Sync()
}
