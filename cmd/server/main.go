/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the community common-expense engine. Every
  subcommand shares the same bootstrap: load configuration, build the
  logger, open the configured store and wrap it in a billing.Service.

COMMANDS:
  serve     HTTP API, overdue sweeper and (optionally) the AMQP payment consumer
  migrate   Apply, roll back or inspect SQL schema migrations
  sweep     Run one overdue sweep and exit
  preview   Print how a total would be prorated over a community's units
  seed      Load a demo scenario

GLOBAL FLAGS:
  --config   TOML file (default: community-engine.toml if present)
  --driver   Override [database].driver (memory | sqlite3 | postgres)
  --db       Override [database].url

ENVIRONMENT:
  PORT, DATABASE_DRIVER, DATABASE_URL, AMQP_URL, LOG_LEVEL, LOG_FORMAT,
  ALLOWED_ORIGINS, SWEEP_INTERVAL, ENFORCE_ROLES (also read from .env)

EXAMPLES:
  community-engine serve
  community-engine --driver memory seed --scenario late-payers
  community-engine preview --community c-1 --total '$1.500.000' --method COEFFICIENT
  community-engine migrate down --steps 1

SEE ALSO:
  - config/config.go: Configuration sources and validation
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/billing/store"
	"github.com/warp/community-engine/config"
	"github.com/warp/community-engine/logging"
	"github.com/warp/community-engine/store/sqldb"
)

var (
	flagConfig string
	flagDriver string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:           "community-engine",
	Short:         "Common-expense billing for residential communities",
	Long:          "Prorate monthly common expenses over a community's units and track every unit's payment status.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "", "Database driver override (memory, sqlite3, postgres)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database URL or path override")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// app is what every subcommand needs.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	service *billing.Service
	close   func() error
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagDriver != "" {
		cfg.Database.Driver = flagDriver
	}
	if flagDB != "" {
		cfg.Database.URL = flagDB
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Log.Format,
		Component: logging.ComponentApp,
		Output:    os.Stderr,
	})
	logging.SetDefault(logger)
	return logger
}

// setup loads configuration and opens the store. Callers must call close.
func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	st, closeStore, err := openStore(ctx, cfg.Database, false)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", "driver", cfg.Database.Driver)

	return &app{
		cfg:     cfg,
		logger:  logger,
		service: &billing.Service{Store: st, NewID: uuid.NewString},
		close:   closeStore,
	}, nil
}

func openStore(ctx context.Context, db config.DatabaseConfig, skipMigrations bool) (billing.TxStore, func() error, error) {
	switch db.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	case sqldb.DriverSQLite:
		if dir := filepath.Dir(db.URL); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	st, err := sqldb.Open(ctx, sqldb.Config{Driver: db.Driver, DSN: db.URL, SkipMigrations: skipMigrations})
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}
