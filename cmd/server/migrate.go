package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/community-engine/config"
	"github.com/warp/community-engine/store/sqldb"
)

var flagSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the SQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationTarget(cmd, func(driver, dsn string) error {
			if err := sqldb.Migrate(driver, dsn); err != nil {
				return err
			}
			return printVersion(cmd, driver, dsn)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations (all of them unless --steps is set)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationTarget(cmd, func(driver, dsn string) error {
			if err := sqldb.MigrateDown(driver, dsn, flagSteps); err != nil {
				return err
			}
			return printVersion(cmd, driver, dsn)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrationTarget(cmd, func(driver, dsn string) error {
			return printVersion(cmd, driver, dsn)
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&flagSteps, "steps", 0, "Number of migrations to roll back (0 = all)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrationTarget(cmd *cobra.Command, fn func(driver, dsn string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runMigration(cfg.Database, fn)
}

func runMigration(db config.DatabaseConfig, fn func(driver, dsn string) error) error {
	if db.Driver == "memory" {
		return errors.New("the memory store has no schema to migrate")
	}
	dsn, err := sqldb.DataSource(sqldb.Config{Driver: db.Driver, DSN: db.URL})
	if err != nil {
		return err
	}
	return fn(db.Driver, dsn)
}

func printVersion(cmd *cobra.Command, driver, dsn string) error {
	version, dirty, err := sqldb.MigrationVersion(driver, dsn)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, state)
	return nil
}
