package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petabi/deview/config"
	"github.com/petabi/deview/storage/postgres"
)

var errMigrateUnsupported = errors.New("migrations apply only to the postgres storage backend")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply or roll back the PostgreSQL schema. The server applies pending
migrations at startup; these commands are for operators who manage the
schema separately.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(mg *postgres.Migrator) error {
			if err := mg.Up(); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down <steps>",
	Short: "Roll back migrations by step count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := parseSteps(args[0])
		if err != nil {
			return err
		}
		return withMigrator(func(mg *postgres.Migrator) error {
			if err := mg.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(mg *postgres.Migrator) error {
			return printVersion(cmd, mg)
		})
	},
}

func parseSteps(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", arg)
	}
	return steps, nil
}

func withMigrator(fn func(*postgres.Migrator) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendPostgres {
		return errMigrateUnsupported
	}
	mg, err := postgres.NewMigrator(cfg.DatabaseURL, cfg.CACerts)
	if err != nil {
		return err
	}
	err = fn(mg)
	if closeErr := mg.Close(); err == nil {
		err = closeErr
	}
	return err
}

func printVersion(cmd *cobra.Command, mg *postgres.Migrator) error {
	version, dirty, ok, err := mg.Version()
	if err != nil {
		return err
	}
	switch {
	case !ok:
		cmd.Println("schema version: none")
	case dirty:
		cmd.Printf("schema version: %d (dirty)\n", version)
	default:
		cmd.Printf("schema version: %d\n", version)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}
