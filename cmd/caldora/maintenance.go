package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/server/changelog"
	"github.com/cyp0633/caldora/server/changelog/migrations"
)

var errNotSQLite = errors.New("the configured change log is not sqlite")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the change-log schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.ChangeLog.Type != "sqlite" {
			return errNotSQLite
		}
		// opening runs pending migrations
		db, err := changelog.OpenSQLite(cfg.ChangeLog.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		current, latest, dirty, err := migrations.Status(db.DB())
		if err != nil {
			return err
		}
		logger.Info("schema up to date", "path", cfg.ChangeLog.Path, "version", current, "latest", latest, "dirty", dirty)
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (latest %d)\n", current, latest)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop change-log entries older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.ChangeLog.Type != "sqlite" {
			return errNotSQLite
		}
		db, err := changelog.OpenSQLite(cfg.ChangeLog.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := changelog.NewPruner(db, cfg.RetentionPeriod(), logger).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries older than %s\n", n, cfg.RetentionPeriod())
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath, config.Default()); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration initialized at %s\n", configPath)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d users, %d collections, %s change log)\n",
			configPath, len(cfg.Users), len(cfg.Collections), cfg.ChangeLog.Type)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configCheckCmd)
}
