package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nosurfing/moderation/internal/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			if err := deps.requireDSN(); err != nil {
				return err
			}
			return database.MigrateDown(deps.cfg.Postgres.DSN, steps, deps.log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				deps, err := loadDeps()
				if err != nil {
					return err
				}
				if err := deps.requireDSN(); err != nil {
					return err
				}
				return database.MigrateUp(deps.cfg.Postgres.DSN, deps.log)
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				deps, err := loadDeps()
				if err != nil {
					return err
				}
				if err := deps.requireDSN(); err != nil {
					return err
				}
				version, dirty, err := database.MigrationVersion(deps.cfg.Postgres.DSN, deps.log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark a schema version as applied without running it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				deps, err := loadDeps()
				if err != nil {
					return err
				}
				if err := deps.requireDSN(); err != nil {
					return err
				}
				return database.ForceVersion(deps.cfg.Postgres.DSN, version, deps.log)
			},
		},
	)
	return cmd
}
