package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nosurfing/moderation/internal/database"
	"github.com/nosurfing/moderation/internal/modlog"
)

func newPurgeCommand() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete moderation log entries older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadDeps()
			if err != nil {
				return err
			}
			if err := deps.requireDSN(); err != nil {
				return err
			}
			if retention <= 0 {
				retention = deps.cfg.ModLog.Retention
			}

			db, err := database.Open(cmd.Context(), deps.cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			purger, err := modlog.NewPurger(modlog.NewStore(db), retention, deps.cfg.ModLog.PurgeSchedule, deps.log)
			if err != nil {
				return err
			}
			n, err := purger.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries older than %s\n", n, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override the configured retention period")
	return cmd
}
