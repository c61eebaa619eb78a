package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/app"
	"github.com/nosurfing/moderation/internal/database"
	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/report"
)

type pendingReports interface {
	Count(ctx context.Context, ref escalation.ContentRef) (int, error)
	Clear(ctx context.Context, ref escalation.ContentRef) error
}

type reportResolver interface {
	Resolve(ctx context.Context, ref escalation.ContentRef) (int64, error)
}

// statusAdmin reads and overrides content status. archive may be nil, in
// which case archived reports are left untouched on resolve.
type statusAdmin struct {
	statuses escalation.StatusStore
	pending  pendingReports
	archive  reportResolver
}

func (a *statusAdmin) get(ctx context.Context, ref escalation.ContentRef) (escalation.Status, int, error) {
	status, err := a.statuses.Get(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	pending, err := a.pending.Count(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	return status, pending, nil
}

// set overrides the status. With resolve the pending reporters are cleared
// so escalation starts from zero, and archived pending reports are marked
// resolved.
func (a *statusAdmin) set(ctx context.Context, ref escalation.ContentRef, to escalation.Status, resolve bool) (int64, error) {
	if err := a.statuses.Override(ctx, ref, to); err != nil {
		return 0, err
	}
	if !resolve {
		return 0, nil
	}
	if err := a.pending.Clear(ctx, ref); err != nil {
		return 0, err
	}
	if a.archive == nil {
		return 0, nil
	}
	return a.archive.Resolve(ctx, ref)
}

func parseRef(contentType, contentID string) (escalation.ContentRef, error) {
	if !report.ValidContentType(contentType) {
		return escalation.ContentRef{}, fmt.Errorf("unknown content type %q (want creature or comment)", contentType)
	}
	if contentID == "" {
		return escalation.ContentRef{}, fmt.Errorf("content id is required")
	}
	return escalation.ContentRef{Type: contentType, ID: contentID}, nil
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect or override content status",
	}

	get := &cobra.Command{
		Use:   "get TYPE ID",
		Short: "Print the status and pending report count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			admin, closeFn, err := openStatusAdmin(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			status, pending, err := admin.get(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tstatus=%s\tpending=%d\n", ref.Key(), status, pending)
			return nil
		},
	}

	var resolve bool
	set := &cobra.Command{
		Use:   "set TYPE ID STATUS",
		Short: "Override the status (approved, hidden or blocked)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			to := escalation.Status(args[2])
			if !to.Valid() {
				return fmt.Errorf("unknown status %q", args[2])
			}
			admin, closeFn, err := openStatusAdmin(cmd.Context(), resolve)
			if err != nil {
				return err
			}
			defer closeFn()

			resolved, err := admin.set(cmd.Context(), ref, to, resolve)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tstatus=%s\tresolved_reports=%d\n", ref.Key(), to, resolved)
			return nil
		},
	}
	set.Flags().BoolVar(&resolve, "resolve", false, "clear pending reporters and mark archived reports resolved")

	cmd.AddCommand(get, set)
	return cmd
}

// openStatusAdmin connects to Redis and, when withArchive is set and a DSN
// is configured, to PostgreSQL.
func openStatusAdmin(ctx context.Context, withArchive bool) (*statusAdmin, func(), error) {
	deps, err := loadDeps()
	if err != nil {
		return nil, nil, err
	}
	rdb, err := app.NewRedis(ctx, deps.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}

	admin := &statusAdmin{
		statuses: escalation.NewRedisStore(rdb),
		pending:  report.NewPendingStore(rdb),
	}
	closers := []func() error{rdb.Close}

	if withArchive && deps.cfg.Postgres.DSN != "" {
		db, err := database.Open(ctx, deps.cfg.Postgres)
		if err != nil {
			deps.log.Warn("postgres unavailable, archived reports stay pending", zap.Error(err))
		} else {
			admin.archive = report.NewStore(db)
			closers = append(closers, db.Close)
		}
	}

	return admin, func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}
