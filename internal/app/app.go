// Package app wires the moderation service: the screening pipeline, the
// report registry and its escalation machine, persistence, messaging, the
// live feed and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/api"
	"github.com/nosurfing/moderation/internal/config"
	"github.com/nosurfing/moderation/internal/database"
	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/messaging"
	"github.com/nosurfing/moderation/internal/modlog"
	"github.com/nosurfing/moderation/internal/ratelimit"
	"github.com/nosurfing/moderation/internal/report"
	"github.com/nosurfing/moderation/internal/ws"
)

type App struct {
	cfg    config.Config
	logger *zap.Logger
	server *http.Server
	db     *sqlx.DB
	redis  *redis.Client
	nats   *messaging.NATSClient
	feed   *ws.Server
	writer *modlog.Writer
	purger *modlog.Purger
}

// New connects to every backing service and builds the HTTP server.
//
// Redis is required: pending report counts and content status live there.
// PostgreSQL and NATS are optional. Without PostgreSQL reports are not
// archived and moderation statistics are unavailable; without NATS no
// events are published and moderation.check is not served.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	a := &App{cfg: cfg, logger: log}

	rdb, err := NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = rdb

	moderator, err := NewModerator(cfg, log.Named("moderation"))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("build moderator: %w", err)
	}

	a.openDatabase(ctx)

	var (
		archive   report.Archive
		reports   api.ReportArchive
		modStats  api.ModerationStats
		readiness = []api.ReadinessCheck{
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		}
	)
	if a.db != nil {
		reportStore := report.NewStore(a.db)
		archive, reports = reportStore, reportStore

		logStore := modlog.NewStore(a.db)
		modStats = logStore
		a.writer = modlog.NewWriter(logStore, cfg.ModLog.BufferSize, log.Named("modlog"))
		moderator.SetRecorder(a.writer)

		if p, err := modlog.NewPurger(logStore, cfg.ModLog.Retention, cfg.ModLog.PurgeSchedule, log.Named("modlog")); err != nil {
			log.Warn("moderation log purge disabled", zap.Error(err))
		} else {
			a.purger = p
		}

		db := a.db
		readiness = append(readiness, api.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}

	machine, err := escalation.NewMachine(escalation.Thresholds{
		Hide:  cfg.Escalation.HideThreshold,
		Block: cfg.Escalation.BlockThreshold,
	}, escalation.NewRedisStore(rdb), log.Named("escalation"))
	if err != nil {
		a.closeStores()
		return nil, err
	}

	registry := report.NewRegistry(
		report.NewPendingStore(rdb),
		archive,
		machine,
		NewLimiter(rdb, cfg.RateLimit.Distributed, ratelimit.RuleReport, cfg.RateLimit.ReportsPerHour, log),
		log.Named("reports"),
	)

	a.feed = ws.NewServer(ws.DefaultServerConfig(), log)
	registry.AddNotifier(a.feed)

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	if cfg.NATS.Name != "" {
		natsCfg.Name = cfg.NATS.Name
	}
	if nc, err := messaging.NewNATSClient(natsCfg, log); err != nil {
		log.Warn("nats unavailable, continuing without events", zap.Error(err))
	} else {
		a.nats = nc
		registry.AddNotifier(messaging.NewReportNotifier(nc))
		if err := nc.SubscribeModerationCheck(messaging.ModerationHandler(moderator, nc, log.Named("moderation_worker"))); err != nil {
			log.Warn("moderation.check subscription failed", zap.Error(err))
		}
		readiness = append(readiness, api.ReadinessCheck{Name: "nats", Check: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	}

	router := api.NewRouter(api.Deps{
		Moderator:       moderator,
		ModerationStats: modStats,
		Reports:         registry,
		ReportArchive:   reports,
		LiveFeed:        a.feed,
		ModerateLimiter: NewLimiter(rdb, cfg.RateLimit.Distributed, ratelimit.RuleModerate, cfg.RateLimit.ModeratePerMinute, log),
		Readiness:       readiness,
		StatsWindow:     cfg.ModLog.StatsWindow,
		Logger:          log,
	})

	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

// openDatabase connects to PostgreSQL and applies migrations when enabled.
// Failures leave a.db nil and the service runs degraded.
func (a *App) openDatabase(ctx context.Context) {
	if a.cfg.Postgres.DSN == "" {
		a.logger.Warn("postgres dsn not set, report archive and moderation log disabled")
		return
	}
	if a.cfg.Postgres.AutoMigrate {
		if err := database.MigrateUp(a.cfg.Postgres.DSN, a.logger); err != nil {
			a.logger.Warn("postgres migration failed, continuing in degraded mode", zap.Error(err))
			return
		}
	}
	db, err := database.Open(ctx, a.cfg.Postgres)
	if err != nil {
		a.logger.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
		return
	}
	a.db = db
}

// Run serves HTTP until Shutdown is called.
func (a *App) Run() error {
	if a.purger != nil {
		a.purger.Start()
	}
	a.logger.Info("moderation service started",
		zap.String("addr", a.cfg.HTTP.Addr),
		zap.Bool("postgres", a.db != nil),
		zap.Bool("nats", a.nats != nil),
	)
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, drains in-flight work and closes every
// connection.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.nats != nil {
		a.nats.Close()
	}
	a.feed.Close()
	a.closeStores()

	return shutdownErr
}

func (a *App) closeStores() {
	if a.purger != nil {
		a.purger.Stop()
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}
