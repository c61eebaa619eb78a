// Package api exposes the moderation pipeline and the report registry over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/metrics"
	"github.com/nosurfing/moderation/internal/moderation"
	"github.com/nosurfing/moderation/internal/modlog"
	"github.com/nosurfing/moderation/internal/ratelimit"
	"github.com/nosurfing/moderation/internal/report"
)

// Moderator screens one request.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.ModerationRequest) moderation.ModerationResult
}

// ModerationStats reads decision statistics.
type ModerationStats interface {
	Stats(ctx context.Context, since time.Time) (modlog.Stats, error)
}

// ReportSubmitter accepts reports.
type ReportSubmitter interface {
	Submit(ctx context.Context, req report.SubmitRequest) (report.Submission, error)
}

// ReportArchive serves report statistics and listings.
type ReportArchive interface {
	Stats(ctx context.Context) (report.Stats, error)
	Recent(ctx context.Context, limit int) ([]report.Report, error)
}

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators the handlers need. ModerationStats,
// ReportArchive, LiveFeed and ModerateLimiter may be nil.
type Deps struct {
	Moderator       Moderator
	ModerationStats ModerationStats
	Reports         ReportSubmitter
	ReportArchive   ReportArchive
	LiveFeed        http.Handler
	ModerateLimiter ratelimit.Allower
	Readiness       []ReadinessCheck
	StatsWindow     time.Duration
	RequestTimeout  time.Duration
	Logger          *zap.Logger
}

type handler struct {
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

// NewRouter builds the HTTP handler tree.
func NewRouter(deps Deps) http.Handler {
	return newRouter(deps, time.Now)
}

func newRouter(deps Deps, now func() time.Time) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.StatsWindow <= 0 {
		deps.StatsWindow = 24 * time.Hour
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}
	h := &handler{deps: deps, log: deps.Logger, now: now}

	r := chi.NewRouter()
	applyMiddlewares(r, deps.Logger)

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if deps.LiveFeed != nil {
		r.Method(http.MethodGet, "/reports/live", deps.LiveFeed)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(deps.RequestTimeout))

		r.Post("/moderate", h.moderate)
		r.Get("/moderation/stats", h.moderationStats)

		r.Post("/reports", h.submitReport)
		r.Get("/reports/stats", h.reportStats)
		r.Get("/reports/recent", h.recentReports)
	})

	return r
}
