package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/metrics"
	"github.com/nosurfing/moderation/internal/ratelimit"
)

// EventType names an event emitted by the registry.
type EventType string

const (
	EventReportCreated EventType = "report.created"
	EventStatusChanged EventType = "content.status"
)

// Event is published after a report is accepted and again when it changed
// the content status.
type Event struct {
	Type       EventType              `json:"type"`
	Report     *Report                `json:"report,omitempty"`
	Transition *escalation.Transition `json:"transition,omitempty"`
	At         time.Time              `json:"at"`
}

// Notifier receives registry events. Delivery is best-effort: errors are
// logged and never fail a submission.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// PendingCounter tracks distinct pending reporters per content item.
type PendingCounter interface {
	Increment(ctx context.Context, ref escalation.ContentRef, reporterKey string) (count int, duplicate bool, err error)
	Count(ctx context.Context, ref escalation.ContentRef) (int, error)
}

// Archive persists accepted reports.
type Archive interface {
	Create(ctx context.Context, r *Report) error
}

// Escalator turns a pending count into a status transition.
type Escalator interface {
	Evaluate(ctx context.Context, ref escalation.ContentRef, pending int) (escalation.Transition, error)
}

// Submission is the outcome of an accepted report.
type Submission struct {
	Report     Report
	Transition escalation.Transition
}

// Registry accepts reports.
type Registry struct {
	pending   PendingCounter
	archive   Archive
	escalator Escalator
	limiter   ratelimit.Allower
	notifiers []Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry wires a Registry. archive and limiter may be nil.
func NewRegistry(pending PendingCounter, archive Archive, escalator Escalator, limiter ratelimit.Allower, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pending:   pending,
		archive:   archive,
		escalator: escalator,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// AddNotifier registers n for report and status events.
func (r *Registry) AddNotifier(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// Submit validates and records a report, then re-evaluates the content
// status with the new pending count.
//
// Validation failures return *ValidationError. A reporter that already has
// a pending report for the content gets ErrDuplicateReport, and one over
// budget gets ErrRateLimited. Archive, escalation and notification failures
// are logged and do not fail the submission once the report was counted.
func (r *Registry) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	rep, err := req.normalize()
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		return Submission{}, err
	}

	if r.limiter != nil {
		limitKey := strings.TrimSpace(req.ClientKey)
		if limitKey == "" {
			limitKey = rep.ReporterKey
		}
		ok, err := r.limiter.Allow(ctx, limitKey)
		if err != nil {
			r.logger.Warn("report rate limit check failed", zap.Error(err))
		}
		if !ok {
			metrics.ReportsTotal.WithLabelValues("rate_limited").Inc()
			return Submission{}, ErrRateLimited
		}
	}

	ref := escalation.ContentRef{Type: rep.ContentType, ID: rep.ContentID}
	count, duplicate, err := r.pending.Increment(ctx, ref, rep.ReporterKey)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return Submission{}, err
	}
	if duplicate {
		metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		return Submission{}, ErrDuplicateReport
	}

	rep.ID = uuid.New()
	rep.Status = StatusPending
	rep.CreatedAt = r.now().UTC()

	if r.archive != nil {
		if err := r.archive.Create(ctx, &rep); err != nil {
			r.logger.Warn("report archive failed",
				zap.String("report_id", rep.ID.String()),
				zap.String("content", ref.Key()),
				zap.Error(err),
			)
		}
	}

	tr, err := r.escalator.Evaluate(ctx, ref, count)
	if err != nil {
		r.logger.Error("content status evaluation failed",
			zap.String("content", ref.Key()),
			zap.Int("pending_reports", count),
			zap.Error(err),
		)
	}
	metrics.ReportsTotal.WithLabelValues("accepted").Inc()

	r.notify(ctx, Event{Type: EventReportCreated, Report: &rep, At: rep.CreatedAt})
	if tr.Changed {
		r.notify(ctx, Event{Type: EventStatusChanged, Transition: &tr, At: rep.CreatedAt})
	}

	return Submission{Report: rep, Transition: tr}, nil
}

// PendingCount returns the live number of distinct pending reporters.
func (r *Registry) PendingCount(ctx context.Context, ref escalation.ContentRef) (int, error) {
	return r.pending.Count(ctx, ref)
}

func (r *Registry) notify(ctx context.Context, ev Event) {
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			r.logger.Warn("report event delivery failed", zap.String("event", string(ev.Type)), zap.Error(err))
		}
	}
}

// IsClientError reports whether err was caused by the caller's input rather
// than a service fault.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || errors.Is(err, ErrDuplicateReport) || errors.Is(err, ErrRateLimited)
}

