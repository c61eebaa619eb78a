package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/metrics"
)

// DefaultClassifierTimeout bounds how long Moderate waits for the external
// classifier before proceeding without it.
const DefaultClassifierTimeout = 3 * time.Second

// TextFilter is the dictionary stage of the pipeline.
type TextFilter interface {
	Check(text string) LexicalResult
}

// RuleEvaluator is the rule stage of the pipeline.
type RuleEvaluator interface {
	Evaluate(text string, ct ContentType) RuleResult
}

// Recorder receives a copy of every decision. Record must not block.
type Recorder interface {
	Record(req ModerationRequest, res ModerationResult)
}

// Config tunes the Moderator.
type Config struct {
	ClassifierTimeout time.Duration
}

// Moderator runs the full screening pipeline. The external classifier is
// optional and fail-open: any error, panic or timeout there is treated as
// "nothing flagged". A failure anywhere else fails closed with a rejection.
type Moderator struct {
	cfg        Config
	filter     TextFilter
	rules      RuleEvaluator
	classifier Classifier
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewModerator wires the pipeline stages together. classifier may be nil.
func NewModerator(cfg Config, filter TextFilter, rules RuleEvaluator, classifier Classifier, logger *zap.Logger) *Moderator {
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = DefaultClassifierTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Moderator{
		cfg:        cfg,
		filter:     filter,
		rules:      rules,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// SetRecorder attaches a decision log. It must be called before the
// Moderator is shared between goroutines.
func (m *Moderator) SetRecorder(r Recorder) {
	m.recorder = r
}

type externalOutcome struct {
	cats Categories
	err  error
}

// Moderate screens req and always returns a result.
func (m *Moderator) Moderate(ctx context.Context, req ModerationRequest) (res ModerationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("moderation pipeline failed",
				zap.Any("panic", r),
				zap.String("content_type", string(req.Type)),
				zap.Stack("stack"),
			)
			res = systemErrorResult(req.Text, m.now())
			metrics.ModerationDecisions.WithLabelValues("error").Inc()
		} else {
			observeDecision(res)
		}
		metrics.ModerationLatency.Observe(time.Since(start).Seconds())
		if m.recorder != nil {
			m.recorder.Record(req, res)
		}
	}()

	extCtx, cancel := context.WithTimeout(ctx, m.cfg.ClassifierTimeout)
	defer cancel()
	pending := m.startExternal(extCtx, req.Text)

	lex := m.filter.Check(req.Text)
	rules := m.rules.Evaluate(req.Text, req.Type)
	cats := m.awaitExternal(extCtx, pending)

	return m.combine(req.Text, lex, cats, rules)
}

// startExternal calls the classifier in its own goroutine. The channel has
// room for the one result so an abandoned call can still finish and exit.
func (m *Moderator) startExternal(ctx context.Context, text string) <-chan externalOutcome {
	if m.classifier == nil {
		return nil
	}
	ch := make(chan externalOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- externalOutcome{err: fmt.Errorf("moderation: classifier panic: %v", r)}
			}
		}()
		cats, err := m.classifier.Classify(ctx, text)
		ch <- externalOutcome{cats: cats, err: err}
	}()
	return ch
}

func (m *Moderator) awaitExternal(ctx context.Context, ch <-chan externalOutcome) Categories {
	if ch == nil {
		metrics.ClassifierCalls.WithLabelValues("disabled").Inc()
		return Categories{}
	}

	select {
	case out := <-ch:
		if out.err != nil {
			m.logger.Warn("external classifier failed, continuing without it", zap.Error(out.err))
			metrics.ClassifierCalls.WithLabelValues("error").Inc()
			return Categories{}
		}
		metrics.ClassifierCalls.WithLabelValues("ok").Inc()
		return out.cats
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrClassifierTimeout
		}
		m.logger.Warn("external classifier did not answer, continuing without it",
			zap.Error(err),
			zap.Duration("timeout", m.cfg.ClassifierTimeout),
		)
		metrics.ClassifierCalls.WithLabelValues("timeout").Inc()
		return Categories{}
	}
}

func (m *Moderator) combine(text string, lex LexicalResult, cats Categories, rules RuleResult) ModerationResult {
	confidence := 1.0
	reasons := newReasonSet()

	if lex.Profane {
		reasons.add(ReasonInappropriateLanguage)
		confidence = min(confidence, confidenceProfanity)
	}
	if cats.Any() {
		// A flag with no mapped category lowers confidence but adds no
		// reason, so on its own it does not reject.
		confidence = min(confidence, confidenceExternal)
		for _, r := range cats.reasons() {
			reasons.add(r)
		}
	}
	for _, f := range rules.Flags {
		reasons.add(f.Reason)
		confidence = min(confidence, f.Confidence)
	}

	filtered := text
	if lex.Profane {
		filtered = lex.Cleaned
	}

	return ModerationResult{
		IsApproved:   len(reasons.list) == 0,
		Confidence:   clamp01(confidence),
		Reasons:      reasons.list,
		FilteredText: filtered,
		ModerationID: newModerationID(m.now()),
	}
}

func systemErrorResult(text string, now time.Time) ModerationResult {
	return ModerationResult{
		IsApproved:   false,
		Confidence:   confidenceSystemError,
		Reasons:      []string{ReasonSystemError},
		FilteredText: text,
		ModerationID: fmt.Sprintf("mod_error_%d", now.UnixMilli()),
	}
}

func observeDecision(res ModerationResult) {
	outcome := "rejected"
	if res.IsApproved {
		outcome = "approved"
	}
	metrics.ModerationDecisions.WithLabelValues(outcome).Inc()
	for _, r := range res.Reasons {
		metrics.ModerationReasons.WithLabelValues(r).Inc()
	}
}

// newModerationID returns mod_<unix-ms>_<9 hex chars>. It is a correlation
// token, not a uniqueness guarantee.
func newModerationID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("mod_%d_%s", now.UnixMilli(), suffix)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// reasonSet keeps reasons distinct in first-seen order.
type reasonSet struct {
	list []string
	seen map[string]bool
}

func newReasonSet() *reasonSet {
	return &reasonSet{list: []string{}, seen: make(map[string]bool)}
}

func (s *reasonSet) add(r string) {
	if s.seen[r] {
		return
	}
	s.seen[r] = true
	s.list = append(s.list, r)
}
