// Package escalation moves content visibility forward as user reports
// accumulate:
//
//	approved -> hidden  (pending >= Hide)
//	approved/hidden -> blocked (pending >= Block)
//
// Status never moves backwards here; lowering it is an administrative
// action performed through StatusStore.Override.
package escalation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/metrics"
)

// Status is a content visibility state.
type Status string

const (
	StatusApproved Status = "approved"
	StatusHidden   Status = "hidden"
	StatusBlocked  Status = "blocked"
)

// Rank orders statuses by severity. Unknown statuses rank as approved.
func (s Status) Rank() int {
	switch s {
	case StatusHidden:
		return 1
	case StatusBlocked:
		return 2
	}
	return 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusHidden, StatusBlocked:
		return true
	}
	return false
}

// Default thresholds.
const (
	DefaultHideThreshold  = 3
	DefaultBlockThreshold = 5
)

// Thresholds are pending-report counts at which content escalates.
type Thresholds struct {
	Hide  int `yaml:"hide"`
	Block int `yaml:"block"`
}

// DefaultThresholds returns 3 to hide and 5 to block.
func DefaultThresholds() Thresholds {
	return Thresholds{Hide: DefaultHideThreshold, Block: DefaultBlockThreshold}
}

// Validate requires 0 < Hide <= Block.
func (t Thresholds) Validate() error {
	if t.Hide <= 0 {
		return fmt.Errorf("escalation: hide threshold must be positive, got %d", t.Hide)
	}
	if t.Block < t.Hide {
		return fmt.Errorf("escalation: block threshold %d is below hide threshold %d", t.Block, t.Hide)
	}
	return nil
}

// Target returns the status warranted by pending reports alone.
func (t Thresholds) Target(pending int) Status {
	switch {
	case pending >= t.Block:
		return StatusBlocked
	case pending >= t.Hide:
		return StatusHidden
	}
	return StatusApproved
}

// ContentRef identifies a piece of reportable content.
type ContentRef struct {
	Type string `json:"contentType"`
	ID   string `json:"contentId"`
}

// Key is the stable string form used in storage keys.
func (r ContentRef) Key() string {
	return r.Type + ":" + r.ID
}

// Transition is the outcome of one evaluation. Changed is true only for the
// single evaluation that actually raised the status.
type Transition struct {
	Ref          ContentRef `json:"ref"`
	From         Status     `json:"from"`
	To           Status     `json:"to"`
	PendingCount int        `json:"pendingCount"`
	Changed      bool       `json:"changed"`
}

// StatusStore persists content status.
type StatusStore interface {
	Get(ctx context.Context, ref ContentRef) (Status, error)
	// Advance atomically raises the status to `to` if that is more severe
	// than the current one, returning the previous status and whether a
	// write happened.
	Advance(ctx context.Context, ref ContentRef, to Status) (Status, bool, error)
	// Override sets the status unconditionally.
	Override(ctx context.Context, ref ContentRef, to Status) error
}

// Machine evaluates pending counts against thresholds.
type Machine struct {
	thresholds Thresholds
	store      StatusStore
	logger     *zap.Logger
}

// NewMachine validates thresholds and returns a Machine.
func NewMachine(thresholds Thresholds, store StatusStore, logger *zap.Logger) (*Machine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{thresholds: thresholds, store: store, logger: logger}, nil
}

// Thresholds returns the configured thresholds.
func (m *Machine) Thresholds() Thresholds {
	return m.thresholds
}

// Evaluate applies the thresholds to pending. Re-evaluating with the same
// or a lower count is a no-op.
func (m *Machine) Evaluate(ctx context.Context, ref ContentRef, pending int) (Transition, error) {
	tr := Transition{Ref: ref, PendingCount: pending}

	target := m.thresholds.Target(pending)
	if target == StatusApproved {
		current, err := m.store.Get(ctx, ref)
		if err != nil {
			return tr, fmt.Errorf("escalation: get status: %w", err)
		}
		tr.From, tr.To = current, current
		return tr, nil
	}

	from, changed, err := m.store.Advance(ctx, ref, target)
	if err != nil {
		return tr, fmt.Errorf("escalation: advance status: %w", err)
	}

	tr.From = from
	tr.To = from
	if changed {
		tr.To = target
		tr.Changed = true
		metrics.StatusTransitions.WithLabelValues(string(target)).Inc()
		m.logger.Info("content status escalated",
			zap.String("content", ref.Key()),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.Int("pending_reports", pending),
		)
	}
	return tr, nil
}
