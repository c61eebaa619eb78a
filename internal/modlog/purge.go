package modlog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Deleter removes entries older than a cutoff.
type Deleter interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger deletes entries older than the retention period on a cron
// schedule.
type Purger struct {
	store     Deleter
	retention time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewPurger parses schedule (standard five-field expression or a descriptor such
// as "@daily") and returns a stopped Purger.
func NewPurger(store Deleter, retention time.Duration, schedule string, logger *zap.Logger) (*Purger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		return nil, fmt.Errorf("modlog: retention must be positive, got %s", retention)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	p := &Purger{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, func() { _, _ = p.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("modlog: parse purge schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins running the schedule.
func (p *Purger) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (p *Purger) Stop() {
	<-p.cron.Stop().Done()
}

// Run purges once.
func (p *Purger) Run(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		p.logger.Warn("moderation log purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	p.logger.Info("moderation log purged", zap.Time("cutoff", cutoff), zap.Int64("deleted", n))
	return n, nil
}
