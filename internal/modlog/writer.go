package modlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/metrics"
	"github.com/nosurfing/moderation/internal/moderation"
)

// saveTimeout bounds each insert.
const saveTimeout = 5 * time.Second

// Saver is the storage the Writer drains into.
type Saver interface {
	SaveLog(ctx context.Context, e Entry) error
}

// Writer queues entries on a bounded channel. Record never blocks: when the
// queue is full the entry is dropped and counted.
type Writer struct {
	store   Saver
	logger  *zap.Logger
	entries chan Entry
	// mu keeps Enqueue from sending once Close has begun, so the drain loop
	// sees every accepted entry.
	mu      sync.RWMutex
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewWriter starts the background drain goroutine.
func NewWriter(store Saver, capacity int, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 1
	}
	w := &Writer{
		store:   store,
		logger:  logger,
		entries: make(chan Entry, capacity),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Record implements moderation.Recorder.
func (w *Writer) Record(req moderation.ModerationRequest, res moderation.ModerationResult) {
	w.Enqueue(Entry{
		ModerationID: res.ModerationID,
		ContentType:  string(req.Type),
		Text:         req.Text,
		IsApproved:   res.IsApproved,
		Confidence:   res.Confidence,
		Reasons:      append([]string(nil), res.Reasons...),
		CreatedAt:    w.now().UTC(),
	})
}

// Enqueue queues e and reports whether it was accepted.
func (w *Writer) Enqueue(e Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	select {
	case <-w.closed:
		metrics.LogEntriesDropped.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case w.entries <- e:
		return true
	default:
		metrics.LogEntriesDropped.WithLabelValues("buffer_full").Inc()
		w.logger.Warn("moderation log buffer full, dropping entry", zap.String("moderation_id", e.ModerationID))
		return false
	}
}

// Close stops accepting entries and waits until the queue is drained.
func (w *Writer) Close() {
	w.mu.Lock()
	w.once.Do(func() { close(w.closed) })
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.entries:
			w.save(e)
		case <-w.closed:
			for {
				select {
				case e := <-w.entries:
					w.save(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) save(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.SaveLog(ctx, e); err != nil {
		metrics.LogEntriesDropped.WithLabelValues("store_error").Inc()
		w.logger.Warn("moderation log write failed",
			zap.String("moderation_id", e.ModerationID),
			zap.Error(err),
		)
	}
}
