package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nosurfing/moderation/internal/escalation"
)

// PendingPrefix is the Redis key prefix for per-content sets of reporters
// with a pending report:
//
//	Key:     reports:pending:<type>:<id>
//	Members: reporter keys
const PendingPrefix = "reports:pending:"

// addPendingLua adds the reporter and returns {added, cardinality} in one
// round trip so concurrent reports never observe a stale count.
const addPendingLua = `
local added = redis.call('SADD', KEYS[1], ARGV[1])
local count = redis.call('SCARD', KEYS[1])
return {added, count}
`

// PendingStore tracks distinct pending reporters per content item.
type PendingStore struct {
	client *redis.Client
	add    *redis.Script
}

// NewPendingStore creates a PendingStore using the provided Redis client.
func NewPendingStore(client *redis.Client) *PendingStore {
	return &PendingStore{client: client, add: redis.NewScript(addPendingLua)}
}

func pendingKey(ref escalation.ContentRef) string {
	return PendingPrefix + ref.Key()
}

// Increment records reporterKey against ref and returns the number of
// distinct pending reporters. duplicate is true when the reporter was
// already counted; the count is then unchanged.
func (s *PendingStore) Increment(ctx context.Context, ref escalation.ContentRef, reporterKey string) (int, bool, error) {
	res, err := s.add.Run(ctx, s.client, []string{pendingKey(ref)}, reporterKey).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("report: add pending: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("report: add pending: unexpected reply %v", res)
	}
	added, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("report: add pending: unexpected reply types %T, %T", res[0], res[1])
	}
	return int(count), added == 0, nil
}

// Count returns the number of distinct pending reporters for ref.
func (s *PendingStore) Count(ctx context.Context, ref escalation.ContentRef) (int, error) {
	n, err := s.client.SCard(ctx, pendingKey(ref)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("report: count pending: %w", err)
	}
	return int(n), nil
}

// Clear forgets all pending reporters for ref, typically after an admin
// resolved the reports.
func (s *PendingStore) Clear(ctx context.Context, ref escalation.ContentRef) error {
	if err := s.client.Del(ctx, pendingKey(ref)).Err(); err != nil {
		return fmt.Errorf("report: clear pending: %w", err)
	}
	return nil
}
