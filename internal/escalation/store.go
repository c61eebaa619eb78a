package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusPrefix is the Redis key prefix for content status values:
//
//	Key:   content:status:<type>:<id>
//	Value: approved | hidden | blocked
const StatusPrefix = "content:status:"

// RedisStore keeps content status in Redis. Advance runs as a Lua script so
// concurrent evaluations across instances cannot lower or double-apply a
// status.
type RedisStore struct {
	rdb           *redis.Client
	advanceScript *redis.Script
}

// NewRedisStore creates a status store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:           rdb,
		advanceScript: redis.NewScript(advanceStatusLua),
	}
}

// Get returns the stored status, or approved when none is stored.
func (s *RedisStore) Get(ctx context.Context, ref ContentRef) (Status, error) {
	val, err := s.rdb.Get(ctx, StatusPrefix+ref.Key()).Result()
	if errors.Is(err, redis.Nil) {
		return StatusApproved, nil
	}
	if err != nil {
		return "", fmt.Errorf("escalation: get: %w", err)
	}
	return Status(val), nil
}

// Advance raises the status when to outranks the stored value.
func (s *RedisStore) Advance(ctx context.Context, ref ContentRef, to Status) (Status, bool, error) {
	if !to.Valid() {
		return "", false, fmt.Errorf("escalation: unknown status %q", to)
	}

	res, err := s.advanceScript.Run(ctx, s.rdb, []string{StatusPrefix + ref.Key()}, string(to)).Slice()
	if err != nil {
		return "", false, fmt.Errorf("escalation: advance: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("escalation: advance: unexpected reply %v", res)
	}

	from, _ := res[0].(string)
	changed, _ := res[1].(int64)
	return Status(from), changed == 1, nil
}

// Override sets the status regardless of the current value.
func (s *RedisStore) Override(ctx context.Context, ref ContentRef, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("escalation: unknown status %q", to)
	}
	if err := s.rdb.Set(ctx, StatusPrefix+ref.Key(), string(to), 0).Err(); err != nil {
		return fmt.Errorf("escalation: override: %w", err)
	}
	return nil
}

// advanceStatusLua compares severity ranks and only writes upwards.
// Returns {previous_status, 1|0}.
const advanceStatusLua = `
local key = KEYS[1]
local target = ARGV[1]
local rank = { approved = 0, hidden = 1, blocked = 2 }

local current = redis.call('GET', key)
if not current then current = 'approved' end

local cur_rank = rank[current] or 0
if rank[target] > cur_rank then
    redis.call('SET', key, target)
    return { current, 1 }
end

return { current, 0 }
`
