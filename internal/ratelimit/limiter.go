// Package ratelimit throttles report submissions and moderation calls per
// caller. Two implementations share the Allower interface: Limiter, a Redis
// INCR + EXPIRE fixed window shared by every service instance, and
// LocalLimiter, an in-process token bucket for single-instance deployments.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:report:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Default rules.
var (
	// RuleReport allows 10 reports per hour per client address.
	RuleReport = Rule{Key: "rl:report:", Limit: 10, Window: time.Hour}

	// RuleModerate allows 30 moderation calls per minute per client.
	RuleModerate = Rule{Key: "rl:moderate:", Limit: 30, Window: time.Minute}
)

// Allower decides whether one more request for key is allowed.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, logger: logger}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limit INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("rate limit EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// For binds the limiter to a single rule.
func (l *Limiter) For(rule Rule) Allower {
	return &ruleLimiter{limiter: l, rule: rule}
}

type ruleLimiter struct {
	limiter *Limiter
	rule    Rule
}

// Allow never reports the Redis error to callers; the failure is already
// logged and the request is let through.
func (r *ruleLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, _ := r.limiter.Allow(ctx, key, r.rule)
	return ok, nil
}
