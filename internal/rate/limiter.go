package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one fixed-window budget.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Limiter enforces fixed-window budgets keyed by rule and subject using
// Redis counters, so limits hold across server replicas.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "hrl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Allow counts one hit for subject under rule and returns ErrRateLimited
// once the window budget is exceeded. A zero or negative limit disables the
// rule.
func (l *Limiter) Allow(ctx context.Context, rule Rule, subject string) error {
	if l == nil || rule.Limit <= 0 || rule.Window <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(rule.Name, subject), rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.Limit) {
		return ErrRateLimited
	}
	return nil
}

// Subjects are hashed so that emails never appear in key names.
func (l *Limiter) key(rule, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return l.prefix + ":" + rule + ":" + hex.EncodeToString(sum[:12])
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
