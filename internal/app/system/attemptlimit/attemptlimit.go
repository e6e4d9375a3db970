// Package attemptlimit caps wrong second-factor codes per challenge in Redis.
//
// A nil *Limiter is valid and never limits, so deployments without Redis keep
// working with only the challenge expiry as a bound.
package attemptlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMaxAttempts is the number of wrong codes allowed per challenge.
	DefaultMaxAttempts = 5
	// DefaultWindow is how long a failure counter lives.
	DefaultWindow = 5 * time.Minute

	keyPrefix = "stratamind:2fa:att:"
)

var (
	// ErrLimited is returned once a challenge has used up its attempts.
	ErrLimited = errors.New("too many second-factor attempts")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("attempt limiter unavailable")
)

// Limiter counts failures keyed by challenge token.
type Limiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
}

// New returns a Limiter. Non-positive max or window fall back to defaults.
func New(rdb *redis.Client, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{rdb: rdb, max: int64(max), window: window}
}

func (l *Limiter) key(challenge string) string {
	return keyPrefix + challenge
}

// Check returns ErrLimited when the challenge has no attempts left.
func (l *Limiter) Check(ctx context.Context, challenge string) error {
	if l == nil {
		return nil
	}
	n, err := l.rdb.Get(ctx, l.key(challenge)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n >= l.max {
		return ErrLimited
	}
	return nil
}

// RecordFailure counts a wrong code and returns the attempts remaining.
// It returns ErrLimited when this failure used the last attempt.
func (l *Limiter) RecordFailure(ctx context.Context, challenge string) (int, error) {
	if l == nil {
		return -1, nil
	}
	k := l.key(challenge)
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n := incr.Val()
	remaining := int(l.max - n)
	if remaining <= 0 {
		return 0, ErrLimited
	}
	return remaining, nil
}

// Reset forgets the counter for a challenge.
func (l *Limiter) Reset(ctx context.Context, challenge string) error {
	if l == nil {
		return nil
	}
	if err := l.rdb.Del(ctx, l.key(challenge)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
