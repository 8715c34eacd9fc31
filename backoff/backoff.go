// Package backoff gates calls to a throttled backend. A rate-limited failure
// blocks further calls for an exponentially growing delay; success resets it.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

const (
	DefaultBase = 10 * time.Second
	DefaultMax  = 5 * time.Minute
)

// ErrBlocked is returned without calling fn while a previous rate limit is in effect.
var ErrBlocked = errors.New("backoff: blocked after rate limit")

type Controller struct {
	base, max time.Duration
	now       func() time.Time

	mu           sync.Mutex
	seq          retry.Backoff
	blockedUntil time.Time
	failures     int
}

func New(base, max time.Duration) *Controller {
	if base <= 0 {
		base = DefaultBase
	}
	if max < base {
		max = DefaultMax
	}
	return &Controller{base: base, max: max, now: time.Now}
}

// WithClock replaces the time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) sequence() retry.Backoff {
	return retry.WithCappedDuration(c.max, retry.NewExponential(c.base))
}

// Do calls fn unless the controller is blocked. Only errors matching
// round.ErrRateLimited move the schedule.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	if until := c.blockedUntil; c.now().Before(until) {
		c.mu.Unlock()
		return fmt.Errorf("%w until %s", ErrBlocked, until.Format(time.TimeOnly))
	}
	c.mu.Unlock()

	err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.seq = nil
		c.failures = 0
		c.blockedUntil = time.Time{}
	case errors.Is(err, round.ErrRateLimited):
		if c.seq == nil {
			c.seq = c.sequence()
		}
		delay, _ := c.seq.Next()
		c.failures++
		c.blockedUntil = c.now().Add(delay)
	}
	return err
}

// BlockedUntil is the zero time when calls are allowed.
func (c *Controller) BlockedUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(c.blockedUntil) {
		return time.Time{}
	}
	return c.blockedUntil
}

// Failures counts consecutive rate-limited attempts.
func (c *Controller) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Retry blocks until fn succeeds, fails with something other than a rate
// limit, or ctx ends.
func Retry(ctx context.Context, base, max time.Duration, fn func(ctx context.Context) error) error {
	b := retry.WithCappedDuration(max, retry.NewExponential(base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, round.ErrRateLimited) {
			return retry.RetryableError(err)
		}
		return err
	})
}
