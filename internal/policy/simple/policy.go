// Package simple contains a fixed-delay politeness policy.
package simple

import (
	"context"
	"fmt"
	"time"
)

// Policy waits a fixed delay before every request. It is the fallback when
// per-domain rate limiting is disabled.
type Policy struct {
	delay time.Duration
}

// New creates a Policy. A non-positive delay means no waiting.
func New(delay time.Duration) *Policy {
	return &Policy{delay: delay}
}

// Wait sleeps the configured delay, respecting the context.
func (p *Policy) Wait(ctx context.Context, _ string) error {
	if p.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
