package hue

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often a failed request is replayed.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	Delay       time.Duration // fixed pause between attempts (default: 1s)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
	}
}

// NoRetry is a single-attempt policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether a request that failed with err may be replayed.
// Idempotent requests are replayed on any transport failure. Non-idempotent
// requests are replayed only when the bridge never answered, so a create that
// reached the bridge is not repeated. Application errors are never replayed.
func (p RetryPolicy) ShouldRetry(idempotent bool, err error) bool {
	var terr *TransportError
	if !errors.As(err, &terr) {
		return false
	}
	if idempotent {
		return true
	}
	return !terr.Responded()
}

// wait pauses for the policy delay or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
