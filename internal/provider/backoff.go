package provider

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned when a poll loop runs out of attempts or time
// before the task reaches a terminal state.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Policy is a declarative backoff schedule. The last delay repeats once the
// schedule is exhausted, bounded by MaxAttempts and MaxElapsed.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

// DefaultPollPolicy suits providers whose jobs finish within a few minutes.
var DefaultPollPolicy = Policy{
	Delays:      []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second},
	MaxAttempts: 30,
	MaxElapsed:  10 * time.Minute,
}

// LookupRetryPolicy absorbs the race where a callback arrives before the
// job row's write has become visible.
var LookupRetryPolicy = Policy{
	Delays:      []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second},
	MaxAttempts: 4,
}

// Delay returns the wait before attempt n (zero-based, applied after it).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return time.Second
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// PollUntil invokes fn until it reports done, fails, or the policy is
// exhausted. It blocks the calling goroutine; the total wait is bounded.
func PollUntil(ctx context.Context, policy Policy, fn func(ctx context.Context) (bool, error)) error {
	start := time.Now()
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = len(policy.Delays)
	}
	for attempt := 0; attempt < attempts; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if policy.MaxElapsed > 0 && time.Since(start)+policy.Delay(attempt) > policy.MaxElapsed {
			return ErrPollExhausted
		}
		select {
		case <-time.After(policy.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrPollExhausted
}
