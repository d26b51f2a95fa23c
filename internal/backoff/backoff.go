// Package backoff computes reconnect delays: exponential growth from an
// initial delay, clamped to a ceiling, with symmetric random jitter.
package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy configures reconnect delays.
type Policy struct {
	Initial      time.Duration // Delay before the first retry
	Max          time.Duration // Ceiling applied before jitter
	JitterFactor float64       // Fraction of the delay added or removed at random, in [0, 1)
}

// DefaultPolicy returns 1s initial, 30s ceiling, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial:      time.Second,
		Max:          30 * time.Second,
		JitterFactor: 0.1,
	}
}

// Validate checks that the policy can produce sane delays.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return errors.New("backoff: initial delay must be positive")
	}
	if p.Max <= 0 {
		return errors.New("backoff: max delay must be positive")
	}
	if p.Initial > p.Max {
		return errors.New("backoff: initial delay cannot exceed max delay")
	}
	if p.JitterFactor < 0 || p.JitterFactor >= 1 {
		return errors.New("backoff: jitter factor must be in [0, 1)")
	}
	return nil
}

// Base returns the un-jittered delay for attempt: Initial * 2^(attempt-1),
// clamped to Max. Attempts start at 1 for the first retry; smaller values are
// treated as 1.
func (p Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^62 already overflows any sane ceiling; avoid float overflow.
	exp := min(attempt-1, 62)
	d := float64(p.Initial) * math.Pow(2, float64(exp))
	if d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Compute returns the jittered delay for attempt given a uniform sample u in
// [0, 1). u = 0.5 yields exactly Base(attempt); u -> 0 and u -> 1 approach
// the lower and upper jitter bounds.
func Compute(p Policy, attempt int, u float64) time.Duration {
	base := float64(p.Base(attempt))
	offset := base * p.JitterFactor * (2*u - 1)
	d := time.Duration(base + offset)
	if d < 0 {
		return 0
	}
	return d
}

// UpperBound is the largest delay Compute can return for any attempt.
func (p Policy) UpperBound() time.Duration {
	return time.Duration(float64(p.Max) * (1 + p.JitterFactor))
}

// Backoff draws jitter samples from its own random source. Safe for
// concurrent use.
type Backoff struct {
	policy Policy

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Backoff with a randomly seeded source.
func New(p Policy) *Backoff {
	return NewWithSeed(p, rand.Uint64())
}

// NewWithSeed returns a Backoff whose delays are reproducible for a given seed.
func NewWithSeed(p Policy, seed uint64) *Backoff {
	return &Backoff{
		policy: p,
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // jitter does not need crypto rand
	}
}

// Policy returns the configured policy.
func (b *Backoff) Policy() Policy {
	return b.policy
}

// Delay returns the jittered delay for attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	u := b.rnd.Float64()
	b.mu.Unlock()
	return Compute(b.policy, attempt, u)
}
