// Package backoff computes jittered exponential retry delays.
package backoff

import (
	rand "math/rand/v2"
	"sync"
	"time"
)

// Jitter implements decorrelated jitter backoff ("Full Jitter" variant) with a cap.
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
// Given previous delay (prev), computes next delay as:
//
//	next = min(cap, base + rand(prev*multiplier - base))
//
// Behavior:
//   - If prev <= 0, start from base
//   - Multiplier < 1.0 falls back to 1.0 (no growth)
//   - Cap < base returns cap
//
// A nil rng uses the package-level PRNG.
func Jitter(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// NewRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers use the package-level PRNG instead.
//
//nolint:gosec
func NewRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

// Backoff is a stateful jittered backoff sequence safe for concurrent use.
//
// Example:
//
//	b := backoff.New(100*time.Millisecond, 5*time.Second)
//	for {
//	    if err := try(); err == nil {
//	        b.Reset()
//	        break
//	    }
//	    if err := b.Wait(ctx); err != nil {
//	        return err
//	    }
//	}
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64

	mu   sync.Mutex
	prev time.Duration
	rng  *rand.Rand
}

// New creates a Backoff with multiplier 2.
func New(base, maxDelay time.Duration) *Backoff {
	return &Backoff{Base: base, Max: maxDelay, Multiplier: 2}
}

// WithSeed makes the sequence deterministic; intended for tests.
func (b *Backoff) WithSeed(seed int64) *Backoff {
	b.mu.Lock()
	b.rng = NewRNG(seed)
	b.mu.Unlock()

	return b
}

// Next returns the next delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prev = Jitter(b.prev, b.Base, b.Multiplier, b.Max, b.rng)

	return b.prev
}

// Reset restarts the sequence from Base.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.prev = 0
	b.mu.Unlock()
}
