package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is the retry policy applied by the Pool.
//
// Fields:
//   - MaxAttempts: deliveries before a job is failed (>= 1).
//   - InitialBackoff: delay before the second delivery.
//   - MaxBackoff: cap on any single delay.
//   - Multiplier: growth factor between delays (default 2).
//   - Jitter: randomization factor in [0,1); 0 gives an exact curve.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// DefaultPolicy mirrors the historical queue settings: three attempts with
// exponential backoff starting at two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2,
	}
}

// Exhausted reports whether a job delivered attempts times may not be
// retried.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= max(p.MaxAttempts, 1)
}

// Delay returns the wait before the delivery following attempt number
// attempts (1-based): InitialBackoff * Multiplier^(attempts-1), capped.
func (p Policy) Delay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return min(d, b.MaxInterval)
}
