package queue

import "time"

// Backoff computes exponential retry delays:
// InitialInterval * Multiplier^(attempt-1), capped at MaxInterval.
type Backoff struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultBackoff is used for failed queue jobs
var DefaultBackoff = Backoff{
	InitialInterval: 5 * time.Second,
	Multiplier:      2.0,
	MaxInterval:     10 * time.Minute,
}

// Duration returns the delay before retry number attempt (1-based)
func (b Backoff) Duration(attempt int) time.Duration {
	interval := b.InitialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * b.Multiplier)
		if b.MaxInterval > 0 && interval > b.MaxInterval {
			interval = b.MaxInterval
			break
		}
	}
	if b.MaxInterval > 0 && interval > b.MaxInterval {
		interval = b.MaxInterval
	}
	return interval
}
