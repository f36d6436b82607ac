package resilience

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy computes the wait before retry number attempt (0-indexed)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter.
// Jitter spreads retries of items that failed together across the poll window.
type ExponentialBackoff struct {
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound before jitter
	Multiplier float64       // Growth factor per attempt (typically 2.0)
	Jitter     float64       // Fraction of the delay added or removed at random (0.0-1.0)

	mu   sync.Mutex
	rand *rand.Rand
}

// QueueRetryBackoff returns the default schedule for unresolved queue items
//
// Retry sequence (±10% jitter):
//   - Attempt 0: ~30s
//   - Attempt 1: ~1m
//   - Attempt 2: ~2m
//   - Attempt 3: ~4m
//   - Attempt 4: ~8m
//   - Attempt 7+: ~1h (capped)
func QueueRetryBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  30 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NewExponentialBackoff builds a backoff from configured values, falling back
// to QueueRetryBackoff for anything unset
func NewExponentialBackoff(base, max time.Duration, multiplier, jitter float64) *ExponentialBackoff {
	b := QueueRetryBackoff()
	if base > 0 {
		b.BaseDelay = base
	}
	if max > 0 {
		b.MaxDelay = max
	}
	if multiplier >= 1 {
		b.Multiplier = multiplier
	}
	if jitter >= 0 && jitter <= 1 {
		b.Jitter = jitter
	}
	return b
}

// WithSeed makes the jitter sequence reproducible
func (eb *ExponentialBackoff) WithSeed(seed int64) *ExponentialBackoff {
	eb.mu.Lock()
	eb.rand = rand.New(rand.NewSource(seed))
	eb.mu.Unlock()
	return eb
}

// NextDelay returns BaseDelay * Multiplier^attempt, capped at MaxDelay, ± jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(eb.MaxDelay)
	}

	if eb.Jitter > 0 {
		spread := delay * eb.Jitter
		delay += (eb.float64()*2 - 1) * spread
	}

	final := time.Duration(delay)
	if final < 0 {
		final = eb.BaseDelay
	}
	return final
}

func (eb *ExponentialBackoff) float64() float64 {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.rand == nil {
		return rand.Float64()
	}
	return eb.rand.Float64()
}

// FixedBackoff waits the same delay before every retry
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay returns the fixed delay regardless of attempt number
func (fb *FixedBackoff) NextDelay(attempt int) time.Duration {
	return fb.Delay
}
