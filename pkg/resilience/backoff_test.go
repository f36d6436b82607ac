package resilience

import (
	"testing"
	"time"
)

func TestQueueRetryBackoff(t *testing.T) {
	backoff := QueueRetryBackoff()

	if backoff.BaseDelay != 30*time.Second {
		t.Errorf("Expected BaseDelay = 30s, got %v", backoff.BaseDelay)
	}
	if backoff.MaxDelay != time.Hour {
		t.Errorf("Expected MaxDelay = 1h, got %v", backoff.MaxDelay)
	}
	if backoff.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier = 2.0, got %f", backoff.Multiplier)
	}
	if backoff.Jitter != 0.1 {
		t.Errorf("Expected Jitter = 0.1, got %f", backoff.Jitter)
	}
}

func TestExponentialBackoff_NextDelay(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute}, // 64s capped
		{500, time.Minute},
	}

	for _, tt := range tests {
		delay := backoff.NextDelay(tt.attempt)
		if delay != tt.expected {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, delay, tt.expected)
		}
	}
}

func TestExponentialBackoff_JitterStaysInBand(t *testing.T) {
	backoff := (&ExponentialBackoff{
		BaseDelay:  10 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     0.1,
	}).WithSeed(42)

	for i := 0; i < 200; i++ {
		delay := backoff.NextDelay(1)
		if delay < 18*time.Second || delay > 22*time.Second {
			t.Fatalf("NextDelay(1) = %v, want within 18s-22s", delay)
		}
	}
}

func TestExponentialBackoff_SeedIsReproducible(t *testing.T) {
	a := QueueRetryBackoff().WithSeed(7)
	b := QueueRetryBackoff().WithSeed(7)

	for attempt := 0; attempt < 5; attempt++ {
		if a.NextDelay(attempt) != b.NextDelay(attempt) {
			t.Fatalf("attempt %d diverged with identical seeds", attempt)
		}
	}
}

func TestNewExponentialBackoff(t *testing.T) {
	t.Run("uses_configured_values", func(t *testing.T) {
		b := NewExponentialBackoff(5*time.Second, 10*time.Minute, 3.0, 0.2)
		if b.BaseDelay != 5*time.Second || b.MaxDelay != 10*time.Minute || b.Multiplier != 3.0 || b.Jitter != 0.2 {
			t.Errorf("unexpected backoff %+v", b)
		}
	})

	t.Run("falls_back_for_unset_values", func(t *testing.T) {
		b := NewExponentialBackoff(0, 0, 0, -1)
		def := QueueRetryBackoff()
		if b.BaseDelay != def.BaseDelay || b.MaxDelay != def.MaxDelay || b.Multiplier != def.Multiplier || b.Jitter != def.Jitter {
			t.Errorf("expected defaults, got %+v", b)
		}
	})
}

func TestFixedBackoff(t *testing.T) {
	backoff := &FixedBackoff{Delay: 5 * time.Second}

	for attempt := 0; attempt < 5; attempt++ {
		if delay := backoff.NextDelay(attempt); delay != 5*time.Second {
			t.Errorf("NextDelay(%d) = %v, want 5s", attempt, delay)
		}
	}
}
