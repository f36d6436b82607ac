package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is where a breaker is in its closed/open/half-open cycle
type CircuitState int

const (
	// StateClosed lets calls through
	StateClosed CircuitState = iota
	// StateOpen fails calls immediately until the cool-down passes
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling through while the breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// MaxRequestsHalfOpen caps concurrent probes
	MaxRequestsHalfOpen uint32
	// OnStateChange, when set, is called with the lock released after every
	// transition
	OnStateChange func(from, to CircuitState)
}

// NotificationSinkBreaker suits best-effort delivery to an external broker:
// give up quickly and probe again shortly after.
func NotificationSinkBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             15 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

// CircuitBreaker stops calling a dependency that keeps failing
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu         sync.Mutex
	state      CircuitState
	failures   uint32
	probes     uint32
	stateSince time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 1
	}
	if config.MaxRequestsHalfOpen == 0 {
		config.MaxRequestsHalfOpen = 1
	}
	cb := &CircuitBreaker{config: config, now: time.Now}
	cb.stateSince = cb.now()
	return cb
}

// Call runs fn unless the circuit is open and records its outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	var from, to CircuitState
	changed := false
	defer func() {
		cb.mu.Unlock()
		if changed {
			cb.notify(from, to)
		}
	}()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.stateSince) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		from, to, changed = cb.setState(StateHalfOpen)
		cb.probes++
		return nil
	default:
		if cb.probes >= cb.config.MaxRequestsHalfOpen {
			return ErrTooManyRequests
		}
		cb.probes++
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	var from, to CircuitState
	changed := false

	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			from, to, changed = cb.setState(StateOpen)
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			from, to, changed = cb.setState(StateClosed)
		}
	}

	cb.mu.Unlock()
	if changed {
		cb.notify(from, to)
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(next CircuitState) (CircuitState, CircuitState, bool) {
	prev := cb.state
	if prev == next {
		return prev, next, false
	}
	cb.state = next
	cb.stateSince = cb.now()
	cb.probes = 0
	if next != StateOpen {
		cb.failures = 0
	}
	return prev, next, true
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
