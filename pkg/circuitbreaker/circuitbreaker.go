package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open or its half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold successful probes close it again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects are passed through and count as successes. Nil counts every
	// non-nil error.
	IsFailure func(err error) bool
	// OnStateChange is called synchronously with the breaker lock released.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

type Stats struct {
	State          State
	Failures       int
	Successes      int
	LastFailure    time.Time
	StateChangedAt time.Time
}

type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	changedAt   time.Time
}

func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	return &CircuitBreaker{
		cfg:       cfg,
		now:       time.Now,
		changedAt: time.Now(),
	}
}

// Execute runs fn unless the breaker is open. fn's error is returned
// unchanged so callers can keep matching on it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := Do(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do is Execute for functions that return a value.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}

	result, err := fn()
	cb.record(err)
	return result, err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:          cb.state,
		Failures:       cb.failures,
		Successes:      cb.successes,
		LastFailure:    cb.lastFailure,
		StateChangedAt: cb.changedAt,
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.transition(StateClosed)
	cb.mu.Unlock()
	cb.notify(from, StateClosed, changed)
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var (
		from    State
		changed bool
	)
	if cb.state == StateOpen {
		if cb.now().Sub(cb.changedAt) < cb.cfg.OpenTimeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		from, changed = cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxProbes {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.probes++
	}
	cb.mu.Unlock()

	cb.notify(from, StateHalfOpen, changed)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	cb.mu.Lock()
	var (
		to      State
		from    State
		changed bool
	)
	if cb.state == StateHalfOpen {
		cb.probes--
	}
	if failed {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			to = StateOpen
			from, changed = cb.transition(to)
		}
	} else {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
			to = StateClosed
			from, changed = cb.transition(to)
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to, changed)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) (State, bool) {
	from := cb.state
	if from == to {
		return from, false
	}
	cb.state = to
	cb.changedAt = cb.now()
	cb.probes = 0
	if to != StateOpen {
		cb.failures = 0
	}
	cb.successes = 0
	return from, true
}

func (cb *CircuitBreaker) notify(from, to State, changed bool) {
	if changed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
