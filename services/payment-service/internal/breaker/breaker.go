// services/payment-service/internal/breaker/breaker.go
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker fails fast.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Result classifies a finished call.
type Result int

const (
	Success Result = iota
	Failure
	// Ignored releases the slot without touching the statistics (e.g. caller cancellation).
	Ignored
)

// Config holds configuration for the circuit breaker.
type Config struct {
	RequestTimeout     time.Duration // per-call timeout applied by the guarded processor
	ErrorRateThreshold float64       // error rate (0.0-1.0) over the window before opening
	Window             time.Duration // rolling window for the error rate
	MinRequests        int           // calls in the window before the rate is trusted
	CoolDown           time.Duration // time in OPEN before trial calls are let through
	HalfOpenTrials     int           // successful trials that close the circuit
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     10 * time.Second,
		ErrorRateThreshold: 0.5,
		Window:             60 * time.Second,
		MinRequests:        10,
		CoolDown:           30 * time.Second,
		HalfOpenTrials:     3,
	}
}

func (c Config) Validate() error {
	switch {
	case c.RequestTimeout <= 0:
		return errors.New("breaker request timeout must be positive")
	case c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1:
		return fmt.Errorf("breaker error rate threshold %.2f is outside (0, 1]", c.ErrorRateThreshold)
	case c.Window <= 0 || c.CoolDown <= 0:
		return errors.New("breaker window and cool-down must be positive")
	case c.MinRequests < 1 || c.HalfOpenTrials < 1:
		return errors.New("breaker minimum requests and half-open trials must be at least 1")
	}
	return nil
}

type record struct {
	at     time.Time
	failed bool
}

// Breaker is process-wide and safe for concurrent use.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
	onChange func(name string, from, to State)

	mu             sync.Mutex
	state          State
	changedAt      time.Time
	generation     uint64
	history        []record
	trialsInFlight int
	trialSuccesses int
}

type Option func(*Breaker)

func WithClock(now func() time.Time) Option { return func(b *Breaker) { b.now = now } }

func WithLogger(l *zap.Logger) Option { return func(b *Breaker) { b.logger = l } }

// WithStateListener is called on every transition, outside the lock.
func WithStateListener(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.changedAt = b.now()
	return b, nil
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) Config() Config { return b.cfg }

// State returns the current state, moving OPEN to HALF_OPEN once the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	var moved *transition
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.cfg.CoolDown {
		moved = b.transitionTo(StateHalfOpen)
	}
	s := b.state
	b.mu.Unlock()
	b.notify(moved)
	return s
}

// Allow reserves a slot for one call. The returned done func must be called exactly once.
func (b *Breaker) Allow() (func(Result), error) {
	b.mu.Lock()
	var moved *transition
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.cfg.CoolDown {
		moved = b.transitionTo(StateHalfOpen)
	}
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
	case StateHalfOpen:
		// Allow a limited trial of real calls.
		if b.trialsInFlight+b.trialSuccesses >= b.cfg.HalfOpenTrials {
			b.mu.Unlock()
			b.notify(moved)
			return nil, fmt.Errorf("%w: %s is probing", ErrOpen, b.name)
		}
		b.trialsInFlight++
		gen := b.generation
		b.mu.Unlock()
		b.notify(moved)
		return b.once(func(r Result) { b.afterTrial(gen, r) }), nil
	}
	b.mu.Unlock()
	return b.once(b.afterCall), nil
}

func (b *Breaker) once(fn func(Result)) func(Result) {
	var o sync.Once
	return func(r Result) { o.Do(func() { fn(r) }) }
}

func (b *Breaker) afterCall(r Result) {
	if r == Ignored {
		return
	}
	b.mu.Lock()
	now := b.now()
	b.history = append(b.history, record{at: now, failed: r == Failure})
	b.trim(now)
	var moved *transition
	if b.state == StateClosed && r == Failure && b.shouldOpen() {
		total, failed := b.counts()
		b.logger.Warn("[CircuitBreaker] opening circuit",
			zap.String("breaker", b.name),
			zap.Int("requests", total),
			zap.Int("failures", failed),
		)
		moved = b.transitionTo(StateOpen)
	}
	b.mu.Unlock()
	b.notify(moved)
}

// afterTrial settles a HALF_OPEN call. Results from an earlier half-open period are dropped.
func (b *Breaker) afterTrial(gen uint64, r Result) {
	b.mu.Lock()
	if b.state != StateHalfOpen || b.generation != gen {
		b.mu.Unlock()
		return
	}
	b.trialsInFlight--
	var moved *transition
	switch r {
	case Failure:
		// Any failure in half-open reopens the circuit.
		moved = b.transitionTo(StateOpen)
	case Success:
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.HalfOpenTrials {
			moved = b.transitionTo(StateClosed)
		}
	}
	b.mu.Unlock()
	b.notify(moved)
}

func (b *Breaker) shouldOpen() bool {
	total, failed := b.counts()
	if total < b.cfg.MinRequests {
		return false
	}
	return float64(failed)/float64(total) >= b.cfg.ErrorRateThreshold
}

func (b *Breaker) counts() (total, failed int) {
	for _, r := range b.history {
		total++
		if r.failed {
			failed++
		}
	}
	return total, failed
}

// trim drops records outside the window. history is ordered by time.
func (b *Breaker) trim(now time.Time) {
	start := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.history) && !b.history[i].at.After(start) {
		i++
	}
	if i > 0 {
		b.history = append(b.history[:0], b.history[i:]...)
	}
}

type transition struct{ from, to State }

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(to State) *transition {
	from := b.state
	b.state = to
	b.changedAt = b.now()
	b.generation++
	b.trialsInFlight = 0
	b.trialSuccesses = 0
	if to == StateClosed {
		b.history = b.history[:0]
	}
	b.logger.Info("[CircuitBreaker] state transition",
		zap.String("breaker", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil || b.onChange == nil {
		return
	}
	b.onChange(b.name, t.from, t.to)
}
