package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sony/gobreaker"
)

var (
	// ErrOpen is returned while the breaker is open and cooling down.
	ErrOpen = fmt.Errorf("circuit breaker open: %w", gobreaker.ErrOpenState)
	// ErrTooManyRequests is returned when a half-open trial is already running.
	ErrTooManyRequests = fmt.Errorf("circuit breaker half-open: %w", gobreaker.ErrTooManyRequests)
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts represents circuit breaker statistics
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Observer receives breaker outcomes and transitions. It is informational
// only and must not block.
type Observer interface {
	SetBreakerState(service, state string)
	IncBreakerBlocked(service string)
	IncBreakerFailed(service string)
	IncBreakerSucceeded(service string)
}

// StateChangeListener is notified when a breaker changes state.
type StateChangeListener func(service string, from, to State)

type Option func(*Breaker)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(b *Breaker) { b.observer = o }
}

// WithStateChangeListener registers a transition callback.
func WithStateChangeListener(l StateChangeListener) Option {
	return func(b *Breaker) {
		if l != nil {
			b.listeners = append(b.listeners, l)
		}
	}
}

// Breaker wraps sony/gobreaker with state metrics and sentinel errors.
type Breaker struct {
	name      string
	cfg       Config
	cb        atomic.Pointer[gobreaker.CircuitBreaker]
	observer  Observer
	listeners []StateChangeListener
}

// New creates a closed breaker for the named service.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(b)
	}
	b.cb.Store(gobreaker.NewCircuitBreaker(b.settings()))
	if b.observer != nil {
		b.observer.SetBreakerState(name, string(StateClosed))
	}
	return b
}

func (b *Breaker) settings() gobreaker.Settings {
	threshold := b.cfg.FailureThreshold
	return gobreaker.Settings{
		Name: b.name,
		// exactly one trial while half-open
		MaxRequests: 1,
		// zero: closed-state counts are only cleared by a success
		Interval: 0,
		Timeout:  b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: notUpstreamFailure,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(mapState(from), mapState(to))
		},
	}
}

// Name returns the service name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Config returns the effective configuration.
func (b *Breaker) Config() Config { return b.cfg }

// Execute runs fn unless the breaker is open. fn's error is returned unchanged.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Load().Execute(fn)
	switch {
	case err == nil:
		b.observe(func(o Observer) { o.IncBreakerSucceeded(b.name) })
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState):
		b.observe(func(o Observer) { o.IncBreakerBlocked(b.name) })
		return nil, fmt.Errorf("service %s: %w", b.name, ErrOpen)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		b.observe(func(o Observer) { o.IncBreakerBlocked(b.name) })
		return nil, fmt.Errorf("service %s: %w", b.name, ErrTooManyRequests)
	case errors.Is(err, context.Canceled):
		return res, err
	default:
		b.observe(func(o Observer) { o.IncBreakerFailed(b.name) })
		return res, err
	}
}

// notUpstreamFailure keeps a cancelled caller from counting against the
// guarded service. Deadline errors still count.
func notUpstreamFailure(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Run is a typed Execute.
func Run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.Execute(func() (any, error) { return fn() })
	v, _ := res.(T)
	return v, err
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State { return mapState(b.cb.Load().State()) }

func (b *Breaker) Counts() Counts {
	c := b.cb.Load().Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// IsOpen reports whether calls are currently being rejected.
func (b *Breaker) IsOpen() bool { return b.State() == StateOpen }

// Reset discards all counts and returns the breaker to closed.
func (b *Breaker) Reset() {
	b.cb.Store(gobreaker.NewCircuitBreaker(b.settings()))
	b.onStateChange(StateUnknown, StateClosed)
}

func (b *Breaker) onStateChange(from, to State) {
	b.observe(func(o Observer) { o.SetBreakerState(b.name, string(to)) })
	for _, l := range b.listeners {
		l(b.name, from, to)
	}
}

func (b *Breaker) observe(fn func(Observer)) {
	if b.observer != nil {
		fn(b.observer)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
