// Package resilience keeps a failing inference backend from stalling every
// chunk of every transcription.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [WrapEngine] puts one in front of an [stt.Engine] so that, once the
// backend has failed MaxFailures times in a row, further engine calls fail
// immediately with [ErrCircuitOpen] until ResetTimeout has passed.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets a trial
	// through. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called with the lock released after every
	// transition.
	OnStateChange func(from, to State)
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	onChange     func(from, to State)
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trialing bool
}

// NewBreaker creates a [Breaker]. Zero config fields get their defaults.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
	}
}

// Do runs fn if the breaker allows it and records the outcome.
//
// An error caused by ctx ending is returned but not counted: a caller
// giving up says nothing about the backend.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release(trial)
		return err
	}
	b.record(trial, err)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialing = true
		b.mu.Unlock()
		b.changed(from, StateHalfOpen)
		return true, nil
	case StateHalfOpen:
		if b.trialing {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.trialing = true
		b.mu.Unlock()
		return true, nil
	}
	b.mu.Unlock()
	return false, nil
}

// release frees a trial slot without judging the backend.
func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	b.trialing = false
	b.mu.Unlock()
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	if trial {
		b.trialing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case trial:
		b.state = StateOpen
		b.openedAt = b.now()
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if from == to {
		return
	}
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", failures, "err", err)
	} else {
		slog.Info("circuit breaker state change", "name", b.name, "from", from.String(), "to", to.String())
	}
	b.changed(from, to)
}

func (b *Breaker) changed(from, to State) {
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialing = false
	b.mu.Unlock()
	if from != StateClosed {
		slog.Info("circuit breaker manually reset", "name", b.name)
		b.changed(from, StateClosed)
	}
}
