package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

// Engine is an [stt.Engine] whose sessions run inference through a shared
// [Breaker].
type Engine struct {
	stt.Engine
	breaker *Breaker
}

// WrapEngine puts a breaker built from cfg in front of every Full call made
// through eng's sessions. Opening sessions and reading results are not
// guarded.
func WrapEngine(eng stt.Engine, cfg Config) *Engine {
	return &Engine{Engine: eng, breaker: NewBreaker(cfg)}
}

// Breaker returns the breaker shared by all sessions.
func (e *Engine) Breaker() *Breaker { return e.breaker }

// NewSession opens a session on the wrapped engine.
func (e *Engine) NewSession(ctx context.Context) (stt.Session, error) {
	sess, err := e.Engine.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &session{Session: sess, breaker: e.breaker}, nil
}

type session struct {
	stt.Session
	breaker *Breaker
}

func (s *session) Full(ctx context.Context, samples []float32, p stt.Params) error {
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.Session.Full(ctx, samples, p)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s: %w", s.breaker.name, err)
	}
	return err
}

var (
	_ stt.Engine  = (*Engine)(nil)
	_ stt.Session = (*session)(nil)
)
