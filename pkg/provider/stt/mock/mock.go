// Package mock provides test doubles for the stt package interfaces.
//
// Use Engine to verify that the caller opens and closes sessions. Use Session
// to script the segments each Full call produces and to inspect which sample
// buffers and parameters were submitted.
//
// Example:
//
//	sess := &mock.Session{
//	    Segments: []stt.RawSegment{{Text: " hello", Start: 0, End: 150}},
//	}
//	eng := &mock.Engine{Session: sess}
//	s, _ := eng.NewSession(ctx)
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

// Engine is a mock implementation of stt.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, NewSession returns a new
	// Session that produces no segments.
	Session stt.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCallCount is the number of times NewSession was called.
	NewSessionCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(ctx context.Context) (stt.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCallCount++
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Close records the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return nil
}

var _ stt.Engine = (*Engine)(nil)

// FullCall records a single invocation of Session.Full.
type FullCall struct {
	// Samples is the number of samples passed.
	Samples int
	// Params is the parameter set passed.
	Params stt.Params
}

// Session is a mock implementation of stt.Session.
type Session struct {
	mu sync.Mutex

	// Segments is what every Full call produces unless FullFunc is set.
	Segments []stt.RawSegment

	// FullFunc, if set, computes the outcome of each Full call. call is the
	// zero-based call number.
	FullFunc func(call int, samples []float32, p stt.Params) ([]stt.RawSegment, error)

	// FullErr, if non-nil, is returned by every Full call.
	FullErr error

	// Language is reported by DetectedLanguage after a successful Full.
	Language string

	// Block, if non-nil, makes Full wait until it is closed or ctx is done.
	Block chan struct{}

	// --- Call records ---

	// FullCalls records every call to Full in order.
	FullCalls []FullCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	results    stt.Results
	active     atomic.Int32
	overlapped atomic.Bool
}

// Full records the call and stores the scripted segments.
func (s *Session) Full(ctx context.Context, samples []float32, p stt.Params) error {
	if s.active.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	defer s.active.Add(-1)

	s.mu.Lock()
	call := len(s.FullCalls)
	s.FullCalls = append(s.FullCalls, FullCall{Samples: len(samples), Params: p})
	block := s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results.Reset(nil, "")
	if s.FullErr != nil {
		return s.FullErr
	}
	segs := s.Segments
	if s.FullFunc != nil {
		var err error
		segs, err = s.FullFunc(call, samples, p)
		if err != nil {
			return err
		}
	}
	lang := s.Language
	if lang == "" {
		lang = p.Language
	}
	s.results.Reset(segs, lang)
	return nil
}

func (s *Session) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.SegmentCount()
}

func (s *Session) SegmentText(i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.SegmentText(i)
}

func (s *Session) SegmentSpan(i int) (t0, t1 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.SegmentSpan(i)
}

func (s *Session) SegmentTokens(i int) []stt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.SegmentTokens(i)
}

func (s *Session) DetectedLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.DetectedLanguage()
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// FullCallCount returns the number of Full calls. Thread-safe.
func (s *Session) FullCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.FullCalls)
}

// Overlapped reports whether two Full calls ever ran at the same time.
func (s *Session) Overlapped() bool { return s.overlapped.Load() }

var _ stt.Session = (*Session)(nil)
