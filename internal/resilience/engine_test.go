package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gaetschwartz/purr/internal/resilience"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/provider/stt/mock"
)

func TestWrapEngine_FailsFastWhenOpen(t *testing.T) {
	backend := &mock.Session{FullErr: errors.New("connection refused")}
	eng := resilience.WrapEngine(&mock.Engine{Session: backend}, resilience.Config{
		Name:         "whisper-server",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	ctx := context.Background()

	sess, err := eng.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	samples := make([]float32, 160)
	for range 2 {
		if err := sess.Full(ctx, samples, stt.Params{}); err == nil {
			t.Fatal("expected backend error")
		}
	}
	err = sess.Full(ctx, samples, stt.Params{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := backend.FullCallCount(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
	if eng.Breaker().State() != resilience.StateOpen {
		t.Errorf("state = %v, want open", eng.Breaker().State())
	}
}

func TestWrapEngine_SharedAcrossSessions(t *testing.T) {
	backend := &mock.Session{FullErr: errors.New("timeout")}
	eng := resilience.WrapEngine(&mock.Engine{Session: backend}, resilience.Config{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	ctx := context.Background()

	first, _ := eng.NewSession(ctx)
	_ = first.Full(ctx, nil, stt.Params{})

	second, _ := eng.NewSession(ctx)
	if err := second.Full(ctx, nil, stt.Params{}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestWrapEngine_PassesResults(t *testing.T) {
	backend := &mock.Session{
		Segments: []stt.RawSegment{{Text: " hi", Start: 0, End: 120}},
		Language: "de",
	}
	inner := &mock.Engine{Session: backend}
	eng := resilience.WrapEngine(inner, resilience.Config{})
	ctx := context.Background()

	sess, err := eng.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Full(ctx, make([]float32, 16), stt.Params{}); err != nil {
		t.Fatalf("Full: %v", err)
	}
	if n := sess.SegmentCount(); n != 1 {
		t.Fatalf("SegmentCount = %d, want 1", n)
	}
	if text, _ := sess.SegmentText(0); text != " hi" {
		t.Errorf("SegmentText = %q", text)
	}
	if lang := sess.DetectedLanguage(); lang != "de" {
		t.Errorf("DetectedLanguage = %q, want de", lang)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if inner.CloseCallCount != 1 {
		t.Errorf("inner Close calls = %d, want 1", inner.CloseCallCount)
	}
}

func TestWrapEngine_NewSessionError(t *testing.T) {
	want := errors.New("no model")
	eng := resilience.WrapEngine(&mock.Engine{NewSessionErr: want}, resilience.Config{})
	if _, err := eng.NewSession(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
