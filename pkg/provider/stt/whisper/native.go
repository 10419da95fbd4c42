// This file contains the Native engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

var (
	_ stt.Engine  = (*Native)(nil)
	_ stt.Session = (*nativeSession)(nil)
)

// ErrClosed is returned by sessions whose engine has been closed.
var ErrClosed = errors.New("whisper: engine closed")

// Native implements stt.Engine on an in-process whisper.cpp model. The model
// is loaded once and shared by all sessions.
//
// The bindings keep a single whisper state per model: every context created
// from it runs inference on, and reads segments from, that one state. Full
// calls are therefore serialised across all sessions of an engine.
type Native struct {
	model whisperlib.Model
	path  string

	// mu guards the model's whisper state from Process until the last
	// segment and the detected language have been read.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a Native engine.
type NativeOption func(*nativeOptions)

type nativeOptions struct {
	useGPU bool
}

// WithGPU records whether GPU inference was requested. The pinned Go
// bindings load models with whisper.cpp's compiled-in defaults and expose no
// GPU switch, so this only affects logging.
func WithGPU(enabled bool) NativeOption {
	return func(o *nativeOptions) { o.useGPU = enabled }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the engine is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	var o nativeOptions
	for _, fn := range opts {
		fn(&o)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	slog.Info("whisper model loaded",
		"path", modelPath,
		"multilingual", model.IsMultilingual(),
		"use_gpu", o.useGPU,
	)
	return &Native{model: model, path: modelPath}, nil
}

// NewSession returns a session on the shared model.
func (n *Native) NewSession(ctx context.Context) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	return &nativeSession{eng: n}, nil
}

// Close releases the whisper model once any running inference has finished.
// Sessions still open afterwards fail with [ErrClosed].
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return nil
	}
	err := n.model.Close()
	n.model = nil
	return err
}

// nativeSession builds a context with fresh parameters for each Full call.
// The context only carries parameters; the state it runs on belongs to the
// engine.
type nativeSession struct {
	stt.Results
	eng *Native
}

func (s *nativeSession) Full(ctx context.Context, samples []float32, p stt.Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Reset(nil, "")

	segs, lang, err := s.eng.infer(ctx, samples, p)
	if err != nil {
		return err
	}
	if lang == "" {
		lang = p.Language
	}
	s.Reset(segs, lang)
	return nil
}

// infer runs one whisper_full call and collects its results while holding
// the engine lock.
func (n *Native) infer(ctx context.Context, samples []float32, p stt.Params) ([]stt.RawSegment, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if n.model == nil {
		return nil, "", ErrClosed
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := applyParams(wctx, p); err != nil {
		return nil, "", err
	}

	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		return nil, "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	var segs []stt.RawSegment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("whisper: read segment %d: %w", len(segs), err)
		}
		segs = append(segs, convertSegment(seg))
	}
	return segs, wctx.DetectedLanguage(), nil
}

func (s *nativeSession) Close() error {
	s.Reset(nil, "")
	return nil
}

func applyParams(wctx whisperlib.Context, p stt.Params) error {
	if p.Threads > 0 {
		wctx.SetThreads(uint(p.Threads))
	}
	lang := p.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	wctx.SetTranslate(p.Translate)
	wctx.SetTemperature(p.Temperature)
	wctx.SetTokenTimestamps(p.TokenTimestamps)
	if p.InitialPrompt != "" {
		wctx.SetInitialPrompt(p.InitialPrompt)
	}
	return nil
}

func convertSegment(seg whisperlib.Segment) stt.RawSegment {
	out := stt.RawSegment{
		Text:  seg.Text,
		Start: stt.ToCentiseconds(seg.Start),
		End:   stt.ToCentiseconds(seg.End),
	}
	for _, tok := range seg.Tokens {
		if isSpecialToken(tok.Text) {
			continue
		}
		out.Tokens = append(out.Tokens, stt.Token{
			Text:  tok.Text,
			P:     tok.P,
			Start: stt.ToCentiseconds(tok.Start),
			End:   stt.ToCentiseconds(tok.End),
		})
	}
	return out
}
