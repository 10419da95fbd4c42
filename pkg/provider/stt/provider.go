// Package stt defines the narrow speech-to-text capability the transcription
// pipeline drives.
//
// An Engine owns a loaded acoustic model and hands out Sessions. A Session is
// a persistent, single-owner inference object: the caller runs Full over a
// buffer of mono 16 kHz float32 samples and then reads the produced segments
// back one by one. Segment times are reported in the engine's native unit,
// centiseconds relative to the start of the buffer passed to Full.
//
// Sessions are not safe for concurrent use. The pipeline confines each one to
// a single goroutine for the lifetime of a transcription run; engines may be
// shared across goroutines.
package stt

import (
	"context"
	"errors"
	"time"
)

// SampleRate is the only input rate engines accept.
const SampleRate = 16000

// ErrSegmentText is wrapped by SegmentText when a segment's text cannot be
// recovered, for example because the engine emitted a broken UTF-8 sequence.
var ErrSegmentText = errors.New("stt: segment text unavailable")

// ErrSegmentRange is returned for a segment index outside [0, SegmentCount).
var ErrSegmentRange = errors.New("stt: segment index out of range")

// Params are the per-call decoding parameters. They are built fresh for
// every Full call and never mutated by the engine.
type Params struct {
	// Language is an ISO 639-1 code, or "auto"/"" for detection.
	Language string

	Translate bool

	// Threads is the number of CPU threads to use; zero lets the engine
	// decide.
	Threads int

	// Temperature is the sampling temperature. Zero selects deterministic
	// greedy decoding.
	Temperature float32

	// InitialPrompt seeds the decoder's context.
	InitialPrompt string

	// TokenTimestamps requests per-token timing, needed for word-level output.
	TokenTimestamps bool
}

// Token is one decoded token with its probability and timing.
type Token struct {
	Text string
	P    float32

	// Start and End are in centiseconds, relative to the input buffer.
	// Both are zero unless Params.TokenTimestamps was set.
	Start, End int64
}

// Engine loads a model and creates inference sessions.
type Engine interface {
	// NewSession returns a session bound to the engine's model. The caller
	// owns the session and must Close it.
	NewSession(ctx context.Context) (Session, error)

	// Close releases the model. Sessions must be closed first.
	Close() error
}

// Session runs inference and exposes the segments of the last Full call.
type Session interface {
	// Full runs inference over samples, replacing any previous results.
	// Cancelling ctx aborts the run at the next engine checkpoint.
	Full(ctx context.Context, samples []float32, p Params) error

	// SegmentCount returns the number of segments produced by the last Full.
	SegmentCount() int

	// SegmentText returns the text of segment i.
	SegmentText(i int) (string, error)

	// SegmentSpan returns the start and end of segment i in centiseconds.
	SegmentSpan(i int) (t0, t1 int64)

	// SegmentTokens returns the tokens of segment i, or nil if the engine
	// does not report them.
	SegmentTokens(i int) []Token

	// DetectedLanguage returns the language the last Full decoded in.
	DetectedLanguage() string

	Close() error
}

// Centiseconds converts an engine timestamp to a duration.
func Centiseconds(cs int64) time.Duration {
	return time.Duration(cs) * 10 * time.Millisecond
}

// ToCentiseconds converts a duration to the engine's timestamp unit,
// truncating toward zero.
func ToCentiseconds(d time.Duration) int64 {
	return int64(d / (10 * time.Millisecond))
}
