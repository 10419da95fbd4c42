package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the transcription pipeline.
type ErrorKind int

const (
	// KindUnknown is the zero value and never produced by purr itself.
	KindUnknown ErrorKind = iota

	// KindAudioProcessing covers missing files, unsupported or empty audio,
	// and buffer invariant violations.
	KindAudioProcessing

	// KindDecode covers container and codec failures.
	KindDecode

	// KindResample covers sample conversion failures.
	KindResample

	// KindTranscription covers inference and result extraction failures.
	KindTranscription

	// KindConfiguration covers unusable configuration, including an
	// unresolvable model.
	KindConfiguration
)

// String returns a human-readable name for k.
func (k ErrorKind) String() string {
	switch k {
	case KindAudioProcessing:
		return "audio processing"
	case KindDecode:
		return "decode"
	case KindResample:
		return "resample"
	case KindTranscription:
		return "transcription"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. Use [errors.Is] with one of the
// sentinel values ([ErrAudioProcessing], [ErrDecode], ...) to test the kind,
// or [errors.As] to inspect Op and the wrapped cause.
type Error struct {
	Kind ErrorKind

	// Op names the operation that failed, e.g. "decode.Open".
	Op string

	Err error
}

// Sentinel errors for kind matching with [errors.Is].
var (
	ErrAudioProcessing = &Error{Kind: KindAudioProcessing}
	ErrDecode          = &Error{Kind: KindDecode}
	ErrResample        = &Error{Kind: KindResample}
	ErrTranscription   = &Error{Kind: KindTranscription}
	ErrConfiguration   = &Error{Kind: KindConfiguration}
)

// Errorf builds an *Error of the given kind whose cause is formatted with
// [fmt.Errorf], so %w verbs keep the wrapped chain intact.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare kind sentinel matching e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
