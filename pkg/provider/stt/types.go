package stt

import (
	"fmt"
	"unicode/utf8"
)

// RawSegment is a segment as produced by an engine, before any validation.
type RawSegment struct {
	Text string

	// Start and End are in centiseconds.
	Start, End int64

	Tokens []Token
}

// Results holds the output of one Full call. Engines embed it to implement
// the segment accessors of [Session].
type Results struct {
	Segments []RawSegment
	Language string
}

// Reset replaces the stored results.
func (r *Results) Reset(segs []RawSegment, lang string) {
	r.Segments = segs
	r.Language = lang
}

func (r *Results) SegmentCount() int { return len(r.Segments) }

// SegmentText returns the segment's text. Text that is not valid UTF-8 is
// reported as [ErrSegmentText] rather than passed on.
func (r *Results) SegmentText(i int) (string, error) {
	if i < 0 || i >= len(r.Segments) {
		return "", fmt.Errorf("segment %d of %d: %w", i, len(r.Segments), ErrSegmentRange)
	}
	text := r.Segments[i].Text
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("segment %d: invalid utf-8: %w", i, ErrSegmentText)
	}
	return text, nil
}

func (r *Results) SegmentSpan(i int) (t0, t1 int64) {
	if i < 0 || i >= len(r.Segments) {
		return 0, 0
	}
	return r.Segments[i].Start, r.Segments[i].End
}

func (r *Results) SegmentTokens(i int) []Token {
	if i < 0 || i >= len(r.Segments) {
		return nil
	}
	return r.Segments[i].Tokens
}

func (r *Results) DetectedLanguage() string { return r.Language }
