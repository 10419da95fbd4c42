// Package types defines the shared result types used across purr packages.
//
// These types form the lingua franca between the decode/normalize pipeline,
// the inference adapter, the transcriber facade, and outward surfaces such as
// the HTTP server and the CLI. Package-specific types live in their own
// packages; cross-cutting data structures live here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Word is a single word with timing detail, reported by engines that support
// token-level timestamps.
type Word struct {
	// Text is the word as recognised.
	Text string

	// Start and End share the time base of the owning segment.
	Start time.Duration
	End   time.Duration

	// Probability is the engine-reported probability in [0, 1].
	Probability float32
}

// Segment is one timestamped span of transcribed text returned by the
// inference engine for a given input buffer.
//
// Start and End are relative to the buffer handed to the engine unless the
// segment was translated to absolute stream time by the aggregator.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration

	// Confidence is nil when the engine does not report one.
	Confidence *float32

	// Words is nil unless word timestamps were requested and supported.
	Words []Word
}

// Shift returns a copy of s with Start, End and every word's timing moved
// forward by offset. The receiver's Words slice is not modified.
func (s Segment) Shift(offset time.Duration) Segment {
	s.Start += offset
	s.End += offset
	if s.Words != nil {
		words := make([]Word, len(s.Words))
		for i, w := range s.Words {
			w.Start += offset
			w.End += offset
			words[i] = w
		}
		s.Words = words
	}
	return s
}

// Result is the outcome of a batch transcription.
type Result struct {
	// Text is the concatenation of all segment texts.
	Text string

	// Language is the requested language, or the detected one when the
	// request asked for auto-detection and the engine reports it.
	Language string

	Segments []Segment

	// ProcessingTime is the wall-clock time spent decoding, normalising and
	// running inference.
	ProcessingTime time.Duration

	// AudioDuration is the length of the normalised audio.
	AudioDuration time.Duration
}

// StreamingChunk is the outward-facing result of transcribing one chunk of a
// streamed file.
type StreamingChunk struct {
	// Text is the concatenation of the chunk's segment texts.
	Text string

	// Start and End delimit the chunk's window in absolute stream time.
	Start time.Duration
	End   time.Duration

	IsFinal    bool
	ChunkIndex int

	// FinalStats is set only on the chunk produced for the final audio chunk.
	FinalStats *Stats

	// Segments holds the chunk's segments translated to absolute stream time.
	Segments []Segment
}

// Stats summarises a completed transcription run.
type Stats struct {
	ProcessingTime time.Duration
	AudioDuration  time.Duration

	// RealTimeFactor is AudioDuration / ProcessingTime. Values above 1 mean
	// faster than real time.
	RealTimeFactor float64

	SegmentCount int

	// AvgSegmentLength is AudioDuration / SegmentCount.
	AvgSegmentLength time.Duration

	WordCount      int
	WordsPerMinute float64
}

// NewStats computes run statistics. Ratios whose denominator is not positive
// are reported as zero.
func NewStats(processing, audio time.Duration, segments, words int) Stats {
	s := Stats{
		ProcessingTime: processing,
		AudioDuration:  audio,
		SegmentCount:   segments,
		WordCount:      words,
	}
	if processing > 0 {
		s.RealTimeFactor = audio.Seconds() / processing.Seconds()
	}
	if segments > 0 {
		s.AvgSegmentLength = audio / time.Duration(segments)
	}
	if audio > 0 {
		s.WordsPerMinute = float64(words) * 60 / audio.Seconds()
	}
	return s
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
