package transcribe

import (
	"strings"
	"time"

	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/types"
)

// aggregator turns chunk-relative segments into absolute stream results and
// keeps the running totals for the final statistics.
type aggregator struct {
	start    time.Time
	chunks   int
	segments int
	words    int
	audio    time.Duration
}

func newAggregator(start time.Time) *aggregator {
	return &aggregator{start: start}
}

// add records a transcribed chunk and returns its outward result. Final
// statistics are attached only for the final chunk.
func (a *aggregator) add(c audio.Chunk, segs []types.Segment) types.StreamingChunk {
	a.chunks++
	a.audio += c.Duration()

	abs := make([]types.Segment, len(segs))
	for i, seg := range segs {
		abs[i] = seg.Shift(c.StartTime)
	}
	text := joinText(segs)
	a.segments += len(segs)
	a.words += types.CountWords(text)

	out := types.StreamingChunk{
		Text:       text,
		Start:      c.StartTime,
		End:        c.StartTime + c.Duration(),
		IsFinal:    c.IsFinal,
		ChunkIndex: c.Index,
		Segments:   abs,
	}
	if c.IsFinal {
		st := a.stats()
		out.FinalStats = &st
	}
	return out
}

// skip records a chunk whose inference failed. Its audio still counts
// toward the consumed duration.
func (a *aggregator) skip(c audio.Chunk) {
	a.chunks++
	a.audio += c.Duration()
}

func (a *aggregator) stats() types.Stats {
	return types.NewStats(time.Since(a.start), a.audio, a.segments, a.words)
}

// Collect drains s and merges its chunks into a single result. Segment times
// are absolute. When the stream ended without final statistics, processing
// time and audio duration are derived from what was received.
//
// A terminal error from the stream is returned together with the partial
// result gathered before it.
func Collect(s *Stream) (*types.Result, error) {
	res := &types.Result{}
	var (
		final *types.Stats
		end   time.Duration
		text  strings.Builder
	)
	for c, err := range s.All() {
		if err != nil {
			res.Text = text.String()
			res.Language = s.Language()
			res.ProcessingTime = time.Since(s.start)
			res.AudioDuration = end
			return res, err
		}
		appendText(&text, c.Text)
		res.Segments = append(res.Segments, c.Segments...)
		end = c.End
		if c.FinalStats != nil {
			final = c.FinalStats
		}
	}

	res.Text = text.String()
	res.Language = s.Language()
	if final != nil {
		res.ProcessingTime = final.ProcessingTime
		res.AudioDuration = final.AudioDuration
	} else {
		res.ProcessingTime = time.Since(s.start)
		res.AudioDuration = end
	}
	return res, nil
}
