package audio

import (
	"github.com/gaetschwartz/purr/pkg/types"
)

// Chunker accumulates normalised samples into fixed windows of
// [ChunkSamples] samples. Chunk indices start at 0 and increase by one; only
// the chunk returned by [Chunker.Finish] is final.
//
// A Chunker is owned by a single goroutine.
type Chunker struct {
	buf      []float32
	index    int
	consumed int
	emitted  bool
	finished bool
}

// NewChunker returns an empty Chunker.
func NewChunker() *Chunker {
	return &Chunker{buf: make([]float32, 0, ChunkSamples)}
}

// Push appends samples and returns every full chunk now available, in order.
// A window that ends exactly at the current end of input is held back until
// more samples arrive or [Chunker.Finish] is called, so that the last chunk
// of a stream is always the final one.
func (c *Chunker) Push(samples []float32) []Chunk {
	c.buf = append(c.buf, samples...)

	var out []Chunk
	for len(c.buf) > ChunkSamples {
		window := make([]float32, ChunkSamples)
		copy(window, c.buf[:ChunkSamples])
		c.buf = append(c.buf[:0], c.buf[ChunkSamples:]...)
		out = append(out, c.next(window, false))
	}
	return out
}

// Finish marks the end of the stream and returns the final chunk holding the
// remaining samples. If no samples were ever pushed it returns an
// AudioProcessing error. Subsequent calls return (nil, nil).
func (c *Chunker) Finish() (*Chunk, error) {
	if c.finished {
		return nil, nil
	}
	c.finished = true

	if len(c.buf) == 0 {
		if !c.emitted {
			return nil, types.Errorf(types.KindAudioProcessing, "audio.Chunker",
				"no audio data could be extracted from file - file may be corrupted or unsupported")
		}
		return nil, nil
	}
	rest := c.buf
	c.buf = nil
	ch := c.next(rest, true)
	return &ch, nil
}

// Emitted returns the number of chunks produced so far.
func (c *Chunker) Emitted() int { return c.index }

func (c *Chunker) next(samples []float32, final bool) Chunk {
	ch := Chunk{
		Samples:    samples,
		SampleRate: TargetSampleRate,
		Index:      c.index,
		StartTime:  SamplesDuration(c.consumed),
		IsFinal:    final,
	}
	c.index++
	c.consumed += len(samples)
	c.emitted = true
	return ch
}
