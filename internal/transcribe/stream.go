package transcribe

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/types"
)

// Event is one item of a [Stream]: either a transcribed chunk or a terminal
// error. No events follow an error.
type Event struct {
	Chunk types.StreamingChunk
	Err   error
}

// chunkMsg is what the producer hands to the consumer.
type chunkMsg struct {
	chunk audio.Chunk
	err   error
}

// Stream is a running streaming transcription. Callers must either read
// [Stream.Events] until it is closed or call [Stream.Close].
type Stream struct {
	events    chan Event
	cancel    context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	start     time.Time

	// Written by the consumer before events is closed.
	language string
	stats    *types.Stats
	failed   bool
}

// Events returns the channel of results. It is closed after the final chunk,
// after a terminal error, or after [Stream.Close].
func (s *Stream) Events() <-chan Event { return s.events }

// All returns an iterator over the stream. It yields every chunk with a nil
// error, or a zero chunk with the terminal error as its last item. Breaking
// out of the loop closes the stream.
func (s *Stream) All() iter.Seq2[types.StreamingChunk, error] {
	return func(yield func(types.StreamingChunk, error) bool) {
		for ev := range s.events {
			if ev.Err != nil {
				yield(types.StreamingChunk{}, ev.Err)
				s.Close()
				return
			}
			if !yield(ev.Chunk, nil) {
				s.Close()
				return
			}
		}
	}
}

// Close cancels the pipeline and waits for its goroutines to exit. It is
// safe to call more than once and concurrently with reads.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
	})
	audio.Drain(s.events)
}

// Language returns the language reported by the engine for the first
// transcribed chunk, or the requested one. It is only meaningful after
// Events has been closed.
func (s *Stream) Language() string { return s.language }

// Stream starts a streaming transcription of the file at path.
//
// The engine session is opened before Stream returns; a failure to open it
// is a Transcription error. Every other failure, including a missing file,
// is delivered as the terminal [Event].
func (t *Transcriber) Stream(ctx context.Context, path string) (*Stream, error) {
	sess, err := t.engine.NewSession(ctx)
	if err != nil {
		return nil, types.Errorf(types.KindTranscription, "transcribe.Stream", "open session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := observe.StartSpan(ctx, "transcribe.stream", trace.WithAttributes(attribute.String("audio.path", path)))

	s := &Stream{
		events:  make(chan Event),
		cancel:  cancel,
		closing: make(chan struct{}),
		start:   time.Now(),
	}
	chunks := make(chan chunkMsg, t.cfg.ChunkBuffer)

	t.metrics.ActiveStreams.Add(ctx, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.produce(gctx, path, chunks) })
	g.Go(func() error { return t.consume(gctx, sess, chunks, s) })

	go func() {
		err := g.Wait()
		if cerr := sess.Close(); cerr != nil {
			observe.Logger(ctx).Warn("closing engine session", "err", cerr)
		}
		status := "ok"
		if s.failed {
			status = "error"
		}
		if err != nil {
			status = "cancelled"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			// A caller that cancelled its own context but is still reading
			// learns why the stream ended.
			select {
			case s.events <- Event{Err: err}:
			case <-s.closing:
			}
		}
		t.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
		var rtf float64
		if s.stats != nil {
			rtf = s.stats.RealTimeFactor
		}
		t.metrics.RecordTranscription(context.WithoutCancel(ctx), "stream", status, rtf)
		span.End()
		cancel()
		close(s.events)
	}()
	return s, nil
}

// produce runs decode, normalise and chunk, sending every chunk or the first
// fatal error to out. It returns a non-nil error only when ctx ends.
func (t *Transcriber) produce(ctx context.Context, path string, out chan<- chunkMsg) error {
	defer close(out)

	send := func(m chunkMsg) error {
		select {
		case out <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	src, err := t.openSource(ctx, path)
	if err != nil {
		return send(chunkMsg{err: err})
	}
	defer src.close()

	chunker := audio.NewChunker()
	for {
		samples, err := src.next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return send(chunkMsg{err: err})
		}
		for _, c := range chunker.Push(samples) {
			t.metrics.ChunksEmitted.Add(ctx, 1)
			if err := send(chunkMsg{chunk: c}); err != nil {
				return err
			}
		}
	}

	final, err := chunker.Finish()
	if err != nil {
		return send(chunkMsg{err: err})
	}
	if final == nil {
		return nil
	}
	t.metrics.ChunksEmitted.Add(ctx, 1)
	return send(chunkMsg{chunk: *final})
}

// consume owns sess. It runs inference over each chunk in order, skips
// chunks whose inference fails, and forwards a producer error as the
// terminal event.
func (t *Transcriber) consume(ctx context.Context, sess stt.Session, in <-chan chunkMsg, s *Stream) error {
	agg := newAggregator(s.start)
	send := func(ev Event) error {
		select {
		case s.events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for msg := range in {
		if msg.err != nil {
			observe.Logger(ctx).Error("stream aborted", "err", msg.err, "chunks", agg.chunks)
			s.failed = true
			return send(Event{Err: msg.err})
		}

		c := msg.chunk
		segs, err := t.inferChunk(ctx, sess, c)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.metrics.ChunksFailed.Add(ctx, 1)
			observe.Logger(ctx).Warn("chunk inference failed, skipping",
				"chunk", c.Index, "final", c.IsFinal, "err", err)
			agg.skip(c)
			continue
		}
		if s.language == "" {
			s.language = resultLanguage(t.cfg.Language, sess.DetectedLanguage())
		}
		out := agg.add(c, segs)
		if out.FinalStats != nil {
			s.stats = out.FinalStats
			observe.Logger(ctx).Info("stream transcription complete",
				"chunks", agg.chunks,
				"segments", out.FinalStats.SegmentCount,
				"audio_duration", out.FinalStats.AudioDuration,
				"processing_time", out.FinalStats.ProcessingTime,
			)
		}
		if err := send(Event{Chunk: out}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (t *Transcriber) inferChunk(ctx context.Context, sess stt.Session, c audio.Chunk) ([]types.Segment, error) {
	ctx, span := observe.StartSpan(ctx, "transcribe.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", c.Index),
		attribute.Bool("chunk.final", c.IsFinal),
		attribute.Int("chunk.samples", len(c.Samples)),
	))
	defer span.End()

	start := time.Now()
	segs, err := Infer(ctx, sess, c.Samples, t.cfg)
	t.recordInference(ctx, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("chunk.segments", len(segs)))
	return segs, nil
}
