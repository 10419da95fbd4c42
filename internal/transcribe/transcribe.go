// Package transcribe turns audio files into transcriptions.
//
// A [Transcriber] drives the decode, normalise and inference stages in one
// of two modes:
//
//   - [Transcriber.Batch] decodes and normalises the whole file, runs the
//     engine once over all samples and returns a single [types.Result].
//   - [Transcriber.Stream] runs a producer goroutine (decode, normalise,
//     chunk) and a consumer goroutine (inference, aggregation) connected by a
//     bounded channel, and delivers one [types.StreamingChunk] per chunk in
//     index order.
//
// Recoverable failures (an undecodable packet, a failed frame conversion, a
// failed chunk, an unreadable segment) are logged and skipped. Fatal
// failures end a batch run with an error and a stream with a terminal
// [Event].
package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/audio/decode"
	"github.com/gaetschwartz/purr/pkg/audio/resample"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/types"
)

// Opener opens the file at path for decoding. The default is [decode.Open].
type Opener func(ctx context.Context, path string, opts ...decode.Option) (*decode.Decoder, error)

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithOpener replaces the function used to open files.
func WithOpener(open Opener) Option {
	return func(t *Transcriber) { t.open = open }
}

// WithDecodeOptions appends options passed to the opener on every run, such
// as [decode.WithFFmpeg].
func WithDecodeOptions(opts ...decode.Option) Option {
	return func(t *Transcriber) { t.decodeOpts = append(t.decodeOpts, opts...) }
}

// WithNormalizerOptions appends options for the per-run [resample.Normalizer].
func WithNormalizerOptions(opts ...resample.Option) Option {
	return func(t *Transcriber) { t.normOpts = append(t.normOpts, opts...) }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// Transcriber runs transcriptions against one engine. It is safe for
// concurrent use; every run opens its own engine session, and engines that
// share inference state across sessions serialise their calls.
type Transcriber struct {
	engine     stt.Engine
	cfg        config.TranscriptionConfig
	open       Opener
	decodeOpts []decode.Option
	normOpts   []resample.Option
	metrics    *observe.Metrics
}

// New returns a Transcriber for engine. cfg is copied; later changes to the
// caller's value do not affect the Transcriber.
func New(engine stt.Engine, cfg config.TranscriptionConfig, opts ...Option) *Transcriber {
	if cfg.ChunkBuffer < 1 {
		cfg.ChunkBuffer = 1
	}
	t := &Transcriber{
		engine: engine,
		cfg:    cfg,
		open:   decode.Open,
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Engine returns the engine the Transcriber runs on.
func (t *Transcriber) Engine() stt.Engine { return t.engine }

// Config returns the transcription settings the Transcriber was built with.
func (t *Transcriber) Config() config.TranscriptionConfig { return t.cfg }

// Batch transcribes the file at path with a single engine call over the
// fully decoded and normalised audio.
//
// Missing, empty or undecodable audio yields an AudioProcessing or Decode
// error; a failed engine call yields a Transcription error.
func (t *Transcriber) Batch(ctx context.Context, path string) (res *types.Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "transcribe.batch", trace.WithAttributes(attribute.String("audio.path", path)))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		var rtf float64
		if res != nil && res.ProcessingTime > 0 {
			rtf = res.AudioDuration.Seconds() / res.ProcessingTime.Seconds()
		}
		t.metrics.RecordTranscription(ctx, "batch", status, rtf)
		span.End()
	}()

	src, err := t.openSource(ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.close()

	var samples []float32
	for {
		s, err := src.next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, s...)
	}
	if len(samples) == 0 {
		return nil, types.Errorf(types.KindAudioProcessing, "transcribe.Batch",
			"no audio data could be extracted from file - file may be corrupted or unsupported")
	}
	audioDur := audio.SamplesDuration(len(samples))
	observe.Logger(ctx).Debug("audio normalised", "path", path, "samples", len(samples), "duration", audioDur)

	sess, err := t.engine.NewSession(ctx)
	if err != nil {
		return nil, types.Errorf(types.KindTranscription, "transcribe.Batch", "open session: %w", err)
	}
	defer sess.Close()

	inferStart := time.Now()
	segs, err := Infer(ctx, sess, samples, t.cfg)
	t.recordInference(ctx, inferStart, err)
	if err != nil {
		return nil, err
	}

	res = &types.Result{
		Text:           joinText(segs),
		Language:       resultLanguage(t.cfg.Language, sess.DetectedLanguage()),
		Segments:       segs,
		ProcessingTime: time.Since(start),
		AudioDuration:  audioDur,
	}
	observe.Logger(ctx).Info("batch transcription complete",
		"path", path,
		"segments", len(segs),
		"audio_duration", res.AudioDuration,
		"processing_time", res.ProcessingTime,
	)
	return res, nil
}

func (t *Transcriber) recordInference(ctx context.Context, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.RecordInference(ctx, time.Since(start).Seconds(), status)
}

// resultLanguage prefers an explicitly requested language over the one the
// engine detected.
func resultLanguage(requested, detected string) string {
	if requested != "" && requested != "auto" {
		return requested
	}
	return detected
}

// source yields normalised samples for one file. It is owned by a single
// goroutine.
type source struct {
	dec  *decode.Decoder
	norm *resample.Normalizer
	m    *observe.Metrics
}

func (t *Transcriber) openSource(ctx context.Context, path string) (*source, error) {
	ctx, span := observe.StartSpan(ctx, "decode.open", trace.WithAttributes(attribute.String("audio.path", path)))
	defer span.End()

	m := t.metrics
	opts := make([]decode.Option, 0, len(t.decodeOpts)+2)
	opts = append(opts, t.decodeOpts...)
	opts = append(opts,
		decode.WithMaxDuration(t.cfg.MaxDuration),
		decode.WithSkipHook(func(error) { m.DecodePacketsSkipped.Add(ctx, 1) }),
	)
	dec, err := t.open(ctx, path, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if types.KindOf(err) == types.KindUnknown {
			err = types.Errorf(types.KindDecode, "transcribe.open", "open %q: %w", path, err)
		}
		return nil, err
	}

	st := dec.Stream()
	span.SetAttributes(
		attribute.String("audio.codec", st.Codec),
		attribute.Int("audio.channels", st.Channels),
		attribute.Int("audio.sample_rate", st.SampleRate),
	)

	normOpts := make([]resample.Option, 0, len(t.normOpts)+2)
	normOpts = append(normOpts, t.normOpts...)
	normOpts = append(normOpts,
		resample.WithRebuildHook(func(resample.Key) { m.ResampleRebuilds.Add(ctx, 1) }),
		resample.WithDropHook(func(error) { m.ResampleFramesDropped.Add(ctx, 1) }),
	)
	return &source{dec: dec, norm: resample.NewNormalizer(normOpts...), m: m}, nil
}

// next returns the normalised samples of the next frame that produced any.
// It returns io.EOF after the last frame.
func (s *source) next(ctx context.Context) ([]float32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := s.dec.Next()
		if err != nil {
			return nil, err
		}
		s.m.DecodeFrames.Add(ctx, 1)
		if out := s.norm.Process(f); len(out) > 0 {
			return out, nil
		}
	}
}

func (s *source) close() {
	if err := s.dec.Close(); err != nil {
		slog.Debug("closing decoder", "err", err)
	}
}
