// Package observe provides application-wide observability primitives for
// purr: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all purr metrics.
const meterName = "github.com/gaetschwartz/purr"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Decode / normalise ---

	// DecodePacketsSkipped counts packets skipped as undecodable.
	DecodePacketsSkipped metric.Int64Counter

	// DecodeFrames counts decoded frames handed to the normaliser.
	DecodeFrames metric.Int64Counter

	// ResampleRebuilds counts conversion context (re)constructions.
	ResampleRebuilds metric.Int64Counter

	// ResampleFramesDropped counts frames whose conversion failed.
	ResampleFramesDropped metric.Int64Counter

	// --- Streaming ---

	// ChunksEmitted counts chunks produced by the chunker.
	ChunksEmitted metric.Int64Counter

	// ChunksFailed counts chunks whose inference failed and were skipped.
	ChunksFailed metric.Int64Counter

	// --- Inference ---

	// InferenceDuration tracks the latency of a single engine call.
	InferenceDuration metric.Float64Histogram

	// RealtimeFactor records audio duration divided by processing time per
	// completed transcription. Use with attribute:
	//   attribute.String("mode", "batch"|"stream")
	RealtimeFactor metric.Float64Histogram

	// Transcriptions counts finished transcriptions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	Transcriptions metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of running streaming pipelines.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// inferenceBuckets defines histogram bucket boundaries (in seconds) for
// whisper calls on chunks of up to ten seconds of audio.
var inferenceBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// rtfBuckets spans slower-than-real-time through heavily accelerated runs.
var rtfBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 50, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.DecodePacketsSkipped, err = m.Int64Counter("purr.decode.packets_skipped",
		metric.WithDescription("Packets skipped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFrames, err = m.Int64Counter("purr.decode.frames",
		metric.WithDescription("Decoded audio frames."),
	); err != nil {
		return nil, err
	}
	if met.ResampleRebuilds, err = m.Int64Counter("purr.resample.rebuilds",
		metric.WithDescription("Resampler context constructions."),
	); err != nil {
		return nil, err
	}
	if met.ResampleFramesDropped, err = m.Int64Counter("purr.resample.frames_dropped",
		metric.WithDescription("Frames dropped after a failed conversion."),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("purr.chunks.emitted",
		metric.WithDescription("Audio chunks produced for streaming inference."),
	); err != nil {
		return nil, err
	}
	if met.ChunksFailed, err = m.Int64Counter("purr.chunks.failed",
		metric.WithDescription("Audio chunks skipped after failed inference."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("purr.transcriptions",
		metric.WithDescription("Finished transcriptions by mode and status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("purr.inference.duration",
		metric.WithDescription("Latency of a single inference engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(inferenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RealtimeFactor, err = m.Float64Histogram("purr.transcription.realtime_factor",
		metric.WithDescription("Audio duration divided by processing time."),
		metric.WithExplicitBucketBoundaries(rtfBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("purr.active_streams",
		metric.WithDescription("Number of running streaming transcriptions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("purr.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription records a finished transcription. rtf is only recorded
// for successful runs.
func (m *Metrics) RecordTranscription(ctx context.Context, mode, status string, rtf float64) {
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
	if status == "ok" {
		m.RealtimeFactor.Record(ctx, rtf, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordInference records the latency of one engine call.
func (m *Metrics) RecordInference(ctx context.Context, seconds float64, status string) {
	m.InferenceDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
