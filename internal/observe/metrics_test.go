package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total of all data points of an int64 sum metric.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
		n    int64
	}{
		{"purr.decode.packets_skipped", m.DecodePacketsSkipped, 2},
		{"purr.decode.frames", m.DecodeFrames, 40},
		{"purr.resample.rebuilds", m.ResampleRebuilds, 1},
		{"purr.resample.frames_dropped", m.ResampleFramesDropped, 3},
		{"purr.chunks.emitted", m.ChunksEmitted, 5},
		{"purr.chunks.failed", m.ChunksFailed, 1},
	}
	for _, tc := range counters {
		tc.c.Add(ctx, tc.n)
	}

	rm := collect(t, reader)
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumValue(t, rm, tc.name); got != tc.n {
				t.Errorf("value = %d, want %d", got, tc.n)
			}
		})
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "purr.active_streams"); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "batch", "ok", 12.5)
	m.RecordTranscription(ctx, "stream", "ok", 3)
	m.RecordTranscription(ctx, "stream", "error", 0)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "purr.transcriptions"); got != 3 {
		t.Errorf("transcriptions = %d, want 3", got)
	}

	met := findMetric(rm, "purr.transcription.realtime_factor")
	if met == nil {
		t.Fatal("realtime factor metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("realtime factor is not a histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("realtime factor samples = %d, want 2 (failures are not recorded)", count)
	}
}

func TestRecordInference(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordInference(context.Background(), 0.8, "ok")
	m.RecordInference(context.Background(), 1.4, "ok")

	rm := collect(t, reader)
	met := findMetric(rm, "purr.inference.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("data points = %+v, want one point with 2 samples", hist.DataPoints)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(Attr("method", "POST"), Attr("path", "/v1/transcriptions")))

	rm := collect(t, reader)
	if findMetric(rm, "purr.http.request.duration") == nil {
		t.Fatal("metric not found")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Fatal("DefaultMetrics should return the same non-nil instance")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestInstallLogger_OnlyOnce(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	var first, second bytes.Buffer
	l1 := InstallLogger(slog.LevelInfo, &first)
	l2 := InstallLogger(slog.LevelDebug, &second)
	if l1 != l2 {
		t.Fatal("second InstallLogger call returned a different logger")
	}

	l1.Debug("visible after level change")
	if second.Len() != 0 {
		t.Errorf("second writer received output: %q", second.String())
	}
	if !strings.Contains(first.String(), "visible after level change") {
		t.Errorf("level change did not apply, got: %q", first.String())
	}

	SetLogLevel(slog.LevelError)
	l1.Warn("hidden")
	if strings.Contains(first.String(), "hidden") {
		t.Error("SetLogLevel(error) did not suppress warn")
	}
}
