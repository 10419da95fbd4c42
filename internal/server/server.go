// Package server exposes transcription over HTTP.
//
// Routes:
//
//	POST /v1/transcriptions         batch transcription, JSON response
//	GET  /v1/transcriptions/stream  streaming transcription over a WebSocket
//	GET  /healthz, /readyz          health checks, see package health
//	GET  /metrics                   Prometheus exposition
//
// Audio is named by a path on the server's filesystem or uploaded as the
// "file" field of a multipart form.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaetschwartz/purr/internal/health"
	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/internal/transcribe"
)

// defaultMaxUpload caps multipart uploads at 512 MiB.
const defaultMaxUpload = 512 << 20

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth sets the health handler. The default has no readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithGatherer serves /metrics from g instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRetired sets a function called once for every transcriber that was
// replaced by [Server.SetTranscriber] and has no request left running on it.
func WithRetired(fn func(*transcribe.Transcriber)) Option {
	return func(s *Server) { s.retired = fn }
}

// WithMaxUpload bounds the size of uploaded audio.
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// Server routes HTTP requests to a [transcribe.Transcriber]. The transcriber
// can be swapped while serving; in-flight requests finish on the old one.
type Server struct {
	mu  sync.Mutex
	gen *generation

	retired   func(*transcribe.Transcriber)
	metrics   *observe.Metrics
	health    *health.Handler
	gatherer  prometheus.Gatherer
	maxUpload int64
}

// New returns a Server backed by tr.
func New(tr *transcribe.Transcriber, opts ...Option) *Server {
	s := &Server{maxUpload: defaultMaxUpload, gen: &generation{tr: tr}}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s
}

// generation is a transcriber and the requests still running on it.
type generation struct {
	tr       *transcribe.Transcriber
	requests int
	replaced bool
}

// SetTranscriber replaces the transcriber used for new requests. The old one
// is handed to the [WithRetired] function once its last request returns.
func (s *Server) SetTranscriber(tr *transcribe.Transcriber) {
	s.mu.Lock()
	old := s.gen
	old.replaced = true
	s.gen = &generation{tr: tr}
	idle := old.requests == 0
	s.mu.Unlock()
	if idle {
		s.retire(old.tr)
	}
}

// Transcriber returns the transcriber used for new requests.
func (s *Server) Transcriber() *transcribe.Transcriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.tr
}

// acquire returns the current transcriber and a function to call when the
// request using it is done.
func (s *Server) acquire() (*transcribe.Transcriber, func()) {
	s.mu.Lock()
	g := s.gen
	g.requests++
	s.mu.Unlock()

	var once sync.Once
	return g.tr, func() {
		once.Do(func() {
			s.mu.Lock()
			g.requests--
			idle := g.replaced && g.requests == 0
			s.mu.Unlock()
			if idle {
				s.retire(g.tr)
			}
		})
	}
}

func (s *Server) retire(tr *transcribe.Transcriber) {
	if s.retired != nil {
		s.retired(tr)
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcriptions", s.handleBatch)
	mux.HandleFunc("GET /v1/transcriptions/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, giving in-flight requests up to 15 seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
