// Command purr transcribes audio files with whisper.cpp.
//
//	purr [flags] <audio-file>      transcribe one file and print the text
//	purr -stream [flags] <file>    print each 10 s chunk as it is transcribed
//	purr -serve [flags]            serve the HTTP API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/internal/health"
	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/internal/resilience"
	"github.com/gaetschwartz/purr/internal/server"
	"github.com/gaetschwartz/purr/internal/transcribe"
	"github.com/gaetschwartz/purr/pkg/audio/decode"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is read when present and no -config flag is given.
const defaultConfigPath = "purr.yaml"

type flags struct {
	configPath string
	stream     bool
	serve      bool
	language   string
	threads    int
	model      string
	words      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to the YAML configuration file (default "+defaultConfigPath+" if present)")
	flag.BoolVar(&f.stream, "stream", false, "transcribe in 10 second chunks and print each as it completes")
	flag.BoolVar(&f.serve, "serve", false, "serve the HTTP API instead of transcribing a file")
	flag.StringVar(&f.language, "language", "", "language code, or auto to detect (overrides config)")
	flag.IntVar(&f.threads, "threads", 0, "inference threads (overrides config)")
	flag.StringVar(&f.model, "model", "", "path to a ggml model file (overrides config)")
	flag.BoolVar(&f.words, "words", false, "print word-level timestamps")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: purr [flags] <audio-file>\n       purr -serve [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if f.serve == (flag.NArg() == 1) || flag.NArg() > 1 {
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(&f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purr: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := observe.InstallLogger(observe.ParseLevel(string(cfg.LogLevel)), os.Stderr)
	logger.Debug("purr starting", "version", version, "engine", cfg.Transcription.Engine, "language", cfg.Transcription.Language)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	mp, shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerEngines(reg)

	engine, err := reg.Create(cfg.Transcription)
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		return 1
	}

	newTranscriber := func(c *config.Config, e stt.Engine) *transcribe.Transcriber {
		return transcribe.New(e, c.Transcription,
			transcribe.WithMetrics(metrics),
			transcribe.WithDecodeOptions(decode.WithFFmpeg(c.Decode.FFmpegPath, c.Decode.FFprobePath)),
		)
	}
	tr := newTranscriber(cfg, engine)

	if f.serve {
		// serve closes every engine it runs on, this one included.
		return serve(ctx, &f, cfg, reg, tr, newTranscriber, metrics)
	}
	defer closeEngine(engine)

	// ── Transcribe ────────────────────────────────────────────────────────────
	path := flag.Arg(0)
	if f.stream {
		err = streamFile(ctx, os.Stdout, tr, path)
	} else {
		err = batchFile(ctx, os.Stdout, tr, path)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "purr: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the configured or default config file, applies flag
// overrides and validates the result.
func loadConfig(f *flags) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found", path)
			}
			return nil, err
		}
		f.configPath = path
	}

	if f.language != "" {
		cfg.Transcription.Language = f.language
	}
	if f.threads > 0 {
		cfg.Transcription.Threads = f.threads
	}
	if f.model != "" {
		cfg.Transcription.ModelPath = f.model
	}
	if f.words {
		cfg.Transcription.Output.WordTimestamps = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

func registerEngines(reg *config.Registry) {
	reg.Register(config.EngineNative, func(t config.TranscriptionConfig) (stt.Engine, error) {
		modelPath, err := config.ResolveModel(t)
		if err != nil {
			return nil, err
		}
		slog.Info("loading whisper model", "path", modelPath, "gpu", t.UseGPU)
		return whisper.NewNative(modelPath, whisper.WithGPU(t.UseGPU))
	})

	reg.Register(config.EngineServer, func(t config.TranscriptionConfig) (stt.Engine, error) {
		slog.Info("using whisper server", "url", t.ServerURL)
		srv, err := whisper.NewServer(t.ServerURL)
		if err != nil {
			return nil, err
		}
		if t.Breaker.MaxFailures == 0 {
			return srv, nil
		}
		return resilience.WrapEngine(srv, resilience.Config{
			Name:         "whisper-server",
			MaxFailures:  t.Breaker.MaxFailures,
			ResetTimeout: t.Breaker.ResetTimeout,
		}), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered engine", "name", name)
	}
}

func closeEngine(e stt.Engine) {
	if err := e.Close(); err != nil {
		slog.Warn("engine close error", "err", err)
	}
}

// ── Serve ─────────────────────────────────────────────────────────────────────

// engineRefs counts the transcribers built on each engine. An engine is
// closed when the last transcriber on it is retired.
type engineRefs struct {
	mu   sync.Mutex
	refs map[stt.Engine]int
}

func newEngineRefs() *engineRefs {
	return &engineRefs{refs: make(map[stt.Engine]int)}
}

func (r *engineRefs) add(e stt.Engine) {
	r.mu.Lock()
	r.refs[e]++
	r.mu.Unlock()
}

func (r *engineRefs) release(e stt.Engine) {
	r.mu.Lock()
	if _, ok := r.refs[e]; !ok {
		// Already closed by closeAll.
		r.mu.Unlock()
		return
	}
	r.refs[e]--
	last := r.refs[e] == 0
	if last {
		delete(r.refs, e)
	}
	r.mu.Unlock()
	if last {
		slog.Info("closing replaced engine")
		closeEngine(e)
	}
}

func (r *engineRefs) closeAll() {
	r.mu.Lock()
	engines := make([]stt.Engine, 0, len(r.refs))
	for e := range r.refs {
		engines = append(engines, e)
	}
	clear(r.refs)
	r.mu.Unlock()
	for _, e := range engines {
		closeEngine(e)
	}
}

func serve(
	ctx context.Context,
	f *flags,
	cfg *config.Config,
	reg *config.Registry,
	tr *transcribe.Transcriber,
	newTranscriber func(*config.Config, stt.Engine) *transcribe.Transcriber,
	metrics *observe.Metrics,
) int {
	engines := newEngineRefs()
	engines.add(tr.Engine())
	defer engines.closeAll()

	var srv *server.Server
	checks := []health.Checker{
		health.CurrentEngineCheck("engine", func() stt.Engine { return srv.Transcriber().Engine() }),
	}
	if cfg.Transcription.Engine == config.EngineNative {
		if p, err := config.ResolveModel(cfg.Transcription); err == nil {
			checks = append(checks, health.FileCheck("model", p))
		}
	}
	checks = append(checks, health.BinaryCheck("ffmpeg", cfg.Decode.FFmpegPath))

	srv = server.New(tr,
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checks...)),
		server.WithRetired(func(old *transcribe.Transcriber) { engines.release(old.Engine()) }),
	)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if f.configPath != "" {
		w, err := config.NewWatcher(f.configPath)
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		go w.Run(ctx, func(r config.Reload) {
			d := r.Diff
			if d.LogLevelChanged {
				observe.SetLogLevel(observe.ParseLevel(string(d.NewLogLevel)))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.RestartRequired {
				slog.Warn("config change to server or telemetry settings needs a restart")
			}
			if !d.TranscriptionChanged {
				return
			}
			current := srv.Transcriber().Engine()
			if d.EngineChanged {
				e, err := reg.Create(r.New.Transcription)
				if err != nil {
					slog.Error("keeping previous engine, new one failed to load", "err", err)
					return
				}
				current = e
			}
			engines.add(current)
			srv.SetTranscriber(newTranscriber(r.New, current))
			slog.Info("transcription settings reloaded", "engine_changed", d.EngineChanged)
		})
	}

	slog.Info("purr server ready", "addr", cfg.Server.ListenAddr, "version", version)
	if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Transcription output ──────────────────────────────────────────────────────

func batchFile(ctx context.Context, w io.Writer, tr *transcribe.Transcriber, path string) error {
	res, err := tr.Batch(ctx, path)
	if err != nil {
		return err
	}
	writeSegments(w, res.Segments, tr.Config().Output)
	slog.Info("transcription complete",
		"language", res.Language,
		"audio_duration", res.AudioDuration,
		"processing_time", res.ProcessingTime,
	)
	return nil
}

func streamFile(ctx context.Context, w io.Writer, tr *transcribe.Transcriber, path string) error {
	s, err := tr.Stream(ctx, path)
	if err != nil {
		return err
	}
	out := tr.Config().Output
	for c, err := range s.All() {
		if err != nil {
			return err
		}
		writeSegments(w, c.Segments, out)
		if st := c.FinalStats; st != nil {
			writeStats(os.Stderr, st)
		}
	}
	return nil
}
