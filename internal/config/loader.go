package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gaetschwartz/purr/pkg/types"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Errorf(types.KindConfiguration, "config.Load", "open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys that are absent keep their default values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.Errorf(types.KindConfiguration, "config.Load", "decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a Configuration error wrapping every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	t := &cfg.Transcription
	if t.Engine != "" && !t.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.engine %q is invalid; valid values: native, server", t.Engine))
	}
	if t.Engine == EngineServer && t.ServerURL == "" {
		errs = append(errs, errors.New("transcription.server_url is required when engine is server"))
	}
	if t.SampleRate != RequiredSampleRate {
		errs = append(errs, fmt.Errorf("transcription.sample_rate %d is unsupported; the engine requires %d", t.SampleRate, RequiredSampleRate))
	}
	if t.Threads < 0 {
		errs = append(errs, fmt.Errorf("transcription.threads %d must not be negative", t.Threads))
	}
	if t.Temperature < 0 || t.Temperature > 1 {
		errs = append(errs, fmt.Errorf("transcription.temperature %.2f is out of range [0, 1]", t.Temperature))
	}
	if t.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_duration %s must not be negative", t.MaxDuration))
	}
	if t.Breaker.MaxFailures < 0 || t.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.breaker values must not be negative: %+v", t.Breaker))
	}
	if t.ChunkBuffer < 1 {
		errs = append(errs, fmt.Errorf("transcription.chunk_buffer %d must be at least 1", t.ChunkBuffer))
	}
	if t.Language != "" && t.Language != "auto" && (len(t.Language) < 2 || strings.ToLower(t.Language) != t.Language) {
		errs = append(errs, fmt.Errorf("transcription.language %q is not a lower-case ISO 639-1 code", t.Language))
	}
	if t.Threads > runtime.NumCPU() {
		slog.Warn("transcription.threads exceeds available CPUs", "threads", t.Threads, "cpus", runtime.NumCPU())
	}
	if t.Engine == EngineServer && (t.ModelPath != "" || t.ModelsDir != "") {
		slog.Warn("model_path and models_dir are ignored when engine is server", "server_url", t.ServerURL)
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	if len(errs) == 0 {
		return nil
	}
	return &types.Error{Kind: types.KindConfiguration, Op: "config.Validate", Err: errors.Join(errs...)}
}
