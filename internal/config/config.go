// Package config provides the configuration schema, loader, model resolution
// and engine registry for purr.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Engine selects the speech-to-text backend.
type Engine string

const (
	// EngineNative runs whisper.cpp in-process through cgo.
	EngineNative Engine = "native"

	// EngineServer posts audio to a whisper.cpp HTTP server.
	EngineServer Engine = "server"
)

// IsValid reports whether e is a recognised engine.
func (e Engine) IsValid() bool {
	return e == EngineNative || e == EngineServer
}

// RequiredSampleRate is the only sample rate the inference engines accept.
const RequiredSampleRate = 16000

// Config is the root configuration structure for purr.
type Config struct {
	LogLevel      LogLevel            `yaml:"log_level"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Decode        DecodeConfig        `yaml:"decode"`
	Server        ServerConfig        `yaml:"server"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// TranscriptionConfig holds the parameters of a transcription run. A
// Transcriber copies it at construction, so later changes do not affect runs
// in flight.
type TranscriptionConfig struct {
	// Engine selects the backend. Defaults to [EngineNative].
	Engine Engine `yaml:"engine"`

	// ModelPath is an explicit ggml model file. When empty the model is
	// resolved from ModelsDir; see [ResolveModel].
	ModelPath string `yaml:"model_path"`
	ModelsDir string `yaml:"models_dir"`

	// ServerURL is the whisper.cpp server base URL for [EngineServer].
	ServerURL string `yaml:"server_url"`

	// Breaker guards calls to the server engine.
	Breaker BreakerConfig `yaml:"breaker"`

	// Language is an ISO 639-1 code. Empty means auto-detect.
	Language  string `yaml:"language"`
	Translate bool   `yaml:"translate"`

	// UseGPU is passed to the native engine as a hint. The whisper.cpp Go
	// bindings have no GPU switch, so today it is only logged; the model
	// runs on whatever backend whisper.cpp was built with.
	UseGPU bool `yaml:"use_gpu"`

	// Threads is the inference thread count. Zero lets the engine decide.
	Threads int `yaml:"threads"`

	Temperature float32 `yaml:"temperature"`

	// SampleRate must be [RequiredSampleRate].
	SampleRate int `yaml:"sample_rate"`

	// MaxDuration limits how much source audio is decoded. Zero means no
	// limit.
	MaxDuration time.Duration `yaml:"max_duration"`

	InitialPrompt string `yaml:"initial_prompt"`

	// ChunkBuffer is the capacity of the queue between the streaming
	// producer and the inference consumer.
	ChunkBuffer int `yaml:"chunk_buffer"`

	Output OutputConfig `yaml:"output"`
}

// OutputConfig toggles optional detail in transcription results.
type OutputConfig struct {
	IncludeTimestamps bool `yaml:"include_timestamps"`
	WordTimestamps    bool `yaml:"word_timestamps"`
	IncludeConfidence bool `yaml:"include_confidence"`
}

// BreakerConfig tunes the circuit breaker in front of [EngineServer]. After
// MaxFailures consecutive failed inference calls, calls fail immediately
// until ResetTimeout has passed. Zero MaxFailures disables the breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DecodeConfig locates the external tools used for containers that are not
// decoded natively.
type DecodeConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given: greedy
// decoding at temperature 0, GPU requested, 16 kHz input and segment
// timestamps on.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Transcription: TranscriptionConfig{
			Engine:      EngineNative,
			UseGPU:      true,
			SampleRate:  RequiredSampleRate,
			ChunkBuffer: 4,
			Breaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
			Output: OutputConfig{
				IncludeTimestamps: true,
			},
		},
		Decode: DecodeConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "purr",
		},
	}
}
