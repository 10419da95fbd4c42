package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptionChanged is true if any field that affects new runs
	// changed, including the decode tools. Runs in flight keep the settings
	// they started with.
	TranscriptionChanged bool

	// EngineChanged is true if the engine must be rebuilt: the backend,
	// model location, server URL, breaker or GPU hint differ.
	EngineChanged bool

	// RestartRequired is true if a field changed that only takes effect on
	// process restart, such as the listen address.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Transcription != new.Transcription || old.Decode != new.Decode {
		d.TranscriptionChanged = true
	}
	d.EngineChanged = engineChanged(&old.Transcription, &new.Transcription)

	if old.Server != new.Server || old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}

	return d
}

func engineChanged(old, new *TranscriptionConfig) bool {
	return old.Engine != new.Engine ||
		old.ModelPath != new.ModelPath ||
		old.ModelsDir != new.ModelsDir ||
		old.ServerURL != new.ServerURL ||
		old.Breaker != new.Breaker ||
		old.UseGPU != new.UseGPU
}
