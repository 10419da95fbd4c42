package observe

import (
	"io"
	"log/slog"
	"sync"
)

var (
	installOnce sync.Once
	installed   *slog.Logger
	logLevel    slog.LevelVar
)

// ParseLevel maps a configured level name to an [slog.Level]. Unknown names
// map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InstallLogger builds a text logger writing to w and makes it the process
// default. Only the first call installs a logger; later calls adjust the
// level and return the logger already installed.
func InstallLogger(level slog.Level, w io.Writer) *slog.Logger {
	logLevel.Set(level)
	installOnce.Do(func() {
		installed = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &logLevel}))
		slog.SetDefault(installed)
	})
	return installed
}

// SetLogLevel changes the level of the installed logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
