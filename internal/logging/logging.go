package logging

import (
	"log/slog"
	"os"
)

// Init configures the default logger for interactive use. Only errors are
// shown unless LOG_LEVEL asks for more.
func Init() {
	InitWithDefault(slog.LevelError)
}

// InitWithDefault configures the default logger from LOG_LEVEL, falling back
// to level when the variable is unset or unknown.
func InitWithDefault(level slog.Level) {
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, level)
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL value onto a slog level.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch s {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}
