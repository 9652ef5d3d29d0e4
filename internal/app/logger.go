package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the portal logger. Format and level come from
// configuration; source locations are attached only outside production,
// where the extra cost is acceptable.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg == nil || !cfg.IsProduction(),
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
