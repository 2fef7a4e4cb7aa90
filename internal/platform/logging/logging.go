// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Config selects the log level and handler.
type Config struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// New returns a logger writing to w. Format "json" selects the JSON handler, anything
// else the text handler. Unknown levels fall back to info.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel parses debug, info, warn or error; anything else is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}

	return l
}
