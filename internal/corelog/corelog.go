// Package corelog provides structured logging for the hybrid search core.
// Every logger is tagged with the component that produced it; where log
// records end up is the embedding process's concern, not ours.
package corelog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Component returns a logger tagged with the given component name.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// Setup installs a text handler writing to w at the given level as the
// process default. Intended for the embedding process's bootstrap; library
// code only ever calls Component.
func Setup(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel maps a config string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
