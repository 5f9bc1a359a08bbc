package conversation

import (
	"context"
	"log/slog"

	"popoutchat/internal/domain"
)

// SlogDiagnostics forwards diagnostics to a slog.Logger. When Debug is false
// only warnings and errors get through, which mirrors the widget's debug
// switch.
type SlogDiagnostics struct {
	Logger *slog.Logger
	Debug  bool
}

func (d SlogDiagnostics) Log(message string, level domain.LogLevel) {
	if d.Logger == nil {
		return
	}
	lvl := slogLevel(level)
	if !d.Debug && lvl < slog.LevelWarn {
		return
	}
	d.Logger.Log(context.Background(), lvl, message, "component", "conversation")
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LevelDebug:
		return slog.LevelDebug
	case domain.LevelWarn:
		return slog.LevelWarn
	case domain.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
