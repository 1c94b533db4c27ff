package main

import (
	"io"
	"log/slog"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/MrWong99/echovox/internal/config"
)

// logLevel holds the active level. Text and JSON handlers read the LevelVar;
// the pretty handler keeps its own level and is updated alongside it.
type logLevel struct {
	v      slog.LevelVar
	pretty *charmlog.Logger
}

func (l *logLevel) set(level config.LogLevel) {
	lvl := slogLevel(level)
	l.v.Set(lvl)
	if l.pretty != nil {
		l.pretty.SetLevel(charmlog.Level(lvl))
	}
}

// newLogger builds the process logger for format, writing to w.
func newLogger(w io.Writer, format config.LogFormat, level config.LogLevel) (*slog.Logger, *logLevel) {
	lv := &logLevel{}
	lv.v.Set(slogLevel(level))

	var h slog.Handler
	switch format {
	case config.LogFormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &lv.v})
	case config.LogFormatPretty:
		cl := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           charmlog.Level(slogLevel(level)),
		})
		lv.pretty = cl
		h = cl
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: &lv.v})
	}
	return slog.New(h), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
