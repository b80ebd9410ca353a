package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/Zereker/framesock"
)

// newLogger builds the logger selected by format: "text" and "json" use slog
// handlers, "console" uses a zerolog console writer.
func newLogger(w io.Writer, format, level string) (framesock.Logger, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	level = strings.ToLower(strings.TrimSpace(level))

	switch format {
	case "", "text", "json":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}

		opts := &slog.HandlerOptions{Level: lvl}
		if format == "json" {
			return slog.New(slog.NewJSONHandler(w, opts)), nil
		}
		return slog.New(slog.NewTextHandler(w, opts)), nil

	case "console":
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}

		output := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(w),
		}
		return zerologLogger{l: zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "framesock").Logger()}, nil

	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// zerologLogger adapts a zerolog.Logger to framesock.Logger.
type zerologLogger struct {
	l zerolog.Logger
}

func (z zerologLogger) Debug(msg string, args ...any) {
	z.l.Debug().Fields(args).Msg(msg)
}

func (z zerologLogger) Info(msg string, args ...any) {
	z.l.Info().Fields(args).Msg(msg)
}

func (z zerologLogger) Warn(msg string, args ...any) {
	z.l.Warn().Fields(args).Msg(msg)
}

func (z zerologLogger) Error(msg string, args ...any) {
	z.l.Error().Fields(args).Msg(msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
