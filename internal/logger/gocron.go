package logger

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// gocronLogger forwards gocron's internal log lines to a slog logger.
type gocronLogger struct {
	log *slog.Logger
}

// NewGocronLogger returns a gocron.Logger backed by log.
//
//nolint:ireturn // gocron.WithLogger takes the interface
func NewGocronLogger(log *slog.Logger) gocron.Logger {
	if log == nil {
		log = slog.Default()
	}
	return &gocronLogger{log: log.With("component", "gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) {
	l.log.Debug(msg, pairArgs(args)...)
}

func (l *gocronLogger) Info(msg string, args ...any) {
	l.log.Info(msg, pairArgs(args)...)
}

func (l *gocronLogger) Warn(msg string, args ...any) {
	l.log.Warn(msg, pairArgs(args)...)
}

func (l *gocronLogger) Error(msg string, args ...any) {
	l.log.Error(msg, pairArgs(args)...)
}

// pairArgs turns gocron's loose argument list into slog key/value pairs.
// Non-string keys are stringified and a trailing lone value gets the key "value".
func pairArgs(args []any) []any {
	out := make([]any, 0, len(args))

	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out = append(out, "value", args[i])
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		out = append(out, key, args[i+1])
	}

	return out
}
