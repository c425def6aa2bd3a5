package oscipc

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// withAttrs returns a logger that adds args to every record.
// *slog.Logger uses its own With; other loggers get the args appended.
func withAttrs(l Logger, args ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(args...)
	}
	return &attrLogger{base: l, attrs: args}
}

type attrLogger struct {
	base  Logger
	attrs []any
}

func (l *attrLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

func (l *attrLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.merge(args)...) }
func (l *attrLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.merge(args)...) }
func (l *attrLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.merge(args)...) }
func (l *attrLogger) Error(msg string, args ...any) { l.base.Error(msg, l.merge(args)...) }
