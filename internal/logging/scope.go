package logging

import (
	"slices"

	"github.com/arloliu/helmsman/types"
)

// fieldBinder is implemented by loggers that bind fields natively.
type fieldBinder interface {
	With(keysAndValues ...any) types.Logger
}

// With returns logger with keysAndValues attached to every entry.
//
// Loggers with a native With (SlogLogger) bind the fields themselves; any
// other Logger is wrapped so the fields are prepended to each call. A nil
// logger yields a NopLogger.
//
// Parameters:
//   - logger: Base logger (may be nil)
//   - keysAndValues: Alternating keys and values to bind
//
// Returns:
//   - types.Logger: The scoped logger
func With(logger types.Logger, keysAndValues ...any) types.Logger {
	logger = OrNop(logger)
	if len(keysAndValues) == 0 {
		return logger
	}

	switch l := logger.(type) {
	case *NopLogger:
		return l
	case fieldBinder:
		return l.With(keysAndValues...)
	case *fieldLogger:
		return &fieldLogger{next: l.next, fields: slices.Concat(l.fields, keysAndValues)}
	default:
		return &fieldLogger{next: logger, fields: slices.Clone(keysAndValues)}
	}
}

// Component scopes logger to one named component of the manager.
func Component(logger types.Logger, name string) types.Logger {
	return With(logger, "component", name)
}

type fieldLogger struct {
	next   types.Logger
	fields []any
}

func (f *fieldLogger) Debug(msg string, keysAndValues ...any) {
	f.next.Debug(msg, slices.Concat(f.fields, keysAndValues)...)
}

func (f *fieldLogger) Info(msg string, keysAndValues ...any) {
	f.next.Info(msg, slices.Concat(f.fields, keysAndValues)...)
}

func (f *fieldLogger) Warn(msg string, keysAndValues ...any) {
	f.next.Warn(msg, slices.Concat(f.fields, keysAndValues)...)
}

func (f *fieldLogger) Error(msg string, keysAndValues ...any) {
	f.next.Error(msg, slices.Concat(f.fields, keysAndValues)...)
}

func (f *fieldLogger) Fatal(msg string, keysAndValues ...any) {
	f.next.Fatal(msg, slices.Concat(f.fields, keysAndValues)...)
}
