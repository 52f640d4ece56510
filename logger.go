package helmsman

import (
	"log/slog"

	"github.com/arloliu/helmsman/internal/logging"
)

// NewSlogLogger adapts a slog.Logger to Logger. A nil logger uses
// slog.Default().
//
// Every component of a Manager logs through it with a "component" field
// (election, dispatcher, statemachine, ...) bound.
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}
