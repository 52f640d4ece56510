package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/types"
)

func TestNopLogger(t *testing.T) {
	logger := NewNop()

	var _ types.Logger = logger

	require.NotPanics(t, func() {
		logger.Debug("test message", "key", "value")
		logger.Info("test message", "key", "value")
		logger.Warn("test message", "key", "value")
		logger.Error("test message", "key", "value")
		logger.Fatal("test message", "key", "value") // must not exit
	})
}

func TestOrNop(t *testing.T) {
	require.IsType(t, &NopLogger{}, OrNop(nil))

	slogger := NewSlog(nil)
	require.Same(t, slogger, OrNop(slogger))
}

func TestFormatKeyValues(t *testing.T) {
	require.Empty(t, formatKeyValues(nil))
	require.Equal(t, "a=1 b=two", formatKeyValues([]any{"a", 1, "b", "two"}))
	require.Equal(t, "a=1 dangling=<missing>", formatKeyValues([]any{"a", 1, "dangling"}))
}

func TestTestLogger(t *testing.T) {
	logger := NewTest(t)

	require.NotPanics(t, func() {
		logger.Debug("debug", "session_id", "s-1")
		logger.Info("info")
		logger.Warn("warn", "path", "/c/LIVEINSTANCES")
		logger.Error("error", "err", "boom")
	})
}
