package testing

import (
	"testing"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/types"
)

// NewTestLogger creates a logger that writes through tb.Logf, so log output
// is attached to the test that produced it.
func NewTestLogger(tb testing.TB) types.Logger {
	return logging.NewTest(tb)
}
