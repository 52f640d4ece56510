// Package natsutil classifies NATS and JetStream errors into helmsman sentinels.
package natsutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helmsman/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// A store whose operations keep failing with connectivity errors for longer
// than the session timeout has lost its session.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// Classify maps a JetStream KV error for path onto the store sentinels.
//
// Parameters:
//   - op: Operation name used as error context ("create", "get", ...)
//   - path: Store path the operation addressed
//   - err: Error returned by the KV API
//
// Returns:
//   - error: nil for nil; ErrNodeExists, ErrNodeNotFound or ErrConnectivity
//     wrapped with the original error when recognized; the original error
//     wrapped with context otherwise
func Classify(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyExists):
		return fmt.Errorf("%s %s: %w: %w", op, path, types.ErrNodeExists, err)
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return fmt.Errorf("%s %s: %w: %w", op, path, types.ErrNodeNotFound, err)
	case IsConnectivityError(err):
		return fmt.Errorf("%s %s: %w: %w", op, path, types.ErrConnectivity, err)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}
