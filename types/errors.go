package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the helmsman library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// Components wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error taxonomy:
//   - Fatal/local: ErrConnectTimeout, ErrClusterNotSetup (never retried in place)
//   - Stale command: ErrStaleMessage (discarded silently)
//   - Transition conflict: ErrTransitionConflict, ErrIllegalTransition
//   - Listener/handler failure: ErrListenerFailed, ErrTransitionFailed
//   - Tear-down failure: ErrTeardownFailed (logged, never blocks a new session)

// Manager errors - Public API errors returned by the session coordinator.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreRequired is returned when no metadata store is supplied.
	ErrStoreRequired = errors.New("metadata store is required")

	// ErrAlreadyStarted is returned when Connect is called on a connected manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when operations require a connected manager.
	ErrNotStarted = errors.New("manager not started")

	// ErrConnectTimeout is returned when the store does not report a connection
	// within the configured bound. The caller must recreate the connection.
	ErrConnectTimeout = errors.New("timed out waiting for metadata store connection")

	// ErrClusterNotSetup is returned when the cluster metadata layout is missing.
	// This is an operator error and is never retried.
	ErrClusterNotSetup = errors.New("cluster structure is not set up")

	// ErrNoSession is returned when an operation needs a live session and none exists.
	ErrNoSession = errors.New("no active session")

	// ErrTeardownFailed wraps failures of individual prior-session tear-down steps.
	ErrTeardownFailed = errors.New("session tear-down step failed")
)

// Store errors - Returned by MetadataStore implementations.
var (
	// ErrNodeExists is returned by Create when the path already exists.
	ErrNodeExists = errors.New("node already exists")

	// ErrNodeNotFound is returned when the path does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidPath is returned for paths that cannot be mapped to store keys.
	ErrInvalidPath = errors.New("invalid path")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("metadata store closed")

	// ErrConnectivity indicates a store connectivity issue, as opposed to an
	// application error.
	ErrConnectivity = errors.New("connectivity issue")
)

// Dispatcher errors.
var (
	// ErrListenerRequired is returned when a subscription has no listener.
	ErrListenerRequired = errors.New("listener is required")

	// ErrListenerFailed wraps an error or panic raised by a change listener.
	ErrListenerFailed = errors.New("change listener failed")

	// ErrSubscriptionClosed is returned when arming a removed subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// State machine engine errors.
var (
	// ErrStaleMessage is returned for messages issued to an expired session.
	ErrStaleMessage = errors.New("message targets a stale session")

	// ErrTransitionConflict is returned when the entity's current state differs
	// from the message's declared from-state.
	ErrTransitionConflict = errors.New("transition conflict")

	// ErrIllegalTransition is returned when (from, to) is not in the state model table.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrTransitionFailed wraps a transition handler failure.
	ErrTransitionFailed = errors.New("transition handler failed")

	// ErrUnknownStateModel is returned when a message names an unregistered state model.
	ErrUnknownStateModel = errors.New("unknown state model")

	// ErrInvalidStateModel is returned when a state model definition is incomplete.
	ErrInvalidStateModel = errors.New("invalid state model")

	// ErrStateModelExists is returned when a state model name is registered twice.
	ErrStateModelExists = errors.New("state model already registered")

	// ErrInvalidMessage is returned for messages missing required fields.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrQueueFull is returned when an engine lane cannot accept more work.
	ErrQueueFull = errors.New("transition queue full")

	// ErrEngineStopped is returned when submitting to a stopped engine.
	ErrEngineStopped = errors.New("state machine engine stopped")
)

// Timer task errors.
var (
	// ErrTaskRunning is reported when starting a task that is already running.
	ErrTaskRunning = errors.New("timer task already running")

	// ErrTaskNotRunning is returned when stopping a task that is not running.
	ErrTaskNotRunning = errors.New("timer task not running")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrNoKeysFound is returned when the KV store has no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsFatal reports whether err belongs to the fatal/local category.
//
// Fatal errors propagate to the top-level caller uncaught; the process should be
// restarted or the cluster provisioned.
//
// Parameters:
//   - err: The error to classify
//
// Returns:
//   - bool: true for ErrConnectTimeout and ErrClusterNotSetup (wrapped or not)
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectTimeout) || errors.Is(err, ErrClusterNotSetup)
}

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
