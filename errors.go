package helmsman

import "github.com/arloliu/helmsman/types"

// Sentinel errors returned by the Manager.
//
// They are re-exported from the types package so callers can match them with
// errors.Is without importing internal packages.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrStoreRequired is returned when the metadata store is nil.
	ErrStoreRequired = types.ErrStoreRequired

	// ErrAlreadyStarted is returned when Connect is called on a connected manager.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Disconnect is called on a manager that isn't connected.
	ErrNotStarted = types.ErrNotStarted

	// ErrConnectTimeout is returned when the store does not connect in time. Fatal.
	ErrConnectTimeout = types.ErrConnectTimeout

	// ErrClusterNotSetup is returned when the cluster layout is missing. Fatal.
	ErrClusterNotSetup = types.ErrClusterNotSetup

	// ErrNoSession is returned when an operation needs a live session.
	ErrNoSession = types.ErrNoSession

	// ErrTeardownFailed wraps the failure of a prior-session tear-down step.
	ErrTeardownFailed = types.ErrTeardownFailed

	// ErrStaleMessage is returned for messages addressed to an expired session.
	ErrStaleMessage = types.ErrStaleMessage

	// ErrTransitionConflict is returned when a message's from-state is not the entity's state.
	ErrTransitionConflict = types.ErrTransitionConflict

	// ErrIllegalTransition is returned for transitions missing from the state model table.
	ErrIllegalTransition = types.ErrIllegalTransition

	// ErrTransitionFailed wraps a transition handler failure.
	ErrTransitionFailed = types.ErrTransitionFailed

	// ErrListenerFailed wraps a change listener failure.
	ErrListenerFailed = types.ErrListenerFailed

	// ErrInvalidStateModel is returned when registering an incomplete state model.
	ErrInvalidStateModel = types.ErrInvalidStateModel

	// ErrStateModelExists is returned when a state model name is registered twice.
	ErrStateModelExists = types.ErrStateModelExists

	// ErrTaskRunning is reported when a timer task is started twice.
	ErrTaskRunning = types.ErrTaskRunning
)

// IsFatal reports whether err must stop the session loop instead of being
// answered with a fresh session.
func IsFatal(err error) bool {
	return types.IsFatal(err)
}
