package types

// State represents the manager's connection lifecycle state.
//
// Normal progression:
//
//	StateInit → StateConnecting → StateHandlingSession → StateReady
//
// On session loss and renewal:
//
//	StateReady → StateSessionExpired → StateHandlingSession → StateReady
//
// StateFailed is entered on a fatal error; StateShutdown is terminal.
type State int

const (
	// StateInit is the initial state before Connect.
	StateInit State = iota

	// StateConnecting indicates the manager is waiting for the first session.
	StateConnecting

	// StateHandlingSession indicates derived state is being rebuilt for a new session.
	StateHandlingSession

	// StateReady indicates all derived state is consistent with the current session.
	StateReady

	// StateSessionExpired indicates the session was lost and no new one is ready yet.
	StateSessionExpired

	// StateFailed indicates a fatal error; the process must reconnect from scratch.
	StateFailed

	// StateShutdown indicates Disconnect was called.
	StateShutdown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateConnecting:
		return "Connecting"
	case StateHandlingSession:
		return "HandlingSession"
	case StateReady:
		return "Ready"
	case StateSessionExpired:
		return "SessionExpired"
	case StateFailed:
		return "Failed"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// InstanceType is the role a process plays in the cluster.
type InstanceType string

const (
	// InstanceParticipant performs work and receives state-transition messages.
	InstanceParticipant InstanceType = "PARTICIPANT"

	// InstanceController only competes for leadership and drives the controller pipeline.
	InstanceController InstanceType = "CONTROLLER"

	// InstanceControllerParticipant is both a participant and a controller candidate.
	InstanceControllerParticipant InstanceType = "CONTROLLER_PARTICIPANT"
)

// IsParticipant reports whether the instance type registers presence and handles messages.
func (t InstanceType) IsParticipant() bool {
	return t == InstanceParticipant || t == InstanceControllerParticipant
}

// IsController reports whether the instance type competes for leadership.
func (t InstanceType) IsController() bool {
	return t == InstanceController || t == InstanceControllerParticipant
}

// Valid reports whether t is a known instance type.
func (t InstanceType) Valid() bool {
	switch t {
	case InstanceParticipant, InstanceController, InstanceControllerParticipant:
		return true
	default:
		return false
	}
}
