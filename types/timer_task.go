package types

import "context"

// TaskRole binds a timer task to the role of the process.
type TaskRole int

const (
	// RoleAlways tasks run whenever a session is established.
	RoleAlways TaskRole = iota

	// RoleControllerOnly tasks run only while this process holds leadership.
	RoleControllerOnly

	// RoleParticipantOnly tasks run only on participant instance types.
	RoleParticipantOnly
)

// String returns the string representation of the role.
func (r TaskRole) String() string {
	switch r {
	case RoleAlways:
		return "always"
	case RoleControllerOnly:
		return "controller-only"
	case RoleParticipantOnly:
		return "participant-only"
	default:
		return "unknown"
	}
}

// TimerTask is a named periodic job.
//
// Start must return promptly after launching its background work; Stop must
// block until that work has finished. The context passed to Start is the
// session context and is cancelled when the session ends.
type TimerTask interface {
	Name() string
	Role() TaskRole
	Start(ctx context.Context) error
	Stop() error
}
