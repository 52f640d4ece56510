package types

import (
	"context"
	"time"
)

// CreateMode selects the lifetime of a store entry.
type CreateMode int

const (
	// Persistent entries live until explicitly deleted.
	Persistent CreateMode = iota

	// Ephemeral entries are bound to the session that wrote them and vanish
	// when that session ends.
	Ephemeral
)

// String returns the string representation of the create mode.
func (m CreateMode) String() string {
	if m == Ephemeral {
		return "ephemeral"
	}

	return "persistent"
}

// Entry is a single store record.
type Entry struct {
	// Path is the hierarchical path of the entry ("/cluster/LIVEINSTANCES/node-1").
	Path string

	// Value is the raw payload.
	Value []byte

	// Revision is the store revision of the last write.
	Revision uint64

	// Mode reports whether the entry is ephemeral.
	Mode CreateMode
}

// StoreOp is the kind of raw store mutation reported by a watcher.
type StoreOp int

const (
	// OpPut reports a create or update.
	OpPut StoreOp = iota

	// OpDelete reports an explicit delete or an ephemeral expiry.
	OpDelete
)

// String returns the string representation of the operation.
func (o StoreOp) String() string {
	if o == OpDelete {
		return "delete"
	}

	return "put"
}

// StoreEvent is a raw mutation delivered by a StoreWatcher.
type StoreEvent struct {
	Path     string
	Op       StoreOp
	Value    []byte
	Revision uint64
}

// StoreWatcher streams mutations for a path and its descendants.
//
// The Updates channel first replays the current entries, then delivers a nil
// marker, then live mutations. Mutations of a single path arrive in write order.
type StoreWatcher interface {
	// Updates returns the event channel. It is closed after Stop.
	Updates() <-chan *StoreEvent

	// Stop releases the watch registration.
	Stop() error
}

// SessionEventType enumerates session lifecycle signals.
type SessionEventType int

const (
	// SessionEstablished signals that a new session is live.
	SessionEstablished SessionEventType = iota

	// SessionExpired signals that the session (and its ephemerals) is gone.
	SessionExpired

	// Disconnected signals a connection drop that has not yet expired the session.
	Disconnected

	// Reconnected signals the connection came back within the session timeout.
	Reconnected
)

// String returns the string representation of the session event type.
func (t SessionEventType) String() string {
	switch t {
	case SessionEstablished:
		return "SessionEstablished"
	case SessionExpired:
		return "SessionExpired"
	case Disconnected:
		return "Disconnected"
	case Reconnected:
		return "Reconnected"
	default:
		return "Unknown"
	}
}

// SessionEvent is a session lifecycle notification from the store.
type SessionEvent struct {
	Type      SessionEventType
	SessionID string
}

// MetadataStore is the narrow view of the external strongly-consistent store.
//
// Implementations must provide linearizable writes, atomic create-if-absent,
// session-bound ephemeral entries, and per-key ordered change notification.
// Paths are "/"-separated; the leading "/" is optional.
type MetadataStore interface {
	// WaitUntilConnected blocks until the store reports a live connection and
	// session, or returns ErrConnectTimeout once timeout elapses.
	WaitUntilConnected(ctx context.Context, timeout time.Duration) error

	// SessionID returns the current session id ("" if none).
	SessionID() string

	// SessionEvents returns the session lifecycle event stream.
	SessionEvents() <-chan SessionEvent

	// Create atomically creates path; ErrNodeExists if present.
	Create(ctx context.Context, path string, value []byte, mode CreateMode) (uint64, error)

	// Put creates or overwrites path.
	Put(ctx context.Context, path string, value []byte, mode CreateMode) (uint64, error)

	// Get reads path; ErrNodeNotFound if absent.
	Get(ctx context.Context, path string) (*Entry, error)

	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error

	// Children lists the sorted names of the direct children of path.
	Children(ctx context.Context, path string) ([]string, error)

	// Watch streams mutations of path and its descendants. The watch ends
	// when ctx is done or the watcher is stopped.
	Watch(ctx context.Context, path string) (StoreWatcher, error)

	// ResetSession voluntarily ends the current session, removing its
	// ephemeral entries, and opens a fresh one.
	ResetSession(ctx context.Context) error

	// Close ends the session and releases resources.
	Close() error
}
