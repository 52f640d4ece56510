package types

import "context"

// ChangeKind is the kind of store change a subscription is interested in.
type ChangeKind int

const (
	// ChildrenChanged fires when a direct child of the subscribed path is created or deleted.
	ChildrenChanged ChangeKind = iota

	// NodeCreated fires when the subscribed path itself is created.
	NodeCreated

	// NodeDeleted fires when the subscribed path itself is deleted or expires.
	NodeDeleted

	// DataChanged fires when the subscribed path or one of its direct children is rewritten.
	DataChanged
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChildrenChanged:
		return "ChildrenChanged"
	case NodeCreated:
		return "NodeCreated"
	case NodeDeleted:
		return "NodeDeleted"
	case DataChanged:
		return "DataChanged"
	default:
		return "Unknown"
	}
}

// AllChangeKinds subscribes to every kind of change.
var AllChangeKinds = []ChangeKind{ChildrenChanged, NodeCreated, NodeDeleted, DataChanged}

// CallbackType tells a listener why it is being invoked.
type CallbackType int

const (
	// CallbackInit is delivered once after a subscription is armed for a session.
	CallbackInit CallbackType = iota

	// CallbackChange is delivered for each matching store change.
	CallbackChange

	// CallbackFinalize is delivered once when the subscription is disarmed.
	CallbackFinalize
)

// String returns the string representation of the callback type.
func (c CallbackType) String() string {
	switch c {
	case CallbackInit:
		return "Init"
	case CallbackChange:
		return "Callback"
	case CallbackFinalize:
		return "Finalize"
	default:
		return "Unknown"
	}
}

// ChangeType names the kind of metadata a subscription watches.
type ChangeType string

// Change types used by the built-in subscriptions.
const (
	ChangeTypeLiveInstance ChangeType = "LIVE_INSTANCE"
	ChangeTypeIdealState   ChangeType = "IDEAL_STATE"
	ChangeTypeConfig       ChangeType = "CONFIG"
	ChangeTypeCurrentState ChangeType = "CURRENT_STATE"
	ChangeTypeMessage      ChangeType = "MESSAGE"
	ChangeTypeController   ChangeType = "CONTROLLER"
	ChangeTypeExternalView ChangeType = "EXTERNAL_VIEW"
	ChangeTypeCustom       ChangeType = "CUSTOM"
)

// Owner tags who registered a subscription.
//
// Internally-owned subscriptions are re-created by their owner on every new
// session; only OwnerExternal subscriptions are re-armed by the coordinator.
type Owner int

const (
	// OwnerExternal marks subscriptions registered through the public API.
	OwnerExternal Owner = iota

	// OwnerMessaging marks the message executor's subscription.
	OwnerMessaging

	// OwnerElection marks the leader elector's subscription.
	OwnerElection

	// OwnerController marks controller pipeline subscriptions.
	OwnerController
)

// String returns the string representation of the owner.
func (o Owner) String() string {
	switch o {
	case OwnerExternal:
		return "external"
	case OwnerMessaging:
		return "messaging"
	case OwnerElection:
		return "election"
	case OwnerController:
		return "controller"
	default:
		return "unknown"
	}
}

// Internal reports whether the owner re-registers its own subscriptions.
func (o Owner) Internal() bool {
	return o != OwnerExternal
}

// ChangeEvent is a change notification delivered to a listener.
type ChangeEvent struct {
	// Type is the callback reason (init, change, finalize).
	Type CallbackType

	// Kind is the change kind; meaningful only for CallbackChange.
	Kind ChangeKind

	// ChangeType is the subscription's change type.
	ChangeType ChangeType

	// SubscribedPath is the path the subscription was registered on.
	SubscribedPath string

	// Path is the path that changed (the subscribed path or a direct child).
	Path string

	// Value is the new payload for creates and data changes.
	Value []byte

	// SessionID is the session the subscription was armed for.
	SessionID string
}

// ChangeListener handles change notifications.
type ChangeListener interface {
	// OnChange handles one notification. Returned errors are logged and
	// isolated to this listener.
	OnChange(ctx context.Context, event ChangeEvent) error
}

// ChangeListenerFunc adapts a function to ChangeListener.
type ChangeListenerFunc func(ctx context.Context, event ChangeEvent) error

// OnChange calls f(ctx, event).
func (f ChangeListenerFunc) OnChange(ctx context.Context, event ChangeEvent) error {
	return f(ctx, event)
}

// ControllerPipeline is the opaque decision pipeline driven by the elected controller.
//
// It is registered as a listener on the live-instance, ideal-state and config
// subtrees while this process holds leadership.
type ControllerPipeline interface {
	ChangeListener
}

// PreConnectCallback is invoked after a new session is established and before
// the presence record is created.
type PreConnectCallback func(ctx context.Context) error
