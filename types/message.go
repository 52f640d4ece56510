package types

import (
	"fmt"
	"time"
)

// MessageType classifies a Message.
type MessageType string

const (
	// MessageStateTransition asks the participant to move an entity between states.
	MessageStateTransition MessageType = "STATE_TRANSITION"

	// MessageNoOp is acknowledged and discarded.
	MessageNoOp MessageType = "NO_OP"
)

// Message is an immutable state-transition instruction issued by the controller.
type Message struct {
	// ID uniquely identifies the message; it is also its store key.
	ID string `json:"id"`

	// Type is the message type.
	Type MessageType `json:"type"`

	// Resource is the resource that owns the target entity.
	Resource string `json:"resource"`

	// Partition is the target entity within the resource.
	Partition string `json:"partition"`

	// StateModel names the state model governing the resource.
	StateModel string `json:"stateModel"`

	// FromState is the state the sender believes the entity is in.
	FromState string `json:"fromState"`

	// ToState is the requested state.
	ToState string `json:"toState"`

	// TargetSessionID is the participant session the message was issued for.
	TargetSessionID string `json:"targetSessionId"`

	// TargetInstance is the participant the message was issued to.
	TargetInstance string `json:"targetInstance"`

	// Source is the instance that issued the message.
	Source string `json:"source,omitempty"`

	// CreatedAt is the issue time.
	CreatedAt time.Time `json:"createdAt"`
}

// EntityKey returns the key identifying the message's target entity.
func (m Message) EntityKey() string {
	return EntityKey(m.Resource, m.Partition)
}

// Validate checks the fields required to apply a state transition.
//
// Returns:
//   - error: ErrInvalidMessage (wrapped) describing the first missing field
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.Type != MessageStateTransition {
		return nil
	}
	switch {
	case m.Resource == "":
		return fmt.Errorf("%w: message %s missing resource", ErrInvalidMessage, m.ID)
	case m.Partition == "":
		return fmt.Errorf("%w: message %s missing partition", ErrInvalidMessage, m.ID)
	case m.StateModel == "":
		return fmt.Errorf("%w: message %s missing state model", ErrInvalidMessage, m.ID)
	case m.FromState == "" || m.ToState == "":
		return fmt.Errorf("%w: message %s missing from/to state", ErrInvalidMessage, m.ID)
	}

	return nil
}

// EntityKey joins a resource and partition into an entity key.
func EntityKey(resource, partition string) string {
	return resource + "/" + partition
}
