package types

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Well-known entity states shared by every state model.
const (
	// StateError marks an entity whose last transition conflicted or failed.
	StateError = "ERROR"

	// StateDropped removes the entity from the engine once reached.
	StateDropped = "DROPPED"
)

// Transition is a legal (from, to) pair in a state model.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// String returns "FROM-TO".
func (t Transition) String() string {
	return t.From + "-" + t.To
}

// TransitionRequest is handed to a TransitionHandler.
type TransitionRequest struct {
	Resource   string
	Partition  string
	StateModel string
	From       string
	To         string
	MessageID  string
	SessionID  string
}

// EntityKey returns the key identifying the request's target entity.
func (r TransitionRequest) EntityKey() string {
	return EntityKey(r.Resource, r.Partition)
}

// TransitionHandler executes the user-defined logic of a transition.
//
// The engine guarantees that calls for the same entity never overlap.
type TransitionHandler interface {
	OnTransition(ctx context.Context, req TransitionRequest) error
}

// TransitionHandlerFunc adapts a function to TransitionHandler.
type TransitionHandlerFunc func(ctx context.Context, req TransitionRequest) error

// OnTransition calls f(ctx, req).
func (f TransitionHandlerFunc) OnTransition(ctx context.Context, req TransitionRequest) error {
	return f(ctx, req)
}

// StateModel is a pluggable state machine definition for one resource type.
type StateModel struct {
	// Name identifies the model; messages reference it by name.
	Name string

	// InitialState is the state of an entity the engine has never seen.
	InitialState string

	// States lists the model's states. ERROR and DROPPED are implicit.
	// When empty, states are inferred from Transitions.
	States []string

	// Transitions is the table of legal (from, to) pairs.
	Transitions []Transition

	// Handler runs the transition logic.
	Handler TransitionHandler
}

// Allows reports whether (from, to) is a legal transition.
func (m StateModel) Allows(from, to string) bool {
	for _, t := range m.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}

	return false
}

// Validate checks that the model is usable by the engine.
//
// Returns:
//   - error: ErrInvalidStateModel (wrapped) describing the first problem found
func (m StateModel) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidStateModel)
	case m.InitialState == "":
		return fmt.Errorf("%w: %s has no initial state", ErrInvalidStateModel, m.Name)
	case m.Handler == nil:
		return fmt.Errorf("%w: %s has no handler", ErrInvalidStateModel, m.Name)
	case len(m.Transitions) == 0:
		return fmt.Errorf("%w: %s has no transitions", ErrInvalidStateModel, m.Name)
	}
	if len(m.States) == 0 {
		return nil
	}

	known := func(s string) bool {
		return s == StateError || s == StateDropped || slices.Contains(m.States, s)
	}
	if !known(m.InitialState) {
		return fmt.Errorf("%w: %s initial state %s is not a declared state", ErrInvalidStateModel, m.Name, m.InitialState)
	}
	for _, t := range m.Transitions {
		if !known(t.From) || !known(t.To) {
			return fmt.Errorf("%w: %s transition %s uses an undeclared state", ErrInvalidStateModel, m.Name, t)
		}
	}

	return nil
}

// Instance is one state-model instance (an entity such as a partition).
type Instance struct {
	Resource     string    `json:"resource"`
	Partition    string    `json:"partition"`
	StateModel   string    `json:"stateModel"`
	CurrentState string    `json:"currentState"`
	PendingState string    `json:"pendingState,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EntityKey returns the key identifying the instance.
func (i Instance) EntityKey() string {
	return EntityKey(i.Resource, i.Partition)
}

// TransitionResult reports the outcome of applying a message.
type TransitionResult struct {
	Message  Message
	Instance Instance
	Err      error
	Duration time.Duration
}
