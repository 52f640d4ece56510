// Package statemachine drives state-model instances through the transitions
// requested by controller messages.
//
// The engine knows nothing about what an entity or a state means. Each
// resource type registers a types.StateModel: a table of legal (from, to)
// pairs plus a handler. Applying a message checks, in order:
//
//  1. the message targets the current session (otherwise ErrStaleMessage,
//     nothing changes and the handler is not invoked)
//  2. the (from, to) pair is legal for the model (otherwise ErrIllegalTransition)
//  3. the entity is in the declared from-state (otherwise ErrTransitionConflict)
//
// then runs the handler. Success records the to-state; an illegal pair, a
// conflict or a handler failure records ERROR for the entity. Nothing is
// retried: a corrective message must be issued by the controller.
//
// # Concurrency
//
// Transitions for the same entity never overlap: Apply holds a per-entity
// lock, and Submit hashes the entity key onto a fixed lane so queued messages
// for one entity run in arrival order. Different entities proceed in parallel.
package statemachine
