package types

import "context"

// Hooks defines callbacks for Manager lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block session handling. Hooks receive the manager's lifecycle
// context which is cancelled during shutdown.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Disconnect() returns
//   - Hook errors are logged but don't fail manager operations
//   - Hooks may be called more than once for the same logical event
//
// Example:
//
//	hooks := &helmsman.Hooks{
//	    OnLeadershipChanged: func(ctx context.Context, leader bool) error {
//	        if leader {
//	            log.Println("became controller")
//	        }
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the manager state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnLeadershipChanged is called when this process gains or loses leadership.
	OnLeadershipChanged func(ctx context.Context, leader bool) error

	// OnTransition is called after an entity transition was applied successfully.
	OnTransition func(ctx context.Context, entity, from, to string) error

	// OnError is called when an error is contained instead of propagated, and
	// when a fatal error stops the session loop.
	OnError func(ctx context.Context, err error) error
}
