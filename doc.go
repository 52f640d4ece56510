// Package helmsman provides the session and leadership coordination layer of
// a cluster manager built on a strongly-consistent metadata store.
//
// Every process of a cluster holds one store session. Ephemeral records, watch
// registrations and the leadership record are bound to that session and vanish
// with it. Helmsman rebuilds all of this derived state whenever the store hands
// the process a new session, and it refuses stale commands issued to an
// identity that has since expired.
//
// # Quick Start
//
// Basic usage with the NATS JetStream KV store:
//
//	import "github.com/arloliu/helmsman"
//
//	store, err := natsstore.New(ctx, nc, natsstore.WithBucketPrefix("helmsman"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := helmsman.DefaultConfig()
//	cfg.ClusterName = "prod"
//	cfg.InstanceName = "node-1"
//	cfg.InstanceType = helmsman.InstanceControllerParticipant
//
//	mgr, err := helmsman.NewManager(&cfg, store,
//	    helmsman.WithStateModel(statemodel.OnlineOffline(handler)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Disconnect(context.Background())
//
// # Key Features
//
//   - Session handling: an ordered, idempotent rebuild of presence, messaging,
//     election, timers and subscriptions on every new session
//   - Leader election over an ephemeral leadership record with fail-over on
//     session loss
//   - Change dispatch with per-path ordering and session fencing
//   - Pluggable state models with per-entity serialized transitions
//   - Role-bound timer tasks (always, controller-only, participant-only)
//
// # Architecture
//
// The manager progresses through a state machine:
//
//	Init → Connecting → HandlingSession → Ready
//	Ready → SessionExpired → HandlingSession → Ready
//
// Failed is entered on a fatal error (store connect timeout, missing cluster
// layout); Shutdown is terminal. Any other failure while handling a session
// asks the store for a fresh session instead of retrying in place.
//
// See the examples/ directory for a complete working example.
package helmsman
