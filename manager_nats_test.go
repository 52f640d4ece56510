package helmsman_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman"
	"github.com/arloliu/helmsman/admin"
	"github.com/arloliu/helmsman/natsstore"
	"github.com/arloliu/helmsman/statemodel"
	helmsmantest "github.com/arloliu/helmsman/testing"
	"github.com/arloliu/helmsman/types"
)

// TestManager_NATS runs a controller-participant against JetStream KV: it
// takes leadership, applies a transition and survives a forced session reset.
func TestManager_NATS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	ns, nc := helmsmantest.StartEmbeddedNATS(t)
	logger := helmsmantest.NewTestLogger(t)

	store, err := natsstore.New(ctx, nc,
		natsstore.WithBucketPrefix("it"),
		natsstore.WithSessionTimeout(2*time.Second),
		natsstore.WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adm := admin.New(store, admin.WithLogger(logger))
	require.NoError(t, adm.SetupCluster(ctx, "orders"))

	var applied atomic.Int32
	handler := types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error {
		applied.Add(1)
		return nil
	})

	cfg := helmsman.TestConfig()
	cfg.ClusterName = "orders"
	cfg.InstanceName = "node-1"
	cfg.InstanceType = helmsman.InstanceControllerParticipant

	mgr, err := helmsman.NewManager(&cfg, store,
		helmsman.WithLogger(logger),
		helmsman.WithStateModel(statemodel.OnlineOffline(handler)),
	)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(ctx))
	t.Cleanup(func() { _ = mgr.Disconnect(context.Background()) })

	require.Eventually(t, func() bool { return mgr.IsLeader(ctx) }, 5*time.Second, 50*time.Millisecond)

	live, err := adm.LiveInstances(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"node-1"}, live)

	_, err = adm.SendTransition(ctx, "orders", "node-1", "db", "db_0",
		statemodel.OnlineOfflineName, statemodel.Offline, statemodel.Online)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		inst, ok := mgr.Instance("db", "db_0")
		return ok && inst.CurrentState == statemodel.Online
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, int32(1), applied.Load())

	// A second process observes the same cluster over its own connection.
	observerStore, err := natsstore.New(ctx, helmsmantest.Connect(t, ns), natsstore.WithBucketPrefix("it"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = observerStore.Close() })
	leader, err := admin.New(observerStore).LiveInstance(ctx, "orders", "node-1")
	require.NoError(t, err)
	require.Equal(t, mgr.SessionID(), leader.SessionID)

	first := mgr.SessionID()
	require.NoError(t, store.ResetSession(ctx))

	require.Eventually(t, func() bool {
		sid := mgr.SessionID()
		return mgr.State() == helmsman.StateReady && sid != "" && sid != first
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return mgr.IsLeader(ctx) }, 5*time.Second, 50*time.Millisecond)

	inst, ok := mgr.Instance("db", "db_0")
	require.True(t, ok)
	require.Equal(t, statemodel.Online, inst.CurrentState, "state carried across sessions")
}
