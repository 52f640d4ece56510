package election

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/dispatcher"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/memstore"
	"github.com/arloliu/helmsman/types"
)

type candidate struct {
	client   *memstore.Client
	disp     *dispatcher.Dispatcher
	elector  *Elector
	acquired atomic.Int32
	lost     atomic.Int32
}

func newCandidate(t *testing.T, backend *memstore.Backend, instance string) *candidate {
	t.Helper()

	c := &candidate{client: backend.NewClient()}
	t.Cleanup(func() { _ = c.client.Close() })

	logger := logging.NewTest(t)
	c.disp = dispatcher.New(c.client, dispatcher.WithLogger(logger))
	c.disp.Activate(t.Context(), c.client.SessionID())
	c.elector = New(c.client, c.disp,
		Config{Cluster: "c", Instance: instance, RetryInterval: 50 * time.Millisecond},
		WithLogger(logger),
		WithOnAcquired(func(context.Context) error { c.acquired.Add(1); return nil }),
		WithOnLost(func(context.Context) error { c.lost.Add(1); return nil }),
	)

	return c
}

func TestElector_SingleCandidateAcquires(t *testing.T) {
	ctx := t.Context()
	c := newCandidate(t, memstore.NewBackend(), "node-1")

	require.False(t, c.elector.IsLeader(ctx))
	require.NoError(t, c.elector.Init(ctx))
	require.NoError(t, c.elector.Init(ctx), "Init is idempotent while running")

	require.Eventually(t, func() bool { return c.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.acquired.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.True(t, c.elector.Holding())

	rec, err := c.elector.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-1", rec.InstanceName)
	require.Equal(t, c.client.SessionID(), rec.SessionID)

	entry, err := c.client.Get(ctx, "/c/CONTROLLER/LEADER")
	require.NoError(t, err)
	require.Equal(t, types.Ephemeral, entry.Mode)
}

func TestElector_ExactlyOneLeader(t *testing.T) {
	ctx := t.Context()
	backend := memstore.NewBackend()

	candidates := []*candidate{
		newCandidate(t, backend, "node-1"),
		newCandidate(t, backend, "node-2"),
		newCandidate(t, backend, "node-3"),
	}
	for _, c := range candidates {
		require.NoError(t, c.elector.Init(ctx))
	}

	countLeaders := func() int {
		n := 0
		for _, c := range candidates {
			if c.elector.IsLeader(ctx) {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool { return countLeaders() == 1 }, 2*time.Second, 10*time.Millisecond)

	var total int32
	for _, c := range candidates {
		total += c.acquired.Load()
	}
	require.Equal(t, int32(1), total)
}

func TestElector_FailoverOnSessionExpiry(t *testing.T) {
	ctx := t.Context()
	backend := memstore.NewBackend()

	first := newCandidate(t, backend, "node-1")
	require.NoError(t, first.elector.Init(ctx))
	require.Eventually(t, func() bool { return first.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)

	second := newCandidate(t, backend, "node-2")
	require.NoError(t, second.elector.Init(ctx))
	require.Never(t, func() bool { return second.elector.IsLeader(ctx) }, 150*time.Millisecond, 10*time.Millisecond)

	// Expiry removes the leader's ephemeral record. The expired process
	// stops contending the way the session coordinator does.
	first.client.ExpireSession()
	first.disp.Invalidate()
	require.NoError(t, first.elector.Reset(ctx))
	require.False(t, first.elector.IsLeader(ctx))
	require.Equal(t, int32(1), first.lost.Load())

	require.Eventually(t, func() bool { return second.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), second.acquired.Load())
}

func TestElector_SuspendWhileDisconnected(t *testing.T) {
	ctx := t.Context()
	c := newCandidate(t, memstore.NewBackend(), "node-1")
	require.NoError(t, c.elector.Init(ctx))
	require.Eventually(t, func() bool { return c.acquired.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The session is lost while the store is unreachable; no store call is needed.
	c.client.SetConnected(false)
	c.client.ExpireSession()
	c.disp.Invalidate()

	require.NoError(t, c.elector.Suspend(ctx))
	require.False(t, c.elector.Holding())
	require.Equal(t, int32(1), c.lost.Load())
	require.NoError(t, c.elector.Suspend(ctx), "Suspend is idempotent")
	require.Equal(t, int32(1), c.lost.Load())

	// Contention resumes on the next session.
	c.client.SetConnected(true)
	require.Eventually(t, func() bool { return c.client.SessionID() != "" }, 2*time.Second, 10*time.Millisecond)
	c.disp.Activate(ctx, c.client.SessionID())
	require.NoError(t, c.elector.Init(ctx))
	require.Eventually(t, func() bool { return c.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(2), c.acquired.Load())
	require.Equal(t, int32(1), c.lost.Load())
}

func TestElector_IsLeaderRequiresCurrentSession(t *testing.T) {
	ctx := t.Context()
	c := newCandidate(t, memstore.NewBackend(), "node-1")

	// A record naming this instance but a previous session is not leadership.
	stale, err := json.Marshal(types.LiveInstance{InstanceName: "node-1", SessionID: "old-session"})
	require.NoError(t, err)
	_, err = c.client.Create(ctx, "/c/CONTROLLER/LEADER", stale, types.Persistent)
	require.NoError(t, err)

	require.False(t, c.elector.IsLeader(ctx))
}

func TestElector_ResetReleasesAndNotifies(t *testing.T) {
	ctx := t.Context()
	backend := memstore.NewBackend()

	leader := newCandidate(t, backend, "node-1")
	require.NoError(t, leader.elector.Init(ctx))
	require.Eventually(t, func() bool { return leader.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)

	follower := newCandidate(t, backend, "node-2")
	require.NoError(t, follower.elector.Init(ctx))

	require.NoError(t, leader.elector.Reset(ctx))
	require.NoError(t, leader.elector.Reset(ctx), "Reset is idempotent")
	require.Equal(t, int32(1), leader.lost.Load())
	require.False(t, leader.elector.Holding())

	// The follower is woken by the delete notification.
	require.Eventually(t, func() bool { return follower.elector.IsLeader(ctx) }, 2*time.Second, 10*time.Millisecond)

	// Resetting a non-leader leaves the foreign record alone.
	require.NoError(t, leader.elector.Init(ctx))
	require.NoError(t, leader.elector.Reset(ctx))
	require.True(t, follower.elector.IsLeader(ctx))
}

func TestElector_InitWithoutSession(t *testing.T) {
	backend := memstore.NewBackend()
	c := newCandidate(t, backend, "node-1")

	c.client.SetConnected(false)
	c.client.ExpireSession()

	require.ErrorIs(t, c.elector.Init(t.Context()), types.ErrNoSession)
}
