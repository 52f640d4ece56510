package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/memstore"
	"github.com/arloliu/helmsman/types"
)

type recorder struct {
	events chan types.ChangeEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan types.ChangeEvent, 256)}
}

func (r *recorder) OnChange(_ context.Context, ev types.ChangeEvent) error {
	r.events <- ev
	return nil
}

func (r *recorder) next(t *testing.T) types.ChangeEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return types.ChangeEvent{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(wait):
	}
}

func setup(t *testing.T) (*Dispatcher, *memstore.Client) {
	t.Helper()
	c := memstore.NewBackend().NewClient()
	t.Cleanup(func() { _ = c.Close() })

	d := New(c, WithLogger(logging.NewTest(t)))
	d.Activate(t.Context(), c.SessionID())

	return d, c
}

func TestDispatcher_ChildrenAndData(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)
	rec := newRecorder()

	sub, err := d.Subscribe(Spec{Path: "/c/LIVEINSTANCES", Listener: rec, ChangeType: types.ChangeTypeLiveInstance})
	require.NoError(t, err)
	require.True(t, sub.Armed())
	require.Equal(t, c.SessionID(), sub.SessionID())

	ev := rec.next(t)
	require.Equal(t, types.CallbackInit, ev.Type)
	require.Equal(t, types.ChangeTypeLiveInstance, ev.ChangeType)
	require.Equal(t, c.SessionID(), ev.SessionID)

	_, err = c.Create(ctx, "/c/LIVEINSTANCES/node-1", []byte("a"), types.Ephemeral)
	require.NoError(t, err)
	ev = rec.next(t)
	require.Equal(t, types.CallbackChange, ev.Type)
	require.Equal(t, types.ChildrenChanged, ev.Kind)
	require.Equal(t, "/c/LIVEINSTANCES/node-1", ev.Path)

	_, err = c.Put(ctx, "/c/LIVEINSTANCES/node-1", []byte("b"), types.Ephemeral)
	require.NoError(t, err)
	ev = rec.next(t)
	require.Equal(t, types.DataChanged, ev.Kind)
	require.Equal(t, []byte("b"), ev.Value)

	require.NoError(t, c.Delete(ctx, "/c/LIVEINSTANCES/node-1"))
	ev = rec.next(t)
	require.Equal(t, types.ChildrenChanged, ev.Kind)
	require.Equal(t, "/c/LIVEINSTANCES/node-1", ev.Path)
}

func TestDispatcher_NodeEventsAndKindFilter(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)
	rec := newRecorder()

	_, err := d.Subscribe(Spec{
		Path:     "/c/CONTROLLER/LEADER",
		Listener: rec,
		Kinds:    []types.ChangeKind{types.NodeCreated, types.NodeDeleted},
	})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, rec.next(t).Type)

	_, err = c.Create(ctx, "/c/CONTROLLER/LEADER", []byte("x"), types.Ephemeral)
	require.NoError(t, err)
	ev := rec.next(t)
	require.Equal(t, types.NodeCreated, ev.Kind)
	require.Equal(t, types.ChangeTypeCustom, ev.ChangeType)

	// DataChanged is filtered out.
	_, err = c.Put(ctx, "/c/CONTROLLER/LEADER", []byte("y"), types.Ephemeral)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "/c/CONTROLLER/LEADER"))
	ev = rec.next(t)
	require.Equal(t, types.NodeDeleted, ev.Kind)
	rec.none(t, 100*time.Millisecond)
}

func TestDispatcher_ReplayIsNotAChange(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)

	_, err := c.Put(ctx, "/c/CURRENTSTATES/s1/db", []byte("x"), types.Persistent)
	require.NoError(t, err)

	rec := newRecorder()
	_, err = d.Subscribe(Spec{Path: "/c/CURRENTSTATES", Listener: rec})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, rec.next(t).Type)

	// A second descendant of an existing child does not change the child set.
	_, err = c.Put(ctx, "/c/CURRENTSTATES/s1/cache", []byte("x"), types.Persistent)
	require.NoError(t, err)
	rec.none(t, 100*time.Millisecond)

	_, err = c.Put(ctx, "/c/CURRENTSTATES/s2/db", []byte("x"), types.Persistent)
	require.NoError(t, err)
	ev := rec.next(t)
	require.Equal(t, types.ChildrenChanged, ev.Kind)

	// The child disappears only with its last descendant.
	require.NoError(t, c.Delete(ctx, "/c/CURRENTSTATES/s1/db"))
	rec.none(t, 100*time.Millisecond)
	require.NoError(t, c.Delete(ctx, "/c/CURRENTSTATES/s1/cache"))
	ev = rec.next(t)
	require.Equal(t, types.ChildrenChanged, ev.Kind)
	require.Equal(t, "/c/CURRENTSTATES/s1/cache", ev.Path)
}

func TestDispatcher_InvalidateStopsDelivery(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)
	rec := newRecorder()

	_, err := d.Subscribe(Spec{Path: "/c/MESSAGES", Listener: rec, Owner: types.OwnerMessaging})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, rec.next(t).Type)

	gen := d.Generation()
	d.Invalidate()
	require.Greater(t, d.Generation(), gen)
	require.Empty(t, d.SessionID())

	_, err = c.Put(ctx, "/c/MESSAGES/m1", []byte("x"), types.Persistent)
	require.NoError(t, err)
	rec.none(t, 150*time.Millisecond)

	// Tear-down still finalizes the stale subscription.
	d.DisarmAll(ctx)
	ev := rec.next(t)
	require.Equal(t, types.CallbackFinalize, ev.Type)
	require.Empty(t, d.Subscriptions())
}

func TestDispatcher_InvalidateWaitsForInFlightDelivery(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var changes atomic.Int32
	listener := types.ChangeListenerFunc(func(_ context.Context, ev types.ChangeEvent) error {
		if ev.Type != types.CallbackChange {
			return nil
		}
		if changes.Add(1) == 1 {
			close(entered)
			<-release
		}

		return nil
	})
	_, err := d.Subscribe(Spec{Path: "/c/MESSAGES", Listener: listener, Owner: types.OwnerMessaging})
	require.NoError(t, err)

	_, err = c.Put(ctx, "/c/MESSAGES/m1", []byte("x"), types.Persistent)
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not called")
	}

	// Queued behind the blocked delivery.
	_, err = c.Put(ctx, "/c/MESSAGES/m2", []byte("x"), types.Persistent)
	require.NoError(t, err)

	invalidated := make(chan struct{})
	go func() {
		d.Invalidate()
		close(invalidated)
	}()

	require.Never(t, func() bool {
		select {
		case <-invalidated:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(release)
	select {
	case <-invalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("Invalidate did not return after the delivery finished")
	}

	// m2 belongs to the old generation and must not reach the listener.
	require.Never(t, func() bool { return changes.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestDispatcher_DisarmAllKeepsExternal(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)

	ext := newRecorder()
	extSub, err := d.Subscribe(Spec{Path: "/c/IDEALSTATES", Listener: ext})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, ext.next(t).Type)

	internal := newRecorder()
	_, err = d.Subscribe(Spec{Path: "/c/CONTROLLER", Listener: internal, Owner: types.OwnerElection})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, internal.next(t).Type)

	d.DisarmAll(ctx)
	require.Equal(t, types.CallbackFinalize, ext.next(t).Type)
	require.Equal(t, types.CallbackFinalize, internal.next(t).Type)

	subs := d.Subscriptions()
	require.Len(t, subs, 1)
	require.Same(t, extSub, subs[0])
	require.False(t, extSub.Armed())

	// Internal owners cannot subscribe without a session.
	_, err = d.Subscribe(Spec{Path: "/c/CONTROLLER", Listener: internal, Owner: types.OwnerElection})
	require.ErrorIs(t, err, types.ErrNoSession)
	require.ErrorIs(t, d.Arm(types.OwnerExternal), types.ErrNoSession)

	c.ExpireSession()
	d.Activate(ctx, c.SessionID())
	require.NoError(t, d.Arm(types.OwnerExternal))
	require.True(t, extSub.Armed())

	ev := ext.next(t)
	require.Equal(t, types.CallbackInit, ev.Type)
	require.Equal(t, c.SessionID(), ev.SessionID)

	_, err = c.Put(ctx, "/c/IDEALSTATES/db", []byte("x"), types.Persistent)
	require.NoError(t, err)
	require.Equal(t, types.ChildrenChanged, ext.next(t).Kind)
	internal.none(t, 100*time.Millisecond)
}

func TestDispatcher_ExternalBeforeSession(t *testing.T) {
	c := memstore.NewBackend().NewClient()
	t.Cleanup(func() { _ = c.Close() })
	d := New(c)
	rec := newRecorder()

	sub, err := d.Subscribe(Spec{Path: "/c/IDEALSTATES", Listener: rec})
	require.NoError(t, err)
	require.False(t, sub.Armed())
	rec.none(t, 50*time.Millisecond)

	d.Activate(t.Context(), c.SessionID())
	require.NoError(t, d.Arm(types.OwnerExternal))
	require.Equal(t, types.CallbackInit, rec.next(t).Type)
}

func TestDispatcher_ListenerPanicIsContained(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)

	var calls atomic.Int32
	listener := types.ChangeListenerFunc(func(_ context.Context, ev types.ChangeEvent) error {
		if ev.Type != types.CallbackChange {
			return nil
		}
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("listener error")
		default:
			return nil
		}
	})
	_, err := d.Subscribe(Spec{Path: "/c/MESSAGES", Listener: listener})
	require.NoError(t, err)

	for i := range 3 {
		_, err = c.Put(ctx, fmt.Sprintf("/c/MESSAGES/m%d", i), []byte("x"), types.Persistent)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_RemoveFinalizes(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)
	rec := newRecorder()

	sub, err := d.Subscribe(Spec{Path: "/c/MESSAGES", Listener: rec})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, rec.next(t).Type)

	d.Remove(ctx, sub)
	require.Equal(t, types.CallbackFinalize, rec.next(t).Type)
	require.Empty(t, d.Subscriptions())

	_, err = c.Put(ctx, "/c/MESSAGES/m1", []byte("x"), types.Persistent)
	require.NoError(t, err)
	rec.none(t, 100*time.Millisecond)
}

func TestDispatcher_RemoveOwner(t *testing.T) {
	ctx := t.Context()
	d, _ := setup(t)

	for _, p := range []string{"/c/LIVEINSTANCES", "/c/IDEALSTATES"} {
		_, err := d.Subscribe(Spec{Path: p, Listener: newRecorder(), Owner: types.OwnerController})
		require.NoError(t, err)
	}
	_, err := d.Subscribe(Spec{Path: "/c/MESSAGES", Listener: newRecorder(), Owner: types.OwnerMessaging})
	require.NoError(t, err)

	d.RemoveOwner(ctx, types.OwnerController)

	subs := d.Subscriptions()
	require.Len(t, subs, 1)
	require.Equal(t, types.OwnerMessaging, subs[0].Owner())
}

func TestDispatcher_PerPathOrder(t *testing.T) {
	ctx := t.Context()
	d, c := setup(t)
	rec := newRecorder()

	_, err := c.Put(ctx, "/c/IDEALSTATES/db", []byte("0"), types.Persistent)
	require.NoError(t, err)
	_, err = d.Subscribe(Spec{Path: "/c/IDEALSTATES", Listener: rec, Kinds: []types.ChangeKind{types.DataChanged}})
	require.NoError(t, err)
	require.Equal(t, types.CallbackInit, rec.next(t).Type)

	const n = 100
	for i := 1; i <= n; i++ {
		_, err = c.Put(ctx, "/c/IDEALSTATES/db", []byte(fmt.Sprint(i)), types.Persistent)
		require.NoError(t, err)
	}
	for i := 1; i <= n; i++ {
		ev := rec.next(t)
		require.Equal(t, fmt.Sprint(i), string(ev.Value))
	}
}

func TestDispatcher_SubscribeValidation(t *testing.T) {
	d, _ := setup(t)

	_, err := d.Subscribe(Spec{Path: "/c/x"})
	require.ErrorIs(t, err, types.ErrListenerRequired)

	_, err = d.Subscribe(Spec{Path: "/c/../x", Listener: newRecorder()})
	require.ErrorIs(t, err, types.ErrInvalidPath)
}
