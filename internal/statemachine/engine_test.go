package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/types"
)

type session struct {
	mu sync.Mutex
	id string
}

func (s *session) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

func (s *session) set(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func onlineOffline(handler types.TransitionHandler) types.StateModel {
	return types.StateModel{
		Name:         "OnlineOffline",
		InitialState: "OFFLINE",
		States:       []string{"ONLINE", "OFFLINE"},
		Transitions: []types.Transition{
			{From: "OFFLINE", To: "ONLINE"},
			{From: "ONLINE", To: "OFFLINE"},
			{From: "OFFLINE", To: types.StateDropped},
			{From: types.StateError, To: "OFFLINE"},
		},
		Handler: handler,
	}
}

func nopHandler() types.TransitionHandler {
	return types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error { return nil })
}

func message(id, partition, from, to, sessionID string) types.Message {
	return types.Message{
		ID:              id,
		Type:            types.MessageStateTransition,
		Resource:        "db",
		Partition:       partition,
		StateModel:      "OnlineOffline",
		FromState:       from,
		ToState:         to,
		TargetSessionID: sessionID,
	}
}

func newEngine(t *testing.T, handler types.TransitionHandler, opts ...Option) (*Engine, *session) {
	t.Helper()

	s := &session{id: "s1"}
	opts = append([]Option{WithLogger(logging.NewTest(t))}, opts...)
	e := New(s.get, Config{Lanes: 4, QueueSize: 16}, opts...)
	require.NoError(t, e.RegisterStateModel(onlineOffline(handler)))

	return e, s
}

func TestEngine_RegisterStateModel(t *testing.T) {
	e, _ := newEngine(t, nopHandler())

	err := e.RegisterStateModel(onlineOffline(nopHandler()))
	require.ErrorIs(t, err, types.ErrStateModelExists)

	err = e.RegisterStateModel(types.StateModel{Name: "Broken", InitialState: "A"})
	require.ErrorIs(t, err, types.ErrInvalidStateModel)

	model, ok := e.StateModel("OnlineOffline")
	require.True(t, ok)
	require.Equal(t, "OFFLINE", model.InitialState)
}

func TestEngine_ApplySuccess(t *testing.T) {
	ctx := t.Context()

	var got []types.TransitionRequest
	handler := types.TransitionHandlerFunc(func(_ context.Context, req types.TransitionRequest) error {
		got = append(got, req)
		return nil
	})

	var observed atomic.Int32
	e, _ := newEngine(t, handler, WithOnTransition(func(_ context.Context, entity, from, to string) {
		require.Equal(t, "db/p0", entity)
		observed.Add(1)
	}))

	res, err := e.Apply(ctx, message("m1", "p0", "OFFLINE", "ONLINE", "s1"))
	require.NoError(t, err)
	require.Equal(t, "ONLINE", res.Instance.CurrentState)
	require.Empty(t, res.Instance.PendingState)

	require.Len(t, got, 1)
	require.Equal(t, "OFFLINE", got[0].From)
	require.Equal(t, "ONLINE", got[0].To)
	require.Equal(t, "m1", got[0].MessageID)
	require.Equal(t, int32(1), observed.Load())

	inst, ok := e.Instance("db", "p0")
	require.True(t, ok)
	require.Equal(t, "ONLINE", inst.CurrentState)
	require.Equal(t, 1, e.Len())
}

func TestEngine_StaleMessageIsDiscarded(t *testing.T) {
	ctx := t.Context()

	var calls atomic.Int32
	e, s := newEngine(t, types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error {
		calls.Add(1)
		return nil
	}))

	// The entity is OFFLINE in session S1; the process moves to S2 and a
	// message issued against S1 arrives.
	e.Restore(types.Instance{Resource: "db", Partition: "partition-7", StateModel: "OnlineOffline", CurrentState: "OFFLINE"})
	s.set("s2")

	res, err := e.Apply(ctx, message("m1", "partition-7", "OFFLINE", "ONLINE", "s1"))
	require.ErrorIs(t, err, types.ErrStaleMessage)
	require.Equal(t, "OFFLINE", res.Instance.CurrentState)
	require.Zero(t, calls.Load())

	inst, ok := e.Instance("db", "partition-7")
	require.True(t, ok)
	require.Equal(t, "OFFLINE", inst.CurrentState)

	// No session at all: everything is stale.
	s.set("")
	_, err = e.Apply(ctx, message("m2", "partition-7", "OFFLINE", "ONLINE", ""))
	require.ErrorIs(t, err, types.ErrStaleMessage)
	require.Zero(t, calls.Load())
}

func TestEngine_ConflictMarksError(t *testing.T) {
	ctx := t.Context()
	e, _ := newEngine(t, nopHandler())

	_, err := e.Apply(ctx, message("m1", "p0", "ONLINE", "OFFLINE", "s1"))
	require.ErrorIs(t, err, types.ErrTransitionConflict)

	inst, ok := e.Instance("db", "p0")
	require.True(t, ok)
	require.Equal(t, types.StateError, inst.CurrentState)

	// A corrective message recovers the entity.
	res, err := e.Apply(ctx, message("m2", "p0", types.StateError, "OFFLINE", "s1"))
	require.NoError(t, err)
	require.Equal(t, "OFFLINE", res.Instance.CurrentState)
}

func TestEngine_IllegalTransition(t *testing.T) {
	ctx := t.Context()
	e, _ := newEngine(t, nopHandler())

	_, err := e.Apply(ctx, message("m1", "p0", "ONLINE", types.StateDropped, "s1"))
	require.ErrorIs(t, err, types.ErrIllegalTransition)

	inst, ok := e.Instance("db", "p0")
	require.True(t, ok)
	require.Equal(t, types.StateError, inst.CurrentState)
}

func TestEngine_HandlerFailure(t *testing.T) {
	ctx := t.Context()

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		e, _ := newEngine(t, types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error {
			return boom
		}))

		res, err := e.Apply(ctx, message("m1", "p0", "OFFLINE", "ONLINE", "s1"))
		require.ErrorIs(t, err, types.ErrTransitionFailed)
		require.ErrorIs(t, err, boom)
		require.Equal(t, types.StateError, res.Instance.CurrentState)
	})

	t.Run("panic", func(t *testing.T) {
		e, _ := newEngine(t, types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error {
			panic("handler exploded")
		}))

		_, err := e.Apply(ctx, message("m1", "p0", "OFFLINE", "ONLINE", "s1"))
		require.ErrorIs(t, err, types.ErrTransitionFailed)
		require.ErrorContains(t, err, "handler exploded")

		inst, ok := e.Instance("db", "p0")
		require.True(t, ok)
		require.Equal(t, types.StateError, inst.CurrentState)
	})
}

func TestEngine_DroppedRemovesInstance(t *testing.T) {
	ctx := t.Context()
	e, _ := newEngine(t, nopHandler())

	e.Restore(types.Instance{Resource: "db", Partition: "p0", StateModel: "OnlineOffline", CurrentState: "OFFLINE"})
	_, err := e.Apply(ctx, message("m1", "p0", "OFFLINE", types.StateDropped, "s1"))
	require.NoError(t, err)

	_, ok := e.Instance("db", "p0")
	require.False(t, ok)
	require.Zero(t, e.Len())
}

func TestEngine_UnknownModelAndInvalidMessage(t *testing.T) {
	ctx := t.Context()
	e, _ := newEngine(t, nopHandler())

	msg := message("m1", "p0", "OFFLINE", "ONLINE", "s1")
	msg.StateModel = "MasterSlave"
	_, err := e.Apply(ctx, msg)
	require.ErrorIs(t, err, types.ErrUnknownStateModel)

	msg = message("m2", "", "OFFLINE", "ONLINE", "s1")
	_, err = e.Apply(ctx, msg)
	require.ErrorIs(t, err, types.ErrInvalidMessage)

	_, err = e.Apply(ctx, types.Message{ID: "m3", Type: types.MessageNoOp})
	require.NoError(t, err)
	require.Zero(t, e.Len())
}

func TestEngine_InstancesSorted(t *testing.T) {
	e, _ := newEngine(t, nopHandler())

	e.Restore(
		types.Instance{Resource: "db", Partition: "p2", StateModel: "OnlineOffline", CurrentState: "ONLINE"},
		types.Instance{Resource: "cache", Partition: "p0", StateModel: "OnlineOffline", CurrentState: "OFFLINE"},
		types.Instance{Resource: "db", Partition: "p1", StateModel: "OnlineOffline", CurrentState: "ONLINE", PendingState: "OFFLINE"},
	)

	got := e.Instances()
	require.Len(t, got, 3)
	require.Equal(t, "cache/p0", got[0].EntityKey())
	require.Equal(t, "db/p1", got[1].EntityKey())
	require.Equal(t, "db/p2", got[2].EntityKey())
	require.Empty(t, got[1].PendingState, "restored instances have no pending transition")

	e.Remove("db", "p1")
	require.Len(t, e.Instances(), 2)

	e.Clear()
	require.Zero(t, e.Len())
}

// TestEngine_SameEntityNeverConcurrent verifies that concurrent messages for
// one entity are applied one at a time while other entities proceed.
func TestEngine_SameEntityNeverConcurrent(t *testing.T) {
	ctx := t.Context()

	var (
		inFlight sync.Map
		overlap  atomic.Bool
		applied  atomic.Int32
	)
	handler := types.TransitionHandlerFunc(func(_ context.Context, req types.TransitionRequest) error {
		if _, busy := inFlight.LoadOrStore(req.EntityKey(), true); busy {
			overlap.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Delete(req.EntityKey())
		applied.Add(1)

		return nil
	})
	e, _ := newEngine(t, handler)

	const workers = 10
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := range workers {
		wg.Go(func() {
			_, err := e.Apply(ctx, message(fmt.Sprintf("m%d", i), "p0", "OFFLINE", "ONLINE", "s1"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, types.ErrTransitionConflict):
				conflicts.Add(1)
			}
		})
	}
	wg.Wait()

	require.False(t, overlap.Load())
	require.Equal(t, int32(1), succeeded.Load(), "exactly one message applies first")
	require.Equal(t, int32(workers-1), conflicts.Load())
	require.Equal(t, int32(1), applied.Load())
}

func TestEngine_Submit(t *testing.T) {
	ctx := t.Context()

	var (
		mu    sync.Mutex
		order = map[string][]string{}
	)
	handler := types.TransitionHandlerFunc(func(_ context.Context, req types.TransitionRequest) error {
		mu.Lock()
		order[req.Partition] = append(order[req.Partition], req.To)
		mu.Unlock()

		return nil
	})
	e, _ := newEngine(t, handler)

	require.ErrorIs(t, e.Submit(message("m0", "p0", "OFFLINE", "ONLINE", "s1"), nil), types.ErrEngineStopped)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx), "Start is idempotent")
	t.Cleanup(func() { _ = e.Stop() })

	results := make(chan types.TransitionResult, 32)
	done := func(res types.TransitionResult) { results <- res }

	for _, p := range []string{"p0", "p1", "p2"} {
		require.NoError(t, e.Submit(message(p+"-a", p, "OFFLINE", "ONLINE", "s1"), done))
		require.NoError(t, e.Submit(message(p+"-b", p, "ONLINE", "OFFLINE", "s1"), done))
	}

	for range 6 {
		select {
		case res := <-results:
			require.NoError(t, res.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transition result")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, p := range []string{"p0", "p1", "p2"} {
		require.Equal(t, []string{"ONLINE", "OFFLINE"}, order[p], "messages for %s apply in submission order", p)
	}
}

func TestEngine_SubmitQueueFullAndStop(t *testing.T) {
	ctx := t.Context()

	release := make(chan struct{})
	handler := types.TransitionHandlerFunc(func(ctx context.Context, _ types.TransitionRequest) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	s := &session{id: "s1"}
	e := New(s.get, Config{Lanes: 1, QueueSize: 1})
	require.NoError(t, e.RegisterStateModel(onlineOffline(handler)))
	require.NoError(t, e.Start(ctx))

	results := make(chan types.TransitionResult, 8)
	done := func(res types.TransitionResult) { results <- res }

	// First message occupies the lane, second fills the queue.
	require.NoError(t, e.Submit(message("m0", "p0", "OFFLINE", "ONLINE", "s1"), done))
	require.Eventually(t, func() bool {
		return e.Submit(message("m1", "p1", "OFFLINE", "ONLINE", "s1"), done) == nil
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, e.Submit(message("m2", "p2", "OFFLINE", "ONLINE", "s1"), done), types.ErrQueueFull)

	require.NoError(t, e.Stop())
	close(release)

	got := map[string]error{}
	for range 2 {
		select {
		case res := <-results:
			got[res.Message.ID] = res.Err
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transition result")
		}
	}
	require.Contains(t, got, "m0")
	require.ErrorIs(t, got["m1"], types.ErrEngineStopped)
	require.ErrorIs(t, e.Submit(message("m3", "p3", "OFFLINE", "ONLINE", "s1"), done), types.ErrEngineStopped)
}

func TestLaneFor(t *testing.T) {
	for _, key := range []string{"db/p0", "db/p1", "cache/p7"} {
		lane := laneFor(key, 8)
		require.GreaterOrEqual(t, lane, 0)
		require.Less(t, lane, 8)
		require.Equal(t, lane, laneFor(key, 8))
	}
}
