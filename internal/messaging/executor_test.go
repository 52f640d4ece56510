package messaging

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/dispatcher"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/statemachine"
	"github.com/arloliu/helmsman/memstore"
	"github.com/arloliu/helmsman/types"
)

const (
	cluster  = "c"
	instance = "n1"
)

type fixture struct {
	client   *memstore.Client
	acc      *accessor.Accessor
	engine   *statemachine.Engine
	executor *Executor
	handled  atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()
	logger := logging.NewTest(t)

	f := &fixture{client: memstore.NewBackend().NewClient()}
	t.Cleanup(func() { _ = f.client.Close() })

	f.acc = accessor.New(f.client)
	f.engine = statemachine.New(f.client.SessionID, statemachine.Config{Lanes: 2, QueueSize: 8}, statemachine.WithLogger(logger))
	require.NoError(t, f.engine.RegisterStateModel(types.StateModel{
		Name:         "OnlineOffline",
		InitialState: "OFFLINE",
		Transitions: []types.Transition{
			{From: "OFFLINE", To: "ONLINE"},
			{From: "ONLINE", To: "OFFLINE"},
			{From: "OFFLINE", To: types.StateDropped},
		},
		Handler: types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error {
			f.handled.Add(1)
			return nil
		}),
	}))
	require.NoError(t, f.engine.Start(ctx))
	t.Cleanup(func() { _ = f.engine.Stop() })

	disp := dispatcher.New(f.client, dispatcher.WithLogger(logger))
	disp.Activate(ctx, f.client.SessionID())

	f.executor = New(Config{Cluster: cluster, Instance: instance}, f.acc, f.engine, disp, WithLogger(logger))

	return f
}

func (f *fixture) send(t *testing.T, msg types.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = f.client.Create(t.Context(), "/c/INSTANCES/n1/MESSAGES/"+msg.ID, data, types.Persistent)
	require.NoError(t, err)
}

func (f *fixture) messageGone(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := f.client.Get(t.Context(), "/c/INSTANCES/n1/MESSAGES/"+id)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "message %s not deleted", id)
}

// currentState reads the db current-state record; the zero value when absent.
func (f *fixture) currentState(t *testing.T) types.CurrentState {
	var cs types.CurrentState
	entry, err := f.client.Get(t.Context(), "/c/INSTANCES/n1/CURRENTSTATES/"+f.client.SessionID()+"/db")
	if err != nil {
		return cs
	}
	_ = json.Unmarshal(entry.Value, &cs)

	return cs
}

func transition(id, partition, from, to, session string) types.Message {
	return types.Message{
		ID:              id,
		Type:            types.MessageStateTransition,
		Resource:        "db",
		Partition:       partition,
		StateModel:      "OnlineOffline",
		FromState:       from,
		ToState:         to,
		TargetSessionID: session,
		TargetInstance:  instance,
	}
}

func TestExecutor_AppliesAndRecords(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	session := f.client.SessionID()

	require.NoError(t, f.executor.Init(ctx, session))
	require.NoError(t, f.executor.Init(ctx, session), "Init is idempotent")

	f.send(t, transition("m1", "p0", "OFFLINE", "ONLINE", session))
	f.messageGone(t, "m1")

	require.Eventually(t, func() bool { return f.currentState(t).PartitionStates["p0"] == "ONLINE" },
		time.Second, 10*time.Millisecond)
	cs := f.currentState(t)
	require.Equal(t, session, cs.SessionID)
	require.Equal(t, "OnlineOffline", cs.StateModel)
	require.Equal(t, int32(1), f.handled.Load())

	f.send(t, transition("m2", "p0", "ONLINE", "OFFLINE", session))
	f.messageGone(t, "m2")
	require.Eventually(t, func() bool { return f.currentState(t).PartitionStates["p0"] == "OFFLINE" },
		time.Second, 10*time.Millisecond)
}

func TestExecutor_ProcessesBacklogOnInit(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	session := f.client.SessionID()

	f.send(t, transition("m1", "p0", "OFFLINE", "ONLINE", session))
	f.send(t, transition("m2", "p1", "OFFLINE", "ONLINE", session))

	require.NoError(t, f.executor.Init(ctx, session))
	f.messageGone(t, "m1")
	f.messageGone(t, "m2")

	require.Eventually(t, func() bool { return len(f.currentState(t).PartitionStates) == 2 }, time.Second, 10*time.Millisecond)
}

func TestExecutor_StaleMessageDeletedUnapplied(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	require.NoError(t, f.executor.Init(ctx, f.client.SessionID()))
	f.send(t, transition("m1", "p0", "OFFLINE", "ONLINE", "expired-session"))
	f.messageGone(t, "m1")

	require.Zero(t, f.handled.Load())
	_, ok := f.engine.Instance("db", "p0")
	require.False(t, ok)
}

func TestExecutor_ConflictRecordsError(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	session := f.client.SessionID()

	require.NoError(t, f.executor.Init(ctx, session))
	f.send(t, transition("m1", "p0", "ONLINE", "OFFLINE", session))
	f.messageGone(t, "m1")

	require.Eventually(t, func() bool { return f.currentState(t).PartitionStates["p0"] == types.StateError },
		time.Second, 10*time.Millisecond)
}

func TestExecutor_NoOpAndUnknownTypes(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	require.NoError(t, f.executor.Init(ctx, f.client.SessionID()))

	f.send(t, types.Message{ID: "noop", Type: types.MessageNoOp})
	f.messageGone(t, "noop")

	f.send(t, types.Message{ID: "weird", Type: "SCHEDULER"})
	require.Never(t, func() bool {
		_, err := f.client.Get(ctx, "/c/INSTANCES/n1/MESSAGES/weird")
		return err != nil
	}, 150*time.Millisecond, 10*time.Millisecond)
}

func TestExecutor_DroppedRemovesPartition(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	session := f.client.SessionID()

	require.NoError(t, f.executor.Init(ctx, session))
	f.send(t, transition("m1", "p0", "OFFLINE", "ONLINE", session))
	f.send(t, transition("m2", "p1", "OFFLINE", types.StateDropped, session))
	f.messageGone(t, "m1")
	f.messageGone(t, "m2")

	require.Eventually(t, func() bool {
		states := f.currentState(t).PartitionStates
		_, dropped := states["p1"]
		return states["p0"] == "ONLINE" && !dropped
	}, time.Second, 10*time.Millisecond)
}

func TestExecutor_Reset(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	session := f.client.SessionID()

	require.NoError(t, f.executor.Init(ctx, session))
	require.NoError(t, f.executor.Reset(ctx))
	require.NoError(t, f.executor.Reset(ctx))
	require.Zero(t, f.executor.Pending())

	f.send(t, transition("m1", "p0", "OFFLINE", "ONLINE", session))
	require.Never(t, func() bool { return f.handled.Load() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}
