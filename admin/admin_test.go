package admin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/memstore"
	"github.com/arloliu/helmsman/statemodel"
	"github.com/arloliu/helmsman/types"
)

const (
	cluster  = "c1"
	instance = "node-1"
)

func newAdmin(t *testing.T) (*Admin, *memstore.Client) {
	t.Helper()

	client := memstore.NewBackend().NewClient()
	t.Cleanup(func() { _ = client.Close() })

	return New(client), client
}

func TestSetupCluster(t *testing.T) {
	ctx := t.Context()
	a, client := newAdmin(t)

	ok, err := a.IsClusterSetup(ctx, cluster)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, a.SetupCluster(ctx, cluster))
	ok, err = a.IsClusterSetup(ctx, cluster)
	require.NoError(t, err)
	require.True(t, ok)

	entry, err := client.Get(ctx, paths.New(cluster).ClusterConfig())
	require.NoError(t, err)
	var cfg ClusterConfig
	require.NoError(t, json.Unmarshal(entry.Value, &cfg))
	require.Equal(t, cluster, cfg.Name)

	for _, p := range []string{IdealStatesPath(cluster), LiveInstancesPath(cluster)} {
		_, err := client.Get(ctx, p)
		require.NoError(t, err, p)
	}

	// Second setup keeps the existing layout.
	require.NoError(t, a.SetupCluster(ctx, cluster))
}

func TestAddInstance(t *testing.T) {
	ctx := t.Context()
	a, client := newAdmin(t)
	require.NoError(t, a.SetupCluster(ctx, cluster))

	require.NoError(t, a.AddInstance(ctx, cluster, instance))
	err := a.AddInstance(ctx, cluster, instance)
	require.ErrorIs(t, err, types.ErrNodeExists)

	names, err := a.Instances(ctx, cluster)
	require.NoError(t, err)
	require.Equal(t, []string{instance}, names)

	for _, p := range paths.New(cluster).InstanceStructure(instance) {
		_, err := client.Get(ctx, p)
		require.NoError(t, err, p)
	}
}

func TestSendMessage(t *testing.T) {
	ctx := t.Context()
	a, client := newAdmin(t)
	require.NoError(t, a.SetupCluster(ctx, cluster))

	msg, err := a.SendMessage(ctx, cluster, types.Message{
		Resource:        "db",
		Partition:       "db_0",
		StateModel:      statemodel.OnlineOfflineName,
		FromState:       statemodel.Offline,
		ToState:         statemodel.Online,
		TargetInstance:  instance,
		TargetSessionID: "s1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.False(t, msg.CreatedAt.IsZero())
	require.Equal(t, types.MessageStateTransition, msg.Type)

	entry, err := client.Get(ctx, paths.New(cluster).Message(instance, msg.ID))
	require.NoError(t, err)
	var stored types.Message
	require.NoError(t, json.Unmarshal(entry.Value, &stored))
	require.Equal(t, msg.ID, stored.ID)
	require.Equal(t, "s1", stored.TargetSessionID)

	_, err = a.SendMessage(ctx, cluster, types.Message{Resource: "db", TargetInstance: instance})
	require.ErrorIs(t, err, types.ErrInvalidMessage)

	_, err = a.SendMessage(ctx, cluster, types.Message{Resource: "db", Partition: "db_0"})
	require.ErrorIs(t, err, types.ErrInvalidMessage)
}

func TestSendTransition(t *testing.T) {
	ctx := t.Context()
	a, client := newAdmin(t)
	require.NoError(t, a.SetupCluster(ctx, cluster))

	_, err := a.SendTransition(ctx, cluster, instance, "db", "db_0",
		statemodel.OnlineOfflineName, statemodel.Offline, statemodel.Online)
	require.ErrorIs(t, err, ErrInstanceNotLive)

	live := types.LiveInstance{InstanceName: instance, SessionID: client.SessionID()}
	data, err := json.Marshal(live)
	require.NoError(t, err)
	_, err = client.Create(ctx, paths.New(cluster).LiveInstance(instance), data, types.Ephemeral)
	require.NoError(t, err)

	msg, err := a.SendTransition(ctx, cluster, instance, "db", "db_0",
		statemodel.OnlineOfflineName, statemodel.Offline, statemodel.Online)
	require.NoError(t, err)
	require.Equal(t, client.SessionID(), msg.TargetSessionID)

	names, err := a.LiveInstances(ctx, cluster)
	require.NoError(t, err)
	require.Equal(t, []string{instance}, names)
}

func TestAddStateModelDef(t *testing.T) {
	ctx := t.Context()
	a, client := newAdmin(t)
	require.NoError(t, a.SetupCluster(ctx, cluster))

	model := statemodel.MasterSlave(nil)
	require.NoError(t, a.AddStateModelDef(ctx, cluster, model))

	entry, err := client.Get(ctx, paths.New(cluster).StateModelDef(model.Name))
	require.NoError(t, err)
	var def statemodel.Definition
	require.NoError(t, json.Unmarshal(entry.Value, &def))
	require.Equal(t, model.Name, def.Name)
	require.Equal(t, model.InitialState, def.InitialState)
	require.Len(t, def.Transitions, len(model.Transitions))

	require.NoError(t, a.PutIdealState(ctx, cluster, "db", []byte(`{"replicas":3}`)))
	entry, err = client.Get(ctx, paths.New(cluster).IdealState("db"))
	require.NoError(t, err)
	require.JSONEq(t, `{"replicas":3}`, string(entry.Value))
}
