package paths

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/types"
)

func TestBuilder_Layout(t *testing.T) {
	b := New("orders")

	require.Equal(t, "/orders", b.Root())
	require.Equal(t, "/orders/CONFIGS/CLUSTER/orders", b.ClusterConfig())
	require.Equal(t, "/orders/CONFIGS/PARTICIPANT/node-1", b.ParticipantConfig("node-1"))
	require.Equal(t, "/orders/LIVEINSTANCES/node-1", b.LiveInstance("node-1"))
	require.Equal(t, "/orders/INSTANCES/node-1/MESSAGES/m-1", b.Message("node-1", "m-1"))
	require.Equal(t, "/orders/INSTANCES/node-1/CURRENTSTATES/s-1/db", b.CurrentState("node-1", "s-1", "db"))
	require.Equal(t, "/orders/INSTANCES/node-1/HEALTHREPORT/heartbeat", b.HealthReport("node-1", "heartbeat"))
	require.Equal(t, "/orders/CONTROLLER/LEADER", b.Leader())
	require.Equal(t, "/orders/STATEMODELDEFS/OnlineOffline", b.StateModelDef("OnlineOffline"))
	require.Equal(t, "/orders/IDEALSTATES/db", b.IdealState("db"))
}

func TestBuilder_ClusterStructureParentsFirst(t *testing.T) {
	b := New("c")
	seen := map[string]bool{"/": true}

	for _, p := range b.ClusterStructure() {
		require.True(t, seen[Parent(p)], "parent of %s must precede it", p)
		seen[p] = true
	}
	require.Contains(t, b.ClusterStructure(), b.LiveInstances())
	require.Contains(t, b.ClusterStructure(), b.Controller())
}

func TestPathHelpers(t *testing.T) {
	require.Equal(t, "/a/b", Clean("a/b/"))
	require.Equal(t, "/", Clean(""))
	require.Equal(t, []string{"a", "b"}, Split("/a/b"))
	require.Nil(t, Split("/"))
	require.Equal(t, "/a", Parent("/a/b"))
	require.Equal(t, "/", Parent("/a"))
	require.Equal(t, "b", Base("/a/b"))

	require.True(t, IsChild("/a", "/a/b"))
	require.False(t, IsChild("/a", "/a/b/c"))
	require.False(t, IsChild("/a", "/a"))

	require.True(t, IsDescendant("/a", "/a"))
	require.True(t, IsDescendant("/a", "/a/b/c"))
	require.False(t, IsDescendant("/a", "/ab"))
	require.True(t, IsDescendant("/", "/x"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid", "/orders/LIVEINSTANCES/node-1", false},
		{"underscore and equals", "/c/x_y=z", false},
		{"root", "/", true},
		{"dot in segment", "/c/node.1", true},
		{"wildcard", "/c/*", true},
		{"space", "/c/a b", true},
		{"empty segment", "/c//x", true},
		{"relative", "/c/../x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, types.ErrInvalidPath)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
