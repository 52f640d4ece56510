package kvutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	helmsmantest "github.com/arloliu/helmsman/testing"
)

func TestPathKeyMapping(t *testing.T) {
	tests := []struct {
		path     string
		key      string
		wantPath string
	}{
		{"/orders/LIVEINSTANCES/node-1", "orders.LIVEINSTANCES.node-1", "/orders/LIVEINSTANCES/node-1"},
		{"/orders", "orders", "/orders"},
		{"orders/CONTROLLER/LEADER/", "orders.CONTROLLER.LEADER", "/orders/CONTROLLER/LEADER"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.Equal(t, tt.key, PathToKey(tt.path))
			require.Equal(t, tt.wantPath, KeyToPath(tt.key))
		})
	}

	require.Equal(t, []string{"a.b", "a.b.>"}, SubtreeFilters("a.b"))
}

func TestListKeys(t *testing.T) {
	_, nc := helmsmantest.StartEmbeddedNATS(t)
	kv := helmsmantest.CreateJetStreamKV(t, nc, "list-keys")
	ctx := t.Context()

	keys, err := ListKeys(ctx, kv)
	require.NoError(t, err)
	require.Empty(t, keys)

	for _, k := range []string{"c.I.n1", "c.I.n1.MESSAGES.m1", "c.L.n1"} {
		_, err := kv.Put(ctx, k, []byte("x"))
		require.NoError(t, err)
	}

	keys, err = ListKeys(ctx, kv, SubtreeFilters("c.I.n1")...)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c.I.n1", "c.I.n1.MESSAGES.m1"}, keys)

	keys, err = ListKeys(ctx, kv)
	require.NoError(t, err)
	require.Len(t, keys, 3)
}
