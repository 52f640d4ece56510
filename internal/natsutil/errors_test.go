package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("put: %w", nats.ErrNoServers), true},
		{"sentinel", types.ErrConnectivity, true},
		{"refused text", errors.New("dial tcp: connection refused"), true},
		{"key not found", jetstream.ErrKeyNotFound, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify("get", "/c/x", nil))

	err := Classify("create", "/c/CONTROLLER/LEADER", jetstream.ErrKeyExists)
	require.ErrorIs(t, err, types.ErrNodeExists)
	require.ErrorIs(t, err, jetstream.ErrKeyExists)
	require.Contains(t, err.Error(), "/c/CONTROLLER/LEADER")

	require.ErrorIs(t, Classify("get", "/c/x", jetstream.ErrKeyNotFound), types.ErrNodeNotFound)
	require.ErrorIs(t, Classify("get", "/c/x", jetstream.ErrKeyDeleted), types.ErrNodeNotFound)
	require.ErrorIs(t, Classify("put", "/c/x", nats.ErrTimeout), types.ErrConnectivity)

	plain := errors.New("boom")
	err = Classify("put", "/c/x", plain)
	require.ErrorIs(t, err, plain)
	require.NotErrorIs(t, err, types.ErrConnectivity)
}
