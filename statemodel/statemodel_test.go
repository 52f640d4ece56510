package statemodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/types"
)

func nop() types.TransitionHandler {
	return types.TransitionHandlerFunc(func(context.Context, types.TransitionRequest) error { return nil })
}

func TestStockModelsValidate(t *testing.T) {
	for _, model := range []types.StateModel{OnlineOffline(nop()), LeaderStandby(nop()), MasterSlave(nop())} {
		t.Run(model.Name, func(t *testing.T) {
			require.NoError(t, model.Validate())
			require.Equal(t, Offline, model.InitialState)
			require.True(t, model.Allows(Offline, types.StateDropped))
			require.True(t, model.Allows(types.StateError, Offline))
		})
	}
}

func TestLeaderStandby_NoShortcut(t *testing.T) {
	model := LeaderStandby(nop())

	require.True(t, model.Allows(Standby, Leader))
	require.False(t, model.Allows(Offline, Leader))
	require.False(t, model.Allows(Leader, Offline))
}

func TestDescribe(t *testing.T) {
	model := OnlineOffline(nop())
	def := Describe(model)

	require.Equal(t, OnlineOfflineName, def.Name)
	require.Equal(t, Offline, def.InitialState)
	require.ElementsMatch(t, []string{Offline, Online}, def.States)
	require.Len(t, def.Transitions, len(model.Transitions))

	def.Transitions[0].To = "MUTATED"
	require.NotEqual(t, "MUTATED", model.Transitions[0].To)
}
