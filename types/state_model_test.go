package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func nopHandler() TransitionHandler {
	return TransitionHandlerFunc(func(context.Context, TransitionRequest) error { return nil })
}

func TestStateModel_Allows(t *testing.T) {
	m := StateModel{
		Transitions: []Transition{{From: "OFFLINE", To: "ONLINE"}, {From: "ONLINE", To: "OFFLINE"}},
	}

	require.True(t, m.Allows("OFFLINE", "ONLINE"))
	require.True(t, m.Allows("ONLINE", "OFFLINE"))
	require.False(t, m.Allows("ONLINE", "ONLINE"))
	require.False(t, m.Allows("OFFLINE", StateDropped))
}

func TestStateModel_Validate(t *testing.T) {
	valid := StateModel{
		Name:         "OnlineOffline",
		InitialState: "OFFLINE",
		States:       []string{"OFFLINE", "ONLINE"},
		Transitions: []Transition{
			{From: "OFFLINE", To: "ONLINE"},
			{From: "OFFLINE", To: StateDropped},
			{From: StateError, To: "OFFLINE"},
		},
		Handler: nopHandler(),
	}

	tests := []struct {
		name    string
		mutate  func(m *StateModel)
		wantErr bool
	}{
		{"valid", func(*StateModel) {}, false},
		{"states inferred", func(m *StateModel) { m.States = nil }, false},
		{"missing name", func(m *StateModel) { m.Name = "" }, true},
		{"missing initial state", func(m *StateModel) { m.InitialState = "" }, true},
		{"missing handler", func(m *StateModel) { m.Handler = nil }, true},
		{"no transitions", func(m *StateModel) { m.Transitions = nil }, true},
		{"undeclared initial state", func(m *StateModel) { m.InitialState = "STANDBY" }, true},
		{"undeclared transition state", func(m *StateModel) {
			m.Transitions = append([]Transition{}, m.Transitions...)
			m.Transitions = append(m.Transitions, Transition{From: "ONLINE", To: "LEADER"})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStateModel)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEntityKeys(t *testing.T) {
	require.Equal(t, "db/db_0", EntityKey("db", "db_0"))
	require.Equal(t, "db/db_0", Instance{Resource: "db", Partition: "db_0"}.EntityKey())
	require.Equal(t, "db/db_0", TransitionRequest{Resource: "db", Partition: "db_0"}.EntityKey())
	require.Equal(t, "OFFLINE-ONLINE", Transition{From: "OFFLINE", To: "ONLINE"}.String())
}
