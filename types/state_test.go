package types

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "Init"},
		{StateConnecting, "Connecting"},
		{StateHandlingSession, "HandlingSession"},
		{StateReady, "Ready"},
		{StateSessionExpired, "SessionExpired"},
		{StateFailed, "Failed"},
		{StateShutdown, "Shutdown"},
		{State(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInstanceType(t *testing.T) {
	tests := []struct {
		typ         InstanceType
		participant bool
		controller  bool
		valid       bool
	}{
		{InstanceParticipant, true, false, true},
		{InstanceController, false, true, true},
		{InstanceControllerParticipant, true, true, true},
		{InstanceType("SPECTATOR"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsParticipant(); got != tt.participant {
				t.Errorf("IsParticipant() = %v, want %v", got, tt.participant)
			}
			if got := tt.typ.IsController(); got != tt.controller {
				t.Errorf("IsController() = %v, want %v", got, tt.controller)
			}
			if got := tt.typ.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}
