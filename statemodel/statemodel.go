// Package statemodel provides the stock state models.
//
// Every model starts in OFFLINE, can be dropped from OFFLINE and can be reset
// from ERROR back to OFFLINE. Callers supply the transition handler.
//
// Example:
//
//	model := statemodel.OnlineOffline(types.TransitionHandlerFunc(
//	    func(ctx context.Context, req types.TransitionRequest) error {
//	        log.Printf("%s: %s -> %s", req.EntityKey(), req.From, req.To)
//	        return nil
//	    },
//	))
//	err := mgr.RegisterStateModel(model)
package statemodel

import "github.com/arloliu/helmsman/types"

// Model names.
const (
	OnlineOfflineName = "OnlineOffline"
	LeaderStandbyName = "LeaderStandby"
	MasterSlaveName   = "MasterSlave"
)

// States used by the stock models.
const (
	Offline = "OFFLINE"
	Online  = "ONLINE"
	Leader  = "LEADER"
	Standby = "STANDBY"
	Master  = "MASTER"
	Slave   = "SLAVE"
)

// common returns the transitions every stock model shares.
func common() []types.Transition {
	return []types.Transition{
		{From: Offline, To: types.StateDropped},
		{From: types.StateError, To: Offline},
	}
}

// OnlineOffline returns the two-state model: OFFLINE <-> ONLINE.
func OnlineOffline(handler types.TransitionHandler) types.StateModel {
	return types.StateModel{
		Name:         OnlineOfflineName,
		InitialState: Offline,
		States:       []string{Offline, Online},
		Transitions: append([]types.Transition{
			{From: Offline, To: Online},
			{From: Online, To: Offline},
		}, common()...),
		Handler: handler,
	}
}

// LeaderStandby returns the model OFFLINE <-> STANDBY <-> LEADER.
func LeaderStandby(handler types.TransitionHandler) types.StateModel {
	return types.StateModel{
		Name:         LeaderStandbyName,
		InitialState: Offline,
		States:       []string{Offline, Standby, Leader},
		Transitions: append([]types.Transition{
			{From: Offline, To: Standby},
			{From: Standby, To: Leader},
			{From: Leader, To: Standby},
			{From: Standby, To: Offline},
		}, common()...),
		Handler: handler,
	}
}

// MasterSlave returns the model OFFLINE <-> SLAVE <-> MASTER.
func MasterSlave(handler types.TransitionHandler) types.StateModel {
	return types.StateModel{
		Name:         MasterSlaveName,
		InitialState: Offline,
		States:       []string{Offline, Slave, Master},
		Transitions: append([]types.Transition{
			{From: Offline, To: Slave},
			{From: Slave, To: Master},
			{From: Master, To: Slave},
			{From: Slave, To: Offline},
		}, common()...),
		Handler: handler,
	}
}

// Definition is the serializable form of a state model, stored under
// STATEMODELDEFS so controllers can read the tables of every model in use.
type Definition struct {
	Name         string             `json:"name"`
	InitialState string             `json:"initialState"`
	States       []string           `json:"states"`
	Transitions  []types.Transition `json:"transitions"`
}

// Describe returns the definition of model.
func Describe(model types.StateModel) Definition {
	return Definition{
		Name:         model.Name,
		InitialState: model.InitialState,
		States:       append([]string(nil), model.States...),
		Transitions:  append([]types.Transition(nil), model.Transitions...),
	}
}
