package helmsman

import "github.com/arloliu/helmsman/types"

// Re-export types from the types package.
//
// Internal packages depend on `types` and never on the root package, which
// keeps the import graph acyclic while users still write helmsman.State,
// helmsman.Logger and so on.
type (
	State        = types.State
	InstanceType = types.InstanceType
	Message      = types.Message
	MessageType  = types.MessageType
	StateModel   = types.StateModel
	Transition   = types.Transition
	Instance     = types.Instance
	LiveInstance = types.LiveInstance
	CurrentState = types.CurrentState
	ChangeEvent  = types.ChangeEvent
	ChangeKind   = types.ChangeKind
	ChangeType   = types.ChangeType
	TaskRole     = types.TaskRole
)

// Re-export interfaces from the types package for convenience.
type (
	MetadataStore      = types.MetadataStore
	ChangeListener     = types.ChangeListener
	ChangeListenerFunc = types.ChangeListenerFunc
	ControllerPipeline = types.ControllerPipeline
	TransitionHandler  = types.TransitionHandler
	TransitionRequest  = types.TransitionRequest
	TimerTask          = types.TimerTask
	PreConnectCallback = types.PreConnectCallback
	MetricsCollector   = types.MetricsCollector
	Logger             = types.Logger
	Hooks              = types.Hooks
)

// Re-export State constants from the types package.
const (
	StateInit            = types.StateInit
	StateConnecting      = types.StateConnecting
	StateHandlingSession = types.StateHandlingSession
	StateReady           = types.StateReady
	StateSessionExpired  = types.StateSessionExpired
	StateFailed          = types.StateFailed
	StateShutdown        = types.StateShutdown
)

// Re-export instance types.
const (
	InstanceParticipant           = types.InstanceParticipant
	InstanceController            = types.InstanceController
	InstanceControllerParticipant = types.InstanceControllerParticipant
)
