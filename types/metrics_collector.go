package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	SessionMetrics
	ElectionMetrics
	DispatchMetrics
	TransitionMetrics
	TimerMetrics
}

// SessionMetrics defines metrics for the session coordinator.
type SessionMetrics interface {
	// RecordStateTransition records a manager state transition event.
	RecordStateTransition(from, to State, duration float64)

	// RecordSessionEstablished records the time taken to handle a new session.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - success: true if the session reached Ready
	RecordSessionEstablished(duration float64, success bool)

	// RecordSessionExpired records an observed session expiry.
	RecordSessionExpired()

	// RecordTeardownStep records the outcome of one prior-session tear-down step.
	//
	// Parameters:
	//   - step: Step name ("stop_timers", "reset_elector", ...)
	//   - success: false if the step returned an error
	RecordTeardownStep(step string, success bool)

	// RecordKVOperationDuration records metadata store operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("create", "put", "get", "delete", "children", "watch")
	//   - duration: Time taken in seconds
	RecordKVOperationDuration(operation string, duration float64)
}

// ElectionMetrics defines metrics for leader election.
type ElectionMetrics interface {
	// RecordLeadershipChange records that this process gained or lost leadership.
	RecordLeadershipChange(leader bool)

	// RecordElectionAttempt records an attempt to create the leadership record.
	RecordElectionAttempt(won bool)
}

// DispatchMetrics defines metrics for change-notification delivery.
type DispatchMetrics interface {
	// RecordDispatch records one listener invocation.
	//
	// Parameters:
	//   - changeType: The subscription change type
	//   - success: false if the listener returned an error or panicked
	RecordDispatch(changeType string, success bool)

	// RecordStaleDelivery records a notification dropped because its
	// subscription belongs to a previous session.
	RecordStaleDelivery(changeType string)

	// RecordActiveSubscriptions sets the number of armed subscriptions.
	RecordActiveSubscriptions(count int)
}

// TransitionMetrics defines metrics for the state machine engine.
type TransitionMetrics interface {
	// RecordTransition records the outcome of applying a message.
	//
	// Parameters:
	//   - stateModel: State model name
	//   - result: "success", "stale", "conflict", "illegal", "failed"
	//   - duration: Handler time in seconds
	RecordTransition(stateModel, result string, duration float64)

	// RecordInstanceCount sets the number of tracked state-model instances.
	RecordInstanceCount(count int)
}

// TimerMetrics defines metrics for timer tasks.
type TimerMetrics interface {
	// RecordTimerRun records one periodic execution of a timer task.
	RecordTimerRun(task string, success bool)

	// RecordLiveInstances sets the number of live instances seen by the controller.
	RecordLiveInstances(count int)

	// RecordPendingMessages sets the number of undelivered messages seen by the controller.
	RecordPendingMessages(count int)
}
