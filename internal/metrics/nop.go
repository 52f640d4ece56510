// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/helmsman/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	mgr, err := helmsman.NewManager(&cfg, store, helmsman.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// SessionMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
}

// RecordSessionEstablished discards the session handling metric.
func (n *NopMetrics) RecordSessionEstablished(_ /* duration */ float64, _ /* success */ bool) {}

// RecordSessionExpired discards the session expiry metric.
func (n *NopMetrics) RecordSessionExpired() {}

// RecordTeardownStep discards the tear-down step metric.
func (n *NopMetrics) RecordTeardownStep(_ /* step */ string, _ /* success */ bool) {}

// RecordKVOperationDuration discards the store latency metric.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// ElectionMetrics implementation

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ /* leader */ bool) {}

// RecordElectionAttempt discards the election attempt metric.
func (n *NopMetrics) RecordElectionAttempt(_ /* won */ bool) {}

// DispatchMetrics implementation

// RecordDispatch discards the dispatch metric.
func (n *NopMetrics) RecordDispatch(_ /* changeType */ string, _ /* success */ bool) {}

// RecordStaleDelivery discards the stale delivery metric.
func (n *NopMetrics) RecordStaleDelivery(_ /* changeType */ string) {}

// RecordActiveSubscriptions discards the subscription gauge.
func (n *NopMetrics) RecordActiveSubscriptions(_ /* count */ int) {}

// TransitionMetrics implementation

// RecordTransition discards the transition metric.
func (n *NopMetrics) RecordTransition(_ /* stateModel */, _ /* result */ string, _ /* duration */ float64) {
}

// RecordInstanceCount discards the instance gauge.
func (n *NopMetrics) RecordInstanceCount(_ /* count */ int) {}

// TimerMetrics implementation

// RecordTimerRun discards the timer run metric.
func (n *NopMetrics) RecordTimerRun(_ /* task */ string, _ /* success */ bool) {}

// RecordLiveInstances discards the live instance gauge.
func (n *NopMetrics) RecordLiveInstances(_ /* count */ int) {}

// RecordPendingMessages discards the pending message gauge.
func (n *NopMetrics) RecordPendingMessages(_ /* count */ int) {}

// OrNop returns m, or a NopMetrics when m is nil.
func OrNop(m types.MetricsCollector) types.MetricsCollector {
	if m == nil {
		return NewNop()
	}

	return m
}
