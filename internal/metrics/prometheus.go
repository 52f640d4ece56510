package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/helmsman/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector never panics on duplicate registration until it is used.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions   *prometheus.CounterVec
	stateDuration      *prometheus.HistogramVec
	sessionHandling    *prometheus.HistogramVec
	sessionExpirations prometheus.Counter
	teardownSteps      *prometheus.CounterVec
	kvLatency          *prometheus.HistogramVec

	isLeader          prometheus.Gauge
	leadershipChanges *prometheus.CounterVec
	electionAttempts  *prometheus.CounterVec

	dispatches          *prometheus.CounterVec
	staleDeliveries     *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge

	transitions       *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	instances         prometheus.Gauge

	timerRuns       *prometheus.CounterVec
	liveInstances   prometheus.Gauge
	pendingMessages prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "helmsman" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "helmsman"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Total manager state transitions by source and target state.",
		}, []string{"from", "to"})

		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a manager state before leaving it.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"state"})

		p.sessionHandling = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "handle_duration_seconds",
			Help:      "Duration of new-session handling by outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"})

		p.sessionExpirations = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "expirations_total",
			Help:      "Total observed session expirations.",
		})

		p.teardownSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "teardown_steps_total",
			Help:      "Prior-session tear-down step outcomes (success|failure) by step.",
		}, []string{"step", "result"})

		p.kvLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Metadata store operation latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"op"})

		p.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "Whether this process currently holds leadership (1=leader,0=not).",
		})

		p.leadershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "leadership_changes_total",
			Help:      "Total leadership gains and losses.",
		}, []string{"kind"})

		p.electionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "attempts_total",
			Help:      "Total attempts to create the leadership record by outcome.",
		}, []string{"won"})

		p.dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Listener invocations by change type and outcome.",
		}, []string{"change_type", "result"})

		p.staleDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatcher",
			Name:      "stale_deliveries_total",
			Help:      "Notifications dropped because their subscription belongs to an old session.",
		}, []string{"change_type"})

		p.activeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "dispatcher",
			Name:      "active_subscriptions",
			Help:      "Current number of armed subscriptions.",
		})

		p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "statemachine",
			Name:      "transitions_total",
			Help:      "Applied messages by state model and result (success,stale,conflict,illegal,failed).",
		}, []string{"state_model", "result"})

		p.transitionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "statemachine",
			Name:      "transition_duration_seconds",
			Help:      "Transition handler latency by state model.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"state_model"})

		p.instances = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "statemachine",
			Name:      "instances",
			Help:      "Current number of tracked state-model instances.",
		})

		p.timerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "timer",
			Name:      "runs_total",
			Help:      "Timer task executions by task and result.",
		}, []string{"task", "result"})

		p.liveInstances = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "live_instances",
			Help:      "Live instances observed by the controller.",
		})

		p.pendingMessages = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "pending_messages",
			Help:      "Undelivered messages observed by the controller.",
		})

		p.reg.MustRegister(
			p.stateTransitions,
			p.stateDuration,
			p.sessionHandling,
			p.sessionExpirations,
			p.teardownSteps,
			p.kvLatency,
			p.isLeader,
			p.leadershipChanges,
			p.electionAttempts,
			p.dispatches,
			p.staleDeliveries,
			p.activeSubscriptions,
			p.transitions,
			p.transitionLatency,
			p.instances,
			p.timerRuns,
			p.liveInstances,
			p.pendingMessages,
		)
	})
}

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// SessionMetrics implementation

// RecordStateTransition counts the transition and observes the time spent in from.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordSessionEstablished observes new-session handling latency.
func (p *PrometheusCollector) RecordSessionEstablished(duration float64, success bool) {
	p.ensureRegistered()
	p.sessionHandling.WithLabelValues(result(success)).Observe(duration)
}

// RecordSessionExpired increments the expiry counter.
func (p *PrometheusCollector) RecordSessionExpired() {
	p.ensureRegistered()
	p.sessionExpirations.Inc()
}

// RecordTeardownStep counts a tear-down step outcome.
func (p *PrometheusCollector) RecordTeardownStep(step string, success bool) {
	p.ensureRegistered()
	p.teardownSteps.WithLabelValues(step, result(success)).Inc()
}

// RecordKVOperationDuration observes store operation latency.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvLatency.WithLabelValues(operation).Observe(duration)
}

// ElectionMetrics implementation

// RecordLeadershipChange updates the leader gauge and counts the change.
func (p *PrometheusCollector) RecordLeadershipChange(leader bool) {
	p.ensureRegistered()
	if leader {
		p.isLeader.Set(1)
		p.leadershipChanges.WithLabelValues("acquired").Inc()
	} else {
		p.isLeader.Set(0)
		p.leadershipChanges.WithLabelValues("lost").Inc()
	}
}

// RecordElectionAttempt counts a leadership record creation attempt.
func (p *PrometheusCollector) RecordElectionAttempt(won bool) {
	p.ensureRegistered()
	p.electionAttempts.WithLabelValues(strconv.FormatBool(won)).Inc()
}

// DispatchMetrics implementation

// RecordDispatch counts a listener invocation.
func (p *PrometheusCollector) RecordDispatch(changeType string, success bool) {
	p.ensureRegistered()
	p.dispatches.WithLabelValues(changeType, result(success)).Inc()
}

// RecordStaleDelivery counts a dropped stale notification.
func (p *PrometheusCollector) RecordStaleDelivery(changeType string) {
	p.ensureRegistered()
	p.staleDeliveries.WithLabelValues(changeType).Inc()
}

// RecordActiveSubscriptions sets the armed subscription gauge.
func (p *PrometheusCollector) RecordActiveSubscriptions(count int) {
	p.ensureRegistered()
	p.activeSubscriptions.Set(float64(count))
}

// TransitionMetrics implementation

// RecordTransition counts the transition outcome and observes handler latency.
func (p *PrometheusCollector) RecordTransition(stateModel, res string, duration float64) {
	p.ensureRegistered()
	p.transitions.WithLabelValues(stateModel, res).Inc()
	if duration > 0 {
		p.transitionLatency.WithLabelValues(stateModel).Observe(duration)
	}
}

// RecordInstanceCount sets the tracked instance gauge.
func (p *PrometheusCollector) RecordInstanceCount(count int) {
	p.ensureRegistered()
	p.instances.Set(float64(count))
}

// TimerMetrics implementation

// RecordTimerRun counts one timer task execution.
func (p *PrometheusCollector) RecordTimerRun(task string, success bool) {
	p.ensureRegistered()
	p.timerRuns.WithLabelValues(task, result(success)).Inc()
}

// RecordLiveInstances sets the live instance gauge.
func (p *PrometheusCollector) RecordLiveInstances(count int) {
	p.ensureRegistered()
	p.liveInstances.Set(float64(count))
}

// RecordPendingMessages sets the pending message gauge.
func (p *PrometheusCollector) RecordPendingMessages(count int) {
	p.ensureRegistered()
	p.pendingMessages.Set(float64(count))
}
