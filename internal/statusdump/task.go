// Package statusdump provides the controller-only cluster status task.
//
// While this process holds leadership the task periodically counts live
// instances and undelivered messages, reports both through metrics and logs,
// and writes a Status snapshot to the cluster's CONTROLLER/STATUSUPDATES node.
package statusdump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/internal/timer"
	"github.com/arloliu/helmsman/types"
)

// TaskName is the timer task name.
const TaskName = "status-dump"

// Status is the snapshot written on each run.
type Status struct {
	Controller      string         `json:"controller"`
	SessionID       string         `json:"sessionId"`
	LiveInstances   []string       `json:"liveInstances"`
	PendingMessages map[string]int `json:"pendingMessages,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Task is the controller-only status timer task.
type Task struct {
	*timer.Periodic

	acc      *accessor.Accessor
	paths    paths.Builder
	instance string
	session  func() string
	metrics  types.MetricsCollector
	logger   types.Logger
}

// Compile-time assertion that Task implements TimerTask.
var _ types.TimerTask = (*Task)(nil)

// New creates the status task.
//
// Parameters:
//   - acc: Accessor for reads and the snapshot write
//   - cluster: Cluster name
//   - instance: This controller's instance name
//   - session: Returns the current session id
//   - interval: Time between snapshots
//   - logger: Logger (nil for none)
//   - m: Metrics collector (nil for none)
//
// Returns:
//   - *Task: A stopped, controller-only timer task
func New(
	acc *accessor.Accessor,
	cluster, instance string,
	session func() string,
	interval time.Duration,
	logger types.Logger,
	m types.MetricsCollector,
) *Task {
	t := &Task{
		acc:      acc,
		paths:    paths.New(cluster),
		instance: instance,
		session:  session,
		metrics:  metrics.OrNop(m),
		logger:   logging.OrNop(logger),
	}
	t.Periodic = timer.NewPeriodic(TaskName, types.RoleControllerOnly, interval, t.dump,
		timer.WithLogger(t.logger),
		timer.WithMetrics(t.metrics),
	)

	return t
}

// Collect builds a status snapshot without writing it.
func (t *Task) Collect(ctx context.Context) (Status, error) {
	live, err := t.acc.Children(ctx, t.paths.LiveInstances())
	if err != nil {
		return Status{}, fmt.Errorf("failed to list live instances: %w", err)
	}

	instances, err := t.acc.Children(ctx, t.paths.Instances())
	if err != nil {
		return Status{}, fmt.Errorf("failed to list instances: %w", err)
	}

	pending := make(map[string]int)
	var errs []error
	for _, name := range instances {
		msgs, err := t.acc.Children(ctx, t.paths.Messages(name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(msgs) > 0 {
			pending[name] = len(msgs)
		}
	}

	return Status{
		Controller:      t.instance,
		SessionID:       t.session(),
		LiveInstances:   live,
		PendingMessages: pending,
		Timestamp:       time.Now(),
	}, errors.Join(errs...)
}

func (t *Task) dump(ctx context.Context) error {
	status, err := t.Collect(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range status.PendingMessages {
		total += n
	}
	t.metrics.RecordLiveInstances(len(status.LiveInstances))
	t.metrics.RecordPendingMessages(total)

	t.logger.Info("cluster status",
		"controller", t.instance,
		"live_instances", len(status.LiveInstances),
		"pending_messages", total,
	)

	return accessor.PutJSON(ctx, t.acc, t.paths.StatusUpdates(), status, types.Persistent)
}
