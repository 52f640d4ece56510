package heartbeat

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

// TaskName is the timer task name of the publisher.
const TaskName = "heartbeat"

// ReportName is the health report node written under HEALTHREPORT.
const ReportName = "heartbeat"

// Common errors for heartbeat operations.
var (
	ErrNoInstance = errors.New("instance name not set")
)

// StatsFunc returns extra key/value stats included in each report.
type StatsFunc func() map[string]string

// Publisher periodically writes this participant's health report.
//
// The report lives at /<cluster>/INSTANCES/<instance>/HEALTHREPORT/heartbeat
// and carries the instance name, the current session id and a timestamp, so
// the controller can tell a live participant from a stale report.
type Publisher struct {
	*timer.Periodic

	acc      *accessor.Accessor
	path     string
	instance string
	session  func() string
	stats    StatsFunc
	logger   types.Logger
}

// Compile-time assertion that Publisher implements TimerTask.
var _ types.TimerTask = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Publisher) { p.logger = logging.OrNop(logger) }
}

// WithStats sets the stats provider.
func WithStats(fn StatsFunc) Option {
	return func(p *Publisher) { p.stats = fn }
}

// New creates a health report publisher.
//
// Parameters:
//   - acc: Write-through accessor used for the report
//   - cluster: Cluster name
//   - instance: Participant instance name
//   - session: Returns the current session id
//   - interval: Report interval
//   - m: Metrics collector (nil for none)
//
// Returns:
//   - *Publisher: A stopped, participant-only timer task
//
// Example:
//
//	hb := heartbeat.New(acc, "prod", "node-1", mgr.SessionID, 10*time.Second, nil)
//	err := hb.Start(sessionCtx)
func New(
	acc *accessor.Accessor,
	cluster, instance string,
	session func() string,
	interval time.Duration,
	m types.MetricsCollector,
	opts ...Option,
) *Publisher {
	p := &Publisher{
		acc:      acc,
		path:     paths.New(cluster).HealthReport(instance, ReportName),
		instance: instance,
		session:  session,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.Periodic = timer.NewPeriodic(TaskName, types.RoleParticipantOnly, interval, p.publish,
		timer.WithLogger(p.logger),
		timer.WithMetrics(metrics.OrNop(m)),
		timer.WithOnStop(p.cleanup),
	)

	return p
}

// Path returns the report path.
func (p *Publisher) Path() string {
	return p.path
}

// publish writes the health report.
func (p *Publisher) publish(ctx context.Context) error {
	if p.instance == "" {
		return ErrNoInstance
	}
	session := p.session()
	if session == "" {
		return types.ErrNoSession
	}

	report := types.HealthReport{
		InstanceName: p.instance,
		SessionID:    session,
		Timestamp:    time.Now(),
	}
	if p.stats != nil {
		report.Stats = p.stats()
	}

	if err := accessor.PutJSON(ctx, p.acc, p.path, report, types.Persistent); err != nil {
		return fmt.Errorf("failed to publish health report for %s: %w", p.instance, err)
	}

	return nil
}

// cleanup deletes the report so a stopped participant does not look healthy.
func (p *Publisher) cleanup() {
	// The session context is already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.acc.Delete(ctx, p.path); err != nil {
		p.logger.Warn("failed to delete health report", "path", p.path, "error", err)
	}
}
