package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/types"
)

// RunFunc is one execution of a periodic task.
type RunFunc func(ctx context.Context) error

// Periodic runs a function on a fixed interval.
//
// The first run happens immediately on Start. Runs never overlap; a slow run
// delays the next tick instead of stacking.
type Periodic struct {
	name     string
	role     types.TaskRole
	interval time.Duration
	run      RunFunc
	onStop   func()
	logger   types.Logger
	metrics  types.MetricsCollector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// Compile-time assertion that Periodic implements TimerTask.
var _ types.TimerTask = (*Periodic)(nil)

// PeriodicOption configures a Periodic task.
type PeriodicOption func(*Periodic)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) PeriodicOption {
	return func(p *Periodic) { p.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) PeriodicOption {
	return func(p *Periodic) { p.metrics = metrics.OrNop(m) }
}

// WithOnStop sets a cleanup function run after the task's goroutine exits.
func WithOnStop(fn func()) PeriodicOption {
	return func(p *Periodic) { p.onStop = fn }
}

// NewPeriodic creates a periodic task.
//
// Parameters:
//   - name: Unique task name
//   - role: Role the task is bound to
//   - interval: Time between runs
//   - run: Work executed on every tick
//
// Returns:
//   - *Periodic: A stopped task
//
// Example:
//
//	task := timer.NewPeriodic("gc", types.RoleAlways, time.Minute, func(ctx context.Context) error {
//	    return collectGarbage(ctx)
//	})
func NewPeriodic(name string, role types.TaskRole, interval time.Duration, run RunFunc, opts ...PeriodicOption) *Periodic {
	if interval <= 0 {
		interval = time.Second
	}

	p := &Periodic{
		name:     name,
		role:     role,
		interval: interval,
		run:      run,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the task name.
func (p *Periodic) Name() string { return p.name }

// Role returns the task role.
func (p *Periodic) Role() types.TaskRole { return p.role }

// Interval returns the run interval.
func (p *Periodic) Interval() time.Duration { return p.interval }

// Running reports whether the task is started.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// Start launches the task. The task stops on Stop or when ctx ends.
//
// Returns:
//   - error: ErrTaskRunning if the task is already running
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("%w: %s", types.ErrTaskRunning, p.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.doneCh = make(chan struct{})

	go p.loop(runCtx, p.doneCh)

	return nil
}

// Stop cancels the task and waits for its current run to finish.
//
// Returns:
//   - error: ErrTaskNotRunning if the task is not running
func (p *Periodic) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotRunning, p.name)
	}
	p.running = false
	cancel, done := p.cancel, p.doneCh
	p.cancel, p.doneCh = nil, nil
	p.mu.Unlock()

	cancel()
	<-done

	if p.onStop != nil {
		p.onStop()
	}

	return nil
}

func (p *Periodic) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.execute(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Periodic) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()

		return p.run(ctx)
	}()

	if err != nil && ctx.Err() != nil {
		// Cancelled mid-run; not a task failure.
		return
	}
	p.metrics.RecordTimerRun(p.name, err == nil)
	if err != nil {
		p.logger.Warn("timer task run failed", "task", p.name, "error", err)
	}
}
