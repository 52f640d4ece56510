package timer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/types"
)

// Lifecycle starts and stops timer tasks and tracks which ones run.
//
// Task names must be unique within a Lifecycle.
type Lifecycle struct {
	logger types.Logger

	mu      sync.Mutex
	running map[string]types.TimerTask
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle(logger types.Logger) *Lifecycle {
	return &Lifecycle{
		logger:  logging.OrNop(logger),
		running: make(map[string]types.TimerTask),
	}
}

// Start starts every task in tasks that is not already running.
//
// A running task is skipped and reported with ErrTaskRunning; the other
// tasks are still started.
//
// Parameters:
//   - ctx: Session context handed to each task
//   - tasks: Tasks to start
//
// Returns:
//   - error: Joined ErrTaskRunning reports and start failures
func (l *Lifecycle) Start(ctx context.Context, tasks []types.TimerTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, task := range tasks {
		name := task.Name()
		if _, ok := l.running[name]; ok {
			errs = append(errs, fmt.Errorf("%w: %s", types.ErrTaskRunning, name))
			continue
		}
		if err := task.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to start timer task %s: %w", name, err))
			continue
		}
		l.running[name] = task
		l.logger.Debug("timer task started", "task", name, "role", task.Role().String())
	}

	return errors.Join(errs...)
}

// Stop stops the tasks in tasks that this lifecycle started and waits for
// them. Tasks that are not running are ignored.
//
// Returns:
//   - error: Joined stop failures
func (l *Lifecycle) Stop(tasks []types.TimerTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, task := range tasks {
		if err := l.stopLocked(task.Name()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// StopRole stops every running task bound to one of roles.
func (l *Lifecycle) StopRole(roles ...types.TaskRole) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, name := range l.sortedNames() {
		if slices.Contains(roles, l.running[name].Role()) {
			if err := l.stopLocked(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// StopAll stops every running task.
func (l *Lifecycle) StopAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, name := range l.sortedNames() {
		if err := l.stopLocked(name); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Running returns the sorted names of the running tasks.
func (l *Lifecycle) Running() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sortedNames()
}

// IsRunning reports whether the named task is running.
func (l *Lifecycle) IsRunning(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.running[name]

	return ok
}

func (l *Lifecycle) stopLocked(name string) error {
	task, ok := l.running[name]
	if !ok {
		return nil
	}
	delete(l.running, name)

	if err := task.Stop(); err != nil && !errors.Is(err, types.ErrTaskNotRunning) {
		return fmt.Errorf("failed to stop timer task %s: %w", name, err)
	}
	l.logger.Debug("timer task stopped", "task", name)

	return nil
}

func (l *Lifecycle) sortedNames() []string {
	names := make([]string, 0, len(l.running))
	for name := range l.running {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Filter returns the tasks whose role is in roles, preserving order.
func Filter(tasks []types.TimerTask, roles ...types.TaskRole) []types.TimerTask {
	out := make([]types.TimerTask, 0, len(tasks))
	for _, task := range tasks {
		if slices.Contains(roles, task.Role()) {
			out = append(out, task)
		}
	}

	return out
}
