package helmsman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/backoff"
	"github.com/arloliu/helmsman/types"
)

// Tear-down step names, in execution order.
const (
	StepStopTimers          = "stop_timers"
	StepResetElector        = "reset_elector"
	StepDisarmSubscriptions = "disarm_subscriptions"
	StepResetExecutor       = "reset_executor"
)

// TeardownStep is the outcome of one prior-session tear-down step.
type TeardownStep struct {
	Name string
	Err  error
}

// TeardownReport collects the outcome of every tear-down step of one session
// handling. A failed step never prevents the following ones from running.
type TeardownReport struct {
	SessionID string
	Steps     []TeardownStep
}

// Failed returns the names of the steps that returned an error.
func (r TeardownReport) Failed() []string {
	var names []string
	for _, s := range r.Steps {
		if s.Err != nil {
			names = append(names, s.Name)
		}
	}

	return names
}

// Err joins the step failures, each wrapped with ErrTeardownFailed.
func (r TeardownReport) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrTeardownFailed, s.Name, s.Err))
		}
	}

	return errors.Join(errs...)
}

// HandleNewSession rebuilds all session-derived state for the store's current
// session and declares the manager ready.
//
// Steps, in order:
//  1. Wait for the store connection (ErrConnectTimeout is fatal)
//  2. Tear down everything bound to the previous session
//  3. Invalidate the write-through cache
//  4. Verify the cluster layout (ErrClusterNotSetup is fatal)
//  5. Auto-join, run pre-connect callbacks, create the presence record
//  6. Carry over current states reported under earlier sessions
//  7. Re-subscribe the message executor
//  8. Restart leader election for controller roles
//  9. Re-create the health-report path and start role-appropriate timer tasks
//  10. Re-arm externally registered subscriptions
//
// Session handling is serialized. Connect calls it for the first session and
// the session loop for every later one.
//
// Parameters:
//   - ctx: Context bounding the store operations of the handling
//
// Returns:
//   - error: The failure of the first failing step after tear-down
func (m *Manager) HandleNewSession(ctx context.Context) (err error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if m.State() == StateShutdown {
		return ErrNotStarted
	}

	start := time.Now()
	defer func() {
		m.metrics.RecordSessionEstablished(time.Since(start).Seconds(), err == nil)
	}()

	m.transitionState(StateHandlingSession)

	// Step 1: wait for a live connection and session
	if err := m.store.WaitUntilConnected(ctx, m.cfg.ConnectTimeout); err != nil {
		if errors.Is(err, types.ErrConnectTimeout) {
			return err
		}

		return fmt.Errorf("failed to wait for store connection: %w", err)
	}
	sessionID := m.store.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}
	m.attempted = sessionID

	m.logger.Info("handling new session", "instance", m.cfg.InstanceName, "session_id", sessionID)

	// Step 2: replace the session context, then tear down the previous session
	sess := m.beginSession(sessionID)
	report := m.teardown(ctx, sessionID)
	m.lastTeardown = report
	if failed := report.Failed(); len(failed) > 0 {
		m.logger.Warn("previous session tear-down incomplete", "session_id", sessionID, "failed_steps", failed)
		m.fireError(report.Err())
	}
	m.disp.Activate(sess.ctx, sessionID)

	// Step 3: the cache may hold entries written under the previous session
	m.acc.Reset()

	// Step 4: verify the cluster layout
	if err := m.checkClusterSetup(ctx); err != nil {
		return err
	}

	// Step 5: join, pre-connect callbacks, presence
	if m.cfg.InstanceType.IsParticipant() {
		if err := m.joinCluster(ctx); err != nil {
			return err
		}
	}
	for i, cb := range m.preConnectCallbacks() {
		if err := cb(ctx); err != nil {
			return fmt.Errorf("pre-connect callback %d failed: %w", i, err)
		}
	}
	if m.cfg.InstanceType.IsParticipant() {
		if err := m.createLiveInstance(ctx, sess); err != nil {
			return err
		}
	}

	// Step 6 and 7: participant state and messages
	if m.cfg.InstanceType.IsParticipant() {
		if err := m.carryOverCurrentStates(ctx, sessionID); err != nil {
			return err
		}
		if err := m.exec.Init(sess.ctx, sessionID); err != nil {
			return fmt.Errorf("failed to set up message handling: %w", err)
		}
	}

	// Step 8: the elector was reset during tear-down; later sessions re-init it
	if m.elector != nil {
		if err := m.elector.Init(sess.ctx); err != nil {
			return fmt.Errorf("failed to start leader election: %w", err)
		}
	}

	// Step 9: health path and timer tasks
	if m.cfg.InstanceType.IsParticipant() {
		if err := m.ensureNode(ctx, m.paths.HealthReports(m.cfg.InstanceName)); err != nil {
			return fmt.Errorf("failed to create health report path: %w", err)
		}
	}
	if err := m.timers.Start(sess.ctx, m.sessionTasks()); err != nil {
		m.logger.Warn("some timer tasks did not start", "session_id", sessionID, "error", err)
		m.fireError(err)
	}

	// Step 10: only externally owned subscriptions; internal owners re-subscribed above
	if err := m.disp.Arm(types.OwnerExternal); err != nil {
		return fmt.Errorf("failed to re-arm external subscriptions: %w", err)
	}

	m.handled++
	m.retry.Reset()
	if !m.transitionState(StateReady) {
		return fmt.Errorf("session %s handled but manager is %s", sessionID, m.State())
	}
	m.logger.Info("session ready",
		"instance", m.cfg.InstanceName,
		"session_id", sessionID,
		"sessions_handled", m.handled,
		"duration", time.Since(start),
	)

	return nil
}

// beginSession installs a new SessionContext and cancels the previous one.
// Caller holds sessionMu.
func (m *Manager) beginSession(sessionID string) *SessionContext {
	ctx, cancel := context.WithCancel(m.lifecycleCtx())
	sess := &SessionContext{
		ID:        sessionID,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if prev := m.session.Swap(sess); prev != nil {
		prev.cancel()
	}

	return sess
}

// teardown runs the prior-session tear-down steps. Caller holds sessionMu.
func (m *Manager) teardown(ctx context.Context, sessionID string) TeardownReport {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{StepStopTimers, func(context.Context) error { return m.timers.StopAll() }},
		{StepResetElector, func(ctx context.Context) error {
			if m.elector == nil {
				return nil
			}
			return m.elector.Reset(ctx)
		}},
		{StepDisarmSubscriptions, func(ctx context.Context) error {
			m.disp.DisarmAll(ctx)
			return nil
		}},
		{StepResetExecutor, m.exec.Reset},
	}

	report := TeardownReport{SessionID: sessionID, Steps: make([]TeardownStep, 0, len(steps))}
	for _, step := range steps {
		err := runStep(ctx, step.run)
		if err != nil {
			m.logError("tear-down step failed", "step", step.name, "session_id", sessionID, "error", err)
		}
		m.metrics.RecordTeardownStep(step.name, err == nil)
		report.Steps = append(report.Steps, TeardownStep{Name: step.name, Err: err})
	}

	return report
}

// runStep runs one tear-down step and turns a panic into an error.
func runStep(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx)
}

// checkClusterSetup verifies every node of the cluster layout exists.
func (m *Manager) checkClusterSetup(ctx context.Context) error {
	for _, p := range m.paths.ClusterStructure() {
		ok, err := m.acc.Exists(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to verify cluster structure: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: cluster %s is missing %s", ErrClusterNotSetup, m.cfg.ClusterName, p)
		}
	}

	return nil
}

// joinCluster makes sure the participant config and subtree exist.
func (m *Manager) joinCluster(ctx context.Context) error {
	cfgPath := m.paths.ParticipantConfig(m.cfg.InstanceName)
	ok, err := m.acc.Exists(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read participant config: %w", err)
	}
	if !ok {
		if !m.cfg.AllowAutoJoin {
			return fmt.Errorf("instance %s is not configured in cluster %s and auto-join is disabled",
				m.cfg.InstanceName, m.cfg.ClusterName)
		}

		data, err := json.Marshal(types.InstanceConfig{
			InstanceName: m.cfg.InstanceName,
			Enabled:      true,
			JoinedAt:     time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode participant config: %w", err)
		}
		if err := m.acc.Create(ctx, cfgPath, data, types.Persistent); err != nil && !errors.Is(err, types.ErrNodeExists) {
			return fmt.Errorf("failed to auto-join cluster: %w", err)
		}
		m.logger.Info("auto-joined cluster", "cluster", m.cfg.ClusterName, "instance", m.cfg.InstanceName)
	}

	for _, p := range m.paths.InstanceStructure(m.cfg.InstanceName) {
		if err := m.ensureNode(ctx, p); err != nil {
			return fmt.Errorf("failed to create instance structure: %w", err)
		}
	}

	return nil
}

// ensureNode creates an empty persistent node unless it exists.
func (m *Manager) ensureNode(ctx context.Context, p string) error {
	if err := m.acc.Create(ctx, p, nil, types.Persistent); err != nil && !errors.Is(err, types.ErrNodeExists) {
		return err
	}

	return nil
}

// createLiveInstance writes the ephemeral presence record for sess.
//
// A record left by an earlier session of this instance is waited out, bounded
// by the session timeout, since the store removes it when that session expires.
func (m *Manager) createLiveInstance(ctx context.Context, sess *SessionContext) error {
	p := m.paths.LiveInstance(m.cfg.InstanceName)
	hostname, _ := os.Hostname()
	data, err := json.Marshal(LiveInstance{
		InstanceName: m.cfg.InstanceName,
		SessionID:    sess.ID,
		Version:      m.cfg.Version,
		Hostname:     hostname,
		PID:          os.Getpid(),
		StartedAt:    sess.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode presence record: %w", err)
	}

	deadline := time.Now().Add(m.cfg.SessionTimeout)
	wait := backoff.New(m.cfg.Election.BackoffBase, m.cfg.SessionTimeout/4)
	for {
		err := m.acc.Create(ctx, p, data, types.Ephemeral)
		if err == nil {
			m.logger.Info("presence record created", "path", p, "session_id", sess.ID)
			return nil
		}
		if !errors.Is(err, types.ErrNodeExists) {
			return fmt.Errorf("failed to create presence record: %w", err)
		}

		// Read past the cache; the record belongs to someone else's write.
		entry, getErr := m.store.Get(ctx, p)
		if getErr != nil && !errors.Is(getErr, types.ErrNodeNotFound) {
			return fmt.Errorf("failed to read presence record: %w", getErr)
		}
		var owner LiveInstance
		if entry != nil {
			if jsonErr := json.Unmarshal(entry.Value, &owner); jsonErr == nil && owner.SessionID == sess.ID {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("presence record %s is still held by session %s", p, owner.SessionID)
		}

		m.logger.Info("waiting for previous presence record to expire",
			"path", p,
			"held_by", owner.SessionID,
			"session_id", sess.ID,
		)
		if err := wait.Wait(ctx); err != nil {
			return err
		}
	}
}

// removeLiveInstance deletes the presence record if sessionID owns it.
func (m *Manager) removeLiveInstance(ctx context.Context, sessionID string) error {
	p := m.paths.LiveInstance(m.cfg.InstanceName)
	entry, err := m.store.Get(ctx, p)
	if errors.Is(err, types.ErrNodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var rec LiveInstance
	if err := json.Unmarshal(entry.Value, &rec); err != nil || rec.SessionID != sessionID {
		return nil //nolint:nilerr // not our record
	}

	return m.acc.Delete(ctx, p)
}

// carryOverCurrentStates moves the current states reported under earlier
// sessions into the session sessionID and seeds the engine with them.
//
// Entity states are inherited as they were. A partition already present under
// the new session keeps its new value. DROPPED partitions are not carried.
func (m *Manager) carryOverCurrentStates(ctx context.Context, sessionID string) error {
	instance := m.cfg.InstanceName
	sessions, err := m.acc.Children(ctx, m.paths.CurrentStates(instance))
	if err != nil {
		if errors.Is(err, types.ErrNodeNotFound) {
			return nil
		}

		return fmt.Errorf("failed to list previous sessions: %w", err)
	}

	carried := 0
	for _, old := range sessions {
		if old == sessionID {
			continue
		}

		resources, err := m.acc.Children(ctx, m.paths.SessionCurrentStates(instance, old))
		if err != nil && !errors.Is(err, types.ErrNodeNotFound) {
			return fmt.Errorf("failed to list current states of session %s: %w", old, err)
		}

		for _, resource := range resources {
			oldPath := m.paths.CurrentState(instance, old, resource)
			prev, err := accessor.GetJSON[CurrentState](ctx, m.acc, oldPath)
			switch {
			case errors.Is(err, types.ErrNodeNotFound):
				continue
			case err != nil:
				m.logger.Warn("dropping unreadable current state", "path", oldPath, "error", err)
			default:
				n, err := m.inherit(ctx, sessionID, resource, prev)
				if err != nil {
					return err
				}
				carried += n
			}

			if err := m.acc.Delete(ctx, oldPath); err != nil {
				return fmt.Errorf("failed to delete current state %s: %w", oldPath, err)
			}
		}

		if err := m.acc.Delete(ctx, m.paths.SessionCurrentStates(instance, old)); err != nil {
			return fmt.Errorf("failed to delete session %s current states: %w", old, err)
		}
	}

	if carried > 0 {
		m.logger.Info("carried over current states", "session_id", sessionID, "partitions", carried)
	}

	return nil
}

// inherit merges prev into the new session's record of resource and restores
// the carried partitions into the engine.
func (m *Manager) inherit(ctx context.Context, sessionID, resource string, prev CurrentState) (int, error) {
	now := time.Now()
	var restored []Instance

	err := accessor.UpdateJSON(ctx, m.acc, m.paths.CurrentState(m.cfg.InstanceName, sessionID, resource), types.Persistent,
		func(cur CurrentState, exists bool) (CurrentState, bool, error) {
			if !exists {
				cur = CurrentState{
					Resource:        resource,
					StateModel:      prev.StateModel,
					PartitionStates: make(map[string]string, len(prev.PartitionStates)),
				}
			}
			if cur.PartitionStates == nil {
				cur.PartitionStates = make(map[string]string)
			}
			cur.SessionID = sessionID
			cur.UpdatedAt = now

			restored = restored[:0]
			for partition, state := range prev.PartitionStates {
				if state == types.StateDropped {
					continue
				}
				if _, ok := cur.PartitionStates[partition]; ok {
					continue
				}
				cur.PartitionStates[partition] = state
				restored = append(restored, Instance{
					Resource:     resource,
					Partition:    partition,
					StateModel:   prev.StateModel,
					CurrentState: state,
					UpdatedAt:    now,
				})
			}

			return cur, len(cur.PartitionStates) > 0, nil
		})
	if err != nil {
		return 0, fmt.Errorf("failed to carry over current state of %s: %w", resource, err)
	}

	m.engine.Restore(restored...)

	return len(restored), nil
}

// sessionLoop follows store session events until the manager stops or fails.
func (m *Manager) sessionLoop() {
	events := m.store.SessionEvents()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("session event stream closed", "instance", m.cfg.InstanceName)
				return
			}
			if !m.handleSessionEvent(ev) {
				return
			}
		}
	}
}

// handleSessionEvent reacts to one event.
//
// Returns:
//   - bool: false when the loop must stop
func (m *Manager) handleSessionEvent(ev types.SessionEvent) bool {
	switch ev.Type {
	case types.SessionExpired:
		m.onSessionExpired(ev.SessionID)

	case types.SessionEstablished:
		if m.alreadyHandled(ev.SessionID) {
			m.logger.Debug("ignoring duplicate session event", "session_id", ev.SessionID)
			return true
		}

		err := m.HandleNewSession(m.ctx)
		if err == nil {
			return true
		}
		if m.ctx.Err() != nil {
			return false
		}

		if IsFatal(err) {
			m.logError("fatal error while handling session, giving up", "session_id", ev.SessionID, "error", err)
			m.transitionState(StateFailed)
			m.fireError(err)

			return false
		}

		m.logError("failed to handle session, requesting a fresh one", "session_id", ev.SessionID, "error", err)
		m.fireError(err)
		if err := m.retry.Wait(m.ctx); err != nil {
			return false
		}
		resetCtx, cancel := context.WithTimeout(m.ctx, m.cfg.OperationTimeout)
		defer cancel()
		if err := m.store.ResetSession(resetCtx); err != nil {
			m.logError("failed to reset store session", "error", err)
			m.fireError(err)
		}

	case types.Disconnected:
		m.logger.Warn("store connection lost", "session_id", ev.SessionID)

	case types.Reconnected:
		m.logger.Info("store connection restored", "session_id", ev.SessionID)
	}

	return true
}

// alreadyHandled reports whether id was the last session handled, or has
// been superseded by a newer store session whose own event is still queued.
func (m *Manager) alreadyHandled(id string) bool {
	m.sessionMu.Lock()
	attempted := m.attempted
	m.sessionMu.Unlock()

	return id == attempted || id != m.store.SessionID()
}

// onSessionExpired drops everything bound to the expired session without
// waiting for the store's next session.
func (m *Manager) onSessionExpired(id string) {
	sess := m.session.Load()
	if sess == nil || sess.ID != id {
		m.logger.Debug("ignoring expiry of an unhandled session", "session_id", id)
		return
	}

	sess.cancel()
	m.disp.Invalidate()
	m.metrics.RecordSessionExpired()
	m.transitionState(StateSessionExpired)

	m.logger.Warn("session expired", "instance", m.cfg.InstanceName, "session_id", id)

	// Controller-only work must not outlive the identity it was elected
	// under, even while no new session is in sight.
	if m.elector != nil {
		if err := m.elector.Suspend(m.lifecycleCtx()); err != nil {
			m.logError("failed to give up leadership of expired session", "session_id", id, "error", err)
			m.fireError(err)
		}
	}
}
