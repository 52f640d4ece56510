package helmsman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/backoff"
	"github.com/arloliu/helmsman/internal/dispatcher"
	"github.com/arloliu/helmsman/internal/election"
	"github.com/arloliu/helmsman/internal/heartbeat"
	"github.com/arloliu/helmsman/internal/hooks"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/messaging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/internal/statemachine"
	"github.com/arloliu/helmsman/internal/statusdump"
	"github.com/arloliu/helmsman/internal/timer"
	"github.com/arloliu/helmsman/types"
)

// Manager is the session coordinator of one cluster process.
//
// Manager is the main entry point of the helmsman library. It handles:
//   - Rebuilding all session-derived state on every new store session
//   - Presence registration and current-state carry-over for participants
//   - Leader election and the controller pipeline for controllers
//   - State-transition message execution through the state machine engine
//   - Timer tasks bound to the process role
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Session handling is serialized; at most one HandleNewSession runs at a time
//   - State transitions are atomic and validated
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Connect() to handle the first session and start the session loop
//   - Use hooks to react to state and leadership changes
//   - Call Disconnect() for graceful shutdown
//
// Testing:
// Consumers can define minimal interfaces for mocking:
//
//	type Coordinator interface {
//	    Connect(ctx context.Context) error
//	    IsLeader(ctx context.Context) bool
//	}
type Manager struct {
	cfg   Config
	store types.MetadataStore
	paths paths.Builder

	hooks   Hooks
	metrics MetricsCollector
	logger  Logger

	// Internal components
	acc     *accessor.Accessor
	disp    *dispatcher.Dispatcher
	engine  *statemachine.Engine
	exec    *messaging.Executor
	elector *election.Elector
	timers  *timer.Lifecycle
	retry   *backoff.Backoff

	pipeline ControllerPipeline

	// Registrations, guarded by regMu
	regMu           sync.Mutex
	tasks           []TimerTask
	controllerTasks []TimerTask
	preConnect      []PreConnectCallback

	// Session handling, serialized by sessionMu
	sessionMu    sync.Mutex
	session      atomic.Pointer[SessionContext]
	attempted    string
	handled      int
	lastTeardown TeardownReport

	// State management
	state      atomic.Int32 // State
	stateSince atomic.Int64 // unix nanos of the last transition

	// Lifecycle management
	ctx    context.Context //nolint:containedctx // lifecycle context of the session loop and hooks
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SessionContext carries the identity and lifetime of one handled session.
//
// A new SessionContext replaces the previous one wholesale when a session is
// handled; the previous context is cancelled at that moment.
type SessionContext struct {
	// ID is the store session id.
	ID string

	// StartedAt is when handling of the session began.
	StartedAt time.Time

	ctx    context.Context //nolint:containedctx // the session's lifetime
	cancel context.CancelFunc
}

// Context returns the context cancelled when the session ends.
func (s *SessionContext) Context() context.Context {
	return s.ctx
}

// Active reports whether the session has neither expired nor been replaced.
func (s *SessionContext) Active() bool {
	return s.ctx.Err() == nil
}

// Subscription is a handle for a listener registered with AddListener.
type Subscription struct {
	sub *dispatcher.Subscription
}

// Path returns the subscribed path.
func (s *Subscription) Path() string { return s.sub.Path() }

// ChangeType returns the subscription's change type.
func (s *Subscription) ChangeType() ChangeType { return s.sub.ChangeType() }

// Armed reports whether the subscription currently receives notifications.
func (s *Subscription) Armed() bool { return s.sub.Armed() }

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - store: Metadata store connection (natsstore in production, memstore in tests)
//   - opts: Optional configuration (hooks, metrics, logger, state models, tasks)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := helmsman.DefaultConfig()
//	cfg.ClusterName = "prod"
//	cfg.InstanceName = "node-1"
//	mgr, err := helmsman.NewManager(&cfg, store,
//	    helmsman.WithStateModel(statemodel.OnlineOffline(handler)),
//	)
func NewManager(cfg *Config, store MetadataStore, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	loggerInstance := logging.OrNop(options.logger)
	metricsCollector := metrics.OrNop(options.metrics)

	cfg.ValidateWithWarnings(loggerInstance)

	m := &Manager{
		cfg:      *cfg,
		store:    store,
		paths:    paths.New(cfg.ClusterName),
		hooks:    hooks.Fill(options.hooks),
		metrics:  metricsCollector,
		logger:   loggerInstance,
		pipeline: options.pipeline,
		retry:    backoff.New(cfg.Election.BackoffBase, cfg.SessionTimeout),
	}
	m.state.Store(int32(StateInit))
	m.stateSince.Store(time.Now().UnixNano())

	m.acc = accessor.New(store, accessor.WithLogger(logging.Component(loggerInstance, "accessor")), accessor.WithMetrics(metricsCollector))
	m.disp = dispatcher.New(store, dispatcher.WithLogger(logging.Component(loggerInstance, "dispatcher")), dispatcher.WithMetrics(metricsCollector))
	m.engine = statemachine.New(m.SessionID, statemachine.Config{
		Lanes:          cfg.Engine.Lanes,
		QueueSize:      cfg.Engine.QueueSize,
		HandlerTimeout: cfg.Engine.HandlerTimeout,
	},
		statemachine.WithLogger(logging.Component(loggerInstance, "statemachine")),
		statemachine.WithMetrics(metricsCollector),
		statemachine.WithOnTransition(m.onTransition),
	)
	m.exec = messaging.New(messaging.Config{Cluster: cfg.ClusterName, Instance: cfg.InstanceName},
		m.acc, m.engine, m.disp, messaging.WithLogger(logging.Component(loggerInstance, "messaging")))
	m.timers = timer.NewLifecycle(logging.Component(loggerInstance, "timer"))

	if cfg.InstanceType.IsController() {
		m.elector = election.New(store, m.disp, election.Config{
			Cluster:       cfg.ClusterName,
			Instance:      cfg.InstanceName,
			Version:       cfg.Version,
			RetryInterval: cfg.Election.RetryInterval,
			BackoffBase:   cfg.Election.BackoffBase,
			BackoffMax:    cfg.Election.BackoffMax,
		},
			election.WithLogger(logging.Component(loggerInstance, "election")),
			election.WithMetrics(metricsCollector),
			election.WithOnAcquired(m.onAcquired),
			election.WithOnLost(m.onLost),
		)
	}

	for _, model := range options.stateModels {
		if err := m.engine.RegisterStateModel(model); err != nil {
			return nil, err
		}
	}

	// Built-in tasks first, so user tasks can't shadow their names by accident.
	if cfg.InstanceType.IsParticipant() && cfg.Tasks.HealthReportInterval > 0 {
		m.addTask(heartbeat.New(m.acc, cfg.ClusterName, cfg.InstanceName, m.SessionID,
			cfg.Tasks.HealthReportInterval, metricsCollector,
			heartbeat.WithLogger(logging.Component(loggerInstance, heartbeat.TaskName)),
			heartbeat.WithStats(m.healthStats),
		), false)
	}
	if cfg.InstanceType.IsController() && cfg.Tasks.StatusDumpInterval > 0 {
		m.addTask(statusdump.New(m.acc, cfg.ClusterName, cfg.InstanceName, m.SessionID,
			cfg.Tasks.StatusDumpInterval, logging.Component(loggerInstance, "statusdump"), metricsCollector), true)
	}
	for _, task := range options.timerTasks {
		m.addTask(task, task.Role() == types.RoleControllerOnly)
	}
	for _, task := range options.controllerTask {
		m.addTask(task, true)
	}
	m.preConnect = append(m.preConnect, options.preConnect...)

	return m, nil
}

// Connect starts the manager: it handles the current store session and then
// follows session events in the background.
//
// Blocks until the first session is fully handled (StateReady).
//
// Parameters:
//   - ctx: Context bounding the first session handling
//
// Returns:
//   - error: ErrAlreadyStarted, or the first HandleNewSession failure
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.transitionState(StateConnecting)

	if err := m.engine.Start(m.ctx); err != nil {
		m.abortConnect()
		return fmt.Errorf("failed to start state machine engine: %w", err)
	}

	if err := m.HandleNewSession(ctx); err != nil {
		m.logError("failed to handle first session", "error", err)
		m.abortConnect()

		return err
	}

	m.wg.Go(m.sessionLoop)

	m.logger.Info("manager connected",
		"cluster", m.cfg.ClusterName,
		"instance", m.cfg.InstanceName,
		"instance_type", string(m.cfg.InstanceType),
		"session_id", m.SessionID(),
	)

	return nil
}

// abortConnect undoes a failed Connect so it can be retried.
func (m *Manager) abortConnect() {
	stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.stopComponents(stopCtx); err != nil {
		m.logError("cleanup after failed connect", "error", err)
	}

	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = nil, nil
	m.mu.Unlock()

	m.transitionState(StateFailed)
}

// Disconnect gracefully shuts down the manager.
//
// Tear-down runs in reverse order of session handling: timer tasks, leader
// elector, subscriptions, message executor, engine lanes, presence record.
// Every step runs even if an earlier one failed.
//
// Parameters:
//   - ctx: Context for shutdown timeout; ShutdownTimeout applies when it has no deadline
//
// Returns:
//   - error: ErrNotStarted, or the joined tear-down failures
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil || m.State() == StateShutdown {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.transitionState(StateShutdown)
	m.cancel()
	m.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	shutdownErr := m.stopComponents(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager disconnected", "instance", m.cfg.InstanceName)
		return shutdownErr
	case <-ctx.Done():
		m.logError("shutdown timeout exceeded, session loop may still be running")
		return errors.Join(ctx.Err(), shutdownErr)
	}
}

// stopComponents releases everything a session built.
func (m *Manager) stopComponents(ctx context.Context) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	var errs []error
	if err := m.timers.StopAll(); err != nil {
		errs = append(errs, fmt.Errorf("timer tasks: %w", err))
	}
	if m.elector != nil {
		if err := m.elector.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leader elector: %w", err))
		}
	}
	m.disp.DisarmAll(ctx)
	if err := m.exec.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("message executor: %w", err))
	}
	if err := m.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("state machine engine: %w", err))
	}

	if sess := m.session.Load(); sess != nil {
		if m.cfg.InstanceType.IsParticipant() {
			if err := m.removeLiveInstance(ctx, sess.ID); err != nil {
				errs = append(errs, fmt.Errorf("presence record: %w", err))
			}
		}
		sess.cancel()
	}
	m.disp.Invalidate()

	return errors.Join(errs...)
}

// InstanceName returns the instance name of this process.
func (m *Manager) InstanceName() string {
	return m.cfg.InstanceName
}

// ClusterName returns the cluster this process belongs to.
func (m *Manager) ClusterName() string {
	return m.cfg.ClusterName
}

// InstanceType returns the roles of this process.
func (m *Manager) InstanceType() InstanceType {
	return m.cfg.InstanceType
}

// SessionID returns the id of the handled session.
//
// Returns:
//   - string: Session id, empty before the first session and after expiry
func (m *Manager) SessionID() string {
	sess := m.session.Load()
	if sess == nil || !sess.Active() {
		return ""
	}

	return sess.ID
}

// Session returns the current session context, or nil before the first session.
func (m *Manager) Session() *SessionContext {
	return m.session.Load()
}

// IsConnected reports whether the manager holds a live store session.
func (m *Manager) IsConnected() bool {
	switch m.State() {
	case StateHandlingSession, StateReady:
		return m.SessionID() != "" && m.store.SessionID() != ""
	default:
		return false
	}
}

// IsLeader reports whether this process currently holds leadership.
//
// The leadership record is read from the store and must name this instance
// and its current session. Always false while not connected.
//
// Parameters:
//   - ctx: Context for the store read
//
// Returns:
//   - bool: true if leader
func (m *Manager) IsLeader(ctx context.Context) bool {
	if m.elector == nil || !m.IsConnected() {
		return false
	}

	return m.elector.IsLeader(ctx)
}

// Leader returns the current leadership record of the cluster.
//
// The record is read from the store on every call; it is owned by whichever
// process leads and is never served from the session cache.
//
// Returns:
//   - *LiveInstance: The record, or nil when no controller is elected
//   - error: Store or decode failure
func (m *Manager) Leader(ctx context.Context) (*LiveInstance, error) {
	entry, err := m.store.Get(ctx, m.paths.Leader())
	if errors.Is(err, types.ErrNodeNotFound) {
		return nil, nil //nolint:nilnil // no leader is a valid state
	}
	if err != nil {
		return nil, err
	}

	var rec LiveInstance
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode leadership record: %w", err)
	}

	return &rec, nil
}

// State returns the current manager state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// LastTeardown returns the report of the most recent prior-session tear-down.
func (m *Manager) LastTeardown() TeardownReport {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	return m.lastTeardown
}

// Instances returns a snapshot of the state-model instances tracked by the engine.
func (m *Manager) Instances() []Instance {
	return m.engine.Instances()
}

// Instance returns the tracked instance for (resource, partition).
func (m *Manager) Instance(resource, partition string) (Instance, bool) {
	return m.engine.Instance(resource, partition)
}

// WaitState waits for the manager to reach the expected state within the timeout period.
//
// The method returns a read-only channel that will receive exactly one value:
//   - nil if the expected state is reached within the timeout
//   - context.DeadlineExceeded if the timeout expires before reaching the state
//
// The channel is closed after sending the result, allowing safe use in select statements.
//
// Parameters:
//   - expectedState: The state to wait for
//   - timeout: Maximum duration to wait for the state
//
// Returns:
//   - <-chan error: A channel that receives the result (nil on success, error on timeout)
//
// Example:
//
//	if err := <-mgr.WaitState(helmsman.StateReady, 10*time.Second); err != nil {
//	    return fmt.Errorf("manager not ready: %w", err)
//	}
func (m *Manager) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if m.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if m.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// AddListener registers an external change listener on path.
//
// When a session is active the subscription is armed immediately; otherwise
// it is armed by the next session handling. External listeners are re-armed
// on every new session.
//
// Parameters:
//   - ctx: Context checked before registering
//   - path: Store path to watch
//   - listener: Listener receiving Init, change and Finalize callbacks
//   - kinds: Change kinds of interest (nil for all)
//   - changeType: Label attached to every event
//
// Returns:
//   - *Subscription: Handle for RemoveListener
//   - error: Validation failure
func (m *Manager) AddListener(ctx context.Context, path string, listener ChangeListener, kinds []ChangeKind, changeType ChangeType) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, err := m.disp.Subscribe(dispatcher.Spec{
		Path:       path,
		Listener:   listener,
		Kinds:      kinds,
		ChangeType: changeType,
		Owner:      types.OwnerExternal,
	})
	if err != nil {
		return nil, err
	}

	return &Subscription{sub: sub}, nil
}

// RemoveListener disarms and forgets a listener registered with AddListener.
func (m *Manager) RemoveListener(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	m.disp.Remove(ctx, sub.sub)
}

// AddPreConnectCallback registers a callback run on every new session before
// the presence record is created.
func (m *Manager) AddPreConnectCallback(cb PreConnectCallback) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	m.preConnect = append(m.preConnect, cb)
}

// RegisterStateModel registers a state model with the engine.
//
// Returns:
//   - error: ErrInvalidStateModel or ErrStateModelExists
func (m *Manager) RegisterStateModel(model StateModel) error {
	return m.engine.RegisterStateModel(model)
}

// AddTimerTask registers a timer task.
//
// Controller-only tasks are routed to the controller task set. A task whose
// role fits this process is started right away when a session is active.
//
// Returns:
//   - error: Start failure of the task
func (m *Manager) AddTimerTask(task TimerTask) error {
	controller := task.Role() == types.RoleControllerOnly
	m.addTask(task, controller)

	if controller {
		return m.startIfLeader(task)
	}
	if !m.roleFits(task.Role()) {
		return nil
	}
	if sess := m.session.Load(); sess != nil && sess.Active() && m.State() == StateReady {
		return m.timers.Start(sess.ctx, []TimerTask{task})
	}

	return nil
}

// AddControllerTimerTask registers a task that runs only while this process
// holds leadership.
//
// Returns:
//   - error: Start failure when this process already leads
func (m *Manager) AddControllerTimerTask(task TimerTask) error {
	m.addTask(task, true)

	return m.startIfLeader(task)
}

func (m *Manager) startIfLeader(task TimerTask) error {
	if m.elector == nil || !m.elector.Holding() {
		return nil
	}
	sess := m.session.Load()
	if sess == nil || !sess.Active() {
		return nil
	}

	return m.timers.Start(sess.ctx, []TimerTask{task})
}

func (m *Manager) addTask(task TimerTask, controller bool) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if controller {
		m.controllerTasks = append(m.controllerTasks, task)
	} else {
		m.tasks = append(m.tasks, task)
	}
}

// roleFits reports whether a non-controller task runs on this instance type.
func (m *Manager) roleFits(role TaskRole) bool {
	switch role {
	case types.RoleAlways:
		return true
	case types.RoleParticipantOnly:
		return m.cfg.InstanceType.IsParticipant()
	default:
		return false
	}
}

func (m *Manager) sessionTasks() []TimerTask {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	roles := []TaskRole{types.RoleAlways}
	if m.cfg.InstanceType.IsParticipant() {
		roles = append(roles, types.RoleParticipantOnly)
	}

	return timer.Filter(m.tasks, roles...)
}

func (m *Manager) controllerTaskList() []TimerTask {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	return slices.Clone(m.controllerTasks)
}

func (m *Manager) preConnectCallbacks() []PreConnectCallback {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	return slices.Clone(m.preConnect)
}

// RunningTasks returns the sorted names of the running timer tasks.
func (m *Manager) RunningTasks() []string {
	return m.timers.Running()
}

// onAcquired wires the controller pipeline and starts controller-only tasks.
func (m *Manager) onAcquired(ctx context.Context) error {
	taskCtx := ctx
	if sess := m.session.Load(); sess != nil && sess.Active() {
		taskCtx = sess.ctx
	}

	var errs []error
	if m.pipeline != nil {
		watches := []struct {
			path       string
			changeType ChangeType
		}{
			{m.paths.LiveInstances(), types.ChangeTypeLiveInstance},
			{m.paths.IdealStates(), types.ChangeTypeIdealState},
			{m.paths.ResourceConfigs(), types.ChangeTypeConfig},
		}
		for _, w := range watches {
			if _, err := m.disp.Subscribe(dispatcher.Spec{
				Path:       w.path,
				Listener:   m.pipeline,
				Kinds:      types.AllChangeKinds,
				ChangeType: w.changeType,
				Owner:      types.OwnerController,
			}); err != nil {
				errs = append(errs, fmt.Errorf("failed to subscribe controller pipeline to %s: %w", w.path, err))
			}
		}
	}

	if err := m.timers.Start(taskCtx, m.controllerTaskList()); err != nil {
		errs = append(errs, err)
	}

	m.fireLeadershipChanged(true)

	return errors.Join(errs...)
}

// onLost undoes onAcquired.
func (m *Manager) onLost(ctx context.Context) error {
	err := m.timers.Stop(m.controllerTaskList())
	m.disp.RemoveOwner(ctx, types.OwnerController)

	m.fireLeadershipChanged(false)

	return err
}

func (m *Manager) onTransition(_ context.Context, entity, from, to string) {
	go func() {
		if err := m.hooks.OnTransition(m.lifecycleCtx(), entity, from, to); err != nil {
			m.logError("transition hook error", "entity", entity, "error", err)
		}
	}()
}

func (m *Manager) healthStats() map[string]string {
	return map[string]string{
		"state":            m.State().String(),
		"instances":        strconv.Itoa(m.engine.Len()),
		"pending_messages": strconv.Itoa(m.exec.Pending()),
	}
}

// transitionState moves the manager to a new state and triggers hooks.
//
// Returns:
//   - bool: false if the transition is not allowed from the current state
func (m *Manager) transitionState(to State) bool {
	for {
		from := m.State()
		if from == to {
			return true
		}
		if !isValidTransition(from, to) {
			m.logError("invalid state transition attempted",
				"from", from.String(),
				"to", to.String(),
			)

			return false
		}
		if !m.state.CompareAndSwap(int32(from), int32(to)) { //nolint:gosec // State values are controlled enum
			continue
		}

		now := time.Now().UnixNano()
		since := m.stateSince.Swap(now)

		m.logger.Info("state transition",
			"from", from.String(),
			"to", to.String(),
			"instance", m.cfg.InstanceName,
		)

		go func() {
			if err := m.hooks.OnStateChanged(m.lifecycleCtx(), from, to); err != nil {
				m.logError("state change hook error", "from", from, "to", to, "error", err)
			}
		}()

		m.metrics.RecordStateTransition(from, to, time.Duration(now-since).Seconds())

		return true
	}
}

// validTransitions lists the allowed manager state transitions.
var validTransitions = map[State][]State{
	StateInit:            {StateConnecting, StateShutdown},
	StateConnecting:      {StateHandlingSession, StateFailed, StateShutdown},
	StateHandlingSession: {StateReady, StateSessionExpired, StateFailed, StateShutdown},
	StateReady:           {StateHandlingSession, StateSessionExpired, StateFailed, StateShutdown},
	StateSessionExpired:  {StateHandlingSession, StateFailed, StateShutdown},
	StateFailed:          {StateConnecting, StateShutdown},
	StateShutdown:        {}, // Terminal state - no transitions allowed
}

func isValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

func (m *Manager) fireLeadershipChanged(leader bool) {
	go func() {
		if err := m.hooks.OnLeadershipChanged(m.lifecycleCtx(), leader); err != nil {
			m.logError("leadership hook error", "leader", leader, "error", err)
		}
	}()
}

func (m *Manager) fireError(err error) {
	go func() {
		if hookErr := m.hooks.OnError(m.lifecycleCtx(), err); hookErr != nil {
			m.logError("error hook error", "error", hookErr)
		}
	}()
}

func (m *Manager) lifecycleCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return context.Background()
	}

	return m.ctx
}

// logError logs an error message.
func (m *Manager) logError(msg string, keysAndValues ...any) {
	m.logger.Error(msg, keysAndValues...)
}
