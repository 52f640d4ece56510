package helmsman

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks          *Hooks
	metrics        MetricsCollector
	logger         Logger
	pipeline       ControllerPipeline
	stateModels    []StateModel
	timerTasks     []TimerTask
	controllerTask []TimerTask
	preConnect     []PreConnectCallback
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &helmsman.Hooks{
//	    OnLeadershipChanged: func(ctx context.Context, leader bool) error {
//	        return notify(leader)
//	    },
//	}
//	mgr, err := helmsman.NewManager(&cfg, store, helmsman.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "helmsman")
//	mgr, err := helmsman.NewManager(&cfg, store, helmsman.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	mgr, err := helmsman.NewManager(&cfg, store, helmsman.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithControllerPipeline sets the decision pipeline driven while this process
// holds leadership.
//
// The pipeline is subscribed to the live-instance, ideal-state and config
// subtrees when leadership is acquired and unsubscribed when it is lost.
// Without a pipeline, a controller still contends for leadership and runs its
// controller-only timer tasks.
//
// Parameters:
//   - pipeline: Listener receiving controller-relevant changes
//
// Returns:
//   - Option: Functional option for NewManager
func WithControllerPipeline(pipeline ControllerPipeline) Option {
	return func(o *managerOptions) {
		o.pipeline = pipeline
	}
}

// WithStateModel registers a state model at construction time.
//
// Parameters:
//   - model: State model definition with its transition handler
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, err := helmsman.NewManager(&cfg, store,
//	    helmsman.WithStateModel(statemodel.OnlineOffline(handler)),
//	)
func WithStateModel(model StateModel) Option {
	return func(o *managerOptions) {
		o.stateModels = append(o.stateModels, model)
	}
}

// WithTimerTask adds a timer task started on every new session according to
// its role.
//
// Parameters:
//   - task: Timer task
//
// Returns:
//   - Option: Functional option for NewManager
func WithTimerTask(task TimerTask) Option {
	return func(o *managerOptions) {
		o.timerTasks = append(o.timerTasks, task)
	}
}

// WithControllerTimerTask adds a timer task that runs only while this process
// holds leadership.
//
// Parameters:
//   - task: Timer task
//
// Returns:
//   - Option: Functional option for NewManager
func WithControllerTimerTask(task TimerTask) Option {
	return func(o *managerOptions) {
		o.controllerTask = append(o.controllerTask, task)
	}
}

// WithPreConnectCallback adds a callback invoked on every new session before
// the presence record is created.
//
// Parameters:
//   - cb: Callback; an error aborts the session and triggers a fresh one
//
// Returns:
//   - Option: Functional option for NewManager
func WithPreConnectCallback(cb PreConnectCallback) Option {
	return func(o *managerOptions) {
		o.preConnect = append(o.preConnect, cb)
	}
}
