package statemachine

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/types"
)

// Result labels used for metrics.
const (
	resultSuccess  = "success"
	resultStale    = "stale"
	resultConflict = "conflict"
	resultIllegal  = "illegal"
	resultFailed   = "failed"
	resultUnknown  = "unknown_model"
)

// SessionFunc returns the session messages must target ("" = no session).
type SessionFunc func() string

// TransitionFunc observes applied transitions.
type TransitionFunc func(ctx context.Context, entity, from, to string)

// entity is one tracked instance and the lock serializing its transitions.
type entity struct {
	mu       sync.Mutex
	instance types.Instance
	present  bool
}

// Engine applies state transition messages to state-model instances.
type Engine struct {
	cfg          Config
	session      SessionFunc
	logger       types.Logger
	metrics      types.MetricsCollector
	onTransition TransitionFunc

	models   *xsync.Map[string, types.StateModel]
	entities *xsync.Map[string, *entity]

	lanes laneSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = metrics.OrNop(m) }
}

// WithOnTransition sets the observer called after each successful transition.
func WithOnTransition(fn TransitionFunc) Option {
	return func(e *Engine) { e.onTransition = fn }
}

// New creates an engine.
//
// Parameters:
//   - session: Returns the session messages must target
//   - cfg: Lane settings; zero values get defaults
//   - opts: Optional configuration
//
// Returns:
//   - *Engine: An engine ready for Apply; Submit needs Start
func New(session SessionFunc, cfg Config, opts ...Option) *Engine {
	cfg.setDefaults()

	e := &Engine{
		cfg:      cfg,
		session:  session,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		models:   xsync.NewMap[string, types.StateModel](),
		entities: xsync.NewMap[string, *entity](),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lanes.engine = e

	return e
}

// RegisterStateModel adds a state model.
//
// Returns:
//   - error: ErrInvalidStateModel or ErrStateModelExists
func (e *Engine) RegisterStateModel(model types.StateModel) error {
	if err := model.Validate(); err != nil {
		return err
	}
	if _, loaded := e.models.LoadOrStore(model.Name, model); loaded {
		return fmt.Errorf("%w: %s", types.ErrStateModelExists, model.Name)
	}
	e.logger.Debug("state model registered", "state_model", model.Name, "transitions", len(model.Transitions))

	return nil
}

// StateModel returns a registered state model.
func (e *Engine) StateModel(name string) (types.StateModel, bool) {
	return e.models.Load(name)
}

// Apply applies msg synchronously.
//
// Concurrent Apply calls for the same entity are serialized.
//
// Parameters:
//   - ctx: Context passed to the transition handler
//   - msg: The message to apply
//
// Returns:
//   - types.TransitionResult: The entity after the attempt
//   - error: ErrStaleMessage, ErrUnknownStateModel, ErrIllegalTransition,
//     ErrTransitionConflict, ErrTransitionFailed or ErrInvalidMessage
func (e *Engine) Apply(ctx context.Context, msg types.Message) (types.TransitionResult, error) {
	res := types.TransitionResult{Message: msg}
	if err := msg.Validate(); err != nil {
		return res, err
	}
	if msg.Type == types.MessageNoOp {
		return res, nil
	}
	if msg.Type != types.MessageStateTransition {
		return res, fmt.Errorf("%w: message %s has unsupported type %q", types.ErrInvalidMessage, msg.ID, msg.Type)
	}

	model, ok := e.models.Load(msg.StateModel)
	if !ok {
		e.metrics.RecordTransition(msg.StateModel, resultUnknown, 0)
		return res, fmt.Errorf("%w: %s", types.ErrUnknownStateModel, msg.StateModel)
	}

	key := msg.EntityKey()
	ent := e.lockEntity(key)
	defer ent.mu.Unlock()

	// The session is checked under the entity lock: a message may wait
	// behind another transition while the session changes.
	if current := e.session(); current == "" || msg.TargetSessionID != current {
		e.metrics.RecordTransition(model.Name, resultStale, 0)
		e.logger.Debug("discarding stale message",
			"message_id", msg.ID,
			"entity", key,
			"target_session", msg.TargetSessionID,
			"session_id", current,
		)
		res.Instance = ent.snapshot(msg, model)

		return res, fmt.Errorf("%w: message %s targets %s", types.ErrStaleMessage, msg.ID, msg.TargetSessionID)
	}

	from := ent.snapshot(msg, model).CurrentState

	if !model.Allows(msg.FromState, msg.ToState) {
		e.markError(ent, msg, model)
		e.metrics.RecordTransition(model.Name, resultIllegal, 0)
		res.Instance = ent.instance

		return res, fmt.Errorf("%w: %s %s-%s for %s", types.ErrIllegalTransition, model.Name, msg.FromState, msg.ToState, key)
	}
	if from != msg.FromState {
		e.markError(ent, msg, model)
		e.metrics.RecordTransition(model.Name, resultConflict, 0)
		res.Instance = ent.instance

		return res, fmt.Errorf("%w: %s is %s, message %s expects %s", types.ErrTransitionConflict, key, from, msg.ID, msg.FromState)
	}

	ent.set(msg, model, from, msg.ToState)

	start := time.Now()
	err := e.invoke(ctx, model, types.TransitionRequest{
		Resource:   msg.Resource,
		Partition:  msg.Partition,
		StateModel: model.Name,
		From:       from,
		To:         msg.ToState,
		MessageID:  msg.ID,
		SessionID:  msg.TargetSessionID,
	})
	res.Duration = time.Since(start)

	if err != nil {
		e.markError(ent, msg, model)
		e.metrics.RecordTransition(model.Name, resultFailed, res.Duration.Seconds())
		res.Instance = ent.instance
		e.logger.Warn("transition handler failed",
			"entity", key,
			"state_model", model.Name,
			"from", from,
			"to", msg.ToState,
			"message_id", msg.ID,
			"error", err,
		)

		return res, fmt.Errorf("%w: %s %s-%s: %w", types.ErrTransitionFailed, key, from, msg.ToState, err)
	}

	ent.instance.CurrentState = msg.ToState
	ent.instance.PendingState = ""
	ent.instance.UpdatedAt = time.Now()
	res.Instance = ent.instance
	e.metrics.RecordTransition(model.Name, resultSuccess, res.Duration.Seconds())

	if msg.ToState == types.StateDropped {
		ent.present = false
		e.entities.Compute(key, func(old *entity, loaded bool) (*entity, xsync.ComputeOp) {
			if loaded && old == ent {
				return nil, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
	}
	e.metrics.RecordInstanceCount(e.Len())

	e.logger.Debug("transition applied",
		"entity", key,
		"state_model", model.Name,
		"from", from,
		"to", msg.ToState,
		"message_id", msg.ID,
		"duration", res.Duration,
	)
	if e.onTransition != nil {
		e.onTransition(ctx, key, from, msg.ToState)
	}

	return res, nil
}

// lockEntity returns the locked entity currently mapped to key. An entity
// removed while we waited for its lock is skipped for a fresh one.
func (e *Engine) lockEntity(key string) *entity {
	for {
		ent, _ := e.entities.LoadOrCompute(key, func() (*entity, bool) {
			return &entity{}, false
		})
		ent.mu.Lock()
		if cur, ok := e.entities.Load(key); ok && cur == ent {
			return ent
		}
		ent.mu.Unlock()
	}
}

// invoke runs the handler, turning a panic into an error.
func (e *Engine) invoke(ctx context.Context, model types.StateModel, req types.TransitionRequest) (err error) {
	if e.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return model.Handler.OnTransition(ctx, req)
}

func (e *Engine) markError(ent *entity, msg types.Message, model types.StateModel) {
	ent.set(msg, model, types.StateError, "")
}

// snapshot returns the tracked instance, or a fresh one in the model's initial state.
func (ent *entity) snapshot(msg types.Message, model types.StateModel) types.Instance {
	if ent.present {
		return ent.instance
	}

	return types.Instance{
		Resource:     msg.Resource,
		Partition:    msg.Partition,
		StateModel:   model.Name,
		CurrentState: model.InitialState,
	}
}

// set records current and pending state. Caller holds ent.mu.
func (ent *entity) set(msg types.Message, model types.StateModel, current, pending string) {
	ent.instance = ent.snapshot(msg, model)
	ent.instance.CurrentState = current
	ent.instance.PendingState = pending
	ent.instance.UpdatedAt = time.Now()
	ent.present = true
}

// Restore seeds instances, typically carried over from a previous session.
// Existing instances with the same key are overwritten.
func (e *Engine) Restore(instances ...types.Instance) {
	for _, inst := range instances {
		ent := e.lockEntity(inst.EntityKey())
		ent.instance = inst
		ent.instance.PendingState = ""
		ent.present = true
		ent.mu.Unlock()
	}
	e.metrics.RecordInstanceCount(e.Len())
}

// Instance returns the tracked instance for (resource, partition).
func (e *Engine) Instance(resource, partition string) (types.Instance, bool) {
	ent, ok := e.entities.Load(types.EntityKey(resource, partition))
	if !ok {
		return types.Instance{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	return ent.instance, ent.present
}

// Instances returns every tracked instance sorted by resource then partition.
func (e *Engine) Instances() []types.Instance {
	out := make([]types.Instance, 0, e.entities.Size())
	e.entities.Range(func(_ string, ent *entity) bool {
		ent.mu.Lock()
		if ent.present {
			out = append(out, ent.instance)
		}
		ent.mu.Unlock()

		return true
	})
	slices.SortFunc(out, func(a, b types.Instance) int {
		return cmp.Or(cmp.Compare(a.Resource, b.Resource), cmp.Compare(a.Partition, b.Partition))
	})

	return out
}

// Remove forgets the instance for (resource, partition).
func (e *Engine) Remove(resource, partition string) {
	if ent, ok := e.entities.LoadAndDelete(types.EntityKey(resource, partition)); ok {
		ent.mu.Lock()
		ent.present = false
		ent.mu.Unlock()
	}
	e.metrics.RecordInstanceCount(e.Len())
}

// Clear forgets every instance.
func (e *Engine) Clear() {
	e.entities.Clear()
	e.metrics.RecordInstanceCount(0)
}

// Len returns the number of tracked instances.
func (e *Engine) Len() int {
	return e.entities.Size()
}

// Start launches the lanes used by Submit.
func (e *Engine) Start(ctx context.Context) error {
	return e.lanes.start(ctx)
}

// Stop stops the lanes and waits for in-flight transitions. Queued messages
// are completed with ErrEngineStopped.
func (e *Engine) Stop() error {
	return e.lanes.stop()
}

// Submit queues msg on its entity's lane; done receives the outcome.
//
// Returns:
//   - error: ErrEngineStopped or ErrQueueFull; done is not called then
func (e *Engine) Submit(msg types.Message, done func(types.TransitionResult)) error {
	return e.lanes.submit(msg, done)
}
