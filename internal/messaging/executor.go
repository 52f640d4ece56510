// Package messaging executes the state transition messages addressed to
// this participant.
//
// The executor listens on the instance's MESSAGES node. Every new message is
// decoded and handed to the state machine engine; once the engine reports an
// outcome the resulting entity state is written to the session's current
// state record and the message is deleted. Messages issued to an earlier
// session are deleted without being applied.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/backoff"
	"github.com/arloliu/helmsman/internal/dispatcher"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/internal/statemachine"
	"github.com/arloliu/helmsman/types"
)

// Config identifies the participant whose messages are executed.
type Config struct {
	Cluster  string
	Instance string
}

// Executor consumes messages and applies them through the engine.
type Executor struct {
	cfg    Config
	paths  paths.Builder
	acc    *accessor.Accessor
	engine *statemachine.Engine
	disp   *dispatcher.Dispatcher
	logger types.Logger

	// seen holds message ids handed to the engine and not yet deleted.
	seen *xsync.Map[string, struct{}]

	mu        sync.Mutex
	sub       *dispatcher.Subscription
	sessionID string
	// ctx is the session context used by engine completions.
	ctx context.Context //nolint:containedctx // completions run after the listener returns
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(x *Executor) { x.logger = logging.OrNop(logger) }
}

// New creates an executor.
func New(cfg Config, acc *accessor.Accessor, engine *statemachine.Engine, disp *dispatcher.Dispatcher, opts ...Option) *Executor {
	x := &Executor{
		cfg:    cfg,
		paths:  paths.New(cfg.Cluster),
		acc:    acc,
		engine: engine,
		disp:   disp,
		logger: logging.NewNop(),
		seen:   xsync.NewMap[string, struct{}](),
	}
	for _, opt := range opts {
		opt(x)
	}

	return x
}

// Init subscribes to the instance's message node for sessionID.
//
// Messages already queued are processed when the subscription delivers its
// Init callback.
func (x *Executor) Init(ctx context.Context, sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.sub != nil {
		return nil
	}

	sub, err := x.disp.Subscribe(dispatcher.Spec{
		Path:       x.paths.Messages(x.cfg.Instance),
		Listener:   types.ChangeListenerFunc(x.onChange),
		Kinds:      []types.ChangeKind{types.ChildrenChanged},
		ChangeType: types.ChangeTypeMessage,
		Owner:      types.OwnerMessaging,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}
	x.sub = sub
	x.sessionID = sessionID
	x.ctx = ctx

	return nil
}

// Reset removes the subscription and forgets in-flight bookkeeping. It is
// idempotent.
func (x *Executor) Reset(ctx context.Context) error {
	x.mu.Lock()
	sub := x.sub
	x.sub = nil
	x.sessionID = ""
	x.ctx = nil
	x.mu.Unlock()

	x.disp.Remove(ctx, sub)
	x.seen.Clear()

	return nil
}

// Pending returns the number of messages handed to the engine and not yet deleted.
func (x *Executor) Pending() int {
	return x.seen.Size()
}

func (x *Executor) session() (string, context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.sessionID, x.ctx
}

func (x *Executor) onChange(ctx context.Context, ev types.ChangeEvent) error {
	switch ev.Type {
	case types.CallbackInit:
		names, err := x.acc.Children(ctx, ev.SubscribedPath)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		var errs []error
		for _, name := range names {
			if err := x.process(ctx, ev.SubscribedPath+"/"+name); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	case types.CallbackChange:
		return x.process(ctx, ev.Path)
	default:
		return nil
	}
}

// process handles one message path.
func (x *Executor) process(ctx context.Context, p string) error {
	id := paths.Base(p)

	entry, err := x.acc.Store().Get(ctx, p)
	if errors.Is(err, types.ErrNodeNotFound) {
		x.seen.Delete(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read message %s: %w", id, err)
	}
	if _, dup := x.seen.LoadOrStore(id, struct{}{}); dup {
		return nil
	}

	var msg types.Message
	if err := json.Unmarshal(entry.Value, &msg); err != nil {
		x.logger.Warn("leaving undecodable message", "message_id", id, "path", p, "error", err)
		return nil
	}
	if msg.ID == "" {
		msg.ID = id
	}

	switch msg.Type {
	case types.MessageNoOp:
		return x.remove(ctx, p, id)
	case types.MessageStateTransition:
		return x.submit(ctx, p, msg)
	default:
		x.logger.Warn("leaving message of unknown type", "message_id", id, "type", msg.Type)
		return nil
	}
}

// submit hands msg to the engine, backing off while its lane is full.
func (x *Executor) submit(ctx context.Context, p string, msg types.Message) error {
	done := func(res types.TransitionResult) { x.complete(p, res) }
	b := backoff.New(10*time.Millisecond, time.Second)

	for {
		err := x.engine.Submit(msg, done)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, types.ErrQueueFull):
			x.logger.Debug("transition queue full, retrying", "message_id", msg.ID, "entity", msg.EntityKey())
			if werr := b.Wait(ctx); werr != nil {
				x.seen.Delete(msg.ID)
				return werr
			}
		default:
			x.seen.Delete(msg.ID)
			return fmt.Errorf("failed to submit message %s: %w", msg.ID, err)
		}
	}
}

// complete records the engine outcome and deletes the message.
func (x *Executor) complete(p string, res types.TransitionResult) {
	msg := res.Message
	sessionID, ctx := x.session()
	if ctx == nil || errors.Is(res.Err, types.ErrEngineStopped) {
		// The session ended; the message is read again by the next session.
		x.seen.Delete(msg.ID)
		return
	}

	switch {
	case errors.Is(res.Err, types.ErrStaleMessage):
		x.logger.Debug("deleting stale message", "message_id", msg.ID, "target_session", msg.TargetSessionID)
	case errors.Is(res.Err, types.ErrUnknownStateModel), errors.Is(res.Err, types.ErrInvalidMessage):
		x.logger.Warn("deleting unusable message", "message_id", msg.ID, "error", res.Err)
	default:
		if err := x.recordState(ctx, sessionID, res); err != nil {
			x.logger.Error("failed to record current state",
				"entity", msg.EntityKey(),
				"session_id", sessionID,
				"error", err,
			)
		}
		if res.Err != nil {
			x.logger.Warn("transition not applied", "message_id", msg.ID, "entity", msg.EntityKey(), "error", res.Err)
		}
	}

	if err := x.remove(ctx, p, msg.ID); err != nil {
		x.logger.Error("failed to delete message", "message_id", msg.ID, "error", err)
	}
}

// recordState writes the entity's state into the session's current-state record.
func (x *Executor) recordState(ctx context.Context, sessionID string, res types.TransitionResult) error {
	msg := res.Message
	state := res.Instance.CurrentState
	p := x.paths.CurrentState(x.cfg.Instance, sessionID, msg.Resource)

	return accessor.UpdateJSON(ctx, x.acc, p, types.Persistent,
		func(cs types.CurrentState, exists bool) (types.CurrentState, bool, error) {
			if !exists {
				cs = types.CurrentState{
					Resource:   msg.Resource,
					StateModel: msg.StateModel,
					SessionID:  sessionID,
				}
			}
			if cs.PartitionStates == nil {
				cs.PartitionStates = make(map[string]string)
			}
			if state == types.StateDropped {
				delete(cs.PartitionStates, msg.Partition)
			} else {
				cs.PartitionStates[msg.Partition] = state
			}
			cs.UpdatedAt = time.Now()

			return cs, len(cs.PartitionStates) > 0, nil
		})
}

func (x *Executor) remove(ctx context.Context, p, id string) error {
	if err := x.acc.Delete(ctx, p); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}

	return nil
}
