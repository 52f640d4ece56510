package dispatcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

// Dispatcher owns the set of subscriptions and their session binding.
type Dispatcher struct {
	store   types.MetadataStore
	logger  types.Logger
	metrics types.MetricsCollector

	generation atomic.Uint64
	// fence is held for reading across a generation check and the listener
	// call it guards; bumping the generation takes it for writing.
	fence sync.RWMutex

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextID    uint64
	sessionID string
	// sessionCtx is the context armed subscriptions derive from.
	sessionCtx context.Context //nolint:containedctx // armed watches outlive the Activate call
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = metrics.OrNop(m) }
}

// New creates a dispatcher on top of store. No session is active until Activate.
func New(store types.MetadataStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		subs:    make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Generation returns the current delivery generation.
func (d *Dispatcher) Generation() uint64 {
	return d.generation.Load()
}

// SessionID returns the session new subscriptions are armed for ("" when inactive).
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sessionID
}

// Invalidate marks every armed subscription stale without waiting for its
// watcher to stop. It must be called as soon as a session change is observed.
//
// A delivery already inside its listener completes before Invalidate
// returns; no event of the old generation starts afterwards. Listeners must
// therefore not call Invalidate or DisarmAll synchronously.
func (d *Dispatcher) Invalidate() {
	d.fence.Lock()
	defer d.fence.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation.Add(1)
	d.sessionID = ""
	d.sessionCtx = nil
}

// Activate binds the dispatcher to a new session. Subscriptions registered
// or armed afterwards watch under ctx and deliver events tagged with sessionID.
func (d *Dispatcher) Activate(ctx context.Context, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessionID = sessionID
	d.sessionCtx = ctx
}

// Subscribe registers a subscription.
//
// When a session is active the subscription is armed immediately. Otherwise
// an external subscription stays registered but disarmed until Arm, and an
// internal one is rejected with ErrNoSession.
//
// Parameters:
//   - spec: Path, listener, kinds and owner of the subscription
//
// Returns:
//   - *Subscription: The registered subscription
//   - error: Validation, ErrNoSession, or watch failures
func (d *Dispatcher) Subscribe(spec Spec) (*Subscription, error) {
	if spec.Listener == nil {
		return nil, types.ErrListenerRequired
	}
	if err := paths.Validate(spec.Path); err != nil {
		return nil, err
	}
	spec.Path = paths.Clean(spec.Path)
	if spec.ChangeType == "" {
		spec.ChangeType = types.ChangeTypeCustom
	}

	d.mu.Lock()
	if d.sessionID == "" && spec.Owner.Internal() {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot subscribe %s for %s", types.ErrNoSession, spec.Path, spec.Owner)
	}
	d.nextID++
	sub := &Subscription{id: d.nextID, spec: spec, d: d}
	d.subs[sub.id] = sub
	ctx, session, gen := d.sessionCtx, d.sessionID, d.generation.Load()
	d.mu.Unlock()

	if session != "" {
		if err := sub.arm(ctx, gen, session); err != nil {
			d.drop(sub)
			return nil, err
		}
	}
	d.recordActive()

	d.logger.Debug("subscription registered",
		"path", spec.Path,
		"change_type", spec.ChangeType,
		"owner", spec.Owner.String(),
		"armed", session != "",
	)

	return sub, nil
}

// Arm arms every disarmed subscription whose owner is in owners for the
// active session.
//
// Returns:
//   - error: ErrNoSession when inactive, or the joined watch failures
func (d *Dispatcher) Arm(owners ...types.Owner) error {
	d.mu.Lock()
	if d.sessionID == "" {
		d.mu.Unlock()
		return types.ErrNoSession
	}
	ctx, session, gen := d.sessionCtx, d.sessionID, d.generation.Load()
	targets := d.collect(func(s *Subscription) bool { return slices.Contains(owners, s.spec.Owner) })
	d.mu.Unlock()

	var errs []error
	for _, sub := range targets {
		if err := sub.arm(ctx, gen, session); err != nil {
			errs = append(errs, err)
		}
	}
	d.recordActive()

	return errors.Join(errs...)
}

// DisarmAll invalidates the current generation, stops every armed
// subscription and forgets the internally owned ones. External
// subscriptions stay registered for a later Arm.
//
// Finalize callbacks are delivered with ctx.
func (d *Dispatcher) DisarmAll(ctx context.Context) {
	d.fence.Lock()
	d.mu.Lock()
	d.generation.Add(1)
	d.sessionID = ""
	d.sessionCtx = nil
	all := d.collect(func(*Subscription) bool { return true })
	for _, sub := range all {
		if sub.spec.Owner.Internal() {
			delete(d.subs, sub.id)
		}
	}
	d.mu.Unlock()
	d.fence.Unlock()

	for _, sub := range all {
		if sub.spec.Owner.Internal() {
			sub.mu.Lock()
			sub.removed = true
			sub.mu.Unlock()
		}
		sub.disarm(ctx)
	}
	d.recordActive()
}

// Remove disarms sub and forgets it.
func (d *Dispatcher) Remove(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	d.drop(sub)
	sub.disarm(ctx)
	d.recordActive()
}

// RemoveOwner disarms and forgets every subscription of owner.
func (d *Dispatcher) RemoveOwner(ctx context.Context, owner types.Owner) {
	d.mu.Lock()
	targets := d.collect(func(s *Subscription) bool { return s.spec.Owner == owner })
	for _, sub := range targets {
		delete(d.subs, sub.id)
	}
	d.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		sub.removed = true
		sub.mu.Unlock()
		sub.disarm(ctx)
	}
	d.recordActive()
}

// Subscriptions returns a snapshot of the registered subscriptions.
func (d *Dispatcher) Subscriptions() []*Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.collect(func(*Subscription) bool { return true })
}

func (d *Dispatcher) drop(sub *Subscription) {
	d.mu.Lock()
	delete(d.subs, sub.id)
	d.mu.Unlock()

	sub.mu.Lock()
	sub.removed = true
	sub.mu.Unlock()
}

// collect returns matching subscriptions in registration order. Caller holds d.mu.
func (d *Dispatcher) collect(match func(*Subscription) bool) []*Subscription {
	out := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if match(sub) {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })

	return out
}

func (d *Dispatcher) recordActive() {
	armed := 0
	for _, sub := range d.Subscriptions() {
		if sub.Armed() {
			armed++
		}
	}
	d.metrics.RecordActiveSubscriptions(armed)
}
