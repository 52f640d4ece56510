package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/arloliu/helmsman/internal/backoff"
	"github.com/arloliu/helmsman/internal/dispatcher"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

// Callback runs on a leadership change.
type Callback func(ctx context.Context) error

// Config holds the elector settings.
type Config struct {
	// Cluster is the cluster name.
	Cluster string

	// Instance is this process's instance name.
	Instance string

	// Version is written into the leadership record.
	Version string

	// RetryInterval is the fallback poll period for losers.
	RetryInterval time.Duration

	// BackoffBase and BackoffMax bound the delay after a transient store error.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Elector contends for the cluster's leadership record.
type Elector struct {
	store   types.MetadataStore
	disp    *dispatcher.Dispatcher
	cfg     Config
	paths   paths.Builder
	logger  types.Logger
	metrics types.MetricsCollector
	backoff *backoff.Backoff

	onAcquired Callback
	onLost     Callback

	// cbMu serializes leadership transitions and their callbacks.
	cbMu sync.Mutex

	mu        sync.Mutex
	running   bool
	sessionID string
	leader    bool
	sub       *dispatcher.Subscription
	cancel    context.CancelFunc
	doneCh    chan struct{}
	wakeCh    chan struct{}
}

// Option configures an Elector.
type Option func(*Elector)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(e *Elector) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(e *Elector) { e.metrics = metrics.OrNop(m) }
}

// WithOnAcquired sets the callback run after this process becomes leader.
func WithOnAcquired(cb Callback) Option {
	return func(e *Elector) { e.onAcquired = cb }
}

// WithOnLost sets the callback run after this process stops being leader.
func WithOnLost(cb Callback) Option {
	return func(e *Elector) { e.onLost = cb }
}

// New creates an elector.
//
// Parameters:
//   - store: Metadata store holding the leadership record
//   - disp: Dispatcher used to watch the CONTROLLER node
//   - cfg: Elector settings; zero durations get defaults
//   - opts: Optional configuration
//
// Returns:
//   - *Elector: An elector that does nothing until Init
//
// Example:
//
//	e := election.New(store, disp, election.Config{Cluster: "prod", Instance: "node-1"},
//	    election.WithOnAcquired(startPipeline),
//	    election.WithOnLost(stopPipeline),
//	)
//	err := e.Init(sessionCtx)
func New(store types.MetadataStore, disp *dispatcher.Dispatcher, cfg Config, opts ...Option) *Elector {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = cfg.RetryInterval
	}

	e := &Elector{
		store:   store,
		disp:    disp,
		cfg:     cfg,
		paths:   paths.New(cfg.Cluster),
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		backoff: backoff.New(cfg.BackoffBase, cfg.BackoffMax),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Init starts contending for leadership in the current session.
//
// It subscribes to the CONTROLLER node, makes a first acquisition attempt in
// the background and keeps re-attempting until Reset or until ctx ends.
// Calling Init while already running is a no-op.
//
// Parameters:
//   - ctx: Session context; contention stops when it is cancelled
//
// Returns:
//   - error: ErrNoSession, or the subscription failure
func (e *Elector) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	session := e.store.SessionID()
	if session == "" {
		return types.ErrNoSession
	}

	wakeCh := make(chan struct{}, 1)
	sub, err := e.disp.Subscribe(dispatcher.Spec{
		Path:       e.paths.Controller(),
		Listener:   types.ChangeListenerFunc(func(context.Context, types.ChangeEvent) error { nudge(wakeCh); return nil }),
		Kinds:      []types.ChangeKind{types.ChildrenChanged, types.NodeCreated, types.NodeDeleted},
		ChangeType: types.ChangeTypeController,
		Owner:      types.OwnerElection,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to controller node: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.sessionID = session
	e.sub = sub
	e.cancel = cancel
	e.wakeCh = wakeCh
	e.doneCh = make(chan struct{})
	e.backoff.Reset()

	go e.loop(loopCtx, session, wakeCh, e.doneCh)

	e.logger.Info("leader election started", "instance", e.cfg.Instance, "session_id", session)

	return nil
}

// Reset stops contending, releases our leadership record and runs OnLost
// if this process was leader. It is idempotent.
func (e *Elector) Reset(ctx context.Context) error {
	e.mu.Lock()
	running, cancel, done, sub, session := e.running, e.cancel, e.doneCh, e.sub, e.sessionID
	e.running = false
	e.cancel, e.doneCh, e.sub, e.wakeCh = nil, nil, nil, nil
	e.mu.Unlock()

	if running {
		cancel()
		<-done
		e.disp.Remove(ctx, sub)
	}

	var errs []error
	if session != "" {
		if err := e.release(ctx, session); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.lose(ctx, "reset"); err != nil {
		errs = append(errs, err)
	}

	e.mu.Lock()
	if !e.running {
		e.sessionID = ""
	}
	e.mu.Unlock()

	return errors.Join(errs...)
}

// Suspend stops contending and runs OnLost if this process was leader,
// without touching the leadership record. It is meant for an expired
// session, whose ephemeral record is already gone or about to expire and
// which may not be reachable at all.
//
// A later Reset still releases what it can and is idempotent with respect
// to OnLost; a later Init starts contending again.
//
// Parameters:
//   - ctx: Context handed to OnLost and used to finalize the subscription
//
// Returns:
//   - error: The OnLost callback failure
func (e *Elector) Suspend(ctx context.Context) error {
	e.mu.Lock()
	running, cancel, done, sub := e.running, e.cancel, e.doneCh, e.sub
	e.running = false
	e.cancel, e.doneCh, e.sub, e.wakeCh = nil, nil, nil, nil
	e.mu.Unlock()

	if running {
		cancel()
		<-done
		e.disp.Remove(ctx, sub)
	}

	return e.lose(ctx, "session expired")
}

// IsLeader reports whether the leadership record names this instance and
// the store's current session.
func (e *Elector) IsLeader(ctx context.Context) bool {
	session := e.store.SessionID()
	if session == "" {
		return false
	}

	rec, err := e.read(ctx)
	if err != nil {
		return false
	}

	return rec.InstanceName == e.cfg.Instance && rec.SessionID == session
}

// Leader returns the current leadership record.
//
// Returns:
//   - *types.LiveInstance: The record, or nil when no leader exists
//   - error: Store or decode failures
func (e *Elector) Leader(ctx context.Context) (*types.LiveInstance, error) {
	rec, err := e.read(ctx)
	if errors.Is(err, types.ErrNodeNotFound) {
		return nil, nil
	}

	return rec, err
}

// Holding reports the locally tracked leadership flag without a store read.
func (e *Elector) Holding() bool {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	return e.leader
}

func (e *Elector) loop(ctx context.Context, session string, wakeCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		if err := e.attempt(ctx, session); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("leader election attempt failed", "instance", e.cfg.Instance, "error", err)
			if err := e.backoff.Wait(ctx); err != nil {
				return
			}

			continue
		}
		e.backoff.Reset()

		select {
		case <-ctx.Done():
			return
		case <-wakeCh:
		case <-ticker.C:
		}
	}
}

// attempt verifies held leadership or tries to acquire it.
func (e *Elector) attempt(ctx context.Context, session string) error {
	rec, err := e.read(ctx)
	switch {
	case err == nil:
		if rec.InstanceName == e.cfg.Instance && rec.SessionID == session {
			return e.acquire(ctx, "existing record")
		}
		if e.Holding() {
			return e.lose(ctx, "record taken by "+rec.InstanceName)
		}

		return nil
	case !errors.Is(err, types.ErrNodeNotFound):
		return err
	}

	if e.Holding() {
		if err := e.lose(ctx, "record removed"); err != nil {
			e.logger.Warn("leadership lost callback failed", "error", err)
		}
	}

	value, err := json.Marshal(e.record(session))
	if err != nil {
		return fmt.Errorf("failed to encode leadership record: %w", err)
	}

	_, err = e.store.Create(ctx, e.paths.Leader(), value, types.Ephemeral)
	switch {
	case err == nil:
		e.metrics.RecordElectionAttempt(true)
		return e.acquire(ctx, "created record")
	case errors.Is(err, types.ErrNodeExists):
		e.metrics.RecordElectionAttempt(false)
		return nil
	default:
		return fmt.Errorf("failed to create leadership record: %w", err)
	}
}

func (e *Elector) acquire(ctx context.Context, reason string) error {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	if e.leader {
		return nil
	}
	e.leader = true
	e.metrics.RecordLeadershipChange(true)
	e.logger.Info("became controller", "instance", e.cfg.Instance, "cluster", e.cfg.Cluster, "reason", reason)

	if e.onAcquired != nil {
		if err := e.onAcquired(ctx); err != nil {
			e.logger.Error("leadership acquired callback failed", "instance", e.cfg.Instance, "error", err)
		}
	}

	return nil
}

func (e *Elector) lose(ctx context.Context, reason string) error {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	if !e.leader {
		return nil
	}
	e.leader = false
	e.metrics.RecordLeadershipChange(false)
	e.logger.Info("lost controller leadership", "instance", e.cfg.Instance, "cluster", e.cfg.Cluster, "reason", reason)

	if e.onLost != nil {
		if err := e.onLost(ctx); err != nil {
			return fmt.Errorf("leadership lost callback failed: %w", err)
		}
	}

	return nil
}

// release deletes the leadership record if it belongs to session.
func (e *Elector) release(ctx context.Context, session string) error {
	rec, err := e.read(ctx)
	if errors.Is(err, types.ErrNodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.InstanceName != e.cfg.Instance || rec.SessionID != session {
		return nil
	}
	if err := e.store.Delete(ctx, e.paths.Leader()); err != nil {
		return fmt.Errorf("failed to delete leadership record: %w", err)
	}

	return nil
}

func (e *Elector) read(ctx context.Context) (*types.LiveInstance, error) {
	entry, err := e.store.Get(ctx, e.paths.Leader())
	if err != nil {
		return nil, err
	}

	var rec types.LiveInstance
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode leadership record: %w", err)
	}

	return &rec, nil
}

func (e *Elector) record(session string) types.LiveInstance {
	host, _ := os.Hostname()

	return types.LiveInstance{
		InstanceName: e.cfg.Instance,
		SessionID:    session,
		Version:      e.cfg.Version,
		Hostname:     host,
		PID:          os.Getpid(),
		StartedAt:    time.Now(),
	}
}

func nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
