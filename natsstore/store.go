package natsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helmsman/internal/eventq"
	"github.com/arloliu/helmsman/internal/kvutil"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/types"
)

// Store is a MetadataStore backed by a pair of JetStream KV buckets.
type Store struct {
	cfg     Config
	nc      *nats.Conn
	meta    jetstream.KeyValue
	eph     jetstream.KeyValue
	logger  types.Logger
	metrics types.MetricsCollector

	// ephMu serializes ephemeral writes with keepalive so revisions stay exact.
	ephMu sync.Mutex

	mu          sync.Mutex
	sessionID   string
	owned       map[string]ownedEntry // ephemeral key -> last write
	connected   bool
	lastHealthy time.Time
	closed      bool
	changed     chan struct{}

	events   *eventq.Queue[types.SessionEvent]
	statusCh chan nats.Status
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type ownedEntry struct {
	value    []byte
	revision uint64
}

// Compile-time assertion that Store implements MetadataStore.
var _ types.MetadataStore = (*Store)(nil)

// New opens (creating when needed) the bucket pair and establishes a session.
//
// The caller owns nc; Close does not close it.
//
// Parameters:
//   - ctx: Context bounding bucket creation
//   - nc: Connected NATS client
//   - opts: Store options
//
// Returns:
//   - *Store: Store with a live session
//   - error: Bucket creation failure
//
// Example:
//
//	store, err := natsstore.New(ctx, nc,
//	    natsstore.WithBucketPrefix("helmsman-orders"),
//	    natsstore.WithSessionTimeout(10*time.Second),
//	)
func New(ctx context.Context, nc *nats.Conn, opts ...Option) (*Store, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.setDefaults()

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	meta, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.BucketPrefix + "-meta",
		Description: "helmsman persistent cluster metadata",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	eph, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:         cfg.BucketPrefix + "-ephemeral",
		Description:    "helmsman session-bound entries",
		History:        1,
		TTL:            cfg.SessionTimeout,
		LimitMarkerTTL: cfg.SessionTimeout,
		Storage:        jetstream.FileStorage,
		Replicas:       cfg.Replicas,
	}, 3)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		nc:          nc,
		meta:        meta,
		eph:         eph,
		logger:      logging.OrNop(cfg.Logger),
		metrics:     metrics.OrNop(cfg.Metrics),
		owned:       make(map[string]ownedEntry),
		connected:   nc.IsConnected(),
		lastHealthy: time.Now(),
		changed:     make(chan struct{}),
		events:      eventq.New[types.SessionEvent](),
		statusCh:    nc.StatusChanged(nats.CONNECTED, nats.DISCONNECTED, nats.RECONNECTING, nats.CLOSED),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	s.mu.Lock()
	s.establishLocked()
	s.mu.Unlock()

	go s.run()

	return s, nil
}

// WaitUntilConnected blocks until the connection is up and a session exists.
func (s *Store) WaitUntilConnected(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return types.ErrStoreClosed
		}
		if s.connected && s.sessionID != "" {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", types.ErrConnectTimeout, timeout)
		case <-changed:
		}
	}
}

// SessionID returns the current session id.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// SessionEvents returns the session lifecycle stream.
func (s *Store) SessionEvents() <-chan types.SessionEvent {
	return s.events.Out()
}

// ResetSession deletes the current session's ephemerals and opens a new session.
func (s *Store) ResetSession(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.ErrStoreClosed
	}
	s.mu.Unlock()

	s.expire(ctx, true, "reset")

	return nil
}

// Close ends the session and stops background work. The NATS connection is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()
	s.expire(ctx, false, "close")

	s.mu.Lock()
	s.closed = true
	s.broadcastLocked()
	s.mu.Unlock()

	s.nc.RemoveStatusListener(s.statusCh)
	s.events.Stop()

	return nil
}

// establishLocked opens a new session. Caller holds s.mu.
func (s *Store) establishLocked() {
	s.sessionID = uuid.NewString()
	s.lastHealthy = time.Now()
	s.events.Push(types.SessionEvent{Type: types.SessionEstablished, SessionID: s.sessionID})
	s.logger.Info("metadata store session established", "session_id", s.sessionID)
	s.broadcastLocked()
}

// broadcastLocked wakes WaitUntilConnected callers. Caller holds s.mu.
func (s *Store) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// expire ends the current session, best-effort deleting the entries it owns.
// A new session is opened when renew is set and the connection is up.
func (s *Store) expire(ctx context.Context, renew bool, reason string) {
	s.ephMu.Lock()
	defer s.ephMu.Unlock()

	s.mu.Lock()
	old := s.sessionID
	owned := s.owned
	s.owned = make(map[string]ownedEntry)
	s.sessionID = ""
	s.mu.Unlock()

	if old == "" {
		return
	}

	for key, e := range owned {
		if err := s.eph.Delete(ctx, key, jetstream.LastRevision(e.revision)); err != nil {
			s.logger.Debug("failed to delete ephemeral of ended session",
				"key", key, "session_id", old, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Push(types.SessionEvent{Type: types.SessionExpired, SessionID: old})
	s.metrics.RecordSessionExpired()
	s.logger.Warn("metadata store session ended", "session_id", old, "reason", reason)

	if renew && s.connected && !s.closed {
		s.establishLocked()
	} else {
		s.broadcastLocked()
	}
}
