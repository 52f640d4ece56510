// Package accessor provides the process-wide write-through metadata cache.
//
// Reads are served from the cache after the first store read; writes go to
// the store first and update the cache only when the store accepted them.
// The cache is meant for records this process owns (current states, health
// reports, presence) and is invalidated wholesale on every session change.
package accessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

// Accessor is a write-through cache over a MetadataStore.
type Accessor struct {
	store   types.MetadataStore
	logger  types.Logger
	metrics types.MetricsCollector

	cache *xsync.Map[string, types.Entry]
	locks *xsync.Map[string, *sync.Mutex]
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(a *Accessor) { a.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(a *Accessor) { a.metrics = metrics.OrNop(m) }
}

// New creates an accessor over store.
func New(store types.MetadataStore, opts ...Option) *Accessor {
	a := &Accessor{
		store:   store,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		cache:   xsync.NewMap[string, types.Entry](),
		locks:   xsync.NewMap[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Store returns the underlying store.
func (a *Accessor) Store() types.MetadataStore {
	return a.store
}

// Reset drops every cached entry.
func (a *Accessor) Reset() {
	n := a.cache.Size()
	a.cache.Clear()
	a.logger.Debug("metadata cache reset", "entries", n)
}

// Len returns the number of cached entries.
func (a *Accessor) Len() int {
	return a.cache.Size()
}

// Get returns the entry at p, from cache when present.
func (a *Accessor) Get(ctx context.Context, p string) (*types.Entry, error) {
	p = paths.Clean(p)
	if e, ok := a.cache.Load(p); ok {
		return &e, nil
	}

	start := time.Now()
	entry, err := a.store.Get(ctx, p)
	a.metrics.RecordKVOperationDuration("get", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	a.cache.Store(p, *entry)

	return entry, nil
}

// Create atomically creates p and caches it.
func (a *Accessor) Create(ctx context.Context, p string, value []byte, mode types.CreateMode) error {
	p = paths.Clean(p)

	start := time.Now()
	rev, err := a.store.Create(ctx, p, value, mode)
	a.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())
	if err != nil {
		return err
	}
	a.cache.Store(p, types.Entry{Path: p, Value: value, Revision: rev, Mode: mode})

	return nil
}

// Put writes p and caches it.
func (a *Accessor) Put(ctx context.Context, p string, value []byte, mode types.CreateMode) error {
	p = paths.Clean(p)

	start := time.Now()
	rev, err := a.store.Put(ctx, p, value, mode)
	a.metrics.RecordKVOperationDuration("put", time.Since(start).Seconds())
	if err != nil {
		a.cache.Delete(p)
		return err
	}
	a.cache.Store(p, types.Entry{Path: p, Value: value, Revision: rev, Mode: mode})

	return nil
}

// Delete removes p from the store and the cache.
func (a *Accessor) Delete(ctx context.Context, p string) error {
	p = paths.Clean(p)
	a.cache.Delete(p)

	start := time.Now()
	err := a.store.Delete(ctx, p)
	a.metrics.RecordKVOperationDuration("delete", time.Since(start).Seconds())

	return err
}

// Children lists the direct children of p. Listings are not cached.
func (a *Accessor) Children(ctx context.Context, p string) ([]string, error) {
	start := time.Now()
	names, err := a.store.Children(ctx, p)
	a.metrics.RecordKVOperationDuration("children", time.Since(start).Seconds())

	return names, err
}

// Exists reports whether p exists.
func (a *Accessor) Exists(ctx context.Context, p string) (bool, error) {
	_, err := a.Get(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrNodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Update runs a read-modify-write of p under a per-path lock.
//
// fn receives the current value (nil when absent). Returning a nil value
// deletes the entry.
//
// Parameters:
//   - ctx: Context for store calls
//   - p: Path to update
//   - mode: Create mode used when writing
//   - fn: Computes the new value from the old one
//
// Returns:
//   - error: fn's error or a store failure
func (a *Accessor) Update(ctx context.Context, p string, mode types.CreateMode, fn func(old []byte) ([]byte, error)) error {
	p = paths.Clean(p)
	mu, _ := a.locks.LoadOrCompute(p, func() (*sync.Mutex, bool) { return &sync.Mutex{}, false })
	mu.Lock()
	defer mu.Unlock()

	var old []byte
	entry, err := a.Get(ctx, p)
	switch {
	case err == nil:
		old = entry.Value
	case !errors.Is(err, types.ErrNodeNotFound):
		return err
	}

	value, err := fn(old)
	if err != nil {
		return err
	}
	if value == nil {
		return a.Delete(ctx, p)
	}

	return a.Put(ctx, p, value, mode)
}

// GetJSON reads p and decodes it into a T.
func GetJSON[T any](ctx context.Context, a *Accessor, p string) (T, error) {
	var v T
	entry, err := a.Get(ctx, p)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", p, err)
	}

	return v, nil
}

// PutJSON encodes v and writes it to p.
func PutJSON[T any](ctx context.Context, a *Accessor, p string, v T, mode types.CreateMode) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", p, err)
	}

	return a.Put(ctx, p, data, mode)
}

// UpdateJSON is Update for JSON records. fn receives the decoded current
// value (zero when absent) and returns the new one, or keep=false to delete.
func UpdateJSON[T any](ctx context.Context, a *Accessor, p string, mode types.CreateMode, fn func(old T, exists bool) (T, bool, error)) error {
	return a.Update(ctx, p, mode, func(raw []byte) ([]byte, error) {
		var old T
		exists := raw != nil
		if exists {
			if err := json.Unmarshal(raw, &old); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", p, err)
			}
		}

		next, keep, err := fn(old, exists)
		if err != nil || !keep {
			return nil, err
		}

		return json.Marshal(next)
	})
}
