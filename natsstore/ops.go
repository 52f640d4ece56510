package natsstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helmsman/internal/kvutil"
	"github.com/arloliu/helmsman/internal/natsutil"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

func (s *Store) observe(op string, start time.Time) {
	s.metrics.RecordKVOperationDuration(op, time.Since(start).Seconds())
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}

	return nil
}

// Create atomically creates p.
func (s *Store) Create(ctx context.Context, p string, value []byte, mode types.CreateMode) (uint64, error) {
	return s.write(ctx, "create", p, value, mode)
}

// Put creates or overwrites p.
func (s *Store) Put(ctx context.Context, p string, value []byte, mode types.CreateMode) (uint64, error) {
	return s.write(ctx, "put", p, value, mode)
}

func (s *Store) write(ctx context.Context, op, p string, value []byte, mode types.CreateMode) (uint64, error) {
	if err := paths.Validate(p); err != nil {
		return 0, err
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	key := kvutil.PathToKey(p)
	defer s.observe(op, time.Now())

	if mode == types.Persistent {
		if op == "create" {
			if _, err := s.eph.Get(ctx, key); err == nil {
				return 0, fmt.Errorf("%w: %s", types.ErrNodeExists, p)
			}
			rev, err := s.meta.Create(ctx, key, value)
			return rev, natsutil.Classify(op, p, err)
		}
		rev, err := s.meta.Put(ctx, key, value)

		return rev, natsutil.Classify(op, p, err)
	}

	s.ephMu.Lock()
	defer s.ephMu.Unlock()

	s.mu.Lock()
	session := s.sessionID
	s.mu.Unlock()
	if session == "" {
		return 0, types.ErrNoSession
	}

	var (
		rev uint64
		err error
	)
	if op == "create" {
		if _, getErr := s.meta.Get(ctx, key); getErr == nil {
			return 0, fmt.Errorf("%w: %s", types.ErrNodeExists, p)
		}
		rev, err = s.eph.Create(ctx, key, value)
	} else {
		rev, err = s.eph.Put(ctx, key, value)
	}
	if err != nil {
		return 0, natsutil.Classify(op, p, err)
	}

	s.mu.Lock()
	if s.sessionID == session {
		s.owned[key] = ownedEntry{value: append([]byte(nil), value...), revision: rev}
	}
	s.mu.Unlock()

	return rev, nil
}

// Get reads p from whichever bucket holds it.
func (s *Store) Get(ctx context.Context, p string) (*types.Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := kvutil.PathToKey(p)
	defer s.observe("get", time.Now())

	mode := types.Persistent
	entry, err := s.meta.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		mode = types.Ephemeral
		entry, err = s.eph.Get(ctx, key)
	}
	if err != nil {
		return nil, natsutil.Classify("get", p, err)
	}

	return &types.Entry{
		Path:     kvutil.KeyToPath(entry.Key()),
		Value:    entry.Value(),
		Revision: entry.Revision(),
		Mode:     mode,
	}, nil
}

// Delete removes p. Absent paths are ignored.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := kvutil.PathToKey(p)
	defer s.observe("delete", time.Now())

	for _, kv := range []jetstream.KeyValue{s.meta, s.eph} {
		if _, err := kv.Get(ctx, key); err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
				continue
			}
			return natsutil.Classify("delete", p, err)
		}
		if err := kv.Delete(ctx, key); err != nil {
			return natsutil.Classify("delete", p, err)
		}
	}

	s.mu.Lock()
	delete(s.owned, key)
	s.mu.Unlock()

	return nil
}

// Children lists the direct child names of p across both buckets.
func (s *Store) Children(ctx context.Context, p string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.observe("children", time.Now())

	key := kvutil.PathToKey(p)
	filter := ">"
	prefix := ""
	if key != "" {
		filter = key + ".>"
		prefix = key + "."
	}

	seen := make(map[string]struct{})
	for _, kv := range []jetstream.KeyValue{s.meta, s.eph} {
		keys, err := kvutil.ListKeys(ctx, kv, filter)
		if err != nil {
			return nil, natsutil.Classify("children", p, err)
		}
		for _, k := range keys {
			rest, ok := strings.CutPrefix(k, prefix)
			if !ok || rest == "" {
				continue
			}
			name, _, _ := strings.Cut(rest, ".")
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
