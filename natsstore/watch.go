package natsstore

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helmsman/internal/kvutil"
	"github.com/arloliu/helmsman/internal/natsutil"
	"github.com/arloliu/helmsman/types"
)

// watcher merges the watches of both buckets into one stream with a single
// end-of-replay marker.
type watcher struct {
	watches []jetstream.KeyWatcher
	out     chan *types.StoreEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// Watch streams mutations of p and its descendants from both buckets.
func (s *Store) Watch(ctx context.Context, p string) (types.StoreWatcher, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.observe("watch", time.Now())

	filters := []string{">"}
	if key := kvutil.PathToKey(p); key != "" {
		filters = kvutil.SubtreeFilters(key)
	}

	w := &watcher{
		out:    make(chan *types.StoreEvent),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, kv := range []jetstream.KeyValue{s.meta, s.eph} {
		kw, err := kv.WatchFiltered(ctx, filters)
		if err != nil {
			for _, started := range w.watches {
				_ = started.Stop()
			}
			return nil, natsutil.Classify("watch", p, err)
		}
		w.watches = append(w.watches, kw)
	}

	go w.run(ctx)

	return w, nil
}

func (w *watcher) Updates() <-chan *types.StoreEvent { return w.out }

func (w *watcher) Stop() error {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh

	return nil
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.out)
	defer func() {
		for _, kw := range w.watches {
			_ = kw.Stop()
		}
	}()

	meta, eph := w.watches[0].Updates(), w.watches[1].Updates()
	pendingMarkers := 2

	for meta != nil || eph != nil {
		var (
			entry jetstream.KeyValueEntry
			ok    bool
		)
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case entry, ok = <-meta:
			if !ok {
				meta = nil
				continue
			}
		case entry, ok = <-eph:
			if !ok {
				eph = nil
				continue
			}
		}

		var ev *types.StoreEvent
		if entry == nil {
			pendingMarkers--
			if pendingMarkers != 0 {
				continue
			}
		} else {
			ev = toEvent(entry)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case w.out <- ev:
		}
	}
}

func toEvent(entry jetstream.KeyValueEntry) *types.StoreEvent {
	ev := &types.StoreEvent{
		Path:     kvutil.KeyToPath(entry.Key()),
		Op:       types.OpPut,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}
	if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		ev.Op = types.OpDelete
		ev.Value = nil
	}

	return ev
}
