// Package memstore implements types.MetadataStore in process memory.
//
// A Backend plays the role of the external store; each Client is one process's
// connection to it with its own session. Tests drive session loss and
// connectivity through Client.ExpireSession and Client.SetConnected.
package memstore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/helmsman/internal/eventq"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

type node struct {
	value    []byte
	revision uint64
	mode     types.CreateMode
	owner    string
}

// Backend is the shared in-memory store.
type Backend struct {
	mu       sync.Mutex
	nodes    map[string]*node
	revision uint64

	watchers  *xsync.Map[uint64, *watcher]
	watcherID atomic.Uint64
}

// NewBackend creates an empty store.
func NewBackend() *Backend {
	return &Backend{
		nodes:    make(map[string]*node),
		watchers: xsync.NewMap[uint64, *watcher](),
	}
}

// Len returns the number of stored entries.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.nodes)
}

// write stores value at p and notifies watchers. Caller holds b.mu.
func (b *Backend) write(p string, value []byte, mode types.CreateMode, owner string) uint64 {
	b.revision++
	buf := append([]byte(nil), value...)
	b.nodes[p] = &node{value: buf, revision: b.revision, mode: mode, owner: owner}
	b.notify(&types.StoreEvent{Path: p, Op: types.OpPut, Value: buf, Revision: b.revision})

	return b.revision
}

// remove deletes p and notifies watchers. Caller holds b.mu.
func (b *Backend) remove(p string) {
	if _, ok := b.nodes[p]; !ok {
		return
	}
	b.revision++
	delete(b.nodes, p)
	b.notify(&types.StoreEvent{Path: p, Op: types.OpDelete, Revision: b.revision})
}

// dropSession deletes every ephemeral owned by session. Caller holds b.mu.
func (b *Backend) dropSession(session string) int {
	if session == "" {
		return 0
	}

	owned := make([]string, 0)
	for p, n := range b.nodes {
		if n.mode == types.Ephemeral && n.owner == session {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	for _, p := range owned {
		b.remove(p)
	}

	return len(owned)
}

func (b *Backend) notify(ev *types.StoreEvent) {
	b.watchers.Range(func(_ uint64, w *watcher) bool {
		if paths.IsDescendant(w.path, ev.Path) {
			w.queue.Push(ev)
		}

		return true
	})
}

// snapshot returns the entries at or below p ordered by path. Caller holds b.mu.
func (b *Backend) snapshot(p string) []*types.StoreEvent {
	keys := make([]string, 0)
	for k := range b.nodes {
		if paths.IsDescendant(p, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	events := make([]*types.StoreEvent, 0, len(keys))
	for _, k := range keys {
		n := b.nodes[k]
		events = append(events, &types.StoreEvent{Path: k, Op: types.OpPut, Value: n.value, Revision: n.revision})
	}

	return events
}

type watcher struct {
	id      uint64
	path    string
	queue   *eventq.Queue[*types.StoreEvent]
	backend *Backend
}

func (w *watcher) Updates() <-chan *types.StoreEvent { return w.queue.Out() }

func (w *watcher) Stop() error {
	w.backend.watchers.Delete(w.id)
	w.queue.Stop()

	return nil
}
