package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

// Spec describes a subscription.
type Spec struct {
	// Path is the subscribed store path.
	Path string

	// Listener receives the notifications.
	Listener types.ChangeListener

	// Kinds filters the change kinds delivered; all kinds when empty.
	Kinds []types.ChangeKind

	// ChangeType labels the subscription in events, logs and metrics.
	ChangeType types.ChangeType

	// Owner tags who registered the subscription.
	Owner types.Owner
}

// Subscription is a registered (path, listener, kinds) tuple.
type Subscription struct {
	id   uint64
	spec Spec
	d    *Dispatcher

	mu         sync.Mutex
	armed      bool
	removed    bool
	generation uint64
	sessionID  string
	cancel     context.CancelFunc
	watcher    types.StoreWatcher
	doneCh     chan struct{}
}

// Path returns the subscribed path.
func (s *Subscription) Path() string { return s.spec.Path }

// Owner returns the owner tag.
func (s *Subscription) Owner() types.Owner { return s.spec.Owner }

// ChangeType returns the subscription change type.
func (s *Subscription) ChangeType() types.ChangeType { return s.spec.ChangeType }

// Armed reports whether the subscription currently has a live watch.
func (s *Subscription) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.armed
}

// SessionID returns the session the subscription is armed for ("" when disarmed).
func (s *Subscription) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

func (s *Subscription) wants(kind types.ChangeKind) bool {
	return len(s.spec.Kinds) == 0 || slices.Contains(s.spec.Kinds, kind)
}

// arm starts a watch for the given session generation.
func (s *Subscription) arm(ctx context.Context, generation uint64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return types.ErrSubscriptionClosed
	}
	if s.armed {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	w, err := s.d.store.Watch(subCtx, s.spec.Path)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch %s: %w", s.spec.Path, err)
	}

	s.armed = true
	s.generation = generation
	s.sessionID = sessionID
	s.cancel = cancel
	s.watcher = w
	s.doneCh = make(chan struct{})

	go s.loop(subCtx, w, generation, sessionID, s.doneCh)

	return nil
}

// disarm stops the watch, waits for the delivery goroutine and delivers Finalize.
func (s *Subscription) disarm(ctx context.Context) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return
	}
	s.armed = false
	cancel, w, done, session := s.cancel, s.watcher, s.doneCh, s.sessionID
	s.cancel, s.watcher, s.doneCh, s.sessionID = nil, nil, nil, ""
	s.mu.Unlock()

	cancel()
	if err := w.Stop(); err != nil {
		s.d.logger.Debug("failed to stop watcher", "path", s.spec.Path, "error", err)
	}
	<-done

	s.deliver(ctx, types.ChangeEvent{
		Type:           types.CallbackFinalize,
		ChangeType:     s.spec.ChangeType,
		SubscribedPath: s.spec.Path,
		Path:           s.spec.Path,
		SessionID:      session,
	})
}

// loop translates store events for one armed generation.
func (s *Subscription) loop(ctx context.Context, w types.StoreWatcher, generation uint64, sessionID string, done chan struct{}) {
	defer close(done)

	tr := newTranslator(s.spec.Path)
	replaying := true

	for {
		var (
			ev *types.StoreEvent
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-w.Updates():
			if !ok {
				return
			}
		}

		if replaying {
			if ev != nil {
				tr.seed(ev)
				continue
			}
			replaying = false
			if !s.deliverCurrent(ctx, generation, types.ChangeEvent{
				Type:           types.CallbackInit,
				ChangeType:     s.spec.ChangeType,
				SubscribedPath: s.spec.Path,
				Path:           s.spec.Path,
				SessionID:      sessionID,
			}) {
				return
			}

			continue
		}
		if ev == nil {
			continue
		}

		for _, ch := range tr.translate(ev) {
			if !s.wants(ch.kind) {
				continue
			}
			if !s.deliverCurrent(ctx, generation, types.ChangeEvent{
				Type:           types.CallbackChange,
				Kind:           ch.kind,
				ChangeType:     s.spec.ChangeType,
				SubscribedPath: s.spec.Path,
				Path:           ch.path,
				Value:          ch.value,
				SessionID:      sessionID,
			}) {
				s.d.metrics.RecordStaleDelivery(string(s.spec.ChangeType))
				return
			}
		}
	}
}

// current reports whether generation is still the dispatcher's generation.
func (s *Subscription) current(generation uint64) bool {
	return s.d.generation.Load() == generation
}

// deliverCurrent delivers ev only if generation is still current, holding
// the dispatcher fence so the generation cannot move during the call.
//
// Returns:
//   - bool: false when the generation is stale and ev was dropped
func (s *Subscription) deliverCurrent(ctx context.Context, generation uint64, ev types.ChangeEvent) bool {
	s.d.fence.RLock()
	defer s.d.fence.RUnlock()

	if !s.current(generation) {
		return false
	}
	s.deliver(ctx, ev)

	return true
}

// deliver invokes the listener, containing errors and panics.
func (s *Subscription) deliver(ctx context.Context, ev types.ChangeEvent) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: panic: %v\n%s", types.ErrListenerFailed, r, debug.Stack())
			}
		}()

		return s.spec.Listener.OnChange(ctx, ev)
	}()

	s.d.metrics.RecordDispatch(string(s.spec.ChangeType), err == nil)
	if err != nil {
		s.d.logger.Error("change listener failed",
			"path", ev.Path,
			"subscribed_path", s.spec.Path,
			"change_type", s.spec.ChangeType,
			"callback", ev.Type.String(),
			"kind", ev.Kind.String(),
			"owner", s.spec.Owner.String(),
			"duration", time.Since(start),
			"error", err,
		)
	}
}

type change struct {
	kind  types.ChangeKind
	path  string
	value []byte
}

// translator keeps just enough state to classify raw mutations.
type translator struct {
	root       string
	rootExists bool
	known      map[string]struct{} // descendant paths that exist
	children   map[string]int      // child name -> existing paths at or below it
}

func newTranslator(root string) *translator {
	return &translator{
		root:     paths.Clean(root),
		known:    make(map[string]struct{}),
		children: make(map[string]int),
	}
}

func (t *translator) childOf(p string) (string, bool) {
	rel := p[len(t.root):]
	if t.root == "/" {
		rel = p
	}
	segs := paths.Split(rel)
	if len(segs) == 0 {
		return "", false
	}

	return segs[0], true
}

func (t *translator) seed(ev *types.StoreEvent) {
	if ev.Op == types.OpDelete {
		return
	}
	t.apply(paths.Clean(ev.Path), true)
}

// apply records existence of p and reports whether its child's existence flipped.
func (t *translator) apply(p string, exists bool) (string, bool) {
	if p == t.root {
		t.rootExists = exists
		return "", false
	}
	name, ok := t.childOf(p)
	if !ok {
		return "", false
	}

	_, had := t.known[p]
	switch {
	case exists && !had:
		t.known[p] = struct{}{}
		t.children[name]++
		return name, t.children[name] == 1
	case !exists && had:
		delete(t.known, p)
		t.children[name]--
		if t.children[name] <= 0 {
			delete(t.children, name)
			return name, true
		}
	}

	return name, false
}

func (t *translator) translate(ev *types.StoreEvent) []change {
	p := paths.Clean(ev.Path)

	if p == t.root {
		existed := t.rootExists
		switch {
		case ev.Op == types.OpDelete:
			t.rootExists = false
			if existed {
				return []change{{kind: types.NodeDeleted, path: p}}
			}
		case !existed:
			t.rootExists = true
			return []change{{kind: types.NodeCreated, path: p, value: ev.Value}}
		default:
			return []change{{kind: types.DataChanged, path: p, value: ev.Value}}
		}

		return nil
	}

	_, known := t.known[p]
	name, flipped := t.apply(p, ev.Op == types.OpPut)
	if name == "" {
		return nil
	}
	direct := paths.IsChild(t.root, p)

	var out []change
	if flipped {
		out = append(out, change{kind: types.ChildrenChanged, path: p, value: ev.Value})
	}
	if direct && ev.Op == types.OpPut && known {
		out = append(out, change{kind: types.DataChanged, path: p, value: ev.Value})
	}

	return out
}
