package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/helmsman/internal/eventq"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/types"
)

// Client is one process's connection to a Backend.
type Client struct {
	backend *Backend

	mu        sync.Mutex
	sessionID string
	connected bool
	closed    bool
	changed   chan struct{} // closed and replaced on every connectivity/session change

	events *eventq.Queue[types.SessionEvent]
}

// Compile-time assertion that Client implements MetadataStore.
var _ types.MetadataStore = (*Client)(nil)

// NewClient connects a new client with a fresh session.
//
// A SessionEstablished event for the initial session is queued immediately.
func (b *Backend) NewClient() *Client {
	c := &Client{
		backend:   b,
		connected: true,
		changed:   make(chan struct{}),
		events:    eventq.New[types.SessionEvent](),
	}
	c.sessionID = uuid.NewString()
	c.events.Push(types.SessionEvent{Type: types.SessionEstablished, SessionID: c.sessionID})

	return c
}

// broadcast wakes WaitUntilConnected callers. Caller holds c.mu.
func (c *Client) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// WaitUntilConnected blocks until the client is connected and holds a session.
func (c *Client) WaitUntilConnected(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return types.ErrStoreClosed
		}
		if c.connected && c.sessionID != "" {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

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
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

// SessionEvents returns the session lifecycle stream.
func (c *Client) SessionEvents() <-chan types.SessionEvent {
	return c.events.Out()
}

// usable returns the session id, or an error if the client cannot talk to the backend.
func (c *Client) usable(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", types.ErrStoreClosed
	}
	if !c.connected {
		return "", fmt.Errorf("%w: client disconnected", types.ErrConnectivity)
	}

	return c.sessionID, nil
}

func (c *Client) put(ctx context.Context, p string, value []byte, mode types.CreateMode, create bool) (uint64, error) {
	if err := paths.Validate(p); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Held across the write so an ephemeral never outlives its session.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, types.ErrStoreClosed
	}
	if !c.connected {
		return 0, fmt.Errorf("%w: client disconnected", types.ErrConnectivity)
	}
	session := c.sessionID
	if mode == types.Ephemeral && session == "" {
		return 0, types.ErrNoSession
	}

	p = paths.Clean(p)
	owner := ""
	if mode == types.Ephemeral {
		owner = session
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	if create {
		if _, ok := c.backend.nodes[p]; ok {
			return 0, fmt.Errorf("%w: %s", types.ErrNodeExists, p)
		}
	}

	return c.backend.write(p, value, mode, owner), nil
}

// Create atomically creates p.
func (c *Client) Create(ctx context.Context, p string, value []byte, mode types.CreateMode) (uint64, error) {
	return c.put(ctx, p, value, mode, true)
}

// Put creates or overwrites p.
func (c *Client) Put(ctx context.Context, p string, value []byte, mode types.CreateMode) (uint64, error) {
	return c.put(ctx, p, value, mode, false)
}

// Get reads p.
func (c *Client) Get(ctx context.Context, p string) (*types.Entry, error) {
	if _, err := c.usable(ctx); err != nil {
		return nil, err
	}
	p = paths.Clean(p)

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	n, ok := c.backend.nodes[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNodeNotFound, p)
	}

	return &types.Entry{
		Path:     p,
		Value:    append([]byte(nil), n.value...),
		Revision: n.revision,
		Mode:     n.mode,
	}, nil
}

// Delete removes p.
func (c *Client) Delete(ctx context.Context, p string) error {
	if _, err := c.usable(ctx); err != nil {
		return err
	}

	c.backend.mu.Lock()
	c.backend.remove(paths.Clean(p))
	c.backend.mu.Unlock()

	return nil
}

// Children lists the direct child names of p, including implicit directories.
func (c *Client) Children(ctx context.Context, p string) ([]string, error) {
	if _, err := c.usable(ctx); err != nil {
		return nil, err
	}
	p = paths.Clean(p)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}

	c.backend.mu.Lock()
	seen := make(map[string]struct{})
	for k := range c.backend.nodes {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
	}
	c.backend.mu.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// Watch streams mutations of p and its descendants.
func (c *Client) Watch(ctx context.Context, p string) (types.StoreWatcher, error) {
	if _, err := c.usable(ctx); err != nil {
		return nil, err
	}
	p = paths.Clean(p)

	w := &watcher{
		id:      c.backend.watcherID.Add(1),
		path:    p,
		queue:   eventq.New[*types.StoreEvent](),
		backend: c.backend,
	}

	c.backend.mu.Lock()
	w.queue.Push(c.backend.snapshot(p)...)
	w.queue.Push(nil)
	c.backend.watchers.Store(w.id, w)
	c.backend.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.queue.Done():
		}
	}()

	return w, nil
}

// ResetSession voluntarily ends the session and opens a new one.
func (c *Client) ResetSession(ctx context.Context) error {
	if _, err := c.usable(ctx); err != nil {
		return err
	}
	c.expire(true)

	return nil
}

// ExpireSession simulates involuntary session expiry.
//
// The session's ephemerals are removed and SessionExpired is emitted. When
// the client is connected a new session is established right away; otherwise
// it is established on the next SetConnected(true).
func (c *Client) ExpireSession() {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	c.expire(connected)
}

func (c *Client) expire(renew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.sessionID == "" {
		return
	}

	old := c.sessionID
	c.backend.mu.Lock()
	c.backend.dropSession(old)
	c.backend.mu.Unlock()

	c.sessionID = ""
	c.events.Push(types.SessionEvent{Type: types.SessionExpired, SessionID: old})
	if renew {
		c.establish()
	}
	c.broadcast()
}

// establish opens a new session. Caller holds c.mu.
func (c *Client) establish() {
	c.sessionID = uuid.NewString()
	c.events.Push(types.SessionEvent{Type: types.SessionEstablished, SessionID: c.sessionID})
}

// SetConnected simulates a connection drop or recovery.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.connected == connected {
		return
	}

	c.connected = connected
	if connected {
		c.events.Push(types.SessionEvent{Type: types.Reconnected, SessionID: c.sessionID})
		if c.sessionID == "" {
			c.establish()
		}
	} else {
		c.events.Push(types.SessionEvent{Type: types.Disconnected, SessionID: c.sessionID})
	}
	c.broadcast()
}

// Close ends the session, removing its ephemerals.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.backend.mu.Lock()
	c.backend.dropSession(c.sessionID)
	c.backend.mu.Unlock()

	c.sessionID = ""
	c.broadcast()
	c.events.Stop()

	return nil
}
