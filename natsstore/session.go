package natsstore

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/helmsman/internal/natsutil"
	"github.com/arloliu/helmsman/types"
)

// run drives keepalive and reacts to connection status changes.
func (s *Store) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case status, ok := <-s.statusCh:
			if !ok {
				s.statusCh = nil
				continue
			}
			s.onStatus(status)
		case <-ticker.C:
			s.keepalive()
		}
	}
}

func (s *Store) onStatus(status nats.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case nats.CONNECTED:
		if s.connected {
			return
		}
		s.connected = true
		s.events.Push(types.SessionEvent{Type: types.Reconnected, SessionID: s.sessionID})
		s.logger.Info("metadata store reconnected", "session_id", s.sessionID)
		if s.sessionID == "" && !s.closed {
			s.establishLocked()
			return
		}
		s.broadcastLocked()
	case nats.DISCONNECTED, nats.RECONNECTING, nats.CLOSED:
		if !s.connected {
			return
		}
		s.connected = false
		s.events.Push(types.SessionEvent{Type: types.Disconnected, SessionID: s.sessionID})
		s.logger.Warn("metadata store disconnected", "session_id", s.sessionID, "status", status.String())
		s.broadcastLocked()
	}
}

// keepalive refreshes owned ephemerals and detects session loss.
func (s *Store) keepalive() {
	s.mu.Lock()
	connected := s.connected
	session := s.sessionID
	overdue := time.Since(s.lastHealthy) > s.cfg.SessionTimeout
	s.mu.Unlock()

	if session == "" {
		if connected && s.nc.IsConnected() {
			s.mu.Lock()
			if s.sessionID == "" && !s.closed {
				s.establishLocked()
			}
			s.mu.Unlock()
		}

		return
	}

	if !connected {
		if overdue {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
			s.expire(ctx, false, "disconnected longer than session timeout")
			cancel()
		}

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)
	defer cancel()

	lost, healthy := s.refreshOwned(ctx, session)
	switch {
	case lost != "":
		s.logger.Warn("ephemeral entry lost, ending session", "key", lost, "session_id", session)
		s.expire(ctx, true, "ephemeral entry lost")
	case healthy:
		s.mu.Lock()
		s.lastHealthy = time.Now()
		s.mu.Unlock()
	case overdue:
		s.expire(ctx, true, "keepalive failing longer than session timeout")
	}
}

// refreshOwned rewrites every owned ephemeral with compare-and-set.
//
// Returns the first key whose revision no longer matches (the entry expired
// or was replaced) and whether every refresh succeeded.
func (s *Store) refreshOwned(ctx context.Context, session string) (lost string, healthy bool) {
	s.ephMu.Lock()
	defer s.ephMu.Unlock()

	s.mu.Lock()
	if s.sessionID != session {
		s.mu.Unlock()
		return "", false
	}
	snapshot := make(map[string]ownedEntry, len(s.owned))
	for k, e := range s.owned {
		snapshot[k] = e
	}
	s.mu.Unlock()

	healthy = true
	for key, e := range snapshot {
		start := time.Now()
		rev, err := s.eph.Update(ctx, key, e.value, e.revision)
		s.metrics.RecordKVOperationDuration("keepalive", time.Since(start).Seconds())
		if err == nil {
			s.mu.Lock()
			if cur, ok := s.owned[key]; ok && cur.revision == e.revision {
				s.owned[key] = ownedEntry{value: e.value, revision: rev}
			}
			s.mu.Unlock()

			continue
		}

		healthy = false
		if natsutil.IsConnectivityError(err) {
			s.logger.Debug("keepalive failed", "key", key, "error", err)
			continue
		}
		if isRevisionMismatch(err) {
			return key, false
		}
		s.logger.Warn("keepalive failed", "key", key, "error", err)
	}

	// No owned entries means no round-trip happened; check the connection.
	if len(snapshot) == 0 && !s.nc.IsConnected() {
		healthy = false
	}

	return "", healthy
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
