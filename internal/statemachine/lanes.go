package statemachine

import (
	"context"
	"sync"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/helmsman/types"
)

type job struct {
	msg  types.Message
	done func(types.TransitionResult)
}

// laneSet is a fixed pool of workers keyed by entity hash.
type laneSet struct {
	engine *Engine

	mu      sync.RWMutex
	running bool
	queues  []chan job
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func (l *laneSet) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	cfg := l.engine.cfg
	laneCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(laneCtx)

	l.queues = make([]chan job, cfg.Lanes)
	for i := range l.queues {
		q := make(chan job, cfg.QueueSize)
		l.queues[i] = q
		g.Go(func() error {
			l.run(gctx, q)
			return nil
		})
	}
	l.running = true
	l.cancel = cancel
	l.group = g

	l.engine.logger.Debug("state machine lanes started", "lanes", cfg.Lanes, "queue_size", cfg.QueueSize)

	return nil
}

func (l *laneSet) stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel, g := l.cancel, l.group
	l.mu.Unlock()

	cancel()
	err := g.Wait()

	l.engine.logger.Debug("state machine lanes stopped")

	return err
}

// laneFor maps an entity key onto a lane index.
func laneFor(key string, lanes int) int {
	return int(xxh3.HashString(key) % uint64(lanes)) //nolint:gosec // lanes is small and positive
}

func (l *laneSet) submit(msg types.Message, done func(types.TransitionResult)) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.running {
		return types.ErrEngineStopped
	}

	q := l.queues[laneFor(msg.EntityKey(), len(l.queues))]
	select {
	case q <- job{msg: msg, done: done}:
		return nil
	default:
		return types.ErrQueueFull
	}
}

func (l *laneSet) run(ctx context.Context, q chan job) {
	for {
		select {
		case <-ctx.Done():
			l.drain(q)
			return
		case j := <-q:
			if ctx.Err() != nil {
				l.complete(j, types.TransitionResult{Message: j.msg, Err: types.ErrEngineStopped})
				l.drain(q)

				return
			}
			res, err := l.engine.Apply(ctx, j.msg)
			res.Err = err
			l.complete(j, res)
		}
	}
}

// drain completes queued jobs left behind by a stop.
func (l *laneSet) drain(q chan job) {
	for {
		select {
		case j := <-q:
			l.complete(j, types.TransitionResult{Message: j.msg, Err: types.ErrEngineStopped})
		default:
			return
		}
	}
}

func (l *laneSet) complete(j job, res types.TransitionResult) {
	if j.done != nil {
		j.done(res)
	}
}
