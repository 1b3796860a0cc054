package modhost

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	canvasbridge "github.com/wippyai/canvas-bridge"
	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/pointer"
)

// Instance is a ready module's event sink. Events are delivered to the
// sandbox strictly in the order they were pushed, one at a time, by a
// dedicated pump goroutine.
type Instance struct {
	sandbox canvasbridge.Sandbox
	ctx     context.Context
	logger  *zap.Logger
	metrics *metrics.Metrics
	onFault func(*Instance, error)
	cancel  context.CancelFunc
	signal  chan struct{}
	done    chan struct{}
	queue   []pointer.Mapped
	id      uint64
	moves   int
	bound   int
	mu      sync.Mutex
	stopped bool
	ready   atomic.Bool
}

func newInstance(id uint64, sandbox canvasbridge.Sandbox, cfg Config, onFault func(*Instance, error)) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	i := &Instance{
		sandbox: sandbox,
		ctx:     ctx,
		cancel:  cancel,
		logger:  cfg.Logger.With(zap.Uint64("instance", id)),
		metrics: cfg.Metrics,
		onFault: onFault,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		id:      id,
		bound:   cfg.QueueBound,
	}
	i.ready.Store(true)
	go i.pump()
	return i
}

// ID returns the instance generation id.
func (i *Instance) ID() uint64 {
	return i.id
}

// Ready reports whether the instance still accepts events.
func (i *Instance) Ready() bool {
	return i.ready.Load()
}

// Push queues an event for delivery.
func (i *Instance) Push(ev pointer.Mapped) error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return errors.Disposed(errors.PhaseInput, "instance")
	}
	i.queue = append(i.queue, ev)
	if ev.Phase == pointer.PhaseMove {
		i.moves++
	}
	i.mu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}
	return nil
}

// Backpressured reports whether the pending Move count has reached the
// queue bound.
func (i *Instance) Backpressured() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.moves >= i.bound
}

// CoalesceMove replaces the newest pending event of ev's pointer with ev if
// that event is a Move. The replacement moves to the tail of the queue, so
// per-pointer order is unchanged. It returns false, leaving the queue
// untouched, when ev is not a Move or the newest pending event of the
// pointer is not a Move.
func (i *Instance) CoalesceMove(ev pointer.Mapped) bool {
	if ev.Phase != pointer.PhaseMove {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return false
	}
	for j := len(i.queue) - 1; j >= 0; j-- {
		if i.queue[j].ID != ev.ID {
			continue
		}
		if i.queue[j].Phase != pointer.PhaseMove {
			return false
		}
		copy(i.queue[j:], i.queue[j+1:])
		i.queue[len(i.queue)-1] = ev
		return true
	}
	return false
}

// Pending returns the number of queued events.
func (i *Instance) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}

func (i *Instance) pop() (pointer.Mapped, bool) {
	for {
		i.mu.Lock()
		if i.stopped {
			i.mu.Unlock()
			return pointer.Mapped{}, false
		}
		if len(i.queue) > 0 {
			ev := i.queue[0]
			i.queue[0] = pointer.Mapped{}
			i.queue = i.queue[1:]
			if ev.Phase == pointer.PhaseMove {
				i.moves--
			}
			i.mu.Unlock()
			return ev, true
		}
		i.mu.Unlock()

		select {
		case <-i.signal:
		case <-i.ctx.Done():
			return pointer.Mapped{}, false
		}
	}
}

func (i *Instance) pump() {
	defer close(i.done)
	for {
		ev, ok := i.pop()
		if !ok {
			return
		}
		err := i.sandbox.Dispatch(i.ctx, ev)
		if err == nil {
			continue
		}
		if i.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errors.ErrTrap) {
			i.halt()
			i.onFault(i, err)
			return
		}
		i.logger.Debug("dispatch failed", zap.Stringer("event", ev), zap.Error(err))
	}
}

// halt stops accepting events and discards what is queued.
func (i *Instance) halt() {
	i.ready.Store(false)
	i.cancel()

	i.mu.Lock()
	i.stopped = true
	dropped := len(i.queue)
	i.queue = nil
	i.moves = 0
	i.mu.Unlock()

	for range dropped {
		i.metrics.Dropped(metrics.DropDiscarded)
	}
}

// stop halts the instance and waits for the pump to exit.
func (i *Instance) stop() {
	i.halt()
	<-i.done
}
