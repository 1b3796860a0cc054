package message

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/metrics"
)

const (
	DirectionIn  = "in"  // module -> host
	DirectionOut = "out" // host -> module
)

// Deliverer hands a host-to-module message to the sandboxed side.
type Deliverer func(ctx context.Context, m Message) error

type outbound struct {
	pending *Pending
	msg     Message
}

// Channel is the bidirectional message channel between the host and a
// sandboxed surface. Each direction is FIFO; the two directions are
// independent. Every message belongs to an epoch; Reset starts a new epoch
// and invalidates everything issued in the old one.
type Channel struct {
	ctx      context.Context
	cancel   context.CancelFunc
	deliver  Deliverer
	outbound *fifo[outbound]
	inbound  *fifo[Message]
	waiters  map[*Waiter]struct{}
	logger   *zap.Logger
	metrics  *metrics.Metrics
	subs     []*Stream
	wg       sync.WaitGroup
	epoch    uint64
	mu       sync.Mutex
	closed   bool
}

// Option configures a Channel.
type Option func(*Channel)

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel creates a channel at epoch 1 and starts its pumps.
func NewChannel(opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		ctx:      ctx,
		cancel:   cancel,
		outbound: newFIFO[outbound](),
		inbound:  newFIFO[Message](),
		waiters:  make(map[*Waiter]struct{}),
		logger:   zap.NewNop(),
		epoch:    1,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(2)
	go c.pumpOutbound()
	go c.pumpInbound()
	return c
}

// Epoch returns the current epoch.
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Attach sets the module-side deliverer for outbound messages.
func (c *Channel) Attach(d Deliverer) {
	c.mu.Lock()
	c.deliver = d
	c.mu.Unlock()
}

// Send queues a host-to-module message.
func (c *Channel) Send(m Message) *Pending {
	p := newPending()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		p.resolve(errors.ChannelReset(c.epoch))
		return p
	}
	m.Epoch = c.epoch
	c.outbound.push(outbound{msg: m, pending: p})
	return p
}

// Publish appends a module-to-host message produced in epoch. Messages from
// a stale epoch are dropped and Publish returns false.
func (c *Channel) Publish(epoch uint64, m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || epoch != c.epoch {
		c.logger.Debug("dropping stale inbound message",
			zap.Stringer("message", m),
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", c.epoch))
		return false
	}
	m.Epoch = epoch
	return c.inbound.push(m)
}

// Subscribe returns a stream of every inbound message of the current and
// later epochs.
func (c *Channel) Subscribe() *Stream {
	s := NewStream()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.Close()
		return s
	}
	c.subs = append(c.subs, s)
	return s
}

// Await registers a waiter for the first inbound message of epoch for which
// match returns true. Register before triggering the message.
func (c *Channel) Await(epoch uint64, match func(Message) bool) *Waiter {
	w := &Waiter{
		ch:    c,
		match: match,
		epoch: epoch,
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || epoch != c.epoch {
		w.resolve(Message{}, errors.ChannelReset(c.epoch))
		return w
	}
	c.waiters[w] = struct{}{}
	return w
}

// Reset starts a new epoch. Queued outbound messages, their promises and
// all waiters resolve with channel_reset. Returns the new epoch.
func (c *Channel) Reset() uint64 {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	waiters := c.takeWaitersLocked()
	dropped := c.outbound.drain()
	c.mu.Unlock()

	reset := errors.ChannelReset(epoch)
	for _, w := range waiters {
		w.resolve(Message{}, reset)
	}
	for _, o := range dropped {
		o.pending.resolve(reset)
	}
	c.logger.Debug("channel reset",
		zap.Uint64("epoch", epoch),
		zap.Int("waiters", len(waiters)),
		zap.Int("outbound_dropped", len(dropped)))
	return epoch
}

// Close resets the channel for good and closes all subscriber streams.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.epoch++
	epoch := c.epoch
	waiters := c.takeWaitersLocked()
	dropped := c.outbound.drain()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	reset := errors.ChannelReset(epoch)
	for _, w := range waiters {
		w.resolve(Message{}, reset)
	}
	for _, o := range dropped {
		o.pending.resolve(reset)
	}

	c.cancel()
	c.outbound.close()
	c.inbound.close()
	c.wg.Wait()

	for _, o := range c.outbound.drain() {
		o.pending.resolve(reset)
	}
	for _, s := range subs {
		s.Close()
	}
}

func (c *Channel) takeWaitersLocked() []*Waiter {
	waiters := make([]*Waiter, 0, len(c.waiters))
	for w := range c.waiters {
		waiters = append(waiters, w)
	}
	clear(c.waiters)
	return waiters
}

func (c *Channel) removeWaiter(w *Waiter) {
	c.mu.Lock()
	delete(c.waiters, w)
	c.mu.Unlock()
}

func (c *Channel) pumpOutbound() {
	defer c.wg.Done()
	for {
		o, ok := c.outbound.pop(c.ctx.Done())
		if !ok {
			return
		}

		c.mu.Lock()
		epoch, deliver := c.epoch, c.deliver
		c.mu.Unlock()

		if o.msg.Epoch != epoch {
			o.pending.resolve(errors.ChannelReset(epoch))
			continue
		}
		if deliver == nil {
			o.pending.resolve(errors.NotReady(errors.PhaseChannel, "module inbox"))
			continue
		}

		err := deliver(c.ctx, o.msg)
		if err == nil {
			c.metrics.Message(DirectionOut, o.msg.Kind.String())
		}
		o.pending.resolve(err)
	}
}

func (c *Channel) pumpInbound() {
	defer c.wg.Done()
	for {
		m, ok := c.inbound.pop(c.ctx.Done())
		if !ok {
			return
		}

		c.mu.Lock()
		if m.Epoch != c.epoch {
			c.mu.Unlock()
			continue
		}
		var matched []*Waiter
		for w := range c.waiters {
			if w.epoch == m.Epoch && w.match(m) {
				matched = append(matched, w)
				delete(c.waiters, w)
			}
		}
		subs := append([]*Stream(nil), c.subs...)
		c.mu.Unlock()

		c.metrics.Message(DirectionIn, m.Kind.String())
		for _, w := range matched {
			w.resolve(m, nil)
		}
		for _, s := range subs {
			s.Push(m)
		}
	}
}
