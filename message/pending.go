package message

import (
	"context"
	"sync"
)

// Pending is the promise returned by Channel.Send. It resolves once the
// message has been handed to the module, or with channel_reset if the
// channel was reset or closed first.
type Pending struct {
	err  error
	done chan struct{}
	once sync.Once
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed when the promise resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the resolution error. It is only meaningful after Done.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the promise resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Waiter is a host-side wait for the first inbound message of an epoch that
// satisfies a predicate.
type Waiter struct {
	err   error
	match func(Message) bool
	ch    *Channel
	done  chan struct{}
	msg   Message
	epoch uint64
	once  sync.Once
}

func (w *Waiter) resolve(m Message, err error) {
	w.once.Do(func() {
		w.msg = m
		w.err = err
		close(w.done)
	})
}

// Wait blocks until a matching message arrives, the channel resets, or ctx
// is done. Cancellation removes the waiter.
func (w *Waiter) Wait(ctx context.Context) (Message, error) {
	select {
	case <-w.done:
		return w.msg, w.err
	case <-ctx.Done():
		w.Cancel()
		return Message{}, ctx.Err()
	}
}

// Done is closed when the waiter resolves.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Cancel unregisters the waiter.
func (w *Waiter) Cancel() {
	w.ch.removeWaiter(w)
}
