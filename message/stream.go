package message

import (
	"sync"
)

// Stream is an ordered, unbounded message feed exposed as a channel.
// Push never blocks. Close stops delivery; undelivered messages are
// discarded and C is closed.
type Stream struct {
	q    *fifo[Message]
	out  chan Message
	done chan struct{}
	once sync.Once
}

// NewStream starts a stream.
func NewStream() *Stream {
	s := &Stream{
		q:    newFIFO[Message](),
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the receive side of the stream.
func (s *Stream) C() <-chan Message {
	return s.out
}

// Push appends m. It returns false once the stream is closed.
func (s *Stream) Push(m Message) bool {
	return s.q.push(m)
}

// Finish stops accepting messages. Messages already pushed are still
// delivered, then C is closed.
func (s *Stream) Finish() {
	s.q.close()
}

// Close stops the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.q.close()
		close(s.done)
	})
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		m, ok := s.q.pop(s.done)
		if !ok {
			return
		}
		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
}
