package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/canvas-bridge/errors"
)

func recv(t *testing.T, s *Stream) Message {
	t.Helper()
	select {
	case m, ok := <-s.C():
		if !ok {
			t.Fatal("stream closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestChannel_InboundFIFO(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	s := ch.Subscribe()
	epoch := ch.Epoch()
	for i := 0; i < 100; i++ {
		if !ch.Publish(epoch, Result([]byte{byte(i)})) {
			t.Fatalf("Publish %d rejected", i)
		}
	}

	for i := 0; i < 100; i++ {
		m := recv(t, s)
		if m.Kind != KindResult || m.Payload[0] != byte(i) {
			t.Fatalf("message %d = %s %v", i, m, m.Payload)
		}
		if m.Epoch != epoch {
			t.Fatalf("epoch = %d, want %d", m.Epoch, epoch)
		}
	}
}

func TestChannel_OutboundFIFO(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	var mu sync.Mutex
	var got []string
	ch.Attach(func(ctx context.Context, m Message) error {
		mu.Lock()
		got = append(got, m.Text)
		mu.Unlock()
		return nil
	})

	var pendings []*Pending
	for _, text := range []string{"a", "b", "c", "d"} {
		pendings = append(pendings, ch.Send(Log(text)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, p := range pendings {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("pending %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != "a" || got[1] != "b" || got[2] != "c" || got[3] != "d" {
		t.Fatalf("delivery order = %v", got)
	}
}

func TestChannel_SendWithoutDeliverer(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ch.Send(Log("x")).Wait(ctx)
	if !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("err = %v, want not_ready", err)
	}
}

func TestChannel_ResetResolvesPending(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	ch.Attach(func(ctx context.Context, m Message) error {
		entered <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})

	first := ch.Send(Log("in flight"))
	<-entered
	queued := ch.Send(Log("queued"))

	ch.Reset()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := first.Wait(ctx); err != nil {
		t.Fatalf("in-flight message should complete, got %v", err)
	}
	if err := queued.Wait(ctx); !errors.Is(err, errors.ErrChannelReset) {
		t.Fatalf("queued message err = %v, want channel_reset", err)
	}
}

func TestChannel_ResetDropsStaleInbound(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	s := ch.Subscribe()
	old := ch.Epoch()
	next := ch.Reset()
	if next != old+1 {
		t.Fatalf("Reset epoch = %d, want %d", next, old+1)
	}

	if ch.Publish(old, Ready()) {
		t.Fatal("stale publish accepted")
	}
	ch.Publish(next, Log("fresh"))

	m := recv(t, s)
	if m.Kind != KindLog || m.Text != "fresh" {
		t.Fatalf("got %s, want fresh log", m)
	}
}

func TestChannel_AwaitMatches(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	epoch := ch.Epoch()
	w := ch.Await(epoch, func(m Message) bool { return m.Kind == KindReady })

	ch.Publish(epoch, Log("warming up"))
	ch.Publish(epoch, Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m.Kind != KindReady {
		t.Fatalf("matched %s, want ready", m)
	}
}

func TestChannel_AwaitResolvedByReset(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	w := ch.Await(ch.Epoch(), func(Message) bool { return true })
	ch.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, errors.ErrChannelReset) {
		t.Fatalf("err = %v, want channel_reset", err)
	}
}

func TestChannel_AwaitStaleEpoch(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	old := ch.Epoch()
	ch.Reset()
	w := ch.Await(old, func(Message) bool { return true })

	select {
	case <-w.Done():
	default:
		t.Fatal("waiter on stale epoch should resolve immediately")
	}
}

func TestChannel_AwaitCancel(t *testing.T) {
	ch := NewChannel()
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := ch.Await(ch.Epoch(), func(Message) bool { return true })
	if _, err := w.Wait(ctx); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	ch.mu.Lock()
	n := len(ch.waiters)
	ch.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d waiters left after cancel", n)
	}
}

func TestChannel_Close(t *testing.T) {
	ch := NewChannel()
	s := ch.Subscribe()
	w := ch.Await(ch.Epoch(), func(Message) bool { return true })

	ch.Close()
	ch.Close()

	select {
	case _, ok := <-s.C():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, errors.ErrChannelReset) {
		t.Fatalf("waiter err = %v, want channel_reset", err)
	}
	if err := ch.Send(Log("late")).Wait(ctx); !errors.Is(err, errors.ErrChannelReset) {
		t.Fatalf("send after close err = %v, want channel_reset", err)
	}
	if ch.Publish(ch.Epoch(), Ready()) {
		t.Fatal("publish after close accepted")
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	s := NewStream()
	s.Push(Ready())
	s.Close()
	s.Close()
	if s.Push(Ready()) {
		t.Fatal("push after close accepted")
	}
}

func TestStream_FinishDeliversQueued(t *testing.T) {
	s := NewStream()
	defer s.Close()
	s.Push(Log("a"))
	s.Push(Log("b"))
	s.Finish()
	if s.Push(Log("c")) {
		t.Fatal("push after finish accepted")
	}

	for _, want := range []string{"a", "b"} {
		if m := recv(t, s); m.Text != want {
			t.Fatalf("got %s, want log %q", m, want)
		}
	}
	select {
	case _, ok := <-s.C():
		if ok {
			t.Fatal("stream still open after queued messages")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after finish")
	}
}
