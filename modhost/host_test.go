package modhost

import (
	"context"
	"sync"
	"testing"
	"time"

	canvasbridge "github.com/wippyai/canvas-bridge"
	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/pointer"
)

// fakeSandbox is an in-process Sandbox. By default Load publishes Ready in
// the current epoch.
type fakeSandbox struct {
	ch         *message.Channel
	onLoad     func(n int, epoch uint64) error
	onDispatch func(ev pointer.Mapped) error
	entered    chan pointer.Mapped
	gate       chan struct{}
	dispatched []pointer.Mapped
	loads      int
	unloads    int
	mu         sync.Mutex
	hangUnload bool
}

func newFake(ch *message.Channel) *fakeSandbox {
	return &fakeSandbox{ch: ch}
}

func (f *fakeSandbox) ID() string { return "fake" }

func (f *fakeSandbox) Canvas() canvasbridge.Canvas {
	return canvasbridge.Canvas{Handle: 1, Width: 100, Height: 100}
}

func (f *fakeSandbox) Load(ctx context.Context) error {
	f.mu.Lock()
	f.loads++
	n := f.loads
	onLoad := f.onLoad
	f.mu.Unlock()

	epoch := f.ch.Epoch()
	if onLoad != nil {
		return onLoad(n, epoch)
	}
	f.ch.Publish(epoch, message.Ready())
	return nil
}

func (f *fakeSandbox) Dispatch(ctx context.Context, ev pointer.Mapped) error {
	if f.entered != nil {
		f.entered <- ev
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.dispatched = append(f.dispatched, ev)
	onDispatch := f.onDispatch
	f.mu.Unlock()
	if onDispatch != nil {
		return onDispatch(ev)
	}
	return nil
}

func (f *fakeSandbox) Deliver(ctx context.Context, m message.Message) error { return nil }

func (f *fakeSandbox) Resize(ctx context.Context, width, height int) error { return nil }

func (f *fakeSandbox) Unload(ctx context.Context) error {
	f.mu.Lock()
	f.unloads++
	hang := f.hangUnload
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeSandbox) Close(ctx context.Context) error { return nil }

func (f *fakeSandbox) counts() (loads, unloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.unloads
}

func (f *fakeSandbox) events() []pointer.Mapped {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pointer.Mapped(nil), f.dispatched...)
}

func newTestHost(t *testing.T, cfg Config) (*Host, *fakeSandbox, *message.Channel) {
	t.Helper()
	ch := message.NewChannel()
	t.Cleanup(ch.Close)
	f := newFake(ch)
	h := New(f, ch, cfg)
	t.Cleanup(func() { _ = h.Dispose(context.Background()) })
	return h, f, ch
}

func TestHost_LoadReady(t *testing.T) {
	h, _, _ := newTestHost(t, Config{})
	if h.State() != Uninitialized {
		t.Fatalf("initial state = %s", h.State())
	}

	inst, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.State() != Ready || h.Current() != inst || !inst.Ready() {
		t.Fatalf("state = %s, current = %v", h.State(), h.Current())
	}
	if inst.ID() != 1 {
		t.Fatalf("instance id = %d", inst.ID())
	}

	if _, err := h.Load(context.Background()); !errors.Is(err, errors.ErrAlreadyLoaded) {
		t.Fatalf("second Load err = %v", err)
	}
}

func TestHost_LoadGuestErrorThenRetry(t *testing.T) {
	h, f, ch := newTestHost(t, Config{})
	f.onLoad = func(n int, epoch uint64) error {
		if n == 1 {
			ch.Publish(epoch, message.Error("no canvas"))
			return nil
		}
		ch.Publish(epoch, message.Ready())
		return nil
	}

	first := ch.Epoch()
	_, err := h.Load(context.Background())
	if !errors.Is(err, errors.ErrLoadFailure) {
		t.Fatalf("err = %v, want load_failure", err)
	}
	if h.State() != Failed {
		t.Fatalf("state = %s, want failed", h.State())
	}

	inst, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if inst.ID() != 2 {
		t.Fatalf("instance id = %d, want 2", inst.ID())
	}
	if ch.Epoch() <= first {
		t.Fatal("retry did not reset the channel")
	}
	if _, unloads := f.counts(); unloads != 1 {
		t.Fatalf("unloads before retry = %d, want 1", unloads)
	}
}

func TestHost_LoadSandboxError(t *testing.T) {
	h, f, _ := newTestHost(t, Config{})
	f.onLoad = func(int, uint64) error {
		return errors.Trap(errors.PhaseLoad, "bridge_init", context.Canceled)
	}

	_, err := h.Load(context.Background())
	if !errors.Is(err, errors.ErrLoadFailure) || !errors.Is(err, errors.ErrTrap) {
		t.Fatalf("err = %v", err)
	}
	if h.State() != Failed {
		t.Fatalf("state = %s", h.State())
	}
}

func TestHost_LoadTimeout(t *testing.T) {
	h, f, _ := newTestHost(t, Config{LoadTimeout: 50 * time.Millisecond})
	f.onLoad = func(int, uint64) error { return nil }

	_, err := h.Load(context.Background())
	if !errors.Is(err, errors.ErrLoadFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if h.State() != Failed {
		t.Fatalf("state = %s", h.State())
	}
}

func TestHost_StaleReadyIgnored(t *testing.T) {
	h, f, ch := newTestHost(t, Config{LoadTimeout: 100 * time.Millisecond})
	f.onLoad = func(_ int, epoch uint64) error {
		ch.Publish(epoch-1, message.Ready())
		return nil
	}

	if _, err := h.Load(context.Background()); !errors.Is(err, errors.ErrLoadFailure) {
		t.Fatalf("stale Ready accepted: %v", err)
	}
}

func TestHost_DisposeDuringLoad(t *testing.T) {
	h, f, _ := newTestHost(t, Config{})
	loading := make(chan struct{})
	f.onLoad = func(int, uint64) error {
		close(loading)
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.Load(context.Background())
		errc <- err
	}()

	<-loading
	if err := h.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, errors.ErrDisposed) {
			t.Fatalf("Load err = %v, want disposed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Load did not settle after Dispose")
	}
	if h.State() != Disposed || h.Current() != nil {
		t.Fatalf("state = %s, current = %v", h.State(), h.Current())
	}
}

func TestHost_DisposeIdempotent(t *testing.T) {
	h, f, _ := newTestHost(t, Config{})
	inst, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := h.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := h.Dispose(context.Background()); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	if _, unloads := f.counts(); unloads != 1 {
		t.Fatalf("unloads = %d, want 1", unloads)
	}
	if h.State() != Disposed || inst.Ready() {
		t.Fatalf("state = %s, instance ready = %v", h.State(), inst.Ready())
	}
	if err := inst.Push(pointer.Mapped{ID: 1}); !errors.Is(err, errors.ErrDisposed) {
		t.Fatalf("Push after dispose err = %v", err)
	}
	if _, err := h.Load(context.Background()); !errors.Is(err, errors.ErrDisposed) {
		t.Fatalf("Load after dispose err = %v", err)
	}
}

func TestHost_DisposeTeardownTimeout(t *testing.T) {
	h, f, _ := newTestHost(t, Config{TeardownTimeout: 50 * time.Millisecond})
	if _, err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.mu.Lock()
	f.hangUnload = true
	f.mu.Unlock()

	start := time.Now()
	if err := h.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose should not fail on teardown timeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Dispose took %s", elapsed)
	}

	warnings := h.Warnings()
	if len(warnings) != 1 || !errors.Is(warnings[0], errors.ErrTeardownTimeout) {
		t.Fatalf("warnings = %v", warnings)
	}
	if h.State() != Disposed {
		t.Fatalf("state = %s", h.State())
	}
}

func TestHost_DisposeResetsChannel(t *testing.T) {
	h, _, ch := newTestHost(t, Config{})
	if _, err := h.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	epoch := ch.Epoch()
	w := ch.Await(epoch, func(message.Message) bool { return true })

	_ = h.Dispose(context.Background())
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not resolved by dispose")
	}
	if ch.Publish(epoch, message.Ready()) {
		t.Fatal("Ready from the disposed epoch was accepted")
	}
}

func TestHost_TrapFaultsInstance(t *testing.T) {
	faults := make(chan uint64, 1)
	h, f, _ := newTestHost(t, Config{OnFault: func(id uint64, err error) {
		if errors.Is(err, errors.ErrTrap) {
			faults <- id
		}
	}})
	f.onDispatch = func(pointer.Mapped) error {
		return errors.Trap(errors.PhaseRuntime, "bridge_pointer", context.Canceled)
	}

	inst, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := inst.Push(pointer.Mapped{ID: 1, Phase: pointer.PhaseStart}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case id := <-faults:
		if id != inst.ID() {
			t.Fatalf("fault id = %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fault reported")
	}
	if h.State() != Failed || h.Current() != nil || inst.Ready() {
		t.Fatalf("state = %s, current = %v, ready = %v", h.State(), h.Current(), inst.Ready())
	}
}
