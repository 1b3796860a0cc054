package input

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/geom"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/resource"
)

type fakeSink struct {
	pushErr       error
	events        []pointer.Mapped
	mu            sync.Mutex
	ready         bool
	backpressured bool
}

func (s *fakeSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) Backpressured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backpressured
}

func (s *fakeSink) Push(ev pointer.Mapped) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) CoalesceMove(ev pointer.Mapped) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for j := len(s.events) - 1; j >= 0; j-- {
		if s.events[j].ID != ev.ID {
			continue
		}
		if s.events[j].Phase != pointer.PhaseMove {
			return false
		}
		s.events = append(s.events[:j], s.events[j+1:]...)
		s.events = append(s.events, ev)
		return true
	}
	return false
}

func (s *fakeSink) snapshot() []pointer.Mapped {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pointer.Mapped(nil), s.events...)
}

func setup(t *testing.T) (*Forwarder, *geom.Mapper, *resource.Table[Sink]) {
	t.Helper()
	mapper := geom.NewMapper()
	mapper.Resize(geom.Size(1000, 500), geom.Size(250, 125))
	sinks := resource.NewTable[Sink]()
	t.Cleanup(func() { _ = sinks.Close() })
	return New(mapper, sinks), mapper, sinks
}

func move(id uint32, x, y float64) pointer.Event {
	return pointer.Event{ID: id, HostX: x, HostY: y, Phase: pointer.PhaseMove}
}

func TestForwarder_DropsBeforeReady(t *testing.T) {
	f, _, sinks := setup(t)

	for i := 0; i < 10; i++ {
		f.OnPointerEvent(move(1, float64(i), 10))
	}
	stats := f.Stats()
	assert.Zero(t, stats.Forwarded)
	assert.Equal(t, uint64(10), stats.Dropped[metrics.DropDetached])

	sink := &fakeSink{}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	for i := 0; i < 10; i++ {
		f.OnPointerEvent(move(1, float64(i), 10))
	}
	stats = f.Stats()
	assert.Zero(t, stats.Forwarded)
	assert.Equal(t, uint64(10), stats.Dropped[metrics.DropNoInstance])
	assert.Empty(t, sink.snapshot(), "events before Ready must not be buffered")
}

func TestForwarder_ForwardsMapped(t *testing.T) {
	f, _, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	f.OnPointerEvent(pointer.Event{ID: 4, HostX: 500, HostY: 250, Phase: pointer.PhaseStart, Timestamp: 7})

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, pointer.Mapped{ID: 4, SurfaceX: 125, SurfaceY: 62.5, Phase: pointer.PhaseStart, Timestamp: 7}, got[0])
	assert.Equal(t, uint64(1), f.Stats().Forwarded)
}

func TestForwarder_DropReasons(t *testing.T) {
	f, mapper, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	f.OnPointerEvent(move(1, 1200, 10))
	f.OnPointerEvent(move(1, -1, 10))
	f.OnPointerEvent(pointer.Event{ID: 1, Phase: pointer.Phase(42)})

	mapper.Resize(geom.Viewport{}, geom.Size(250, 125))
	f.OnPointerEvent(move(1, 10, 10))

	sink.mu.Lock()
	sink.pushErr = errors.Disposed(errors.PhaseInput, "instance")
	sink.mu.Unlock()
	mapper.Resize(geom.Size(1000, 500), geom.Size(250, 125))
	f.OnPointerEvent(move(1, 10, 10))

	stats := f.Stats()
	assert.Equal(t, uint64(2), stats.Dropped[metrics.DropOutOfBounds])
	assert.Equal(t, uint64(1), stats.Dropped[metrics.DropNotReady])
	assert.Equal(t, uint64(2), stats.Dropped[metrics.DropRejected])
	assert.Equal(t, uint64(5), stats.DroppedTotal())
	assert.Zero(t, stats.Forwarded)
	assert.Empty(t, sink.snapshot())
}

func TestForwarder_StaleHandleAfterRemove(t *testing.T) {
	f, _, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	_, ok := sinks.Remove(h)
	require.True(t, ok)
	replacement := &fakeSink{ready: true}
	_, err = sinks.Insert(replacement)
	require.NoError(t, err)

	f.OnPointerEvent(move(1, 10, 10))
	assert.Equal(t, uint64(1), f.Stats().Dropped[metrics.DropNoInstance])
	assert.Empty(t, replacement.snapshot(), "stale handle must not alias a new sink")
}

func TestForwarder_Detach(t *testing.T) {
	f, _, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)

	f.Attach(h)
	assert.True(t, f.Attached())
	f.Detach()
	assert.False(t, f.Attached())

	f.OnPointerEvent(move(1, 10, 10))
	assert.Empty(t, sink.snapshot())
	assert.Equal(t, uint64(1), f.Stats().Dropped[metrics.DropDetached])
}

func TestForwarder_CoalescesOnlyUnderBackpressure(t *testing.T) {
	f, _, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	f.OnPointerEvent(pointer.Event{ID: 1, HostX: 0, HostY: 0, Phase: pointer.PhaseStart})
	f.OnPointerEvent(move(1, 4, 4))
	f.OnPointerEvent(move(1, 8, 8))
	require.Len(t, sink.snapshot(), 3, "no coalescing without backpressure")

	sink.mu.Lock()
	sink.backpressured = true
	sink.mu.Unlock()

	f.OnPointerEvent(move(2, 100, 100))
	f.OnPointerEvent(move(1, 12, 12))
	f.OnPointerEvent(pointer.Event{ID: 1, HostX: 12, HostY: 12, Phase: pointer.PhaseEnd})
	f.OnPointerEvent(pointer.Event{ID: 2, HostX: 100, HostY: 100, Phase: pointer.PhaseCancel})

	got := sink.snapshot()
	want := []pointer.Mapped{
		{ID: 1, SurfaceX: 0, SurfaceY: 0, Phase: pointer.PhaseStart},
		{ID: 1, SurfaceX: 1, SurfaceY: 1, Phase: pointer.PhaseMove},
		{ID: 2, SurfaceX: 25, SurfaceY: 25, Phase: pointer.PhaseMove},
		{ID: 1, SurfaceX: 3, SurfaceY: 3, Phase: pointer.PhaseMove},
		{ID: 1, SurfaceX: 3, SurfaceY: 3, Phase: pointer.PhaseEnd},
		{ID: 2, SurfaceX: 25, SurfaceY: 25, Phase: pointer.PhaseCancel},
	}
	assert.Equal(t, want, got)

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Coalesced)
	assert.Equal(t, uint64(6), stats.Forwarded)
}

func TestForwarder_PerPointerOrder(t *testing.T) {
	f, _, sinks := setup(t)
	sink := &fakeSink{ready: true}
	h, err := sinks.Insert(sink)
	require.NoError(t, err)
	f.Attach(h)

	var wg sync.WaitGroup
	for id := uint32(1); id <= 4; id++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f.OnPointerEvent(pointer.Event{
					ID:    id,
					HostX: float64(i),
					HostY: float64(i),
					Phase: pointer.PhaseMove,
				})
			}
		}(id)
	}
	wg.Wait()

	last := map[uint32]float64{}
	for _, ev := range sink.snapshot() {
		if prev, ok := last[ev.ID]; ok {
			require.Greater(t, ev.SurfaceX, prev, "pointer %d out of order", ev.ID)
		}
		last[ev.ID] = ev.SurfaceX
	}
	assert.Len(t, sink.snapshot(), 200)
}

func TestForwarder_Metrics(t *testing.T) {
	mapper := geom.NewMapper()
	mapper.Resize(geom.Size(100, 100), geom.Size(100, 100))
	sinks := resource.NewTable[Sink]()
	defer sinks.Close()

	m := metrics.New(prometheus.NewRegistry(), "test")
	f := New(mapper, sinks, WithMetrics(m))

	f.OnPointerEvent(move(1, 1, 1))
	h, _ := sinks.Insert(&fakeSink{ready: true})
	f.Attach(h)
	f.OnPointerEvent(move(1, 1, 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsForwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(metrics.DropDetached)))
}
