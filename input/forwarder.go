package input

import (
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/geom"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/resource"
)

// Sink is the per-instance event queue the forwarder writes to.
type Sink interface {
	Ready() bool
	Backpressured() bool
	Push(ev pointer.Mapped) error
	CoalesceMove(ev pointer.Mapped) bool
}

// Stats counts what happened to forwarded events.
type Stats struct {
	Dropped   map[string]uint64
	Forwarded uint64
	Coalesced uint64
}

// DroppedTotal returns the number of dropped events across all reasons.
func (s Stats) DroppedTotal() uint64 {
	var n uint64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

// Option configures a Forwarder.
type Option func(*Forwarder)

func WithLogger(l *zap.Logger) Option {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

// Forwarder routes host pointer events to the attached sink. It holds only
// a handle into the sink table, so a sink removed on teardown is simply
// absent on the next lookup.
type Forwarder struct {
	mapper   *geom.Mapper
	sinks    *resource.Table[Sink]
	logger   *zap.Logger
	metrics  *metrics.Metrics
	stats    Stats
	handle   resource.Handle
	mu       sync.Mutex
	attached bool
}

// New creates a detached forwarder.
func New(mapper *geom.Mapper, sinks *resource.Table[Sink], opts ...Option) *Forwarder {
	f := &Forwarder{
		mapper: mapper,
		sinks:  sinks,
		logger: zap.NewNop(),
		stats:  Stats{Dropped: make(map[string]uint64)},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach directs subsequent events to the sink at handle.
func (f *Forwarder) Attach(handle resource.Handle) {
	f.mu.Lock()
	f.handle = handle
	f.attached = true
	f.mu.Unlock()
	f.logger.Debug("forwarder attached", zap.Uint32("sink", uint32(handle)))
}

// Detach stops forwarding. Events received while detached are dropped.
func (f *Forwarder) Detach() {
	f.mu.Lock()
	f.handle = 0
	f.attached = false
	f.mu.Unlock()
	f.logger.Debug("forwarder detached")
}

// Attached reports whether the forwarder has a sink handle.
func (f *Forwarder) Attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

// OnPointerEvent maps ev and queues it on the attached sink, or drops it.
// Calls are serialized so events from concurrent callers keep the order in
// which they acquired the forwarder.
func (f *Forwarder) OnPointerEvent(ev pointer.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.attached {
		f.dropLocked(ev, metrics.DropDetached, nil)
		return
	}
	sink, ok := f.sinks.Get(f.handle)
	if !ok || !sink.Ready() {
		f.dropLocked(ev, metrics.DropNoInstance, nil)
		return
	}
	if !ev.Phase.Valid() {
		f.dropLocked(ev, metrics.DropRejected, errors.InvalidInput(errors.PhaseInput, ev.Phase.String()))
		return
	}

	x, y, err := f.mapper.Map(ev.HostX, ev.HostY)
	if err != nil {
		reason := metrics.DropOutOfBounds
		if errors.Is(err, errors.ErrNotReady) {
			reason = metrics.DropNotReady
		}
		f.dropLocked(ev, reason, err)
		return
	}
	mapped := ev.Mapped(x, y)

	if mapped.Phase == pointer.PhaseMove && sink.Backpressured() && sink.CoalesceMove(mapped) {
		f.stats.Coalesced++
		f.metrics.Coalesced()
		return
	}
	if err := sink.Push(mapped); err != nil {
		f.dropLocked(ev, metrics.DropRejected, err)
		return
	}
	f.stats.Forwarded++
	f.metrics.Forwarded()
}

func (f *Forwarder) dropLocked(ev pointer.Event, reason string, err error) {
	f.stats.Dropped[reason]++
	f.metrics.Dropped(reason)
	if ce := f.logger.Check(zap.DebugLevel, "pointer event dropped"); ce != nil {
		ce.Write(zap.Stringer("event", ev), zap.String("reason", reason), zap.Error(err))
	}
}

// Stats returns a snapshot of the forwarding counters.
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Dropped = maps.Clone(f.stats.Dropped)
	return s
}
