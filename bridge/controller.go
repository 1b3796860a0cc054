package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	canvasbridge "github.com/wippyai/canvas-bridge"
	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/geom"
	"github.com/wippyai/canvas-bridge/input"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/modhost"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/resource"
)

// Option configures a Controller.
type Option func(*Controller)

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller owns one bridge mount: surface, module host, channel and
// forwarder. It is created unmounted; Mount may be called once and Unmount
// ends the controller's life.
type Controller struct {
	readyErr   error
	factory    canvasbridge.SandboxFactory
	logger     *zap.Logger
	metrics    *metrics.Metrics
	mapper     *geom.Mapper
	sinks      *resource.Table[input.Sink]
	forwarder  *input.Forwarder
	limiter    *rate.Limiter
	out        *message.Stream
	ready      chan struct{}
	ch         *message.Channel
	sandbox    canvasbridge.Sandbox
	host       *modhost.Host
	loadCancel context.CancelFunc
	loadDone   chan struct{}
	relayDone  chan struct{}
	cfg        Config
	sinkHandle resource.Handle
	mu         sync.Mutex
	readyOnce  sync.Once
	unmount    sync.Once
	mounted    bool
	unmounted  bool
}

// New creates an unmounted controller that builds its sandbox with factory.
func New(factory canvasbridge.SandboxFactory, opts ...Option) *Controller {
	c := &Controller{
		factory: factory,
		cfg:     DefaultConfig(),
		logger:  zap.NewNop(),
		mapper:  geom.NewMapper(),
		sinks:   resource.NewTable[input.Sink](),
		out:     message.NewStream(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.LoadRetries < 0 {
		c.cfg.LoadRetries = 0
	}

	c.mapper.SetFixedAspect(c.cfg.FixedAspect)
	c.forwarder = input.New(c.mapper, c.sinks,
		input.WithLogger(c.logger),
		input.WithMetrics(c.metrics))

	limit := rate.Limit(c.cfg.LogRate)
	if c.cfg.LogRate <= 0 {
		limit = rate.Inf
	}
	c.limiter = rate.NewLimiter(limit, max(c.cfg.LogBurst, 1))
	return c
}

// Mount creates the channel and the sandboxed surface and starts loading
// the module in the background. Use AwaitReady or Messages to observe the
// outcome.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unmounted {
		return errors.Disposed(errors.PhaseMount, "controller")
	}
	if c.mounted {
		return errors.New(errors.PhaseMount, errors.KindAlreadyLoaded).
			Detail("controller already mounted").
			Build()
	}

	ch := message.NewChannel(
		message.WithLogger(c.logger),
		message.WithMetrics(c.metrics))
	sb, err := c.factory(ctx, ch)
	if err != nil {
		ch.Close()
		return errors.Wrap(errors.PhaseMount, errors.KindLoadFailure, err, "create surface")
	}
	logger := c.logger.With(zap.String("surface", sb.ID()))

	host := modhost.New(sb, ch, modhost.Config{
		OnFault:         c.onFault,
		Logger:          c.logger,
		Metrics:         c.metrics,
		QueueBound:      c.cfg.QueueBound,
		LoadTimeout:     c.cfg.LoadTimeout,
		TeardownTimeout: c.cfg.TeardownTimeout,
	})
	ch.Attach(sb.Deliver)

	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mounted = true
	c.ch, c.sandbox, c.host = ch, sb, host
	c.loadCancel = cancel
	c.loadDone = make(chan struct{})
	c.relayDone = make(chan struct{})

	go c.relay(ch.Subscribe(), host, logger)
	go c.load(loadCtx, host, logger)

	canvas := sb.Canvas()
	logger.Info("bridge mounted",
		zap.Uint32("canvas", canvas.Handle),
		zap.Int("width", canvas.Width),
		zap.Int("height", canvas.Height))
	return nil
}

func (c *Controller) load(ctx context.Context, host *modhost.Host, logger *zap.Logger) {
	defer close(c.loadDone)

	attempts := 1 + c.cfg.LoadRetries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var inst *modhost.Instance
		inst, err = host.Load(ctx)
		if err == nil {
			c.attach(inst, logger)
			return
		}
		if ctx.Err() != nil || errors.Is(err, errors.ErrDisposed) {
			return
		}
		logger.Warn("module load attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("of", attempts),
			zap.Error(err))
	}

	logger.Error("module failed to load", zap.Error(err))
	c.out.Push(message.Error(err.Error()))
	c.signalReady(err)
}

// attach registers the ready instance as the forwarder's sink and announces
// readiness. Nothing is attached once unmount has begun.
func (c *Controller) attach(inst *modhost.Instance, logger *zap.Logger) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	h, err := c.sinks.Insert(inst)
	if err != nil {
		c.mu.Unlock()
		return
	}
	c.sinkHandle = h
	c.forwarder.Attach(h)
	epoch := c.ch.Epoch()
	c.mu.Unlock()

	ready := message.Ready()
	ready.Epoch = epoch
	c.out.Push(ready)
	c.signalReady(nil)
	logger.Debug("input attached", zap.Uint64("instance", inst.ID()), zap.Uint32("sink", uint32(h)))
}

func (c *Controller) onFault(id uint64, err error) {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	h := c.sinkHandle
	c.sinkHandle = 0
	c.mu.Unlock()

	c.forwarder.Detach()
	if h != 0 {
		c.sinks.Remove(h)
	}
	c.out.Push(message.Error(err.Error()))
}

func (c *Controller) signalReady(err error) {
	c.readyOnce.Do(func() {
		c.readyErr = err
		close(c.ready)
	})
}

// AwaitReady blocks until the module is ready, loading has finally failed,
// the controller is unmounted, or ctx is done.
func (c *Controller) AwaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the external message stream: Ready, Result and Error.
// Unmount closes it after everything already emitted has been received.
func (c *Controller) Messages() <-chan message.Message {
	return c.out.C()
}

// State returns the module lifecycle state.
func (c *Controller) State() modhost.State {
	c.mu.Lock()
	host, unmounted := c.host, c.unmounted
	c.mu.Unlock()
	if host == nil {
		if unmounted {
			return modhost.Disposed
		}
		return modhost.Uninitialized
	}
	return host.State()
}

// OnPointerEvent forwards a host pointer event. It never blocks on the
// module; events arriving before Ready are dropped.
func (c *Controller) OnPointerEvent(ev pointer.Event) {
	c.forwarder.OnPointerEvent(ev)
}

// Stats returns the input forwarding counters.
func (c *Controller) Stats() input.Stats {
	return c.forwarder.Stats()
}

// Resize updates the viewports used for coordinate mapping and resizes the
// surface canvas to the surface viewport.
func (c *Controller) Resize(ctx context.Context, host, surface geom.Viewport) error {
	c.mapper.Resize(host, surface)

	c.mu.Lock()
	sb, unmounted := c.sandbox, c.unmounted
	c.mu.Unlock()
	if sb == nil || unmounted || surface.Degenerate() {
		return nil
	}

	canvas := sb.Canvas()
	w, h := int(surface.Width), int(surface.Height)
	if canvas.Width == w && canvas.Height == h {
		return nil
	}
	return sb.Resize(ctx, w, h)
}

// Send delivers a host message to the module. The module must be ready.
func (c *Controller) Send(ctx context.Context, m message.Message) (*message.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	ch, host := c.ch, c.host
	c.mu.Unlock()
	if host == nil || host.State() != modhost.Ready {
		return nil, errors.NotReady(errors.PhaseChannel, "module")
	}
	return ch.Send(m), nil
}

// Unmount tears the mount down: input is detached, an in-flight load is
// cancelled and allowed to settle, the module is disposed, the surface is
// destroyed and the channel and message stream are closed. Teardown
// timeouts are logged, not returned. Later calls return nil.
func (c *Controller) Unmount(ctx context.Context) error {
	var err error
	c.unmount.Do(func() {
		err = c.teardown(ctx)
	})
	return err
}

func (c *Controller) teardown(ctx context.Context) error {
	c.mu.Lock()
	c.unmounted = true
	mounted := c.mounted
	ch, sb, host := c.ch, c.sandbox, c.host
	cancel, loadDone, relayDone := c.loadCancel, c.loadDone, c.relayDone
	h := c.sinkHandle
	c.sinkHandle = 0
	c.mu.Unlock()

	c.forwarder.Detach()
	c.signalReady(errors.Disposed(errors.PhaseMount, "controller"))
	if !mounted {
		c.out.Finish()
		_ = c.sinks.Close()
		return nil
	}

	cancel()
	<-loadDone

	if h != 0 {
		c.sinks.Remove(h)
	}
	_ = c.sinks.Close()

	_ = host.Dispose(ctx)
	for _, w := range host.Warnings() {
		c.logger.Warn("module teardown warning", zap.String("surface", sb.ID()), zap.Error(w))
	}

	var err error
	closeCtx, cancelClose := context.WithTimeout(ctx, c.cfg.TeardownTimeout)
	defer cancelClose()
	if closeErr := sb.Close(closeCtx); closeErr != nil {
		if errors.Is(closeErr, errors.ErrTeardownTimeout) {
			c.logger.Warn("surface teardown forced", zap.String("surface", sb.ID()), zap.Error(closeErr))
		} else {
			err = closeErr
		}
	}

	ch.Close()
	<-relayDone
	c.out.Finish()

	c.logger.Info("bridge unmounted", zap.String("surface", sb.ID()))
	return err
}
