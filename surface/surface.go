package surface

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	canvasbridge "github.com/wippyai/canvas-bridge"
	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/resource"
)

// State is the surface lifecycle state.
type State int32

const (
	Created State = iota
	Loaded
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Loaded:
		return "loaded"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds surface configuration.
type Config struct {
	// ModuleName is the instance name the guest is registered under.
	ModuleName string

	// Width and Height are the initial canvas size in device pixels.
	Width  int
	Height int

	// MemoryLimitPages caps guest linear memory (64KB pages). 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// DefaultConfig returns the default surface configuration.
func DefaultConfig() Config {
	return Config{
		ModuleName:       "canvas",
		Width:            512,
		Height:           512,
		MemoryLimitPages: 256,
	}
}

// Option configures a Surface.
type Option func(*Surface)

func WithLogger(l *zap.Logger) Option {
	return func(s *Surface) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Surface) { s.metrics = m }
}

type canvasResource struct {
	logger *zap.Logger
	canvas canvasbridge.Canvas
}

func (c *canvasResource) Drop() {
	c.logger.Debug("canvas released", zap.Uint32("canvas", c.canvas.Handle))
}

type request struct {
	fn   func() error
	done chan error
}

// Surface is a sandboxed rendering surface backed by its own wazero runtime.
// The guest runs in isolated linear memory; every call into it is serialized
// on a single actor goroutine.
type Surface struct {
	base     context.Context
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	mod      api.Module
	abi      *bindings
	ch       *message.Channel
	logger   *zap.Logger
	metrics  *metrics.Metrics
	canvases *resource.Table[*canvasResource]
	cancel   context.CancelFunc
	mailbox  chan request
	stopped  chan struct{}
	id       string
	cfg      Config
	bin      []byte
	canvas   canvasbridge.Canvas
	epoch    atomic.Uint64
	release  sync.Once
	closing  sync.Once
	mu       sync.Mutex
	state    State
}

var _ canvasbridge.Sandbox = (*Surface)(nil)

// New creates a surface for the guest binary bin. Guest posts are published
// on ch. The guest is compiled and validated on the first Load.
func New(ctx context.Context, bin []byte, ch *message.Channel, cfg Config, opts ...Option) (*Surface, error) {
	if ch == nil {
		return nil, errors.InvalidInput(errors.PhaseMount, "nil channel")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New(errors.PhaseMount, errors.KindInvalidInput).
			Value([2]int{cfg.Width, cfg.Height}).
			Detail("canvas size %dx%d", cfg.Width, cfg.Height).
			Build()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Surface{
		base:     base,
		cancel:   cancel,
		id:       uuid.NewString(),
		cfg:      cfg,
		bin:      bin,
		ch:       ch,
		logger:   zap.NewNop(),
		canvases: resource.NewTable[*canvasResource](),
		mailbox:  make(chan request),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("surface", s.id))

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	s.runtime = wazero.NewRuntimeWithConfig(base, runtimeCfg)

	_, err := s.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(s.post).
		Export(hostPost).
		Instantiate(ctx)
	if err != nil {
		cancel()
		_ = s.runtime.Close(context.Background())
		return nil, errors.Wrap(errors.PhaseMount, errors.KindLoadFailure, err, "instantiate host module")
	}

	s.canvases.Subscribe(resource.ObserverFunc[*canvasResource](func(e resource.Event[*canvasResource]) {
		s.logger.Debug("canvas resource",
			zap.Stringer("event", e.Type),
			zap.Uint32("handle", uint32(e.Handle)))
	}))
	res := &canvasResource{logger: s.logger, canvas: canvasbridge.Canvas{Width: cfg.Width, Height: cfg.Height}}
	h, err := s.canvases.Insert(res)
	if err != nil {
		cancel()
		_ = s.runtime.Close(context.Background())
		return nil, errors.Wrap(errors.PhaseMount, errors.KindInvalidInput, err, "allocate canvas")
	}
	res.canvas.Handle = uint32(h)
	s.canvas = res.canvas

	go s.run()

	s.logger.Debug("surface created",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Uint32("canvas", s.canvas.Handle))
	return s, nil
}

// Factory returns a SandboxFactory that creates surfaces for bin.
func Factory(bin []byte, cfg Config, opts ...Option) canvasbridge.SandboxFactory {
	return func(ctx context.Context, ch *message.Channel) (canvasbridge.Sandbox, error) {
		return New(ctx, bin, ch, cfg, opts...)
	}
}

func (s *Surface) ID() string {
	return s.id
}

func (s *Surface) Canvas() canvasbridge.Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas
}

func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Surface) setState(st State) {
	s.mu.Lock()
	if s.state != Closed {
		s.state = st
	}
	s.mu.Unlock()
}

// Load compiles and validates the guest on first use, instantiates it and
// runs bridge_init with the canvas. Messages the guest posts are stamped
// with the channel epoch current at the start of Load.
func (s *Surface) Load(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.State() == Closed {
			return errors.Disposed(errors.PhaseLoad, "surface")
		}
		if s.mod != nil {
			return errors.AlreadyLoaded(Loaded.String())
		}

		if s.compiled == nil {
			compiled, err := s.runtime.CompileModule(ctx, s.bin)
			if err != nil {
				return errors.LoadFailure("compile guest", err)
			}
			if err := validate(compiled); err != nil {
				_ = compiled.Close(context.Background())
				return errors.LoadFailure("guest ABI", err)
			}
			s.compiled = compiled
		}

		s.epoch.Store(s.ch.Epoch())
		callCtx, done := s.callContext(ctx)
		defer done()

		cfg := wazero.NewModuleConfig().
			WithName(s.cfg.ModuleName).
			WithStartFunctions()
		mod, err := s.runtime.InstantiateModule(callCtx, s.compiled, cfg)
		if err != nil {
			s.epoch.Store(0)
			return errors.LoadFailure("instantiate guest", err)
		}

		abi := bind(mod)
		canvas := s.Canvas()
		res, err := abi.init.Call(callCtx,
			api.EncodeU32(canvas.Handle),
			api.EncodeU32(uint32(canvas.Width)),
			api.EncodeU32(uint32(canvas.Height)))
		if err != nil {
			s.epoch.Store(0)
			_ = mod.Close(context.Background())
			return errors.LoadFailure("init", errors.Trap(errors.PhaseLoad, exportInit, err))
		}
		if status := api.DecodeI32(res[0]); status != 0 {
			s.epoch.Store(0)
			_ = mod.Close(context.Background())
			return errors.New(errors.PhaseLoad, errors.KindLoadFailure).
				Surface(s.id).
				Export(exportInit).
				Value(status).
				Detail("init returned status %d", status).
				Build()
		}

		s.mod, s.abi = mod, abi
		s.setState(Loaded)
		s.logger.Debug("guest loaded", zap.Uint64("epoch", s.epoch.Load()))
		return nil
	})
}

// Dispatch delivers a mapped pointer event to bridge_pointer.
func (s *Surface) Dispatch(ctx context.Context, ev pointer.Mapped) error {
	return s.do(ctx, func() error {
		if s.abi == nil {
			return errors.NotReady(errors.PhaseRuntime, "guest")
		}
		callCtx, done := s.callContext(ctx)
		defer done()
		_, err := s.abi.pointer.Call(callCtx,
			api.EncodeU32(ev.ID),
			api.EncodeF32(float32(ev.SurfaceX)),
			api.EncodeF32(float32(ev.SurfaceY)),
			api.EncodeU32(uint32(ev.Phase)),
			api.EncodeI64(int64(ev.Timestamp)))
		if err != nil {
			s.metrics.GuestFault()
			return errors.Trap(errors.PhaseRuntime, exportPointer, err)
		}
		return nil
	})
}

// Deliver copies a host message into guest memory through bridge_alloc and
// hands it to bridge_message.
func (s *Surface) Deliver(ctx context.Context, m message.Message) error {
	return s.do(ctx, func() error {
		if s.abi == nil {
			return errors.NotReady(errors.PhaseChannel, "guest")
		}
		if s.abi.alloc == nil || s.abi.message == nil {
			return errors.Unsupported(errors.PhaseChannel, "guest does not accept host messages")
		}

		kind, body := m.Encode()
		callCtx, done := s.callContext(ctx)
		defer done()

		res, err := s.abi.alloc.Call(callCtx, api.EncodeU32(uint32(len(body))))
		if err != nil {
			s.metrics.GuestFault()
			return errors.Trap(errors.PhaseChannel, exportAlloc, err)
		}
		ptr := api.DecodeU32(res[0])
		if !s.abi.memory.Write(ptr, body) {
			return errors.New(errors.PhaseChannel, errors.KindInvalidData).
				Surface(s.id).
				Export(exportAlloc).
				Value(ptr).
				Detail("allocation of %d bytes at %d is out of range", len(body), ptr).
				Build()
		}
		if _, err := s.abi.message.Call(callCtx, uint64(kind), uint64(ptr), uint64(len(body))); err != nil {
			s.metrics.GuestFault()
			return errors.Trap(errors.PhaseChannel, exportMessage, err)
		}
		return nil
	})
}

// Resize changes the canvas size and calls bridge_resize if the guest
// exports it.
func (s *Surface) Resize(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "canvas size must be positive")
	}
	return s.do(ctx, func() error {
		s.mu.Lock()
		s.canvas.Width, s.canvas.Height = width, height
		handle := resource.Handle(s.canvas.Handle)
		s.mu.Unlock()
		if res, ok := s.canvases.Get(handle); ok {
			res.canvas.Width, res.canvas.Height = width, height
		}

		if s.abi == nil || s.abi.resize == nil {
			return nil
		}
		callCtx, done := s.callContext(ctx)
		defer done()
		if _, err := s.abi.resize.Call(callCtx, api.EncodeU32(uint32(width)), api.EncodeU32(uint32(height))); err != nil {
			s.metrics.GuestFault()
			return errors.Trap(errors.PhaseRuntime, exportResize, err)
		}
		return nil
	})
}

// Unload runs bridge_dispose if exported and closes the guest instance.
// Posts made after Unload begins are dropped.
func (s *Surface) Unload(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.epoch.Store(0)
		if s.mod == nil {
			return nil
		}

		var err error
		if s.abi.dispose != nil {
			callCtx, done := s.callContext(ctx)
			if _, callErr := s.abi.dispose.Call(callCtx); callErr != nil {
				err = errors.Trap(errors.PhaseTeardown, exportDispose, callErr)
			}
			done()
		}
		s.closeModule()
		s.setState(Created)
		return err
	})
}

// Close destroys the surface. If the actor does not confirm teardown before
// ctx is done the guest is interrupted, resources are force-released and a
// teardown_timeout error is returned. Later calls return nil.
func (s *Surface) Close(ctx context.Context) error {
	var err error
	s.closing.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.epoch.Store(0)

		start := time.Now()
		if doErr := s.do(ctx, func() error {
			s.closeModule()
			return nil
		}); doErr != nil {
			s.metrics.TeardownTimeout("surface")
			err = errors.TeardownTimeout(s.id, "surface close", time.Since(start))
			s.logger.Warn("surface teardown forced", zap.Error(doErr))
		}
		s.releaseResources()
	})
	return err
}

// Done is closed once the surface's resources have been released.
func (s *Surface) Done() <-chan struct{} {
	return s.stopped
}

func (s *Surface) closeModule() {
	if s.mod == nil {
		return
	}
	if err := s.mod.Close(context.Background()); err != nil {
		s.logger.Debug("guest close", zap.Error(err))
	}
	s.mod, s.abi = nil, nil
}

// releaseResources stops the actor, interrupts any running guest call and
// frees the runtime and canvas. Runs once.
func (s *Surface) releaseResources() {
	s.release.Do(func() {
		s.cancel()
		<-s.stopped
		if err := s.runtime.Close(context.Background()); err != nil {
			s.logger.Debug("runtime close", zap.Error(err))
		}
		_ = s.canvases.Close()
		s.logger.Debug("surface released")
	})
}

// post is the bridge.post host function.
func (s *Surface) post(ctx context.Context, m api.Module, kind, ptr, length uint32) {
	epoch := s.epoch.Load()
	if epoch == 0 {
		return
	}
	body, ok := m.Memory().Read(ptr, length)
	if !ok {
		s.metrics.GuestFault()
		s.logger.Warn("guest posted out-of-range message",
			zap.Uint32("kind", kind),
			zap.Uint32("ptr", ptr),
			zap.Uint32("len", length))
		return
	}
	msg, err := message.Decode(kind, body)
	if err != nil {
		s.metrics.GuestFault()
		s.logger.Warn("guest posted invalid message", zap.Error(err))
		return
	}
	s.ch.Publish(epoch, msg)
}

// callContext derives the context guest calls run under: cancelled when
// either the caller's ctx or the surface lifetime ends.
func (s *Surface) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(s.base)
	stop := context.AfterFunc(ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func (s *Surface) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.mailbox:
			req.done <- req.fn()
		case <-s.base.Done():
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for its result or ctx.
func (s *Surface) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case s.mailbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return errors.Disposed(errors.PhaseRuntime, "surface")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return errors.Disposed(errors.PhaseRuntime, "surface")
		}
	}
}
