package modhost

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	canvasbridge "github.com/wippyai/canvas-bridge"
	"github.com/wippyai/canvas-bridge/errors"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/metrics"
)

// Config holds module host configuration.
type Config struct {
	// OnFault is called when a ready instance traps while handling input.
	OnFault func(id uint64, err error)

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// QueueBound is the number of pending Move events at which an instance
	// reports backpressure.
	QueueBound int

	// LoadTimeout bounds how long Load waits for the module's Ready.
	LoadTimeout time.Duration

	// TeardownTimeout bounds the module unload during Dispose.
	TeardownTimeout time.Duration
}

// DefaultConfig returns the default module host configuration.
func DefaultConfig() Config {
	return Config{
		QueueBound:      32,
		LoadTimeout:     10 * time.Second,
		TeardownTimeout: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueBound <= 0 {
		c.QueueBound = d.QueueBound
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = d.TeardownTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Host owns the lifecycle of the module embedded in one sandbox. At most
// one instance exists at a time.
type Host struct {
	sandbox  canvasbridge.Sandbox
	ch       *message.Channel
	logger   *zap.Logger
	current  *Instance
	warnings []error
	cfg      Config
	nextID   uint64
	mu       sync.Mutex
	dispose  sync.Once
	state    State
}

// New creates a host for the module in sandbox. Module messages are read
// from ch.
func New(sandbox canvasbridge.Sandbox, ch *message.Channel, cfg Config) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		sandbox: sandbox,
		ch:      ch,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("surface", sandbox.ID())),
	}
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Current returns the ready instance, or nil.
func (h *Host) Current() *Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Warnings returns the non-fatal problems recorded during Dispose.
func (h *Host) Warnings() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.warnings...)
}

// Load initializes the module with the sandbox's canvas and waits for the
// module to post Ready. It fails with already_loaded while a load is in
// progress or an instance is ready, and with disposed after Dispose. After a
// failure Load may be called again; the channel is reset first so messages
// from the failed attempt cannot be mistaken for the new one.
func (h *Host) Load(ctx context.Context) (*Instance, error) {
	h.mu.Lock()
	switch h.state {
	case Loading, Ready:
		st := h.state
		h.mu.Unlock()
		return nil, errors.AlreadyLoaded(st.String())
	case Disposed:
		h.mu.Unlock()
		return nil, errors.Disposed(errors.PhaseLoad, "module host")
	}
	retry := h.state == Failed
	h.state = Loading
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	if retry {
		h.ch.Reset()
		if err := h.unload(ctx); err != nil {
			h.logger.Debug("unload before retry", zap.Error(err))
		}
	}

	epoch := h.ch.Epoch()
	w := h.ch.Await(epoch, func(m message.Message) bool {
		return m.Kind == message.KindReady || m.Kind == message.KindError
	})
	defer w.Cancel()

	loadCtx, cancel := context.WithTimeout(ctx, h.cfg.LoadTimeout)
	defer cancel()

	h.logger.Debug("loading module",
		zap.Uint64("instance", id),
		zap.Uint64("epoch", epoch),
		zap.Uint32("canvas", h.sandbox.Canvas().Handle))

	if err := h.sandbox.Load(loadCtx); err != nil {
		return nil, h.fail(id, loadFailure("initialize module", err))
	}

	m, err := w.Wait(loadCtx)
	if err != nil {
		return nil, h.fail(id, loadFailure("wait for ready", err))
	}
	if m.Kind == message.KindError {
		return nil, h.fail(id, errors.New(errors.PhaseLoad, errors.KindLoadFailure).
			Surface(h.sandbox.ID()).
			Value(m.Reason).
			Detail("module reported error: %s", m.Reason).
			Build())
	}

	h.mu.Lock()
	if h.state != Loading || h.nextID != id {
		h.mu.Unlock()
		return nil, errors.Disposed(errors.PhaseLoad, "module host")
	}
	inst := newInstance(id, h.sandbox, h.cfg, h.fault)
	h.current = inst
	h.state = Ready
	h.mu.Unlock()

	h.cfg.Metrics.LoadAttempt("ready")
	h.cfg.Metrics.InstanceReady(1)
	h.logger.Info("module ready", zap.Uint64("instance", id), zap.Uint64("epoch", epoch))
	return inst, nil
}

func loadFailure(detail string, err error) error {
	if errors.Is(err, errors.ErrLoadFailure) {
		return err
	}
	return errors.LoadFailure(detail, err)
}

// fail moves a loading host to Failed. If the host was disposed while the
// load was in flight the caller gets disposed instead.
func (h *Host) fail(id uint64, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Disposed {
		return errors.Disposed(errors.PhaseLoad, "module host")
	}
	if h.state == Loading && h.nextID == id {
		h.state = Failed
	}
	h.cfg.Metrics.LoadAttempt("failed")
	h.logger.Warn("module load failed", zap.Uint64("instance", id), zap.Error(err))
	return err
}

// fault handles a trap raised by a ready instance.
func (h *Host) fault(inst *Instance, err error) {
	h.mu.Lock()
	if h.current != inst || h.state != Ready {
		h.mu.Unlock()
		return
	}
	h.state = Failed
	h.current = nil
	h.mu.Unlock()

	h.cfg.Metrics.InstanceReady(-1)
	h.cfg.Metrics.GuestFault()
	h.logger.Error("module faulted", zap.Uint64("instance", inst.ID()), zap.Error(err))
	if h.cfg.OnFault != nil {
		h.cfg.OnFault(inst.ID(), err)
	}
}

// Dispose tears the module down: the instance stops accepting events, the
// channel is reset and the module is unloaded. Unload is bounded by the
// teardown timeout; if it expires the problem is recorded in Warnings and
// Dispose still succeeds. Later calls are no-ops.
func (h *Host) Dispose(ctx context.Context) error {
	h.dispose.Do(func() {
		h.mu.Lock()
		prev := h.state
		inst := h.current
		h.state = Disposed
		h.current = nil
		h.mu.Unlock()

		if inst != nil {
			inst.stop()
		}
		if prev == Ready {
			h.cfg.Metrics.InstanceReady(-1)
		}
		h.ch.Reset()

		start := time.Now()
		if err := h.unload(ctx); err != nil && !errors.Is(err, errors.ErrDisposed) {
			var warning error
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
				errors.Is(err, errors.ErrTeardownTimeout) {
				warning = errors.TeardownTimeout(h.sandbox.ID(), "module unload", time.Since(start))
				h.cfg.Metrics.TeardownTimeout("unload")
			} else {
				warning = errors.Wrap(errors.PhaseTeardown, errors.KindTrap, err, "module unload")
			}
			h.mu.Lock()
			h.warnings = append(h.warnings, warning)
			h.mu.Unlock()
			h.logger.Warn("module unload incomplete", zap.Error(warning))
		}

		h.cfg.Metrics.Disposed()
		h.logger.Debug("module host disposed", zap.Stringer("from", prev))
	})
	return nil
}

func (h *Host) unload(ctx context.Context) error {
	uctx, cancel := context.WithTimeout(ctx, h.cfg.TeardownTimeout)
	defer cancel()
	err := h.sandbox.Unload(uctx)
	if err != nil && uctx.Err() == context.DeadlineExceeded {
		return context.DeadlineExceeded
	}
	return err
}
