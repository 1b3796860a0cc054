package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/canvas-bridge/bridge"
	"github.com/wippyai/canvas-bridge/config"
	"github.com/wippyai/canvas-bridge/geom"
	"github.com/wippyai/canvas-bridge/internal/guestwasm"
	"github.com/wippyai/canvas-bridge/logging"
	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/metrics"
	"github.com/wippyai/canvas-bridge/pointer"
	"github.com/wippyai/canvas-bridge/surface"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest module (default: built-in echo guest)")
		interactive = flag.Bool("i", term.IsTerminal(int(os.Stdout.Fd())), "Interactive mode with TUI")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides METRICS_ADDR)")
		steps       = flag.Int("steps", 8, "Move events in the scripted drag")
		send        = flag.String("send", "", "Log text to send to the guest after the drag")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}

	logCfg := cfg.LoggingOptions()
	if *interactive {
		// The TUI owns the terminal.
		logCfg.OutputPaths = []string{os.DevNull}
	}
	logger := logging.NewOrNop(logCfg)
	defer logger.Sync() //nolint:errcheck

	bin := guestwasm.Echo()
	name := "echo (built-in)"
	if *wasmFile != "" {
		if bin, err = os.ReadFile(*wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: read module: %v\n", err)
			os.Exit(1)
		}
		name = *wasmFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg, cfg.Metrics.Namespace)
	if cfg.Metrics.Address != "" {
		stop := serveMetrics(cfg.Metrics.Address, reg, logger)
		defer stop()
	}

	ctrl := bridge.New(
		surface.Factory(bin, cfg.SurfaceOptions(), surface.WithLogger(logger), surface.WithMetrics(m)),
		bridge.WithConfig(cfg.BridgeOptions()),
		bridge.WithLogger(logger),
		bridge.WithMetrics(m),
	)

	if *interactive {
		err = runInteractive(ctx, ctrl, name, cfg.SurfaceOptions())
	} else {
		err = runScripted(ctx, ctrl, cfg.SurfaceOptions(), *steps, *send)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runScripted mounts the guest, replays a diagonal drag across the host
// viewport and prints what the guest reports back.
func runScripted(ctx context.Context, ctrl *bridge.Controller, sc surface.Config, steps int, send string) error {
	if err := ctrl.Mount(ctx); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer func() {
		if err := ctrl.Unmount(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "unmount: %v\n", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range ctrl.Messages() {
			fmt.Println(describe(m))
		}
	}()

	readyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := ctrl.AwaitReady(readyCtx); err != nil {
		return fmt.Errorf("module not ready: %w", err)
	}

	host := geom.Size(float64(sc.Width)*2, float64(sc.Height)*2)
	if err := ctrl.Resize(ctx, host, geom.Size(float64(sc.Width), float64(sc.Height))); err != nil {
		return fmt.Errorf("resize: %w", err)
	}

	start := time.Now()
	event := func(phase pointer.Phase, i int) pointer.Event {
		f := float64(i) / float64(max(steps, 1))
		return pointer.Event{
			ID:        1,
			HostX:     f * (host.Width - 1),
			HostY:     f * (host.Height - 1),
			Phase:     phase,
			Timestamp: time.Since(start),
		}
	}
	ctrl.OnPointerEvent(event(pointer.PhaseStart, 0))
	for i := 1; i <= steps; i++ {
		ctrl.OnPointerEvent(event(pointer.PhaseMove, i))
	}
	ctrl.OnPointerEvent(event(pointer.PhaseEnd, steps))

	if send != "" {
		p, err := ctrl.Send(ctx, message.Log(send))
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := p.Wait(ctx); err != nil {
			return fmt.Errorf("deliver: %w", err)
		}
	}

	// Give the guest a moment to answer the last events.
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
	}

	stats := ctrl.Stats()
	if err := ctrl.Unmount(context.Background()); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	<-done
	fmt.Printf("forwarded=%d coalesced=%d dropped=%d\n", stats.Forwarded, stats.Coalesced, stats.DroppedTotal())
	return nil
}

func describe(m message.Message) string {
	switch m.Kind {
	case message.KindResult:
		if rec, ok := guestwasm.ParsePointerRecord(m.Payload); ok {
			return fmt.Sprintf("result pointer %d %s (%.1f, %.1f) @%s",
				rec.ID, pointer.Phase(rec.Phase), rec.X, rec.Y, time.Duration(rec.Timestamp))
		}
		return fmt.Sprintf("result %q", m.Payload)
	default:
		return fmt.Sprintf("%s [epoch %d]", m, m.Epoch)
	}
}
