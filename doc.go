// Package canvasbridge embeds a sandboxed compute module in a rendering
// surface and bridges host pointer input and messages across the isolation
// boundary.
//
// # Architecture Overview
//
//	canvasbridge/        Root package with the Sandbox contract and Canvas resource
//	├── bridge/          Controller: mount, unmount, input, external message stream
//	├── modhost/         Module lifecycle state machine and per-instance event queue
//	├── input/           Pointer forwarding, coalescing and drop accounting
//	├── geom/            Host to surface coordinate mapping
//	├── message/         Message variants, wire codec and the epoch-stamped channel
//	├── surface/         wazero-hosted sandbox and the guest ABI
//	├── pointer/         Pointer event model
//	├── resource/        Handle tables with drop observers
//	├── config/          Environment configuration
//	├── logging/         zap logger construction
//	├── metrics/         Prometheus collectors
//	├── errors/          Structured error types
//	├── internal/        Test guest modules built in memory
//	└── cmd/bridge/      Demo host with scripted and terminal pointer input
//
// # Quick Start
//
//	cfg := config.LoadOrDefault()
//	ctrl := bridge.New(surface.Factory(wasmBytes, cfg.SurfaceOptions()),
//	    bridge.WithConfig(cfg.BridgeOptions()),
//	    bridge.WithLogger(logger))
//
//	if err := ctrl.Mount(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Unmount(ctx)
//
//	ctrl.Resize(ctx, geom.Size(800, 600), geom.Size(512, 512))
//	ctrl.OnPointerEvent(pointer.Event{ID: 1, HostX: 10, HostY: 10, Phase: pointer.PhaseStart})
//
//	for m := range ctrl.Messages() {
//	    fmt.Println(m)
//	}
//
// # Readiness
//
// The guest's Ready message is the only readiness signal. Input arriving
// before Ready is dropped, never buffered, and messages produced by an
// instance that has since been reloaded or disposed are never observed.
package canvasbridge
