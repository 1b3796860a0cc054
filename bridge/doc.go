// Package bridge composes the canvas bridge: it owns the sandboxed surface,
// the module host, the message channel and the input forwarder for one
// mount, and exposes a single external message stream.
//
//	ctrl := bridge.New(surface.Factory(wasm, surface.DefaultConfig()))
//	if err := ctrl.Mount(ctx); err != nil { ... }
//	defer ctrl.Unmount(ctx)
//
//	if err := ctrl.AwaitReady(ctx); err != nil { ... }
//	for m := range ctrl.Messages() { ... } // Ready, Result, Error
//
// Load failures are retried Config.LoadRetries times; after that one fatal
// Error is emitted and the controller stays mounted but not ready. There is
// no automatic remount.
package bridge
