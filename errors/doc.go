// Package errors provides structured error types for the canvas bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the surface identifier, the guest export involved, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseABI, errors.KindTypeMismatch).
//		Surface(id).
//		Export("bridge_pointer").
//		Detail("want (i32,f32,f32,i32,i64), got (i32)").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.LoadFailure("initialize module", cause)
//	err := errors.OutOfBounds(x, y, w, h)
//
// Per-event kinds (not_ready, mapping_out_of_bounds) describe expected races
// and are never escalated. Lifecycle kinds (load_failure) reach the host.
//
// Sentinels such as ErrNotReady match any error of the same Kind:
//
//	if errors.Is(err, cberrors.ErrChannelReset) { ... }
package errors
