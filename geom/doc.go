// Package geom maps host pointer coordinates into the embedded surface's
// device-pixel space.
//
// The mapping scales each axis independently:
//
//	sx = surface.Width / host.Width
//	sy = surface.Height / host.Height
//	surfaceX = (hostX - host.X) * sx
//	surfaceY = (hostY - host.Y) * sy
//
// When the surface reports a fixed aspect ratio both viewports are
// letterboxed first (see Letterbox and Mapper.SetFixedAspect).
//
// A viewport with a zero dimension means the surface has not been sized yet;
// mapping reports not_ready instead of dividing by zero and callers drop the
// event. Results outside the surface report mapping_out_of_bounds, which is
// expected briefly while the host viewport is stale during rotation.
package geom
