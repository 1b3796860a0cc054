package geom

import (
	"github.com/wippyai/canvas-bridge/errors"
)

// Viewport is an axis-aligned rectangle. For the host viewport X/Y is the
// surface's origin in host logical pixels; for the surface viewport it is
// normally zero and Width/Height are device pixels.
type Viewport struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Size returns a viewport at the origin.
func Size(width, height float64) Viewport {
	return Viewport{Width: width, Height: height}
}

// Degenerate reports whether the viewport has not been sized yet.
func (v Viewport) Degenerate() bool {
	return v.Width <= 0 || v.Height <= 0
}

// Contains reports whether (x, y) lies in [X, X+Width) x [Y, Y+Height).
func (v Viewport) Contains(x, y float64) bool {
	return x >= v.X && x < v.X+v.Width &&
		y >= v.Y && y < v.Y+v.Height
}

// Aspect returns Width/Height, or 0 for a degenerate viewport.
func (v Viewport) Aspect() float64 {
	if v.Degenerate() {
		return 0
	}
	return v.Width / v.Height
}

// Letterbox returns the largest sub-rectangle of outer with the given aspect
// ratio, centred on both axes. A non-positive aspect returns outer unchanged.
func Letterbox(outer Viewport, aspect float64) Viewport {
	if aspect <= 0 || outer.Degenerate() {
		return outer
	}
	w, h := outer.Width, outer.Width/aspect
	if h > outer.Height {
		w, h = outer.Height*aspect, outer.Height
	}
	return Viewport{
		X:      outer.X + (outer.Width-w)/2,
		Y:      outer.Y + (outer.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

// MapToSurface converts host logical coordinates to surface device pixels.
// Axes scale independently. It returns a not_ready error while either
// viewport is degenerate and mapping_out_of_bounds when the result falls
// outside the surface.
func MapToSurface(hostX, hostY float64, host, surface Viewport) (float64, float64, error) {
	if host.Degenerate() {
		return 0, 0, errors.NotReady(errors.PhaseMapping, "host viewport")
	}
	if surface.Degenerate() {
		return 0, 0, errors.NotReady(errors.PhaseMapping, "surface viewport")
	}

	sx := surface.Width / host.Width
	sy := surface.Height / host.Height
	x := (hostX-host.X)*sx + surface.X
	y := (hostY-host.Y)*sy + surface.Y

	if !surface.Contains(x, y) {
		return 0, 0, errors.OutOfBounds(x, y, surface.Width, surface.Height)
	}
	return x, y, nil
}

// MapToHost is the inverse of MapToSurface without the bounds check.
func MapToHost(surfaceX, surfaceY float64, host, surface Viewport) (float64, float64, error) {
	if host.Degenerate() || surface.Degenerate() {
		return 0, 0, errors.NotReady(errors.PhaseMapping, "viewport")
	}
	x := (surfaceX-surface.X)*host.Width/surface.Width + host.X
	y := (surfaceY-surface.Y)*host.Height/surface.Height + host.Y
	return x, y, nil
}
