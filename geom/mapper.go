package geom

import (
	"sync"
)

// Mapper holds the current host and surface viewports. Resize may race with
// Map from the input thread; readers always see a consistent pair.
type Mapper struct {
	host    Viewport
	surface Viewport
	aspect  float64
	mu      sync.RWMutex
}

// NewMapper creates a mapper with both viewports unsized.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Resize replaces both viewports.
func (m *Mapper) Resize(host, surface Viewport) {
	m.mu.Lock()
	m.host = host
	m.surface = surface
	m.mu.Unlock()
}

// SetFixedAspect makes the surface report a fixed aspect ratio; both
// viewports are letterboxed to it before mapping. Zero disables it.
func (m *Mapper) SetFixedAspect(aspect float64) {
	m.mu.Lock()
	m.aspect = aspect
	m.mu.Unlock()
}

// Viewports returns the effective (letterboxed) host and surface viewports.
func (m *Mapper) Viewports() (host, surface Viewport) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective()
}

// Map converts host coordinates using the current viewports.
func (m *Mapper) Map(hostX, hostY float64) (float64, float64, error) {
	m.mu.RLock()
	host, surface := m.effective()
	m.mu.RUnlock()

	x, y, err := MapToSurface(hostX, hostY, host, surface)
	if err != nil {
		return 0, 0, err
	}
	// Letterboxing shifts the surface origin; the guest sees [0,W)x[0,H).
	return x - surface.X, y - surface.Y, nil
}

func (m *Mapper) effective() (Viewport, Viewport) {
	if m.aspect <= 0 {
		return m.host, m.surface
	}
	return Letterbox(m.host, m.aspect), Letterbox(m.surface, m.aspect)
}
