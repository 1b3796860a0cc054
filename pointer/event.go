// Package pointer defines the pointer event values exchanged between the host
// input system and the embedded module.
package pointer

import (
	"fmt"
	"time"
)

// Phase is the touch phase of a pointer event. The numeric values are part of
// the guest ABI (bridge_pointer's phase argument).
type Phase uint32

const (
	PhaseStart Phase = iota
	PhaseMove
	PhaseEnd
	PhaseCancel
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	case PhaseCancel:
		return "cancel"
	default:
		return fmt.Sprintf("phase(%d)", uint32(p))
	}
}

// Terminal reports whether the phase ends a pointer's gesture.
func (p Phase) Terminal() bool {
	return p == PhaseEnd || p == PhaseCancel
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p <= PhaseCancel
}

// Event is a raw pointer event in host logical pixels.
// Timestamp is measured on a monotonic clock from an arbitrary origin.
type Event struct {
	ID        uint32
	HostX     float64
	HostY     float64
	Phase     Phase
	Timestamp time.Duration
}

// Mapped is an Event transformed into the surface's device-pixel space.
type Mapped struct {
	ID        uint32
	SurfaceX  float64
	SurfaceY  float64
	Phase     Phase
	Timestamp time.Duration
}

// Mapped returns e relocated to surface coordinates (x, y).
func (e Event) Mapped(x, y float64) Mapped {
	return Mapped{
		ID:        e.ID,
		SurfaceX:  x,
		SurfaceY:  y,
		Phase:     e.Phase,
		Timestamp: e.Timestamp,
	}
}

func (e Event) String() string {
	return fmt.Sprintf("pointer %d %s (%.1f, %.1f) @%s", e.ID, e.Phase, e.HostX, e.HostY, e.Timestamp)
}

func (m Mapped) String() string {
	return fmt.Sprintf("pointer %d %s [%.1f, %.1f] @%s", m.ID, m.Phase, m.SurfaceX, m.SurfaceY, m.Timestamp)
}
