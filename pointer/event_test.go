package pointer

import (
	"testing"
	"time"
)

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseStart, "start"},
		{PhaseMove, "move"},
		{PhaseEnd, "end"},
		{PhaseCancel, "cancel"},
		{Phase(9), "phase(9)"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", uint32(tt.phase), got, tt.want)
		}
	}
}

func TestPhase_Terminal(t *testing.T) {
	if PhaseStart.Terminal() || PhaseMove.Terminal() {
		t.Error("start and move must not be terminal")
	}
	if !PhaseEnd.Terminal() || !PhaseCancel.Terminal() {
		t.Error("end and cancel must be terminal")
	}
	if Phase(4).Valid() {
		t.Error("phase 4 should be invalid")
	}
}

func TestEvent_Mapped(t *testing.T) {
	ev := Event{ID: 3, HostX: 10, HostY: 20, Phase: PhaseMove, Timestamp: 5 * time.Millisecond}
	m := ev.Mapped(1.5, 2.5)

	if m.ID != 3 || m.Phase != PhaseMove || m.Timestamp != 5*time.Millisecond {
		t.Fatalf("identity fields not carried: %+v", m)
	}
	if m.SurfaceX != 1.5 || m.SurfaceY != 2.5 {
		t.Fatalf("surface coords = (%v, %v)", m.SurfaceX, m.SurfaceY)
	}
}
