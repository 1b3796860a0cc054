package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/canvas-bridge/bridge"
	"github.com/wippyai/canvas-bridge/surface"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, bridge.DefaultConfig(), cfg.BridgeOptions())
	assert.Equal(t, surface.DefaultConfig(), cfg.SurfaceOptions())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BRIDGE_LOAD_RETRIES", "3")
	t.Setenv("BRIDGE_QUEUE_BOUND", "8")
	t.Setenv("BRIDGE_LOAD_TIMEOUT", "1500ms")
	t.Setenv("BRIDGE_LOG_RATE", "0.5")
	t.Setenv("SURFACE_WIDTH", "640")
	t.Setenv("SURFACE_HEIGHT", "480")
	t.Setenv("SURFACE_FIXED_ASPECT", "1.3333")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)

	b := cfg.BridgeOptions()
	assert.Equal(t, 3, b.LoadRetries)
	assert.Equal(t, 8, b.QueueBound)
	assert.Equal(t, 1500*time.Millisecond, b.LoadTimeout)
	assert.Equal(t, 2*time.Second, b.TeardownTimeout)
	assert.Equal(t, 0.5, b.LogRate)
	assert.Equal(t, 1.3333, b.FixedAspect)

	s := cfg.SurfaceOptions()
	assert.Equal(t, 640, s.Width)
	assert.Equal(t, 480, s.Height)
	assert.Equal(t, "canvas", s.ModuleName)

	l := cfg.LoggingOptions()
	assert.Equal(t, "debug", l.Level)
	assert.True(t, l.Development)
	assert.Equal(t, ":9100", cfg.Metrics.Address)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"BRIDGE_LOAD_RETRIES", "-1"},
		{"BRIDGE_QUEUE_BOUND", "0"},
		{"BRIDGE_LOAD_TIMEOUT", "soon"},
		{"BRIDGE_TEARDOWN_TIMEOUT", "0s"},
		{"SURFACE_WIDTH", "0"},
		{"SURFACE_MEMORY_PAGES", "70000"},
		{"SURFACE_FIXED_ASPECT", "-2"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}
