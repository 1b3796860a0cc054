// Package config loads bridge configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wippyai/canvas-bridge/bridge"
	"github.com/wippyai/canvas-bridge/logging"
	"github.com/wippyai/canvas-bridge/surface"
)

// Config holds all bridge configuration.
type Config struct {
	Bridge  BridgeConfig
	Surface SurfaceConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// BridgeConfig holds controller and module host settings.
type BridgeConfig struct {
	LoadRetries     int           `envconfig:"BRIDGE_LOAD_RETRIES" default:"1"`
	QueueBound      int           `envconfig:"BRIDGE_QUEUE_BOUND" default:"32"`
	LoadTimeout     time.Duration `envconfig:"BRIDGE_LOAD_TIMEOUT" default:"10s"`
	TeardownTimeout time.Duration `envconfig:"BRIDGE_TEARDOWN_TIMEOUT" default:"2s"`
	LogRate         float64       `envconfig:"BRIDGE_LOG_RATE" default:"20"`
	LogBurst        int           `envconfig:"BRIDGE_LOG_BURST" default:"40"`
}

// SurfaceConfig holds sandbox settings.
type SurfaceConfig struct {
	ModuleName  string  `envconfig:"SURFACE_MODULE_NAME" default:"canvas"`
	Width       int     `envconfig:"SURFACE_WIDTH" default:"512"`
	Height      int     `envconfig:"SURFACE_HEIGHT" default:"512"`
	MemoryPages uint32  `envconfig:"SURFACE_MEMORY_PAGES" default:"256"`
	FixedAspect float64 `envconfig:"SURFACE_FIXED_ASPECT" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds Prometheus settings. An empty Address disables the
// metrics endpoint.
type MetricsConfig struct {
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"canvas_bridge"`
	Address   string `envconfig:"METRICS_ADDR"`
}

// Load loads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	b := bridge.DefaultConfig()
	s := surface.DefaultConfig()
	return &Config{
		Bridge: BridgeConfig{
			LoadRetries:     b.LoadRetries,
			QueueBound:      b.QueueBound,
			LoadTimeout:     b.LoadTimeout,
			TeardownTimeout: b.TeardownTimeout,
			LogRate:         b.LogRate,
			LogBurst:        b.LogBurst,
		},
		Surface: SurfaceConfig{
			ModuleName:  s.ModuleName,
			Width:       s.Width,
			Height:      s.Height,
			MemoryPages: s.MemoryLimitPages,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "canvas_bridge",
		},
	}
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Bridge.LoadRetries < 0:
		return fmt.Errorf("BRIDGE_LOAD_RETRIES must not be negative, got %d", c.Bridge.LoadRetries)
	case c.Bridge.QueueBound <= 0:
		return fmt.Errorf("BRIDGE_QUEUE_BOUND must be positive, got %d", c.Bridge.QueueBound)
	case c.Bridge.LoadTimeout <= 0:
		return fmt.Errorf("BRIDGE_LOAD_TIMEOUT must be positive, got %s", c.Bridge.LoadTimeout)
	case c.Bridge.TeardownTimeout <= 0:
		return fmt.Errorf("BRIDGE_TEARDOWN_TIMEOUT must be positive, got %s", c.Bridge.TeardownTimeout)
	case c.Surface.Width <= 0 || c.Surface.Height <= 0:
		return fmt.Errorf("surface size must be positive, got %dx%d", c.Surface.Width, c.Surface.Height)
	case c.Surface.MemoryPages == 0 || c.Surface.MemoryPages > 65536:
		return fmt.Errorf("SURFACE_MEMORY_PAGES must be in 1..65536, got %d", c.Surface.MemoryPages)
	case c.Surface.FixedAspect < 0:
		return fmt.Errorf("SURFACE_FIXED_ASPECT must not be negative, got %g", c.Surface.FixedAspect)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// BridgeOptions returns the controller configuration.
func (c *Config) BridgeOptions() bridge.Config {
	return bridge.Config{
		LoadRetries:     c.Bridge.LoadRetries,
		QueueBound:      c.Bridge.QueueBound,
		LoadTimeout:     c.Bridge.LoadTimeout,
		TeardownTimeout: c.Bridge.TeardownTimeout,
		LogRate:         c.Bridge.LogRate,
		LogBurst:        c.Bridge.LogBurst,
		FixedAspect:     c.Surface.FixedAspect,
	}
}

// SurfaceOptions returns the sandbox configuration.
func (c *Config) SurfaceOptions() surface.Config {
	return surface.Config{
		ModuleName:       c.Surface.ModuleName,
		Width:            c.Surface.Width,
		Height:           c.Surface.Height,
		MemoryLimitPages: c.Surface.MemoryPages,
	}
}

// LoggingOptions returns the logger configuration.
func (c *Config) LoggingOptions() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Development = c.Logging.Development
	return cfg
}
