package bridge

import (
	"time"
)

// Config holds controller configuration.
type Config struct {
	// LoadRetries is the number of automatic load retries after the first
	// failed attempt. After that a single fatal Error is emitted.
	LoadRetries int

	// QueueBound is the pending Move count at which input is coalesced.
	QueueBound int

	LoadTimeout     time.Duration
	TeardownTimeout time.Duration

	// LogRate and LogBurst throttle guest Log messages written to the logger.
	LogRate  float64
	LogBurst int

	// FixedAspect letterboxes both viewports to this width/height ratio
	// before mapping. Zero disables it.
	FixedAspect float64
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		LoadRetries:     1,
		QueueBound:      32,
		LoadTimeout:     10 * time.Second,
		TeardownTimeout: 2 * time.Second,
		LogRate:         20,
		LogBurst:        40,
	}
}
