package statemachine

import "time"

// Config holds the engine's worker settings.
type Config struct {
	// Lanes is the number of worker goroutines. Messages for one entity
	// always land on the same lane.
	Lanes int

	// QueueSize bounds each lane's pending queue.
	QueueSize int

	// HandlerTimeout bounds a single handler call (0 = no bound).
	HandlerTimeout time.Duration
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Lanes:     8,
		QueueSize: 256,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Lanes <= 0 {
		c.Lanes = d.Lanes
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
}
