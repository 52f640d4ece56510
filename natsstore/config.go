package natsstore

import (
	"time"

	"github.com/arloliu/helmsman/types"
)

// Config holds natsstore settings.
type Config struct {
	// BucketPrefix names the bucket pair ("<prefix>-meta", "<prefix>-ephemeral").
	BucketPrefix string

	// SessionTimeout bounds how long an ephemeral entry survives without
	// keepalive, and how long a disconnect is tolerated before expiry.
	SessionTimeout time.Duration

	// KeepaliveInterval is the ephemeral refresh period. Defaults to SessionTimeout/3.
	KeepaliveInterval time.Duration

	// OperationTimeout bounds internal KV calls made outside a caller context.
	OperationTimeout time.Duration

	// Replicas is the bucket replication factor.
	Replicas int

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Option configures a Store.
type Option func(*Config)

// WithBucketPrefix sets the bucket name prefix.
func WithBucketPrefix(prefix string) Option {
	return func(c *Config) { c.BucketPrefix = prefix }
}

// WithSessionTimeout sets the session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionTimeout = d }
}

// WithKeepaliveInterval overrides the keepalive period.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Config) { c.KeepaliveInterval = d }
}

// WithOperationTimeout sets the timeout of background KV calls.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) { c.OperationTimeout = d }
}

// WithReplicas sets the bucket replication factor.
func WithReplicas(n int) Option {
	return func(c *Config) { c.Replicas = n }
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(c *Config) { c.Metrics = m }
}

func (c *Config) setDefaults() {
	if c.BucketPrefix == "" {
		c.BucketPrefix = "helmsman"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	// Server-side marker TTLs have a one second floor.
	if c.SessionTimeout < time.Second {
		c.SessionTimeout = time.Second
	}
	if c.KeepaliveInterval <= 0 || c.KeepaliveInterval >= c.SessionTimeout {
		c.KeepaliveInterval = c.SessionTimeout / 3
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
}
