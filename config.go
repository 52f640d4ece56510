package helmsman

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arloliu/helmsman/internal/paths"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Timing Model
// ============================================================================
//
// Three timeouts shape how a process reacts to the metadata store:
//
//   - ConnectTimeout bounds step 1 of every session handling. Exceeding it is
//     fatal: the store connection must be recreated by the caller.
//   - SessionTimeout is how long the store keeps a silent session alive. It
//     bounds the wait for a presence record left by this instance's previous
//     session, and the natsstore keepalive renews ephemerals every third of it.
//   - OperationTimeout bounds single store operations issued by background
//     loops (presence cleanup, carry-over, status writes).
//
// Constraint Hierarchy:
//
//	OperationTimeout <= SessionTimeout <= ConnectTimeout (recommended)
//	HealthReportInterval < SessionTimeout
//
// ============================================================================

// EngineConfig controls the state machine engine.
type EngineConfig struct {
	// Lanes is the number of transition workers. Messages for one entity always
	// land on the same lane, so entities never see concurrent transitions.
	Lanes int `yaml:"lanes"`

	// QueueSize bounds each lane's pending queue.
	QueueSize int `yaml:"queueSize"`

	// HandlerTimeout bounds one transition handler call (0 = unbounded).
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
}

// ElectionConfig controls leader election.
type ElectionConfig struct {
	// RetryInterval is the fallback poll period used by candidates that lost.
	// Notifications on the CONTROLLER node normally wake them sooner.
	RetryInterval time.Duration `yaml:"retryInterval"`

	// BackoffBase is the first delay after a transient store error.
	BackoffBase time.Duration `yaml:"backoffBase"`

	// BackoffMax caps the error backoff.
	BackoffMax time.Duration `yaml:"backoffMax"`
}

// TaskConfig controls the built-in timer tasks.
type TaskConfig struct {
	// HealthReportInterval is how often a participant writes its health report.
	// 0 disables the report task.
	HealthReportInterval time.Duration `yaml:"healthReportInterval"`

	// StatusDumpInterval is how often the leader snapshots cluster status.
	// 0 disables the status task.
	StatusDumpInterval time.Duration `yaml:"statusDumpInterval"`
}

// KVBucketConfig configures the NATS JetStream KV buckets backing the store.
type KVBucketConfig struct {
	// Prefix names the bucket pair "<prefix>-meta" and "<prefix>-ephemeral".
	Prefix string `yaml:"prefix"`

	// Replicas is the JetStream replica count of both buckets.
	Replicas int `yaml:"replicas"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// ClusterName is the cluster this process joins. Required.
	ClusterName string `yaml:"clusterName"`

	// InstanceName identifies this process within the cluster.
	// Defaults to "<hostname>_<pid>".
	InstanceName string `yaml:"instanceName"`

	// InstanceType selects the roles of this process:
	// PARTICIPANT, CONTROLLER or CONTROLLER_PARTICIPANT.
	InstanceType InstanceType `yaml:"instanceType"`

	// Version is published in the presence and leadership records.
	Version string `yaml:"version"`

	// AllowAutoJoin creates the participant config on first connect instead of
	// requiring an administrator to add the instance.
	AllowAutoJoin bool `yaml:"allowAutoJoin"`

	// ConnectTimeout bounds the wait for a store connection.
	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// SessionTimeout is the store's session timeout.
	SessionTimeout time.Duration `yaml:"sessionTimeout"`

	// OperationTimeout bounds individual store operations run outside a caller context.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds Disconnect when the caller's context has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Engine controls the state machine engine.
	Engine EngineConfig `yaml:"engine"`

	// Election controls leader election.
	Election ElectionConfig `yaml:"election"`

	// Tasks controls the built-in timer tasks.
	Tasks TaskConfig `yaml:"tasks"`

	// KVBuckets controls the NATS JetStream KV bucket configuration.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// ClusterName is left empty and must be set by the caller.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		InstanceType:     InstanceParticipant,
		Version:          "dev",
		AllowAutoJoin:    true,
		ConnectTimeout:   30 * time.Second,
		SessionTimeout:   30 * time.Second,
		OperationTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Engine: EngineConfig{
			Lanes:     8,
			QueueSize: 256,
		},
		Election: ElectionConfig{
			RetryInterval: 5 * time.Second,
			BackoffBase:   100 * time.Millisecond,
			BackoffMax:    5 * time.Second,
		},
		Tasks: TaskConfig{
			HealthReportInterval: 10 * time.Second,
			StatusDumpInterval:   time.Minute,
		},
		KVBuckets: KVBucketConfig{
			Prefix:   "helmsman",
			Replicas: 1,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Booleans and the task intervals are left untouched: their zero values are
// meaningful (auto-join disabled, task disabled).
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.InstanceName == "" {
		cfg.InstanceName = defaultInstanceName()
	}
	if cfg.InstanceType == "" {
		cfg.InstanceType = defaults.InstanceType
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = defaults.SessionTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Engine.Lanes == 0 {
		cfg.Engine.Lanes = defaults.Engine.Lanes
	}
	if cfg.Engine.QueueSize == 0 {
		cfg.Engine.QueueSize = defaults.Engine.QueueSize
	}
	if cfg.Election.RetryInterval == 0 {
		cfg.Election.RetryInterval = defaults.Election.RetryInterval
	}
	if cfg.Election.BackoffBase == 0 {
		cfg.Election.BackoffBase = defaults.Election.BackoffBase
	}
	if cfg.Election.BackoffMax == 0 {
		cfg.Election.BackoffMax = cfg.Election.RetryInterval
	}
	if cfg.KVBuckets.Prefix == "" {
		cfg.KVBuckets.Prefix = defaults.KVBuckets.Prefix
	}
	if cfg.KVBuckets.Replicas == 0 {
		cfg.KVBuckets.Replicas = defaults.KVBuckets.Replicas
	}
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	// Store keys only allow [A-Za-z0-9_=-].
	host = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, host)

	return fmt.Sprintf("%s_%d", host, os.Getpid())
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - ClusterName and InstanceName form valid path segments
//   - InstanceType is a known type
//   - All timeouts and the engine sizes are positive
//   - Election.BackoffBase <= Election.BackoffMax
//   - Task intervals are not negative
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ClusterName == "" {
		return fmt.Errorf("%w: clusterName is required", ErrInvalidConfig)
	}
	if err := paths.Validate(paths.Join(cfg.ClusterName, cfg.InstanceName)); err != nil {
		return fmt.Errorf("%w: cluster %q / instance %q: %w", ErrInvalidConfig, cfg.ClusterName, cfg.InstanceName, err)
	}
	if !cfg.InstanceType.Valid() {
		return fmt.Errorf("%w: unknown instanceType %q", ErrInvalidConfig, cfg.InstanceType)
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"connectTimeout", cfg.ConnectTimeout},
		{"sessionTimeout", cfg.SessionTimeout},
		{"operationTimeout", cfg.OperationTimeout},
		{"shutdownTimeout", cfg.ShutdownTimeout},
		{"election.retryInterval", cfg.Election.RetryInterval},
		{"election.backoffBase", cfg.Election.BackoffBase},
		{"election.backoffMax", cfg.Election.BackoffMax},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidConfig, p.name, p.d)
		}
	}

	if cfg.Engine.Lanes <= 0 || cfg.Engine.QueueSize <= 0 {
		return fmt.Errorf("%w: engine lanes (%d) and queueSize (%d) must be > 0",
			ErrInvalidConfig, cfg.Engine.Lanes, cfg.Engine.QueueSize)
	}
	if cfg.Engine.HandlerTimeout < 0 {
		return fmt.Errorf("%w: engine.handlerTimeout must be >= 0", ErrInvalidConfig)
	}
	if cfg.Election.BackoffBase > cfg.Election.BackoffMax {
		return fmt.Errorf("%w: election.backoffBase (%v) must be <= election.backoffMax (%v)",
			ErrInvalidConfig, cfg.Election.BackoffBase, cfg.Election.BackoffMax)
	}
	if cfg.Tasks.HealthReportInterval < 0 || cfg.Tasks.StatusDumpInterval < 0 {
		return fmt.Errorf("%w: task intervals must be >= 0", ErrInvalidConfig)
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but not recommended.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.OperationTimeout > cfg.SessionTimeout {
		logger.Warn(
			"operationTimeout exceeds sessionTimeout, a stuck operation can outlive the session",
			"operationTimeout", cfg.OperationTimeout,
			"sessionTimeout", cfg.SessionTimeout,
		)
	}

	if cfg.InstanceType.IsParticipant() && cfg.Tasks.HealthReportInterval >= cfg.SessionTimeout {
		logger.Warn(
			"healthReportInterval is not shorter than sessionTimeout",
			"healthReportInterval", cfg.Tasks.HealthReportInterval,
			"sessionTimeout", cfg.SessionTimeout,
		)
	}

	if cfg.InstanceType.IsController() && cfg.Election.RetryInterval > cfg.SessionTimeout {
		logger.Warn(
			"election retryInterval exceeds sessionTimeout, failover may be slow",
			"retryInterval", cfg.Election.RetryInterval,
			"recommended", cfg.SessionTimeout/3,
		)
	}

	if cfg.InstanceType.IsParticipant() && !cfg.AllowAutoJoin {
		logger.Info(
			"auto-join disabled, the participant config must be created by an administrator",
			"instance", cfg.InstanceName,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := helmsman.TestConfig()
//	cfg.ClusterName = "test"
//	cfg.InstanceName = "node-1"
//	mgr, err := helmsman.NewManager(&cfg, store)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.ConnectTimeout = 2 * time.Second
	cfg.SessionTimeout = 2 * time.Second
	cfg.OperationTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Engine.Lanes = 4
	cfg.Engine.QueueSize = 64
	cfg.Election.RetryInterval = 100 * time.Millisecond
	cfg.Election.BackoffBase = 10 * time.Millisecond
	cfg.Election.BackoffMax = 100 * time.Millisecond
	cfg.Tasks.HealthReportInterval = 100 * time.Millisecond
	cfg.Tasks.StatusDumpInterval = 200 * time.Millisecond

	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults.
//
// Fields missing from the file keep their DefaultConfig value.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - Config: Loaded configuration, not yet validated
//   - error: Read or decode failure
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}
