package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Workers     []WorkerSpec      `mapstructure:"workers"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SupervisorConfig holds the supervisor tunables.
type SupervisorConfig struct {
	// HealthInterval is how often OS-level liveness is polled.
	HealthInterval time.Duration `mapstructure:"health_interval"`

	// HangThreshold is the heartbeat age after which a live process is
	// treated as hung and replaced. Zero disables hang detection.
	HangThreshold time.Duration `mapstructure:"hang_threshold"`

	// RetryDelay is the fixed delay between delivery attempts for a
	// message whose worker is not registered.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// RetryMaxAttempts bounds timer-driven retries per message. The message
	// stays pending afterwards and is flushed when a worker registers.
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`

	// MaxPending caps pending messages per worker name. The oldest is
	// dropped when a new one arrives at the cap. 0 means unlimited.
	MaxPending int `mapstructure:"max_pending"`

	// KillGrace is how long a terminated worker gets before SIGKILL.
	KillGrace time.Duration `mapstructure:"kill_grace"`

	// AdminAddr is the listen address of the admin HTTP surface. Empty
	// disables it.
	AdminAddr string `mapstructure:"admin_addr"`

	// WatchConfig reloads worker configs when the config file changes.
	WatchConfig bool `mapstructure:"watch_config"`
}

// RuntimeConfig holds the worker runtime tunables.
type RuntimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
}

// CorrelationConfig configures synchronous calls from boundary workers.
type CorrelationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// GatewayConfig configures the REST boundary worker.
type GatewayConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig configures the chat-history worker.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerSpec declares a worker pool started by the supervisor.
type WorkerSpec struct {
	Name   string                 `mapstructure:"name" yaml:"name"`
	Count  int                    `mapstructure:"count" yaml:"count"`
	Config map[string]interface{} `mapstructure:"config" yaml:"config,omitempty"`
}

// WorkerConfigs returns the per-worker configuration maps keyed by name.
func (c *Config) WorkerConfigs() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(c.Workers))
	for _, w := range c.Workers {
		out[w.Name] = w.Config
	}
	return out
}
