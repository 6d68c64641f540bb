package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ConfigPathEnv names the variable that points at a config file when
// --config is not given.
const ConfigPathEnv = "LFC_CONFIG"

// Loader reads configuration from defaults, files, the environment and
// bound CLI flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// that flags bound with viper.BindPFlag take part in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "LFC"}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration. Precedence, highest first: bound CLI
// flags, LFC_* environment variables, the config file, defaults.
//
// The file is the explicit path, else $LFC_CONFIG, else the first
// .lfc.yaml found in the working directory or ~/.config/lfc. Only an
// implicit file may be absent.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	explicit := l.configFile
	if explicit == "" {
		explicit = os.Getenv(ConfigPathEnv)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		l.v.SetConfigFile(explicit)
	} else {
		l.v.SetConfigName(".lfc")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "lfc"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	normalizeWorkers(cfg.Workers)
	return &cfg, nil
}

// normalizeWorkers trims pool names and treats an omitted count as a
// single instance. Negative counts are left for the validator.
func normalizeWorkers(specs []WorkerSpec) {
	for i := range specs {
		specs[i].Name = strings.TrimSpace(specs[i].Name)
		if specs[i].Count == 0 {
			specs[i].Count = 1
		}
	}
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("supervisor.health_interval", "5s")
	l.v.SetDefault("supervisor.hang_threshold", "0s")
	l.v.SetDefault("supervisor.retry_delay", "2s")
	l.v.SetDefault("supervisor.retry_max_attempts", 10)
	l.v.SetDefault("supervisor.max_pending", 1000)
	l.v.SetDefault("supervisor.kill_grace", "3s")
	l.v.SetDefault("supervisor.admin_addr", "127.0.0.1:9464")
	l.v.SetDefault("supervisor.watch_config", false)

	l.v.SetDefault("runtime.heartbeat_interval", "10s")
	l.v.SetDefault("runtime.max_concurrency", 8)

	l.v.SetDefault("correlation.timeout", "30s")

	l.v.SetDefault("gateway.port", 5000)
	l.v.SetDefault("database.path", ".lfc/history.db")

	l.v.SetDefault("workers", []map[string]interface{}{
		{"name": "RestApiWorker", "count": 1, "config": map[string]interface{}{}},
		{"name": "DatabaseInteractionWorker", "count": 1, "config": map[string]interface{}{}},
	})
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
