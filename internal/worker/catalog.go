package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
)

// ConfigEnvVar carries the per-worker startup configuration, JSON encoded,
// into a spawned worker process.
const ConfigEnvVar = "LFC_WORKER_CONFIG"

// Env is what a worker entry point receives besides its channel.
type Env struct {
	Name string
	PID  int
	// Config is the per-worker configuration given to CreateWorker.
	Config            map[string]interface{}
	HeartbeatInterval time.Duration
	MaxConcurrency    int
	CallTimeout       time.Duration
	Logger            *logging.Logger
}

// RuntimeOptions returns the runtime options derived from env.
func (e Env) RuntimeOptions() Options {
	return Options{
		Name:              e.Name,
		PID:               e.PID,
		HeartbeatInterval: e.HeartbeatInterval,
		MaxConcurrency:    e.MaxConcurrency,
		Logger:            e.Logger,
	}
}

// Decode decodes the per-worker configuration into out.
func (e Env) Decode(out interface{}) error {
	return DecodeConfig(e.Config, out)
}

// MainFunc is a worker entry point. It blocks for the lifetime of the worker.
type MainFunc func(ctx context.Context, conn *envelope.Conn, env Env) error

// Catalog maps worker names to entry points.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]MainFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]MainFunc)}
}

// Register adds an entry point under name.
func (c *Catalog) Register(name string, fn MainFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = fn
}

// Lookup resolves name, returning a module-not-found error if unknown.
func (c *Catalog) Lookup(name string) (MainFunc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.entries[name]
	if !ok {
		return nil, core.ErrModuleNotFound(name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, err := c.Lookup(name)
	return err == nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeConfig decodes a loosely typed configuration map into out. Numbers
// decoded from JSON arrive as float64 and are converted as needed.
func DecodeConfig(cfg map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return core.ErrValidation(core.CodeInvalidConfig, "decoding worker config").WithCause(err)
	}
	return nil
}

// EncodeConfig renders cfg for ConfigEnvVar.
func EncodeConfig(cfg map[string]interface{}) (string, error) {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding worker config: %w", err)
	}
	return string(raw), nil
}

// ConfigFromEnv reads the per-worker configuration from ConfigEnvVar.
// A missing variable yields an empty map.
func ConfigFromEnv() (map[string]interface{}, error) {
	cfg := map[string]interface{}{}
	raw := os.Getenv(ConfigEnvVar)
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, ConfigEnvVar+" is not valid JSON").WithCause(err)
	}
	return cfg, nil
}
