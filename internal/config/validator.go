package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateSupervisor(&cfg.Supervisor)
	v.validateRuntime(&cfg.Runtime)
	v.validateCorrelation(&cfg.Correlation)
	v.validateGateway(&cfg.Gateway)
	v.validateDatabase(&cfg.Database)
	v.validateWorkers(cfg.Workers)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateSupervisor(cfg *SupervisorConfig) {
	if cfg.HealthInterval <= 0 {
		v.addError("supervisor.health_interval", cfg.HealthInterval, "must be positive")
	}
	if cfg.HangThreshold < 0 {
		v.addError("supervisor.hang_threshold", cfg.HangThreshold, "must be non-negative")
	}
	if cfg.RetryDelay <= 0 {
		v.addError("supervisor.retry_delay", cfg.RetryDelay, "must be positive")
	}
	if cfg.RetryMaxAttempts < 0 {
		v.addError("supervisor.retry_max_attempts", cfg.RetryMaxAttempts, "must be non-negative")
	}
	if cfg.MaxPending < 0 {
		v.addError("supervisor.max_pending", cfg.MaxPending, "must be non-negative")
	}
	if cfg.KillGrace < 0 {
		v.addError("supervisor.kill_grace", cfg.KillGrace, "must be non-negative")
	}
}

func (v *Validator) validateRuntime(cfg *RuntimeConfig) {
	if cfg.HeartbeatInterval <= 0 {
		v.addError("runtime.heartbeat_interval", cfg.HeartbeatInterval, "must be positive")
	}
	if cfg.MaxConcurrency < 1 {
		v.addError("runtime.max_concurrency", cfg.MaxConcurrency, "must be at least 1")
	}
}

func (v *Validator) validateCorrelation(cfg *CorrelationConfig) {
	if cfg.Timeout <= 0 {
		v.addError("correlation.timeout", cfg.Timeout, "must be positive")
	}
}

func (v *Validator) validateGateway(cfg *GatewayConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("gateway.port", cfg.Port, "must be between 0 and 65535")
	}
}

func (v *Validator) validateDatabase(cfg *DatabaseConfig) {
	if cfg.Path == "" {
		v.addError("database.path", cfg.Path, "required")
		return
	}
	if !isValidPath(cfg.Path) {
		v.addError("database.path", cfg.Path, "invalid file path")
	}
}

func (v *Validator) validateWorkers(workers []WorkerSpec) {
	seen := make(map[string]bool, len(workers))
	for i, w := range workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if w.Name == "" {
			v.addError(prefix+".name", w.Name, "required")
			continue
		}
		if strings.Contains(w.Name, "/") {
			v.addError(prefix+".name", w.Name, "must not contain '/'")
		}
		if seen[w.Name] {
			v.addError(prefix+".name", w.Name, "duplicate worker name")
		}
		seen[w.Name] = true
		if w.Count < 1 {
			v.addError(prefix+".count", w.Count, "must be at least 1")
		}
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
