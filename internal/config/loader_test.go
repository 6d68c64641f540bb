package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}

	if cfg.Supervisor.HealthInterval != 5*time.Second {
		t.Errorf("Supervisor.HealthInterval = %v, want 5s", cfg.Supervisor.HealthInterval)
	}
	if cfg.Supervisor.HangThreshold != 0 {
		t.Errorf("Supervisor.HangThreshold = %v, want 0", cfg.Supervisor.HangThreshold)
	}
	if cfg.Supervisor.RetryDelay != 2*time.Second {
		t.Errorf("Supervisor.RetryDelay = %v, want 2s", cfg.Supervisor.RetryDelay)
	}
	if cfg.Supervisor.RetryMaxAttempts != 10 {
		t.Errorf("Supervisor.RetryMaxAttempts = %d, want 10", cfg.Supervisor.RetryMaxAttempts)
	}
	if cfg.Supervisor.MaxPending != 1000 {
		t.Errorf("Supervisor.MaxPending = %d, want 1000", cfg.Supervisor.MaxPending)
	}
	if cfg.Runtime.HeartbeatInterval != 10*time.Second {
		t.Errorf("Runtime.HeartbeatInterval = %v, want 10s", cfg.Runtime.HeartbeatInterval)
	}
	if cfg.Runtime.MaxConcurrency != 8 {
		t.Errorf("Runtime.MaxConcurrency = %d, want 8", cfg.Runtime.MaxConcurrency)
	}
	if cfg.Correlation.Timeout != 30*time.Second {
		t.Errorf("Correlation.Timeout = %v, want 30s", cfg.Correlation.Timeout)
	}
	if cfg.Gateway.Port != 5000 {
		t.Errorf("Gateway.Port = %d, want 5000", cfg.Gateway.Port)
	}

	if len(cfg.Workers) != 2 {
		t.Fatalf("len(Workers) = %d, want 2", len(cfg.Workers))
	}
	if cfg.Workers[0].Name != "RestApiWorker" || cfg.Workers[0].Count != 1 {
		t.Errorf("Workers[0] = %+v, want RestApiWorker x1", cfg.Workers[0])
	}
	if cfg.Workers[1].Name != "DatabaseInteractionWorker" {
		t.Errorf("Workers[1].Name = %q, want DatabaseInteractionWorker", cfg.Workers[1].Name)
	}
}

func TestLoader_DefaultsValidate(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("LFC_LOG_LEVEL", "debug")
	t.Setenv("LFC_SUPERVISOR_RETRY_DELAY", "750ms")
	t.Setenv("LFC_RUNTIME_MAX_CONCURRENCY", "3")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Supervisor.RetryDelay != 750*time.Millisecond {
		t.Errorf("Supervisor.RetryDelay = %v, want 750ms", cfg.Supervisor.RetryDelay)
	}
	if cfg.Runtime.MaxConcurrency != 3 {
		t.Errorf("Runtime.MaxConcurrency = %d, want 3", cfg.Runtime.MaxConcurrency)
	}
}

func TestLoader_ConfigFileOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
log:
  level: warn
supervisor:
  hang_threshold: 45s
  retry_max_attempts: 4
workers:
  - name: DatabaseInteractionWorker
    count: 3
    config:
      database_path: /tmp/history.db
`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
	if cfg.Supervisor.HangThreshold != 45*time.Second {
		t.Errorf("Supervisor.HangThreshold = %v, want 45s", cfg.Supervisor.HangThreshold)
	}
	if cfg.Supervisor.RetryMaxAttempts != 4 {
		t.Errorf("Supervisor.RetryMaxAttempts = %d, want 4", cfg.Supervisor.RetryMaxAttempts)
	}
	// Unset keys keep defaults.
	if cfg.Supervisor.RetryDelay != 2*time.Second {
		t.Errorf("Supervisor.RetryDelay = %v, want 2s", cfg.Supervisor.RetryDelay)
	}

	if len(cfg.Workers) != 1 {
		t.Fatalf("len(Workers) = %d, want 1", len(cfg.Workers))
	}
	w := cfg.Workers[0]
	if w.Name != "DatabaseInteractionWorker" || w.Count != 3 {
		t.Errorf("Workers[0] = %+v", w)
	}
	if w.Config["database_path"] != "/tmp/history.db" {
		t.Errorf("Workers[0].Config = %v", w.Config)
	}

	configs := cfg.WorkerConfigs()
	if configs["DatabaseInteractionWorker"]["database_path"] != "/tmp/history.db" {
		t.Errorf("WorkerConfigs() = %v", configs)
	}
}

func TestLoader_Precedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	t.Setenv("LFC_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want env value %q", cfg.Log.Level, "error")
	}
}

func TestLoader_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if _, err := NewLoader().WithConfigFile(configPath).Load(); err == nil {
		t.Error("Load() should fail for malformed YAML")
	}
}

func TestLoader_ConfigFileUsed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(DefaultConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), configPath)
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestDefaultConfigYAML_Loads(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".lfc.yaml")
	if err := os.WriteFile(configPath, []byte(DefaultConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("DefaultConfigYAML does not validate: %v", err)
	}
	if cfg.Supervisor.AdminAddr != "127.0.0.1:9464" {
		t.Errorf("Supervisor.AdminAddr = %q", cfg.Supervisor.AdminAddr)
	}
}

func TestLoader_ConfigPathFromEnv(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(configPath, []byte("gateway:\n  port: 7001\n"), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	t.Setenv(ConfigPathEnv, configPath)

	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Port != 7001 {
		t.Errorf("Gateway.Port = %d, want 7001", cfg.Gateway.Port)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), configPath)
	}
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := NewLoader().WithConfigFile(missing).Load(); err == nil {
		t.Error("Load() should fail when an explicit config file is missing")
	}
}

func TestLoader_NormalizesWorkers(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "workers:\n  - name: \" RestApiWorker \"\n  - name: DatabaseInteractionWorker\n    count: 2\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Workers) != 2 {
		t.Fatalf("len(Workers) = %d, want 2", len(cfg.Workers))
	}
	if cfg.Workers[0].Name != "RestApiWorker" || cfg.Workers[0].Count != 1 {
		t.Errorf("Workers[0] = %+v, want RestApiWorker x1", cfg.Workers[0])
	}
	if cfg.Workers[1].Count != 2 {
		t.Errorf("Workers[1].Count = %d, want 2", cfg.Workers[1].Count)
	}
}
