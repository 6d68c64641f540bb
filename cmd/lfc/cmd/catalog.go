package cmd

import (
	"github.com/lfcbot/lfc/internal/config"
	"github.com/lfcbot/lfc/internal/gateway"
	"github.com/lfcbot/lfc/internal/history"
	"github.com/lfcbot/lfc/internal/worker"
)

// workerCatalog lists every worker this binary can run.
func workerCatalog() *worker.Catalog {
	c := worker.NewCatalog()
	c.Register(gateway.Name, gateway.Main)
	c.Register(history.Name, history.Main)
	return c
}

// workerConfig returns the startup config for spec, filling the keys the
// built-in workers take from top-level sections.
func workerConfig(cfg *config.Config, spec config.WorkerSpec) map[string]interface{} {
	out := make(map[string]interface{}, len(spec.Config)+1)
	for k, v := range spec.Config {
		out[k] = v
	}
	switch spec.Name {
	case gateway.Name:
		if _, ok := out["port"]; !ok && cfg.Gateway.Port != 0 {
			out["port"] = cfg.Gateway.Port
		}
	case history.Name:
		if _, ok := out["database_path"]; !ok && cfg.Database.Path != "" {
			out["database_path"] = cfg.Database.Path
		}
	}
	return out
}

// workerConfigs returns workerConfig for every configured pool.
func workerConfigs(cfg *config.Config) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(cfg.Workers))
	for _, spec := range cfg.Workers {
		out[spec.Name] = workerConfig(cfg, spec)
	}
	return out
}

// specFor returns the configured pool for name, or a single instance with
// no config.
func specFor(cfg *config.Config, name string) config.WorkerSpec {
	for _, spec := range cfg.Workers {
		if spec.Name == name {
			return spec
		}
	}
	return config.WorkerSpec{Name: name, Count: 1}
}

// workerEnv is the runtime template shared by every worker.
func workerEnv(cfg *config.Config) worker.Env {
	return worker.Env{
		HeartbeatInterval: cfg.Runtime.HeartbeatInterval,
		MaxConcurrency:    cfg.Runtime.MaxConcurrency,
		CallTimeout:       cfg.Correlation.Timeout,
	}
}
