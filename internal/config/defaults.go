package config

// DefaultConfigYAML is written by `lfc init`.
const DefaultConfigYAML = `# LFC supervisor configuration
#
# Values not specified here use built-in defaults.
# Every key can be overridden with an LFC_ environment variable,
# e.g. LFC_SUPERVISOR_RETRY_DELAY=5s.

log:
  level: info
  format: auto  # auto, text, json

supervisor:
  health_interval: 5s
  # Replace workers whose heartbeat is older than this. 0s disables.
  hang_threshold: 0s
  retry_delay: 2s
  retry_max_attempts: 10
  # Pending messages kept per worker name, oldest dropped first. 0 is unlimited.
  max_pending: 1000
  kill_grace: 3s
  admin_addr: 127.0.0.1:9464
  watch_config: false

runtime:
  heartbeat_interval: 10s
  max_concurrency: 8

correlation:
  timeout: 30s

gateway:
  port: 5000

database:
  path: .lfc/history.db

# Worker pools started by ` + "`lfc supervise`" + `. Each instance gets the
# config map as its startup configuration.
workers:
  - name: RestApiWorker
    count: 1
  - name: DatabaseInteractionWorker
    count: 1
`
