// Package config provides 12-factor configuration for the tracing library.
//
// Configuration is loaded from TRACING_* environment variables with defaults
// suitable for a production ECU image, then validated.
//
// Configuration Sections:
//   - Daemon: daemon address and per-call timeout
//   - Worker: connect retry interval, connect budget and drain interval
//   - Memory: trace metadata region size and path prefix
//   - Limits: registry capacities and job ring size
//   - Logging: log level and output format
//   - Metrics: Prometheus namespace
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	lib, err := tracing.Open(cfg)
//
// Environment Variables:
//   - TRACING_DAEMON_ADDR, TRACING_DAEMON_CALL_TIMEOUT
//   - TRACING_WORKER_CONNECT_RETRY, TRACING_WORKER_CONNECT_BUDGET, TRACING_WORKER_DRAIN_INTERVAL
//   - TRACING_TMD_SIZE, TRACING_TMD_PATH_PREFIX
//   - TRACING_LIMIT_MAX_CLIENTS, TRACING_LIMIT_MAX_SHM_OBJECTS, TRACING_LIMIT_RING_CAPACITY
//   - TRACING_LOG_LEVEL, TRACING_LOG_DEV
//   - TRACING_METRICS_NAMESPACE
package config
