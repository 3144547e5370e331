/*
Package monitoring provides Prometheus metrics for the tracing library.

# Overview

Metrics are registered against a caller supplied prometheus.Registerer so
several runtimes can coexist in tests and the host application decides where
the metrics are exposed.

# Features

- Registry occupancy (clients, shared-memory objects)
- Library state gauge
- Trace call outcomes by kind and error code
- Job completion and cleanup counters
- Daemon connect attempts, disconnects and replay failures
- Daemon round-trip latency

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry(), "tracing")

	metrics.RecordTrace("shm", err)
	metrics.SetState(2)

	timer := monitoring.NewTimer(metrics, "register_client")
	// ... daemon call ...
	timer.Stop(err)
*/
package monitoring
