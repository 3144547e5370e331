// Package logging provides structured logging for the tracing library using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for log shippers
//   - Development: colored console output
//
// Each runtime component logs through a named child logger so a single
// process log can be filtered per component:
//
//	tracing.runtime  public API validation and inline registration
//	tracing.worker   connection, replay and drain state machine
//	tracing.daemon   daemon transport
//	tracing.job      trace job allocation and completion
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	worker := logger.Component(logging.Worker)
//	worker.Info("daemon connected", zap.Duration("after", elapsed))
package logging
