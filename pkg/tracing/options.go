package tracing

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type options struct {
	logger      *zap.Logger
	registerer  prometheus.Registerer
	shmDir      string
	dialOptions []grpc.DialOption
}

// Option configures Open.
type Option func(*options)

// WithLogger makes the library log through l instead of a logger built from
// the configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer registers the library metrics on reg. Without it the
// metrics are kept but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithShmDir sets the directory shared-memory object names resolve in.
func WithShmDir(dir string) Option {
	return func(o *options) {
		o.shmDir = dir
	}
}

// WithDialOptions appends gRPC dial options for the daemon channel.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}
