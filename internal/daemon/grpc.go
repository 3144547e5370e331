package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/job"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// ServiceName is the fully qualified daemon service.
const ServiceName = "score.tracing.v1.TraceDaemon"

// Daemon methods.
const (
	MethodConnect               = "Connect"
	MethodRegisterClient        = "RegisterClient"
	MethodRegisterShmObject     = "RegisterShmObject"
	MethodRegisterShmObjectPath = "RegisterShmObjectPath"
	MethodUnregisterShmObject   = "UnregisterShmObject"
	MethodSubmitTrace           = "SubmitTrace"
)

const maxMessageSize = 1 << 20

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Options configures a GRPC communicator.
type Options struct {
	// Address is a gRPC target, e.g. "unix:///run/tracing/daemon.sock".
	Address     string
	CallTimeout time.Duration
	// Keepalive is the ping interval on an idle channel; zero disables pings.
	Keepalive time.Duration
	RuntimeID id.RuntimeID
	// Pid is sent with fd registrations; zero means the current process.
	Pid int
	// Breaker tunes the circuit breaker around registration calls.
	Breaker resilience.Settings
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// GRPC is a Communicator over gRPC. It also delivers trace jobs as a
// job.Sink.
type GRPC struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	mu        sync.Mutex
	conn      *grpc.ClientConn
	watching  *grpc.ClientConn
	stopWatch context.CancelFunc
	closed    bool

	subMu       sync.Mutex
	subscribers []func()
}

var (
	_ Communicator = (*GRPC)(nil)
	_ job.Sink     = (*GRPC)(nil)
)

// NewGRPC creates a communicator. No connection is made until Connect.
func NewGRPC(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *GRPC {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 500 * time.Millisecond
	}
	if opts.Pid == 0 {
		opts.Pid = os.Getpid()
	}
	if opts.RuntimeID == "" {
		opts.RuntimeID = id.NewRuntimeID()
	}
	if metrics == nil {
		metrics = monitoring.NewNopMetrics()
	}

	c := &GRPC{
		opts:    opts,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}

	settings := opts.Breaker
	if settings.IsFailure == nil {
		settings.IsFailure = isTransportFailure
	}
	onChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		c.metrics.SetBreakerState(name, int(to))
		c.logger.Warn("daemon circuit breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	c.breaker = resilience.New("daemon", settings)
	return c
}

func (c *GRPC) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Leaving Ready is how termination is detected, so the channel must
		// not go idle on its own.
		grpc.WithIdleTimeout(0),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	if c.opts.Keepalive > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.opts.Keepalive,
			Timeout:             c.opts.Keepalive / 2,
			PermitWithoutStream: true,
		}))
	}
	return append(opts, c.opts.DialOptions...)
}

// Connect dials the daemon and performs the hello round-trip. Each failed
// attempt discards its channel so the next attempt dials afresh.
func (c *GRPC) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: communicator closed", errcode.DaemonConnectionFailed)
	}
	conn := c.conn
	if conn == nil {
		var err error
		conn, err = grpc.NewClient(c.opts.Address, c.dialOptions()...)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %w", errcode.DaemonConnectionFailed, err)
		}
		c.conn = conn
	}
	c.mu.Unlock()

	req, err := structpb.NewStruct(map[string]any{
		"pid":        c.opts.Pid,
		"runtime_id": string(c.opts.RuntimeID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errcode.DaemonConnectionFailed, err)
	}

	timer := monitoring.NewTimer(c.metrics, MethodConnect)
	err = c.invoke(ctx, conn, MethodConnect, req, &emptypb.Empty{})
	timer.Stop(err)
	if err != nil {
		c.discard(conn)
		return fmt.Errorf("%w: %w", errcode.DaemonConnectionFailed, err)
	}

	c.watch(conn)
	c.logger.Info("connected to trace daemon",
		zap.String("address", c.opts.Address),
		zap.String("runtime_id", string(c.opts.RuntimeID)))
	return nil
}

// RegisterClient registers a trace client and returns the daemon's id.
func (c *GRPC) RegisterClient(ctx context.Context, binding types.BindingType, appID types.AppID) (types.ClientID, error) {
	req, err := structpb.NewStruct(map[string]any{
		"binding":    binding.String(),
		"app_id":     appID.String(),
		"request_id": string(id.NewRequestID()),
	})
	if err != nil {
		return types.InvalidClientID, fmt.Errorf("%w: %w", errcode.InvalidArgument, err)
	}

	var resp wrapperspb.UInt32Value
	if err := c.call(ctx, MethodRegisterClient, req, &resp, errcode.MessageSendFailed); err != nil {
		return types.InvalidClientID, err
	}

	v := resp.GetValue()
	if v == 0 || v > 0xFF {
		return types.InvalidClientID, fmt.Errorf("%w: daemon issued client id %d", errcode.MessageSendFailed, v)
	}
	return types.ClientID(v), nil
}

// RegisterShmObject registers an fd of this process with the daemon.
func (c *GRPC) RegisterShmObject(ctx context.Context, fd int) (types.ShmObjectHandle, error) {
	req, err := structpb.NewStruct(map[string]any{
		"pid":        c.opts.Pid,
		"fd":         fd,
		"request_id": string(id.NewRequestID()),
	})
	if err != nil {
		return types.InvalidShmObjectHandle, fmt.Errorf("%w: %w", errcode.InvalidArgument, err)
	}
	return c.registerShm(ctx, MethodRegisterShmObject, req)
}

// RegisterShmObjectPath registers a shared-memory object by name.
func (c *GRPC) RegisterShmObjectPath(ctx context.Context, path string) (types.ShmObjectHandle, error) {
	req, err := structpb.NewStruct(map[string]any{
		"path":       path,
		"request_id": string(id.NewRequestID()),
	})
	if err != nil {
		return types.InvalidShmObjectHandle, fmt.Errorf("%w: %w", errcode.InvalidArgument, err)
	}
	return c.registerShm(ctx, MethodRegisterShmObjectPath, req)
}

func (c *GRPC) registerShm(ctx context.Context, method string, req proto.Message) (types.ShmObjectHandle, error) {
	var resp wrapperspb.Int32Value
	if err := c.call(ctx, method, req, &resp, errcode.SharedMemoryObjectRegistrationFailed); err != nil {
		return types.InvalidShmObjectHandle, err
	}

	h := types.ShmObjectHandle(resp.GetValue())
	if !h.Valid() {
		return types.InvalidShmObjectHandle, fmt.Errorf("%w: daemon issued handle %d",
			errcode.SharedMemoryObjectRegistrationFailed, h)
	}
	return h, nil
}

// UnregisterShmObject releases a daemon handle.
func (c *GRPC) UnregisterShmObject(ctx context.Context, handle types.ShmObjectHandle) error {
	return c.call(ctx, MethodUnregisterShmObject, wrapperspb.Int32(int32(handle)), &emptypb.Empty{},
		errcode.SharedMemoryObjectUnregisterFailed)
}

// Deliver submits a trace job. A daemon rejection wraps job.ErrRejected;
// any other failure leaves the job with the caller for a retry.
func (c *GRPC) Deliver(ctx context.Context, j *job.Job) error {
	chunks := make([]any, 0, len(j.Chunks))
	for _, ch := range j.Chunks {
		chunks = append(chunks, map[string]any{
			"handle": int32(ch.Handle),
			"offset": ch.Offset,
			"size":   ch.Size,
		})
	}

	req, err := structpb.NewStruct(map[string]any{
		"client_id":  uint32(j.ClientID),
		"context_id": uint32(j.ContextID),
		"type":       j.Type.String(),
		"binding":    j.Binding.String(),
		"app_id":     j.AppID.String(),
		"timestamp":  j.Timestamp.UnixNano(),
		"chunks":     chunks,
	})
	if err != nil {
		return fmt.Errorf("%w: %w: %w", job.ErrRejected, errcode.InvalidArgument, err)
	}
	err = c.call(ctx, MethodSubmitTrace, req, &emptypb.Empty{}, errcode.MessageSendFailed)
	if err != nil && isRejection(err) {
		return fmt.Errorf("%w: %w", job.ErrRejected, err)
	}
	return err
}

// SubscribeToTermination registers fn to run when an established channel
// is lost.
func (c *GRPC) SubscribeToTermination(fn func()) {
	if fn == nil {
		return
	}
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.subMu.Unlock()
}

// Close tears down the channel. Termination subscribers are not notified.
func (c *GRPC) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.watching = nil
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// call runs one unary request through the breaker. Transport failures map
// to MessageSendFailed, daemon rejections to failure.
func (c *GRPC) call(ctx context.Context, method string, req, resp proto.Message, failure errcode.Code) error {
	conn := c.current()
	if conn == nil {
		return errcode.DaemonNotConnected
	}

	timer := monitoring.NewTimer(c.metrics, method)
	err := c.breaker.Do(func() error {
		return c.invoke(ctx, conn, method, req, resp)
	})
	timer.Stop(err)
	if err == nil {
		return nil
	}

	c.logger.Debug("daemon call failed", zap.String("method", method), zap.Error(err))
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %w", errcode.MessageSendFailed, method, err)
	case isTransportFailure(err):
		return fmt.Errorf("%w: %s: %w", errcode.MessageSendFailed, method, err)
	default:
		return fmt.Errorf("%w: %s: %w", failure, method, err)
	}
}

func (c *GRPC) invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp proto.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return conn.Invoke(ctx, fullMethod(method), req, resp)
}

func (c *GRPC) current() *grpc.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// discard closes conn if it is still the current channel.
func (c *GRPC) discard(conn *grpc.ClientConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.watching == conn {
		c.watching = nil
		c.stopWatch = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// watch starts a goroutine that reports the loss of conn once it has left
// the Ready state.
func (c *GRPC) watch(conn *grpc.ClientConn) {
	c.mu.Lock()
	if c.closed || c.watching == conn {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watching = conn
	c.stopWatch = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		state := conn.GetState()
		for state == connectivity.Ready {
			if !conn.WaitForStateChange(ctx, state) {
				return
			}
			state = conn.GetState()
		}
		c.lost(conn, state)
	}()
}

func (c *GRPC) lost(conn *grpc.ClientConn, state connectivity.State) {
	c.mu.Lock()
	if c.closed || c.watching != conn {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.discard(conn)
	c.logger.Warn("trace daemon connection lost", zap.Stringer("state", state))

	c.subMu.Lock()
	subs := append([]func(){}, c.subscribers...)
	c.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func isTransportFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isRejection reports whether err is an answer from the daemon rather than
// a failure to reach it.
func isRejection(err error) bool {
	switch {
	case errors.Is(err, errcode.DaemonNotConnected),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests):
		return false
	}
	return !isTransportFailure(err)
}
