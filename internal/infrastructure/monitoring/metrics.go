package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

// Metrics holds all Prometheus metrics of one runtime.
type Metrics struct {
	// Registry metrics
	ClientsRegistered prometheus.Gauge
	ShmObjects        prometheus.Gauge

	// Library metrics
	State       prometheus.Gauge
	TraceCalls  *prometheus.CounterVec
	JobsDone    *prometheus.CounterVec
	RingBacklog prometheus.Gauge

	// Daemon metrics
	ConnectAttempts prometheus.Counter
	Disconnects     prometheus.Counter
	ReplayFailures  *prometheus.CounterVec
	DaemonCalls     *prometheus.CounterVec
	DaemonDuration  *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	reg prometheus.Registerer
}

// NewMetrics registers the metric set on reg. A nil reg keeps the metrics
// unregistered. Unregister must run before the same set is registered on
// reg again.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		ClientsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_registered",
			Help:      "Number of locally registered trace clients",
		}),
		ShmObjects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shm_objects_registered",
			Help:      "Number of locally registered shared-memory objects",
		}),

		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_state",
			Help:      "Current library state (0 not initialized, 1 daemon initialized, 2 initialized, 3 daemon disconnected, 4 generic error)",
		}),
		TraceCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_calls_total",
			Help:      "Total number of trace calls by kind and result",
		}, []string{"kind", "result"}),
		JobsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of trace jobs released, by outcome",
		}, []string{"outcome"}),
		RingBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_backlog",
			Help:      "Trace jobs queued and not yet released",
		}),

		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_connect_attempts_total",
			Help:      "Total number of daemon connection attempts",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_disconnects_total",
			Help:      "Total number of daemon termination notifications handled",
		}),
		ReplayFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_failures_total",
			Help:      "Cached registrations that failed to replay",
		}, []string{"kind"}),
		DaemonCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_calls_total",
			Help:      "Total number of daemon calls by method and result",
		}, []string{"method", "result"}),
		DaemonDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "daemon_call_duration_seconds",
			Help:      "Daemon call duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daemon_breaker_state",
			Help:      "Daemon circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
	}
}

// Unregister removes the metric set from its registerer. It is safe to call
// more than once.
func (m *Metrics) Unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		m.ClientsRegistered, m.ShmObjects,
		m.State, m.TraceCalls, m.JobsDone, m.RingBacklog,
		m.ConnectAttempts, m.Disconnects, m.ReplayFailures,
		m.DaemonCalls, m.DaemonDuration, m.BreakerState,
	} {
		m.reg.Unregister(c)
	}
}

// NewNopMetrics returns an unregistered metric set.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil, "tracing")
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return resultLabel(errcode.From(err, errcode.None))
}

func resultLabel(c errcode.Code) string {
	if c == errcode.None {
		return "error"
	}
	return c.Error()
}

// RecordTrace records one trace call.
func (m *Metrics) RecordTrace(kind string, err error) {
	m.TraceCalls.WithLabelValues(kind, Result(err)).Inc()
}

// RecordJob records a released job. cleaned is true for jobs dropped on
// daemon disconnect.
func (m *Metrics) RecordJob(cleaned bool) {
	if cleaned {
		m.JobsDone.WithLabelValues("cleaned").Inc()
		return
	}
	m.JobsDone.WithLabelValues("completed").Inc()
}

// RecordDaemonCall records a daemon round-trip.
func (m *Metrics) RecordDaemonCall(method string, err error, duration time.Duration) {
	m.DaemonCalls.WithLabelValues(method, Result(err)).Inc()
	m.DaemonDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordReplayFailure records a failed replay of a cached registration.
func (m *Metrics) RecordReplayFailure(kind string) {
	m.ReplayFailures.WithLabelValues(kind).Inc()
}

// SetState publishes the library state.
func (m *Metrics) SetState(state int32) {
	m.State.Set(float64(state))
}

// SetRegistered publishes registry occupancy.
func (m *Metrics) SetRegistered(clients, shmObjects int) {
	m.ClientsRegistered.Set(float64(clients))
	m.ShmObjects.Set(float64(shmObjects))
}

// SetBreakerState publishes a circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Timer measures a daemon call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewTimer starts timing method.
func NewTimer(metrics *Metrics, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		method:  method,
	}
}

// Stop records the elapsed time with the call result.
func (t *Timer) Stop(err error) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordDaemonCall(t.method, err, time.Since(t.start))
}
