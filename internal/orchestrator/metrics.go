package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	taskDuration   *prometheus.HistogramVec
	taskFailures   *prometheus.CounterVec
	agentsRunning  prometheus.Gauge
	agentsSpawned  prometheus.Counter
	permitWaitTime prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when the orchestrator is instantiated multiple
// times (e.g. in unit tests or multi-tenant runners).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller supplies a fresh registry when unique metric names are required
// (for example in tests). Any registration error panics, surfacing
// configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual agent task executions.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	taskFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "task_failures_total",
			Help:      "Total number of agent tasks that ended failed.",
		},
		[]string{"reason"},
	)
	agentsRunning := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "agents_running",
			Help:      "Number of agent executions currently holding a slot.",
		},
	)
	agentsSpawned := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "agents_spawned_total",
			Help:      "Total number of agents registered via spawn.",
		},
	)
	permitWaitTime := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crew",
			Subsystem: "orchestrator",
			Name:      "permit_wait_seconds",
			Help:      "Time spent waiting for a free execution slot.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	collectors := []prometheus.Collector{taskDuration, taskFailures, agentsRunning, agentsSpawned, permitWaitTime}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case taskDuration:
					taskDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case taskFailures:
					taskFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case agentsRunning:
					agentsRunning = already.ExistingCollector.(prometheus.Gauge)
				case agentsSpawned:
					agentsSpawned = already.ExistingCollector.(prometheus.Counter)
				case permitWaitTime:
					permitWaitTime = already.ExistingCollector.(prometheus.Histogram)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		taskDuration:   taskDuration,
		taskFailures:   taskFailures,
		agentsRunning:  agentsRunning,
		agentsSpawned:  agentsSpawned,
		permitWaitTime: permitWaitTime,
	}
}

// ObserveTaskDuration records one finished task with its terminal status.
func (m *Metrics) ObserveTaskDuration(status Status, duration time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// IncTaskFailure increments the failure counter for the given reason label.
func (m *Metrics) IncTaskFailure(reason string) {
	if m == nil || m.taskFailures == nil {
		return
	}
	m.taskFailures.WithLabelValues(reason).Inc()
}

// IncRunning marks one execution as holding a slot.
func (m *Metrics) IncRunning() {
	if m == nil || m.agentsRunning == nil {
		return
	}
	m.agentsRunning.Inc()
}

// DecRunning releases one execution slot observation.
func (m *Metrics) DecRunning() {
	if m == nil || m.agentsRunning == nil {
		return
	}
	m.agentsRunning.Dec()
}

// IncSpawned counts one registered agent.
func (m *Metrics) IncSpawned() {
	if m == nil || m.agentsSpawned == nil {
		return
	}
	m.agentsSpawned.Inc()
}

// ObservePermitWait records how long an execution waited for a slot.
func (m *Metrics) ObservePermitWait(duration time.Duration) {
	if m == nil || m.permitWaitTime == nil {
		return
	}
	m.permitWaitTime.Observe(duration.Seconds())
}
