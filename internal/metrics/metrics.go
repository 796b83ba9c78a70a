package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "probemanager"

var (
	// RemoteSteps counts executed remote operations by kind and outcome.
	RemoteSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_steps_total",
			Help:      "Remote operations executed, by operation kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// RemoteDuration observes the wall time of a full Execute call.
	RemoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_execute_seconds",
			Help:      "Duration of remote executions against a probe host",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// ProbeOperations counts lifecycle calls made through the fleet service.
	ProbeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_operations_total",
			Help:      "Lifecycle operations by probe type, operation and status",
		},
		[]string{"type", "operation", "status"},
	)

	// Deployments counts configuration deployment workflows by final state.
	Deployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Configuration deployments by final workflow state and status",
		},
		[]string{"state", "status"},
	)

	// Jobs counts enqueue attempts and job executions.
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Asynchronous jobs by name and phase (enqueued, enqueue_failed, success, failed)",
		},
		[]string{"job", "phase"},
	)

	once sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		for _, c := range []prometheus.Collector{RemoteSteps, RemoteDuration, ProbeOperations, Deployments, Jobs} {
			_ = prometheus.DefaultRegisterer.Register(c)
		}
	})
}

// StatusLabel maps a boolean result to a metric label.
func StatusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
