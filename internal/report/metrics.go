package report

// Observability is a side channel.
// Nothing in here may change what a command returns.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes, used as the "outcome" label.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomePanicked  = "panicked"
	OutcomeRejected  = "rejected" // precondition failed before any side effect
)

// Metrics are boring counters on a private registry.
// Every counter must be explainable by looking at a single run directory.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   *prometheus.CounterVec   // command
	RunsCompleted *prometheus.CounterVec   // command, outcome
	RunDuration   *prometheus.HistogramVec // command
	OutFiles      *prometheus.CounterVec   // command

	LogAppends        *prometheus.CounterVec // level
	LogAppendFailures prometheus.Counter
	SinkFailures      prometheus.Counter

	QueueDepth    prometheus.Gauge
	QueueTaskTime prometheus.Histogram
	QueueFailures prometheus.Counter
}

var globalMetrics = NewMetrics()

// Global returns the process-wide metrics instance
func Global() *Metrics {
	return globalMetrics
}

// NewMetrics creates a metrics set registered on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtrail_runs_started_total",
				Help: "Command runs started",
			},
			[]string{"command"},
		),
		RunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtrail_runs_completed_total",
				Help: "Command runs completed by outcome",
			},
			[]string{"command", "outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runtrail_run_duration_seconds",
				Help:    "Wall time of a command run, framing included",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"command"},
		),
		OutFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtrail_out_files_written_total",
				Help: "Auxiliary output files written through out.write",
			},
			[]string{"command"},
		),
		LogAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runtrail_log_appends_total",
				Help: "Structured records appended to run log files",
			},
			[]string{"level"},
		),
		LogAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtrail_log_append_failures_total",
			Help: "Run log appends that failed",
		}),
		SinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtrail_log_sink_failures_total",
			Help: "Leveled-log sink calls that panicked (record still persisted)",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runtrail_log_queue_depth",
			Help: "Log write tasks submitted but not yet finished",
		}),
		QueueTaskTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runtrail_log_queue_task_seconds",
			Help:    "Execution time of a single serialized log write",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		QueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runtrail_log_queue_task_failures_total",
			Help: "Serialized log write tasks that returned an error or panicked",
		}),
	}

	m.registry.MustRegister(
		m.RunsStarted,
		m.RunsCompleted,
		m.RunDuration,
		m.OutFiles,
		m.LogAppends,
		m.LogAppendFailures,
		m.SinkFailures,
		m.QueueDepth,
		m.QueueTaskTime,
		m.QueueFailures,
	)
	return m
}

// IncrStarted increments runs started for a command
func (m *Metrics) IncrStarted(command string) {
	m.RunsStarted.WithLabelValues(command).Inc()
}

// RecordResult updates completion counters from a single immutable Result.
// This is the ONLY way completion metrics move.
func (m *Metrics) RecordResult(r *Result) {
	m.RunsCompleted.WithLabelValues(r.Command, r.Outcome).Inc()
	m.RunDuration.WithLabelValues(r.Command).Observe(r.Duration.Seconds())
}
