package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for onepush.
type Metrics struct {
	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	// Remote command metrics
	remoteCommands        *prometheus.CounterVec
	remoteCommandDuration *prometheus.HistogramVec

	// Convergence metrics
	packagesInstalled *prometheus.CounterVec
	filesChanged      *prometheus.CounterVec

	// Push metrics
	pushes *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeHosts prometheus.Gauge

	registry *prometheus.Registry
}

// durationBuckets spans quick file checks up to package installs and
// multi-minute pushes, in seconds.
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// NopMetrics accepts every Record call and keeps nothing.
func NopMetrics() *Metrics {
	return &Metrics{}
}

// NewMetrics registers the onepush collectors on a private registry.
func NewMetrics(namespace string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of setup and push runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"kind", "status"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of provisioning tasks executed on a host",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of provisioning tasks in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"task"},
		),

		remoteCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_commands_total",
				Help:      "Total number of commands and transfers sent to hosts",
			},
			[]string{"kind", "status"},
		),
		remoteCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of remote commands in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"kind"},
		),

		packagesInstalled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_installed_total",
				Help:      "Total number of OS packages installed",
			},
			[]string{"os_family"},
		),
		filesChanged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_changed_total",
				Help:      "Total number of deployed files whose content changed",
			},
			[]string{"task"},
		),

		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_total",
				Help:      "Total number of git pushes to deploy targets",
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_hosts",
				Help:      "Current number of hosts being provisioned",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.remoteCommands,
		m.remoteCommandDuration,
		m.packagesInstalled,
		m.filesChanged,
		m.pushes,
		m.errorsByClass,
		m.errorsByCode,
		m.activeHosts,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(kind string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(kind, status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// Task Metrics

// RecordTask records one task execution on one host.
func (m *Metrics) RecordTask(task, status string, duration time.Duration) {
	if m == nil || m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// HostStarted marks a host as in flight.
func (m *Metrics) HostStarted() {
	if m == nil || m.activeHosts == nil {
		return
	}
	m.activeHosts.Inc()
}

// HostFinished marks a host as done.
func (m *Metrics) HostFinished() {
	if m == nil || m.activeHosts == nil {
		return
	}
	m.activeHosts.Dec()
}

// Remote Metrics

// RecordRemoteCommand records a remote command or transfer.
func (m *Metrics) RecordRemoteCommand(kind string, err error, duration time.Duration) {
	if m == nil || m.remoteCommands == nil {
		return
	}
	m.remoteCommands.WithLabelValues(kind, statusOf(err)).Inc()
	m.remoteCommandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Convergence Metrics

// RecordPackagesInstalled adds n installed packages.
func (m *Metrics) RecordPackagesInstalled(osFamily string, n int) {
	if m == nil || m.packagesInstalled == nil || n <= 0 {
		return
	}
	m.packagesInstalled.WithLabelValues(osFamily).Add(float64(n))
}

// RecordFileChanged records a deployed file whose content changed.
func (m *Metrics) RecordFileChanged(task string) {
	if m == nil || m.filesChanged == nil {
		return
	}
	m.filesChanged.WithLabelValues(task).Inc()
}

// Push Metrics

// RecordPush records a push to one target.
func (m *Metrics) RecordPush(err error) {
	if m == nil || m.pushes == nil {
		return
	}
	m.pushes.WithLabelValues(statusOf(err)).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves /metrics on addr in the background. It returns
// nil when addr is empty or metrics are disabled.
func (m *Metrics) StartMetricsServer(addr string) *http.Server {
	if addr == "" || m.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the run
			log.Warn().Err(err).Str("address", addr).Msg("metrics server stopped")
		}
	}()

	log.Debug().Str("address", addr).Msg("serving metrics")
	return server
}

