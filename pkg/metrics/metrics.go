package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstancesTotal is the number of instances by status (spec §3.1's
	// InstanceStatus values, e.g. "created", "running", "stopped").
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flecs_instances_total",
			Help: "Total number of instances by status",
		},
		[]string{"status"},
	)

	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flecs_apps_total",
			Help: "Total number of installed apps",
		},
	)

	// VaultReservationWait is how long callers wait for Vault.Reservation.Grab
	// to acquire its declared pouch locks.
	VaultReservationWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flecs_vault_reservation_wait_seconds",
			Help:    "Time spent waiting to acquire a Vault reservation",
			Buckets: prometheus.DefBuckets,
		},
	)

	VaultFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flecs_vault_flush_duration_seconds",
			Help:    "Time taken to flush a pouch to disk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pouch"},
	)

	VaultCorruptRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flecs_vault_corrupt_records_total",
			Help: "Total number of corrupt records quarantined at load",
		},
		[]string{"pouch"},
	)

	// QuestsByStatus mirrors quest.Status: pending/queued/running/
	// successful/failed/cancelled.
	QuestsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flecs_quests_by_status",
			Help: "Current number of quests by status",
		},
		[]string{"status"},
	)

	QuestsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flecs_quests_scheduled_total",
			Help: "Total number of quests scheduled",
		},
	)

	QuestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flecs_quest_duration_seconds",
			Help:    "Time from quest start to terminal status",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FloxyWritesTotal counts reverse-proxy config writes by outcome:
	// "written", "unchanged", or "error".
	FloxyWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flecs_floxy_writes_total",
			Help: "Total reverse-proxy config file writes by outcome",
		},
		[]string{"outcome"},
	)

	FloxyDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flecs_floxy_deletes_total",
			Help: "Total reverse-proxy config file deletions by outcome",
		},
		[]string{"outcome"},
	)

	// Driver operation metrics
	DriverCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flecs_driver_create_duration_seconds",
			Help:    "Time taken to create a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	DriverStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flecs_driver_start_duration_seconds",
			Help:    "Time taken to start a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	DriverStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flecs_driver_stop_duration_seconds",
			Help:    "Time taken to stop a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flecs_api_requests_total",
			Help: "Total API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flecs_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(VaultReservationWait)
	prometheus.MustRegister(VaultFlushDuration)
	prometheus.MustRegister(VaultCorruptRecordsTotal)
	prometheus.MustRegister(QuestsByStatus)
	prometheus.MustRegister(QuestsScheduledTotal)
	prometheus.MustRegister(QuestDuration)
	prometheus.MustRegister(FloxyWritesTotal)
	prometheus.MustRegister(FloxyDeletesTotal)
	prometheus.MustRegister(DriverCreateDuration)
	prometheus.MustRegister(DriverStartDuration)
	prometheus.MustRegister(DriverStopDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
