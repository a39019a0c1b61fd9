// Package metrics exposes Prometheus collectors for the telemetry service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe; every method on a nil *Metrics is a no-op.
type Metrics struct {
	readings      *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	tickErrors    prometheus.Counter
	queueDropped  prometheus.Counter
	modeChanges   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_readings_total",
			Help: "Sensor readings persisted, by anomaly flag.",
		}, []string{"anomaly"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_alerts_total",
			Help: "Alert records written, by class and severity.",
		}, []string{"class", "severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_notifications_total",
			Help: "Notification channel attempts, by channel and result.",
		}, []string{"channel", "result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_tick_duration_seconds",
			Help:    "Wall time of one simulation tick across all machines.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_tick_errors_total",
			Help: "Machine ticks aborted by a persistence failure.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_notification_queue_dropped_total",
			Help: "Notification tasks dropped because the worker queue was full.",
		}),
		modeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_mode_changes_total",
			Help: "Machine mode transitions, by target mode.",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.readings, m.alerts, m.notifications, m.tickDuration, m.tickErrors, m.queueDropped, m.modeChanges)
	return m
}

func (m *Metrics) Reading(anomaly bool) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(strconv.FormatBool(anomaly)).Inc()
}

func (m *Metrics) Alert(class, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(class, severity).Inc()
}

// Notification records one channel attempt; err == nil counts as sent.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) TickError() {
	if m == nil {
		return
	}
	m.tickErrors.Inc()
}

func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

func (m *Metrics) ModeChange(mode string) {
	if m == nil {
		return
	}
	m.modeChanges.WithLabelValues(mode).Inc()
}
