// Package metrics holds the Prometheus instruments of the drip engine.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Delivery outcomes recorded by the scheduler
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeRetried = "retried"
	OutcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the drip engine
type Metrics struct {
	// Scheduler
	DeliveriesTotal         *prometheus.CounterVec
	TickDurationSeconds     prometheus.Histogram
	DueSubscriptions        prometheus.Gauge
	SubscriptionsEndedTotal *prometheus.CounterVec

	// Automations
	AutomationExecutionsTotal *prometheus.CounterVec

	// Provider callbacks
	DeliveryStatusUpdatesTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_drip_deliveries_total",
				Help: "Delivery attempts made by the scheduler, by outcome",
			},
			[]string{"outcome"},
		),
		TickDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "photocrm_drip_tick_duration_seconds",
				Help:    "Duration of one scheduler pass",
				Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		DueSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "photocrm_drip_due_subscriptions",
				Help: "Active subscriptions due at the start of the last pass",
			},
		),
		SubscriptionsEndedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_drip_subscriptions_ended_total",
				Help: "Subscriptions completed or unsubscribed, by reason",
			},
			[]string{"reason"},
		),
		AutomationExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_automation_executions_total",
				Help: "Automation execution attempts, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		DeliveryStatusUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_delivery_status_updates_total",
				Help: "Delivery status callbacks, by target status and whether they applied",
			},
			[]string{"status", "applied"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_api_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "photocrm_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photocrm_api_errors_total",
				Help: "Total number of HTTP API errors",
			},
			[]string{"error_type"},
		),
		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.DeliveriesTotal,
		m.TickDurationSeconds,
		m.DueSubscriptions,
		m.SubscriptionsEndedTotal,
		m.AutomationExecutionsTotal,
		m.DeliveryStatusUpdatesTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncDeliveries counts one scheduler delivery outcome
func IncDeliveries(outcome string) {
	m := Global()
	if m != nil {
		m.DeliveriesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveTick records the duration of a scheduler pass
func ObserveTick(seconds float64) {
	m := Global()
	if m != nil {
		m.TickDurationSeconds.Observe(seconds)
	}
}

// SetDueSubscriptions sets the due subscription gauge
func SetDueSubscriptions(n int) {
	m := Global()
	if m != nil {
		m.DueSubscriptions.Set(float64(n))
	}
}

// IncSubscriptionsEnded counts a subscription reaching a terminal status
func IncSubscriptionsEnded(reason string) {
	m := Global()
	if m != nil {
		m.SubscriptionsEndedTotal.WithLabelValues(reason).Inc()
	}
}

// IncAutomationExecutions counts one automation firing attempt
func IncAutomationExecutions(kind, outcome string) {
	m := Global()
	if m != nil {
		m.AutomationExecutionsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// IncDeliveryStatusUpdates counts one provider status callback
func IncDeliveryStatusUpdates(status string, applied bool) {
	m := Global()
	if m != nil {
		m.DeliveryStatusUpdatesTotal.WithLabelValues(status, strconv.FormatBool(applied)).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
