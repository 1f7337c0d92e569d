package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the driver's tick
// loop and blueprint dispatch.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	ticksTotal          *prometheus.CounterVec
	heartbeatsTotal     prometheus.Counter
	calloutsTotal       prometheus.Counter
	combatRoundsTotal   prometheus.Counter
	deathsTotal         prometheus.Counter
	messagesTotal       prometheus.Counter

	tickDuration *prometheus.HistogramVec

	uptime         prometheus.GaugeFunc
	activeInstances prometheus.Gauge
	activeBlueprints prometheus.Gauge

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec
}

var defaultBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Total number of driver ticks"},
			[]string{"status"},
		),
		heartbeatsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "heartbeats_fired_total", Help: "Total heartbeat fires"},
		),
		calloutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "callouts_fired_total", Help: "Total callout fires"},
		),
		combatRoundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "combat_rounds_total", Help: "Total combat rounds processed"},
		),
		deathsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "deaths_total", Help: "Total combat deaths"},
		),
		messagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "messages_sent_total", Help: "Total messages delivered"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_milliseconds",
				Help:      "Duration of a driver tick in milliseconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_instances", Help: "Number of live object instances"},
		),
		activeBlueprints: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_blueprints", Help: "Number of compiled blueprints"},
		),
		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "circuit_breaker_state", Help: "Breaker state per blueprint (0=closed,1=open,2=half_open)"},
			[]string{"blueprint"},
		),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "circuit_breaker_trips_total", Help: "Total circuit breaker state transitions"},
			[]string{"blueprint", "to_state"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "uptime_seconds", Help: "Time since the driver started"},
		func() float64 { return time.Since(StartTime()).Seconds() },
	)

	registry.MustRegister(
		pm.ticksTotal, pm.heartbeatsTotal, pm.calloutsTotal, pm.combatRoundsTotal,
		pm.deathsTotal, pm.messagesTotal, pm.tickDuration, pm.uptime,
		pm.activeInstances, pm.activeBlueprints,
		pm.circuitBreakerState, pm.circuitBreakerTripsTotal,
	)

	promMetrics = pm
}

// RecordPrometheusTick records a tick's summary in Prometheus collectors.
func RecordPrometheusTick(durationMs int64, heartbeats, callouts, combatRounds, deaths, messages int, faulted bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if faulted {
		status = "faulted"
	}
	promMetrics.ticksTotal.WithLabelValues(status).Inc()
	promMetrics.tickDuration.WithLabelValues(status).Observe(float64(durationMs))
	promMetrics.heartbeatsTotal.Add(float64(heartbeats))
	promMetrics.calloutsTotal.Add(float64(callouts))
	promMetrics.combatRoundsTotal.Add(float64(combatRounds))
	promMetrics.deathsTotal.Add(float64(deaths))
	promMetrics.messagesTotal.Add(float64(messages))
}

// SetActiveInstances sets the live instance count gauge.
func SetActiveInstances(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeInstances.Set(float64(count))
}

// SetActiveBlueprints sets the compiled blueprint count gauge.
func SetActiveBlueprints(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeBlueprints.Set(float64(count))
}

// SetCircuitBreakerState sets the breaker state gauge for a blueprint.
// state: 0=closed, 1=open, 2=half_open.
func SetCircuitBreakerState(blueprintID string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(blueprintID).Set(float64(state))
}

// RecordCircuitBreakerTrip records a breaker state transition.
func RecordCircuitBreakerTrip(blueprintID, toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerTripsTotal.WithLabelValues(blueprintID, toState).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the registry for custom collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
