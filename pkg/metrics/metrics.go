package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Adapter metrics
	InstancesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fmigate_instances_total",
			Help: "Number of live adapter instances",
		},
	)

	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fmigate_workers_running",
			Help: "Number of running worker processes",
		},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fmigate_steps_total",
			Help: "Total number of communication steps by status",
		},
		[]string{"status"},
	)

	RendezvousWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fmigate_rendezvous_wait_seconds",
			Help:    "Time the master spent blocked waiting for the worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Self-integrating wrapper metrics
	StateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fmigate_state_events_total",
			Help: "Total number of state events detected during look-ahead",
		},
	)

	TimeEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fmigate_time_events_total",
			Help: "Total number of time events handled during look-ahead",
		},
	)

	IntegratorStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fmigate_integrator_steps_total",
			Help: "Total number of internal integrator steps by stepper",
		},
		[]string{"stepper"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(RendezvousWaitDuration)
	prometheus.MustRegister(StateEventsTotal)
	prometheus.MustRegister(TimeEventsTotal)
	prometheus.MustRegister(IntegratorStepsTotal)
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures durations for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
