// Package metrics provides Prometheus counters/histograms for the turn
// controller's side-channel observability. The event log remains the
// authoritative record (spec §4.6/§9); these metrics only summarize it
// for dashboards and alerting.
//
// Metric naming follows Prometheus conventions: a ctrlmcp_ prefix, a
// _total suffix for counters, a _seconds suffix for duration histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every metric the turn controller reports against.
type Recorder struct {
	turnDuration          *prometheus.HistogramVec
	rejectionsTotal       *prometheus.CounterVec
	budgetTripsTotal      prometheus.Counter
	collisionDenialsTotal prometheus.Counter
	promotionsTotal       *prometheus.CounterVec
}

// NewRecorder creates and registers the controller's metrics against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer for the process-wide one.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ctrlmcp_turn_duration_seconds",
			Help:    "Duration of a controller_turn call by verb.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"verb"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrlmcp_rejections_total",
			Help: "Total turns rejected by deny reason code.",
		}, []string{"code"}),
		budgetTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlmcp_budget_trips_total",
			Help: "Total turns blocked by the token budget gate.",
		}),
		collisionDenialsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlmcp_collision_denials_total",
			Help: "Total scoped-execution requests denied by the collision guard.",
		}),
		promotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrlmcp_memory_promotions_total",
			Help: "Total memory record state transitions by from/to state.",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(r.turnDuration, r.rejectionsTotal, r.budgetTripsTotal, r.collisionDenialsTotal, r.promotionsTotal)
	return r
}

// ObserveTurn implements turn.MetricsRecorder.
func (r *Recorder) ObserveTurn(verb string, d time.Duration) {
	r.turnDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// RecordRejection implements turn.MetricsRecorder.
func (r *Recorder) RecordRejection(code string) {
	r.rejectionsTotal.WithLabelValues(code).Inc()
}

// RecordBudgetTrip implements turn.MetricsRecorder.
func (r *Recorder) RecordBudgetTrip() {
	r.budgetTripsTotal.Inc()
}

// RecordCollisionDenial implements turn.MetricsRecorder.
func (r *Recorder) RecordCollisionDenial() {
	r.collisionDenialsTotal.Inc()
}

// RecordPromotion implements turn.MetricsRecorder.
func (r *Recorder) RecordPromotion(from, to string) {
	r.promotionsTotal.WithLabelValues(from, to).Inc()
}

// Handler serves the standard Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
