// Package metrics exposes the Prometheus counters and histograms served on
// /metrics, following the teacher pack's registry-struct-with-MustRegister
// idiom. The state advancer records TickDuration and the reason rule sweep
// records SweepRows; RoundTransitions, WSReconnects and KlineFetchLatency are
// registered but no component updates them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this service exposes on /metrics.
type Registry struct {
	TickDuration      prometheus.Histogram
	RoundTransitions  *prometheus.CounterVec
	WSReconnects      prometheus.Counter
	KlineFetchLatency *prometheus.HistogramVec
	SweepRows         prometheus.Counter
}

// NewRegistry builds and registers all metrics with the default Prometheus registerer.
func NewRegistry() *Registry {
	r := &Registry{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tournament_tick_duration_seconds",
			Help:    "Duration of each state advancer tick in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RoundTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tournament_round_transitions_total",
			Help: "Total number of round lifecycle transitions by destination status",
		}, []string{"status"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tournament_pricefeed_reconnects_total",
			Help: "Total number of live price feed reconnect attempts",
		}),
		KlineFetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tournament_kline_fetch_latency_seconds",
			Help:    "Upstream kline fetch latency in seconds by interval",
			Buckets: prometheus.DefBuckets,
		}, []string{"interval"}),
		SweepRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tournament_reason_sweep_rows_total",
			Help: "Total number of pending judgment rows evaluated by the reason rule sweep",
		}),
	}

	prometheus.MustRegister(
		r.TickDuration,
		r.RoundTransitions,
		r.WSReconnects,
		r.KlineFetchLatency,
		r.SweepRows,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
