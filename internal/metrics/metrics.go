// Package metrics holds the Prometheus collectors for layers and location fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LayerSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platmap_layer_saves_total",
		Help: "Total layer configurations written to disk",
	})
	LayerLoadFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platmap_layer_load_failures_total",
		Help: "Layer configuration load failures by reason",
	}, []string{"reason"})
	LayerDeletesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platmap_layer_deletes_total",
		Help: "Layer deletions by outcome",
	}, []string{"outcome"})
	LocationListeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "platmap_location_listeners",
		Help: "Currently registered location listeners",
	})
	LocationSubscriptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platmap_location_subscriptions_total",
		Help: "Platform feed subscribe/unsubscribe calls",
	}, []string{"action"})
	LocationFixesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platmap_location_fixes_total",
		Help: "Location fixes received from the platform feed",
	}, []string{"provider"})
	LocationStatusEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platmap_location_status_events_total",
		Help: "Status events received from the platform feed",
	})
)

func init() {
	prometheus.MustRegister(LayerSavesTotal)
	prometheus.MustRegister(LayerLoadFailuresTotal)
	prometheus.MustRegister(LayerDeletesTotal)
	prometheus.MustRegister(LocationListeners)
	prometheus.MustRegister(LocationSubscriptionsTotal)
	prometheus.MustRegister(LocationFixesTotal)
	prometheus.MustRegister(LocationStatusEventsTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
