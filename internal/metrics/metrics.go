// Package metrics exposes the bot's Prometheus instrumentation: feed health,
// replica apply results, risk verdicts, and execution outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bot registers. All fields are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	DepthApplies   *prometheus.CounterVec // result: applied|stale|gap
	FeedReconnects prometheus.Counter
	FeedState      prometheus.Gauge // numeric FeedState value
	IntentsEmitted *prometheus.CounterVec // source, kind
	RiskVerdicts   *prometheus.CounterVec // status
	OrdersPlaced   *prometheus.CounterVec // side, status
	OpenPositions  prometheus.Gauge
	AccountBalance prometheus.Gauge
}

// New creates a Metrics with its own registry so tests never collide on the
// global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		DepthApplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbot_depth_applies_total",
			Help: "Depth delta apply outcomes by result.",
		}, []string{"symbol", "result"}),
		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthbot_feed_reconnects_total",
			Help: "Number of feed reconnect attempts.",
		}),
		FeedState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depthbot_feed_state",
			Help: "Current feed supervisor state (0=disconnected 1=connecting 2=snapshotting 3=streaming 4=halted).",
		}),
		IntentsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbot_intents_total",
			Help: "Trade intents processed by the executor.",
		}, []string{"source", "kind"}),
		RiskVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbot_risk_verdicts_total",
			Help: "Risk gate verdicts by status.",
		}, []string{"status"}),
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthbot_orders_total",
			Help: "Orders submitted to the exchange by side and outcome.",
		}, []string{"side", "status"}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depthbot_open_positions",
			Help: "Number of currently open positions.",
		}),
		AccountBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depthbot_account_balance",
			Help: "Current account balance in quote units.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
