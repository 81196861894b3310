package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Total number of orders submitted",
		},
		[]string{"security", "side"},
	)

	filterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_filter_rejections_total",
			Help: "Candidates rejected per pre-trade filter",
		},
		[]string{"filter"},
	)

	compositeScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_composite_score",
			Help: "Latest composite entry score per security",
		},
		[]string{"security"},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_current_price",
			Help: "Last observed price per monitored security",
		},
		[]string{"security"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of positions currently tracked by the stop-loss manager",
		},
	)

	stopLossBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_stop_loss_breaches_total",
			Help: "Stop-loss breach detections per trigger kind",
		},
		[]string{"trigger"},
	)

	exitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exit_attempts_total",
			Help: "Stop-loss exit order attempts per outcome",
		},
		[]string{"outcome"},
	)

	closeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_close_failures_total",
			Help: "Positions that exhausted their exit retry budget",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		ordersTotal,
		filterRejections,
		compositeScore,
		currentPrice,
		openPositions,
		stopLossBreaches,
		exitAttempts,
		closeFailures,
		errorsTotal,
	)
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler { return &MetricsHandler{} }

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrder records a submitted order.
func RecordOrder(security, side string) {
	ordersTotal.WithLabelValues(security, side).Inc()
}

// RecordFilterRejection counts one rejection for the named filter.
func RecordFilterRejection(filter string) {
	filterRejections.WithLabelValues(filter).Inc()
}

// UpdateCompositeScore publishes the latest entry score.
func UpdateCompositeScore(security string, score float64) {
	compositeScore.WithLabelValues(security).Set(score)
}

// UpdatePrice publishes the last observed price.
func UpdatePrice(security string, price float64) {
	currentPrice.WithLabelValues(security).Set(price)
}

// SetOpenPositions publishes the tracked position count.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// RecordBreach counts one breach detection for the trigger kind
// (stop_loss, take_profit, trailing_stop).
func RecordBreach(trigger string) {
	stopLossBreaches.WithLabelValues(trigger).Inc()
}

// RecordExitAttempt counts one exit attempt outcome (success, failure).
func RecordExitAttempt(outcome string) {
	exitAttempts.WithLabelValues(outcome).Inc()
}

// RecordCloseFailure counts a position that reached CloseFailed.
func RecordCloseFailure() {
	closeFailures.Inc()
}

// RecordError records an error metric.
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
