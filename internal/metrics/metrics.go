package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Trading agent instrumentation. Everything is registered on the default
// registry and served by Handler.

var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_evaluations_total",
		Help: "Signal evaluations performed per symbol.",
	}, []string{"symbol"})

	EntrySignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_entry_signals_total",
		Help: "Evaluations that produced a true entry signal.",
	}, []string{"symbol"})

	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_orders_placed_total",
		Help: "Orders submitted to the exchange.",
	}, []string{"symbol", "side"})

	OrdersReplacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_orders_replaced_total",
		Help: "Cancel-replace operations performed.",
	}, []string{"symbol", "side"})

	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_fills_total",
		Help: "Fill notifications applied to symbol state.",
	}, []string{"symbol", "side"})

	OrderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelikebot_order_errors_total",
		Help: "Exchange rejections and failed order operations.",
	}, []string{"symbol"})

	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradelikebot_stream_reconnects_total",
		Help: "User data stream reconnections.",
	})

	SymbolPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradelikebot_symbol_phase",
		Help: "Current lifecycle phase per symbol (0=IDLE through 4=TAKE_PROFIT_PLACED).",
	}, []string{"symbol"})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
