package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KonstantinMB/tradelikebot/internal/binance"
	"github.com/KonstantinMB/tradelikebot/internal/events"
	"github.com/KonstantinMB/tradelikebot/internal/metrics"
	"github.com/KonstantinMB/tradelikebot/internal/orders"
	"github.com/KonstantinMB/tradelikebot/internal/strategy"
)

// binance caps kline requests at 1000 rows.
const maxKlineLimit = 1000

// pollInterval is the scheduler's sleep between boundary checks.
const pollInterval = time.Second

// SymbolConfig describes one traded symbol handed in at startup.
type SymbolConfig struct {
	Symbol   string
	Interval string
	Trade    orders.TradeConfig
}

// TradingBot wires the signal engine, the lifecycle controller and the fill
// stream together and runs one evaluation loop per symbol.
type TradingBot struct {
	client     binance.SpotClient
	stream     *binance.UserDataStream
	engine     *strategy.Engine
	controller *orders.Controller
	eventBus   *events.EventBus
	logger     zerolog.Logger

	symbols  []SymbolConfig
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewTradingBot(
	client binance.SpotClient,
	stream *binance.UserDataStream,
	engine *strategy.Engine,
	controller *orders.Controller,
	eventBus *events.EventBus,
	logger zerolog.Logger,
	symbols []SymbolConfig,
) *TradingBot {
	return &TradingBot{
		client:     client,
		stream:     stream,
		engine:     engine,
		controller: controller,
		eventBus:   eventBus,
		logger:     logger.With().Str("component", "bot").Logger(),
		symbols:    symbols,
		stopChan:   make(chan struct{}),
	}
}

// Start validates every symbol against the exchange, opens the fill stream
// and launches the per-symbol evaluation loops. Symbol validation failures
// are fatal: trading with unknown precision metadata is never attempted.
func (b *TradingBot) Start(ctx context.Context) error {
	for _, sc := range b.symbols {
		if _, err := IntervalDuration(sc.Interval); err != nil {
			return fmt.Errorf("symbol %s: %w", sc.Symbol, err)
		}

		meta, err := b.client.GetSymbolMetadata(ctx, sc.Symbol)
		if err != nil {
			return fmt.Errorf("symbol %s: %w", sc.Symbol, err)
		}
		b.controller.RegisterSymbol(*meta, sc.Trade)

		b.logger.Info().
			Str("symbol", sc.Symbol).
			Str("interval", sc.Interval).
			Float64("tick_size", meta.TickSize).
			Float64("step_size", meta.StepSize).
			Msg("symbol registered")
	}

	b.stream.SetExecutionReportCallback(func(report *binance.ExecutionReport) {
		b.controller.HandleExecutionReport(ctx, report)
	})
	b.stream.SetConnectedCallback(func(reconnect bool) {
		if reconnect {
			metrics.StreamReconnectsTotal.Inc()
		}
		b.eventBus.Publish(events.Event{Type: events.EventStreamConnected, Data: map[string]interface{}{"reconnect": reconnect}})
		// Missed events are not replayed; ask the exchange instead.
		b.controller.ReconcileAll(ctx)
	})

	if err := b.stream.Start(ctx); err != nil {
		return fmt.Errorf("starting user data stream: %w", err)
	}

	for _, sc := range b.symbols {
		b.wg.Add(1)
		go b.runSymbol(ctx, sc)
	}

	b.eventBus.Publish(events.Event{Type: events.EventAgentStarted, Data: map[string]interface{}{
		"symbols": len(b.symbols),
	}})
	b.logger.Info().Int("symbols", len(b.symbols)).Msg("trading bot started")
	return nil
}

// Stop shuts the evaluation loops and the stream down and waits for
// in-flight evaluations to finish.
func (b *TradingBot) Stop() {
	close(b.stopChan)
	b.stream.Stop()
	b.wg.Wait()

	b.eventBus.Publish(events.Event{Type: events.EventAgentStopped, Data: map[string]interface{}{}})
	b.logger.Info().Msg("trading bot stopped")
}

// runSymbol polls the symbol's candle boundary and drives one evaluation per
// crossing. One stalled symbol never blocks the others.
func (b *TradingBot) runSymbol(ctx context.Context, sc SymbolConfig) {
	defer b.wg.Done()

	logger := b.logger.With().Str("symbol", sc.Symbol).Logger()
	detector := &boundaryDetector{}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	logger.Info().Str("interval", sc.Interval).Msg("evaluation loop running")

	for {
		select {
		case <-b.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining, err := BoundaryRemaining(sc.Interval, time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("boundary computation failed")
				return
			}
			if detector.Crossed(remaining) {
				b.evaluate(ctx, sc, logger)
			}
		}
	}
}

// evaluate runs one Signal-Engine-then-Controller cycle for a symbol.
// Failures are logged and published; the loop carries on at the next
// boundary.
func (b *TradingBot) evaluate(ctx context.Context, sc SymbolConfig, logger zerolog.Logger) {
	limit := b.engine.LookbackLimit()
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	klines, err := b.client.GetKlines(ctx, sc.Symbol, sc.Interval, limit)
	if err != nil {
		logger.Error().Err(err).Msg("kline fetch failed")
		b.eventBus.PublishError("bot", "kline fetch failed", err)
		return
	}

	interval, err := IntervalDuration(sc.Interval)
	if err != nil {
		logger.Error().Err(err).Msg("bad interval")
		return
	}
	klines = strategy.TrimOpenCandle(klines, interval, time.Now())

	snap, err := b.engine.Evaluate(sc.Symbol, klines)
	if err != nil {
		logger.Error().Err(err).Msg("signal evaluation failed")
		b.eventBus.PublishError("bot", "signal evaluation failed", err)
		return
	}

	logger.Debug().
		Float64("close", snap.Close).
		Float64("lower_band", snap.LowerBand).
		Float64("upper_band", snap.UpperBand).
		Bool("entry_signal", snap.EntrySignal).
		Msg("snapshot evaluated")

	if err := b.controller.OnSnapshot(ctx, snap); err != nil {
		logger.Error().Err(err).Msg("lifecycle transition failed")
	}
}

// SymbolStatus is a read-only view for the status API.
type SymbolStatus struct {
	Symbol            string  `json:"symbol"`
	Interval          string  `json:"interval"`
	Phase             string  `json:"phase"`
	BuyOrderID        int64   `json:"buy_order_id,omitempty"`
	TakeProfitOrderID int64   `json:"take_profit_order_id,omitempty"`
	EntryPrice        float64 `json:"entry_price,omitempty"`
	FilledQty         float64 `json:"filled_qty,omitempty"`
	TakeProfitPrice   float64 `json:"take_profit_price,omitempty"`
}

// Status reports the current state of every traded symbol.
func (b *TradingBot) Status() []SymbolStatus {
	statuses := make([]SymbolStatus, 0, len(b.symbols))
	for _, sc := range b.symbols {
		st, ok := b.controller.State(sc.Symbol)
		if !ok {
			continue
		}
		statuses = append(statuses, SymbolStatus{
			Symbol:            sc.Symbol,
			Interval:          sc.Interval,
			Phase:             st.Phase.String(),
			BuyOrderID:        st.BuyOrderID,
			TakeProfitOrderID: st.TakeProfitOrderID,
			EntryPrice:        st.EntryPrice,
			FilledQty:         st.FilledQty,
			TakeProfitPrice:   st.TakeProfitPrice,
		})
	}
	return statuses
}

// StreamRunning reports whether the fill stream is up.
func (b *TradingBot) StreamRunning() bool {
	return b.stream.IsRunning()
}

// StreamReconnects reports how often the fill stream has re-established.
func (b *TradingBot) StreamReconnects() int {
	return b.stream.Reconnects()
}
