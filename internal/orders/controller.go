package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/KonstantinMB/tradelikebot/internal/binance"
	"github.com/KonstantinMB/tradelikebot/internal/events"
	"github.com/KonstantinMB/tradelikebot/internal/metrics"
	"github.com/KonstantinMB/tradelikebot/internal/strategy"
)

// ErrOrderOutstanding means a transition tried to place an order while one
// was already open for the symbol. This is a programming error in the
// transition logic and must fail fast, never double-place.
var ErrOrderOutstanding = errors.New("an order is already outstanding for this symbol")

// TradeConfig is the per-symbol trading configuration handed in at startup.
type TradeConfig struct {
	Quantity  float64 // order size in base asset units
	OrderType string  // LIMIT or MARKET for the entry order
	FeeRate   float64 // taker/maker fee fraction, e.g. 0.001
}

// Controller drives the per-symbol order lifecycle. Scheduler-triggered
// evaluations arrive through OnSnapshot; asynchronous fills arrive through
// HandleExecutionReport. Both paths serialize on the StateTable's per-symbol
// lock, and fill notifications are the only thing that moves a pending phase
// forward.
type Controller struct {
	client binance.SpotClient
	table  *StateTable
	bus    *events.EventBus
	logger zerolog.Logger

	meta map[string]binance.SymbolMetadata
	cfgs map[string]TradeConfig
}

func NewController(client binance.SpotClient, table *StateTable, bus *events.EventBus, logger zerolog.Logger) *Controller {
	return &Controller{
		client: client,
		table:  table,
		bus:    bus,
		logger: logger.With().Str("component", "controller").Logger(),
		meta:   make(map[string]binance.SymbolMetadata),
		cfgs:   make(map[string]TradeConfig),
	}
}

// RegisterSymbol adds a symbol with its precision metadata and trade
// configuration. Called once per symbol at startup, before any evaluation.
func (c *Controller) RegisterSymbol(meta binance.SymbolMetadata, cfg TradeConfig) {
	c.meta[meta.Symbol] = meta
	c.cfgs[meta.Symbol] = cfg
	c.table.Register(meta.Symbol)
	metrics.SymbolPhase.WithLabelValues(meta.Symbol).Set(float64(PhaseIdle))
}

// State exposes a copy of the symbol's current state.
func (c *Controller) State(symbol string) (SymbolState, bool) {
	return c.table.Snapshot(symbol)
}

// States exposes a copy of every symbol's state.
func (c *Controller) States() []SymbolState {
	return c.table.All()
}

// OnSnapshot runs one scheduler-driven transition for the snapshot's symbol.
// Exactly one snapshot is consumed per boundary; bands are never recomputed
// mid-cycle.
func (c *Controller) OnSnapshot(ctx context.Context, snap *strategy.SignalSnapshot) error {
	meta, ok := c.meta[snap.Symbol]
	if !ok {
		return fmt.Errorf("symbol %s is not registered", snap.Symbol)
	}
	cfg := c.cfgs[snap.Symbol]

	metrics.EvaluationsTotal.WithLabelValues(snap.Symbol).Inc()
	if snap.EntrySignal {
		metrics.EntrySignalsTotal.WithLabelValues(snap.Symbol).Inc()
	}
	c.bus.PublishSignalEvaluated(snap.Symbol, snap.Close, snap.LowerBand, snap.UpperBand, snap.EntrySignal)

	return c.table.With(snap.Symbol, func(st *SymbolState) error {
		st.LastLowerBand = snap.LowerBand
		st.LastUpperBand = snap.UpperBand

		switch st.Phase {
		case PhaseIdle:
			if !snap.EntrySignal {
				return nil
			}
			return c.placeBuy(ctx, st, meta, cfg, snap.LowerBand)

		case PhaseBuyPending:
			return c.refreshBuy(ctx, st, meta, cfg, snap.LowerBand)

		case PhasePosition, PhaseTakeProfitPending:
			return c.placeTakeProfit(ctx, st, meta, cfg, snap.UpperBand)

		case PhaseTakeProfitPlaced:
			return c.refreshTakeProfit(ctx, st, meta, cfg, snap.UpperBand)
		}
		return nil
	})
}

// HandleExecutionReport applies a fill notification from the user data
// stream. Reports for unknown or already-consumed order ids are ignored, so
// duplicate delivery cannot double-transition state.
func (c *Controller) HandleExecutionReport(ctx context.Context, report *binance.ExecutionReport) {
	if report.OrderStatus != "FILLED" {
		return
	}
	if report.ClientOrderId != "" && !IsOwnClientOrderID(report.ClientOrderId) {
		c.logger.Debug().
			Str("symbol", report.Symbol).
			Str("client_order_id", report.ClientOrderId).
			Msg("ignoring fill placed outside this agent")
		return
	}

	err := c.table.With(report.Symbol, func(st *SymbolState) error {
		switch {
		case report.Side == "BUY" && report.OrderId == st.BuyOrderID && st.Phase == PhaseBuyPending:
			c.applyBuyFill(ctx, st, report.CumulativeFilledQty, report.LastFilledPrice)

		case report.Side == "SELL" && report.OrderId == st.TakeProfitOrderID &&
			(st.Phase == PhaseTakeProfitPlaced || st.Phase == PhaseTakeProfitPending):
			c.applySellFill(st, report.CumulativeFilledQty, report.LastFilledPrice)

		default:
			c.logger.Debug().
				Str("symbol", report.Symbol).
				Int64("order_id", report.OrderId).
				Str("side", report.Side).
				Str("phase", st.Phase.String()).
				Msg("ignoring fill for untracked or consumed order")
		}
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("symbol", report.Symbol).Msg("fill for unregistered symbol ignored")
	}
}

// Reconcile re-queries the outstanding order for one symbol and applies the
// exchange's answer. Called after a stream reconnect, when missed fills are
// possible.
func (c *Controller) Reconcile(ctx context.Context, symbol string) error {
	meta, ok := c.meta[symbol]
	if !ok {
		return fmt.Errorf("symbol %s is not registered", symbol)
	}
	cfg := c.cfgs[symbol]

	return c.table.With(symbol, func(st *SymbolState) error {
		switch st.Phase {
		case PhaseBuyPending:
			return c.requeryBuy(ctx, st)
		case PhaseTakeProfitPlaced:
			return c.requeryTakeProfit(ctx, st)
		case PhasePosition, PhaseTakeProfitPending:
			// No open order; re-arm the take-profit if bands are known.
			if st.LastUpperBand > 0 {
				return c.placeTakeProfit(ctx, st, meta, cfg, st.LastUpperBand)
			}
		}
		return nil
	})
}

// ReconcileAll reconciles every registered symbol.
func (c *Controller) ReconcileAll(ctx context.Context) {
	for _, symbol := range c.table.Symbols() {
		if err := c.Reconcile(ctx, symbol); err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciliation failed")
			c.bus.PublishError("controller", "reconciliation failed", err)
		}
	}
}

// ============================================================================
// TRANSITIONS (all run under the symbol lock)
// ============================================================================

func (c *Controller) setPhase(st *SymbolState, phase Phase) {
	st.Phase = phase
	metrics.SymbolPhase.WithLabelValues(st.Symbol).Set(float64(phase))
}

func (c *Controller) placeBuy(ctx context.Context, st *SymbolState, meta binance.SymbolMetadata, cfg TradeConfig, lowerBand float64) error {
	if st.BuyOrderID != 0 || st.TakeProfitOrderID != 0 {
		return fmt.Errorf("%w: symbol=%s buy=%d tp=%d", ErrOrderOutstanding, st.Symbol, st.BuyOrderID, st.TakeProfitOrderID)
	}

	qty := meta.QtyRound(cfg.Quantity)
	params := map[string]string{
		"symbol":           st.Symbol,
		"side":             "BUY",
		"quantity":         binance.FormatFloat(qty),
		"newClientOrderId": NewClientOrderID("BUY"),
	}

	price := 0.0
	if cfg.OrderType == "MARKET" {
		params["type"] = "MARKET"
	} else {
		price = meta.PriceRound(lowerBand)
		params["type"] = "LIMIT"
		params["timeInForce"] = "GTC"
		params["price"] = binance.FormatFloat(price)
	}

	resp, err := c.client.PlaceOrder(ctx, params)
	if err != nil {
		metrics.OrderErrorsTotal.WithLabelValues(st.Symbol).Inc()
		c.bus.PublishError("controller", "buy order rejected", err)
		c.logger.Error().Err(err).Str("symbol", st.Symbol).Msg("buy order failed, state unchanged")
		return err
	}

	st.BuyOrderID = resp.OrderId
	c.setPhase(st, PhaseBuyPending)

	metrics.OrdersPlacedTotal.WithLabelValues(st.Symbol, "BUY").Inc()
	c.bus.PublishOrderPlaced(resp.OrderId, st.Symbol, params["type"], "BUY", price, qty)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("order_id", resp.OrderId).
		Float64("price", price).
		Float64("quantity", qty).
		Msg("buy order placed")
	return nil
}

// refreshBuy keeps a pending buy pinned to the fresh lower band. The status
// query comes first: a fill or cancel the stream has not delivered yet takes
// priority over chasing the band.
func (c *Controller) refreshBuy(ctx context.Context, st *SymbolState, meta binance.SymbolMetadata, cfg TradeConfig, lowerBand float64) error {
	order, err := c.client.QueryOrder(ctx, st.Symbol, st.BuyOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case "FILLED":
		c.applyBuyFill(ctx, st, order.ExecutedQty, order.Price)
		return nil
	case "CANCELED", "EXPIRED", "REJECTED":
		c.logger.Warn().Str("symbol", st.Symbol).Int64("order_id", st.BuyOrderID).
			Str("status", order.Status).Msg("buy order gone, returning to idle")
		st.BuyOrderID = 0
		c.setPhase(st, PhaseIdle)
		return nil
	}

	newPrice := meta.PriceRound(lowerBand)
	if newPrice == order.Price || newPrice <= 0 {
		return nil
	}

	params := map[string]string{
		"symbol":           st.Symbol,
		"side":             "BUY",
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         binance.FormatFloat(order.OrigQty),
		"price":            binance.FormatFloat(newPrice),
		"newClientOrderId": NewClientOrderID("BUY"),
	}

	resp, err := c.client.ReplaceOrder(ctx, st.BuyOrderID, params)
	if err != nil {
		if errors.Is(err, binance.ErrOrderNotFound) {
			// The order vanished between query and replace; ask again
			// instead of assuming it was canceled.
			return c.requeryBuy(ctx, st)
		}
		metrics.OrderErrorsTotal.WithLabelValues(st.Symbol).Inc()
		return err
	}

	oldID := st.BuyOrderID
	st.BuyOrderID = resp.OrderId

	metrics.OrdersReplacedTotal.WithLabelValues(st.Symbol, "BUY").Inc()
	c.bus.PublishOrderReplaced(oldID, resp.OrderId, st.Symbol, "BUY", newPrice)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("old_order_id", oldID).
		Int64("new_order_id", resp.OrderId).
		Float64("price", newPrice).
		Msg("buy order replaced at fresh lower band")
	return nil
}

func (c *Controller) placeTakeProfit(ctx context.Context, st *SymbolState, meta binance.SymbolMetadata, cfg TradeConfig, upperBand float64) error {
	if st.TakeProfitOrderID != 0 {
		return fmt.Errorf("%w: symbol=%s tp=%d", ErrOrderOutstanding, st.Symbol, st.TakeProfitOrderID)
	}

	qty := st.FilledQty
	if balance, err := c.client.GetFreeBalance(ctx, meta.BaseAsset); err != nil {
		c.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("balance check failed, using filled quantity")
	} else if balance < qty {
		qty = balance
	}

	qty = meta.QtyRoundDown(qty * (1 - cfg.FeeRate))
	if qty <= 0 {
		return fmt.Errorf("take-profit quantity for %s rounded to zero", st.Symbol)
	}

	price := meta.PriceRound(upperBand)
	c.setPhase(st, PhaseTakeProfitPending)

	params := map[string]string{
		"symbol":           st.Symbol,
		"side":             "SELL",
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         binance.FormatFloat(qty),
		"price":            binance.FormatFloat(price),
		"newClientOrderId": NewClientOrderID("SELL"),
	}

	resp, err := c.client.PlaceOrder(ctx, params)
	if err != nil {
		// Stay in TAKE_PROFIT_PENDING; the next cycle retries.
		metrics.OrderErrorsTotal.WithLabelValues(st.Symbol).Inc()
		c.bus.PublishError("controller", "take-profit order rejected", err)
		c.logger.Error().Err(err).Str("symbol", st.Symbol).Msg("take-profit order failed")
		return err
	}

	st.TakeProfitOrderID = resp.OrderId
	st.SellQty = qty
	st.TakeProfitPrice = price
	c.setPhase(st, PhaseTakeProfitPlaced)

	metrics.OrdersPlacedTotal.WithLabelValues(st.Symbol, "SELL").Inc()
	c.bus.PublishTakeProfitPlaced(st.Symbol, resp.OrderId, price, qty)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("order_id", resp.OrderId).
		Float64("price", price).
		Float64("quantity", qty).
		Msg("take-profit order placed")
	return nil
}

// refreshTakeProfit chases the fresh upper band while the take-profit sits
// unfilled.
func (c *Controller) refreshTakeProfit(ctx context.Context, st *SymbolState, meta binance.SymbolMetadata, cfg TradeConfig, upperBand float64) error {
	newPrice := meta.PriceRound(upperBand)
	if newPrice == st.TakeProfitPrice || newPrice <= 0 {
		return nil
	}

	params := map[string]string{
		"symbol":           st.Symbol,
		"side":             "SELL",
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         binance.FormatFloat(st.SellQty),
		"price":            binance.FormatFloat(newPrice),
		"newClientOrderId": NewClientOrderID("SELL"),
	}

	resp, err := c.client.ReplaceOrder(ctx, st.TakeProfitOrderID, params)
	if err != nil {
		if errors.Is(err, binance.ErrOrderNotFound) {
			return c.requeryTakeProfit(ctx, st)
		}
		metrics.OrderErrorsTotal.WithLabelValues(st.Symbol).Inc()
		return err
	}

	oldID := st.TakeProfitOrderID
	st.TakeProfitOrderID = resp.OrderId
	st.TakeProfitPrice = newPrice

	metrics.OrdersReplacedTotal.WithLabelValues(st.Symbol, "SELL").Inc()
	c.bus.PublishOrderReplaced(oldID, resp.OrderId, st.Symbol, "SELL", newPrice)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("old_order_id", oldID).
		Int64("new_order_id", resp.OrderId).
		Float64("price", newPrice).
		Msg("take-profit replaced at fresh upper band")
	return nil
}

// requeryBuy asks the exchange for the truth about the tracked buy order.
func (c *Controller) requeryBuy(ctx context.Context, st *SymbolState) error {
	order, err := c.client.QueryOrder(ctx, st.Symbol, st.BuyOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case "FILLED":
		c.applyBuyFill(ctx, st, order.ExecutedQty, order.Price)
	case "CANCELED", "EXPIRED", "REJECTED":
		st.BuyOrderID = 0
		c.setPhase(st, PhaseIdle)
	}
	return nil
}

// requeryTakeProfit asks the exchange for the truth about the tracked
// take-profit order.
func (c *Controller) requeryTakeProfit(ctx context.Context, st *SymbolState) error {
	order, err := c.client.QueryOrder(ctx, st.Symbol, st.TakeProfitOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case "FILLED":
		c.applySellFill(st, order.ExecutedQty, order.Price)
	case "CANCELED", "EXPIRED", "REJECTED":
		// Still holding the position; re-place on the next cycle.
		st.TakeProfitOrderID = 0
		st.TakeProfitPrice = 0
		c.setPhase(st, PhasePosition)
	}
	return nil
}

// applyBuyFill records a confirmed entry and immediately arms the
// take-profit with the bands from the latest snapshot.
func (c *Controller) applyBuyFill(ctx context.Context, st *SymbolState, fillQty, fillPrice float64) {
	if fillPrice == 0 {
		// Market fills report no limit price; take it from trade history.
		if p, err := c.client.GetTradePrice(ctx, st.Symbol, st.BuyOrderID); err == nil && p > 0 {
			fillPrice = p
		}
	}

	orderID := st.BuyOrderID
	st.BuyOrderID = 0
	st.FilledQty = fillQty
	st.EntryPrice = fillPrice
	c.setPhase(st, PhasePosition)

	metrics.FillsTotal.WithLabelValues(st.Symbol, "BUY").Inc()
	c.bus.PublishPositionOpened(st.Symbol, orderID, fillPrice, fillQty)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("order_id", orderID).
		Float64("entry_price", fillPrice).
		Float64("quantity", fillQty).
		Msg("position opened")

	if st.LastUpperBand > 0 {
		meta := c.meta[st.Symbol]
		cfg := c.cfgs[st.Symbol]
		if err := c.placeTakeProfit(ctx, st, meta, cfg, st.LastUpperBand); err != nil {
			c.logger.Error().Err(err).Str("symbol", st.Symbol).Msg("immediate take-profit placement failed")
		}
	}
}

// applySellFill completes the cycle and resets the symbol to idle.
func (c *Controller) applySellFill(st *SymbolState, fillQty, fillPrice float64) {
	orderID := st.TakeProfitOrderID

	st.BuyOrderID = 0
	st.TakeProfitOrderID = 0
	st.FilledQty = 0
	st.SellQty = 0
	st.EntryPrice = 0
	st.TakeProfitPrice = 0
	c.setPhase(st, PhaseIdle)

	metrics.FillsTotal.WithLabelValues(st.Symbol, "SELL").Inc()
	c.bus.PublishCycleReset(st.Symbol, orderID, fillPrice, fillQty)
	c.logger.Info().
		Str("symbol", st.Symbol).
		Int64("order_id", orderID).
		Float64("exit_price", fillPrice).
		Float64("quantity", fillQty).
		Msg("take-profit filled, cycle reset")
}
