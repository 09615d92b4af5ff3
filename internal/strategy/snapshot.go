package strategy

import (
	"fmt"
	"time"

	"github.com/KonstantinMB/tradelikebot/internal/binance"
)

// Params holds the indicator configuration for one engine instance.
type Params struct {
	BandPeriod      int     // Bollinger rolling window
	BandStdDevs     float64 // band width in standard deviations
	EMAShortPeriod  int     // trend filter fast leg
	EMALongPeriod   int     // trend filter slow leg
	EMARegimePeriod int     // regime filter
	MACDFastPeriod  int
	MACDSlowPeriod  int
	MACDSignal      int
	BandWidthRatio  float64 // minimum upper/lower ratio for an entry
}

// DefaultParams returns the standard configuration.
func DefaultParams() Params {
	return Params{
		BandPeriod:      20,
		BandStdDevs:     2.0,
		EMAShortPeriod:  45,
		EMALongPeriod:   100,
		EMARegimePeriod: 480,
		MACDFastPeriod:  12,
		MACDSlowPeriod:  26,
		MACDSignal:      9,
		BandWidthRatio:  1.03,
	}
}

// SignalSnapshot is one immutable evaluation result. It is produced fresh at
// every candle boundary and never mutated afterwards.
type SignalSnapshot struct {
	Symbol         string
	CandleOpenTime time.Time
	GeneratedAt    time.Time

	Close      float64
	UpperBand  float64
	MiddleBand float64
	LowerBand  float64

	EMAShort  float64
	EMALong   float64
	EMARegime float64

	MACD          float64
	MACDSignal    float64
	MACDHistogram float64

	TrendFilter     bool // short EMA above long EMA
	RegimeFilter    bool // close above regime EMA
	BandWidthFilter bool // bands wide enough to cover fees
	MomentumFilter  bool // MACD histogram positive

	// EntrySignal is true when the close touched the lower band and every
	// filter agreed.
	EntrySignal bool
}

// Engine computes signal snapshots from candle history.
type Engine struct {
	params Params
}

func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// LookbackLimit returns how many candles an evaluation needs: twice the
// longest indicator period so every EMA is fully warmed up.
func (e *Engine) LookbackLimit() int {
	return e.params.EMARegimePeriod * 2
}

// MinCandles returns the smallest history that still produces a snapshot.
func (e *Engine) MinCandles() int {
	return e.params.EMARegimePeriod
}

// TrimOpenCandle drops the last candle when it is still forming: its open
// time falling within half an interval of now means it has not closed yet.
func TrimOpenCandle(klines []binance.Kline, interval time.Duration, now time.Time) []binance.Kline {
	if len(klines) == 0 {
		return klines
	}

	lastOpen := time.UnixMilli(klines[len(klines)-1].OpenTime)
	if now.Sub(lastOpen) < interval/2 {
		return klines[:len(klines)-1]
	}
	return klines
}

// Evaluate computes one snapshot from closed candles, oldest first.
func (e *Engine) Evaluate(symbol string, klines []binance.Kline) (*SignalSnapshot, error) {
	if len(klines) < e.MinCandles() {
		return nil, fmt.Errorf("need at least %d candles for %s, got %d", e.MinCandles(), symbol, len(klines))
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	latest := closes[len(closes)-1]

	upper, middle, lower := CalculateBollingerBands(closes, e.params.BandPeriod, e.params.BandStdDevs)
	emaShort := CalculateEMA(closes, e.params.EMAShortPeriod)
	emaLong := CalculateEMA(closes, e.params.EMALongPeriod)
	emaRegime := CalculateEMA(closes, e.params.EMARegimePeriod)
	macd, macdSignal, histogram := CalculateMACD(closes, e.params.MACDFastPeriod, e.params.MACDSlowPeriod, e.params.MACDSignal)

	snap := &SignalSnapshot{
		Symbol:         symbol,
		CandleOpenTime: time.UnixMilli(klines[len(klines)-1].OpenTime),
		GeneratedAt:    time.Now(),

		Close:      latest,
		UpperBand:  upper,
		MiddleBand: middle,
		LowerBand:  lower,

		EMAShort:  emaShort,
		EMALong:   emaLong,
		EMARegime: emaRegime,

		MACD:          macd,
		MACDSignal:    macdSignal,
		MACDHistogram: histogram,

		TrendFilter:     emaShort > emaLong,
		RegimeFilter:    latest > emaRegime,
		BandWidthFilter: lower > 0 && upper/lower > e.params.BandWidthRatio,
		MomentumFilter:  histogram > 0,
	}

	snap.EntrySignal = snap.Close <= snap.LowerBand &&
		snap.TrendFilter && snap.RegimeFilter &&
		snap.BandWidthFilter && snap.MomentumFilter

	return snap, nil
}
