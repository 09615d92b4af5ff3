package binance

import (
	"math"
	"strconv"
)

// SymbolMetadata holds the precision filters for one trading symbol, fetched
// once at startup from exchange info and immutable afterwards.
type SymbolMetadata struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	TickSize   float64
	StepSize   float64
}

// PriceRound snaps a price to the symbol's tick size, rounding half up.
func (m SymbolMetadata) PriceRound(price float64) float64 {
	return roundToStep(price, m.TickSize)
}

// QtyRound snaps a quantity to the symbol's step size, rounding half up.
func (m SymbolMetadata) QtyRound(qty float64) float64 {
	return roundToStep(qty, m.StepSize)
}

// QtyRoundDown truncates a quantity to the symbol's step size. Used when
// sizing a sell so the order never exceeds the available balance.
func (m SymbolMetadata) QtyRoundDown(qty float64) float64 {
	if m.StepSize <= 0 {
		return qty
	}
	return trim9(m.StepSize * math.Floor(qty/m.StepSize))
}

func roundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return trim9(step * math.Floor(value/step+0.5))
}

// trim9 keeps results to 9 decimal places so repeated float math does not
// drift submitted values off the exchange grid.
func trim9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// FormatFloat renders a price or quantity for a query parameter without
// exponent notation or trailing zero padding.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
