package strategy

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the Simple Moving Average of the last period closes
func CalculateSMA(closes []float64, period int) float64 {
	if len(closes) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// CalculateEMASeries calculates the Exponential Moving Average over the full
// series. The first period values seed the EMA with their simple average;
// entries before the seed index are zero. Returns nil when the series is
// shorter than the period.
func CalculateEMASeries(closes []float64, period int) []float64 {
	if len(closes) < period || period <= 0 {
		return nil
	}

	ema := make([]float64, len(closes))
	multiplier := 2.0 / float64(period+1)

	ema[period-1] = CalculateSMA(closes[:period], period)
	for i := period; i < len(closes); i++ {
		ema[i] = (closes[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}

// CalculateEMA calculates the latest Exponential Moving Average value
func CalculateEMA(closes []float64, period int) float64 {
	series := CalculateEMASeries(closes, period)
	if series == nil {
		return 0
	}
	return series[len(series)-1]
}

// ============================================================================
// VOLATILITY
// ============================================================================

// CalculateStdDev calculates the sample standard deviation of the last
// period closes around their mean
func CalculateStdDev(closes []float64, period int) float64 {
	if len(closes) < period || period < 2 {
		return 0
	}

	window := closes[len(closes)-period:]
	mean := CalculateSMA(closes, period)

	sumSq := 0.0
	for _, c := range window {
		d := c - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(period-1))
}

// CalculateBollingerBands calculates upper, middle and lower bands as the
// rolling mean plus/minus stdDevs standard deviations
func CalculateBollingerBands(closes []float64, period int, stdDevs float64) (upper, middle, lower float64) {
	middle = CalculateSMA(closes, period)
	std := CalculateStdDev(closes, period)
	upper = middle + stdDevs*std
	lower = middle - stdDevs*std
	return upper, middle, lower
}

// ============================================================================
// MOMENTUM
// ============================================================================

// CalculateMACD calculates the MACD line (fast EMA minus slow EMA), its
// signal line (EMA of the MACD line) and the histogram (line minus signal)
func CalculateMACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal, histogram float64) {
	fast := CalculateEMASeries(closes, fastPeriod)
	slow := CalculateEMASeries(closes, slowPeriod)
	if fast == nil || slow == nil {
		return 0, 0, 0
	}

	// The MACD line only exists from where the slow EMA is seeded.
	macd := make([]float64, 0, len(closes)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(closes); i++ {
		macd = append(macd, fast[i]-slow[i])
	}

	sig := CalculateEMASeries(macd, signalPeriod)
	if sig == nil {
		return macd[len(macd)-1], 0, 0
	}

	line = macd[len(macd)-1]
	signal = sig[len(sig)-1]
	histogram = line - signal
	return line, signal, histogram
}
