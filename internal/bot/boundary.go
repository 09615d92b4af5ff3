package bot

import (
	"fmt"
	"time"
)

// Candle boundary arithmetic. A boundary is the instant the current candle
// of a timeframe closes; crossings are what trigger evaluations.

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour, // nominal; boundaries use calendar months
}

// threeDayAnchor is where Binance anchors its 3d candle grid.
var threeDayAnchor = time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC)

// weekAnchor is a Monday 00:00 UTC; weekly candles open on Mondays.
var weekAnchor = time.Date(1969, 12, 29, 0, 0, 0, 0, time.UTC)

// IntervalDuration returns the nominal length of a timeframe.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", interval)
	}
	return d, nil
}

// BoundaryRemaining returns how long until the current candle of the
// timeframe closes.
func BoundaryRemaining(interval string, now time.Time) (time.Duration, error) {
	now = now.UTC()

	switch interval {
	case "3d":
		return remainingOnGrid(now.Sub(threeDayAnchor), 72*time.Hour), nil
	case "1w":
		return remainingOnGrid(now.Sub(weekAnchor), 7*24*time.Hour), nil
	case "1M":
		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		return firstOfNext.Sub(now), nil
	}

	d, err := IntervalDuration(interval)
	if err != nil {
		return 0, err
	}
	return remainingOnGrid(time.Duration(now.UnixNano()), d), nil
}

func remainingOnGrid(elapsed, d time.Duration) time.Duration {
	rem := d - elapsed%d
	if rem == 0 {
		rem = d
	}
	return rem
}

// boundaryDetector fires when the remaining time to the next boundary
// increases between polls: the only way that happens is a boundary having
// just been crossed. A stalled poll still detects the crossing on its next
// run, unlike a wall clock alarm.
type boundaryDetector struct {
	prev   time.Duration
	primed bool
}

func (b *boundaryDetector) Crossed(remaining time.Duration) bool {
	crossed := b.primed && remaining > b.prev
	b.prev = remaining
	b.primed = true
	return crossed
}
