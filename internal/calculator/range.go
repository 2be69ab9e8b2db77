package calculator

import (
	"errors"
	"math"

	"MarketWarehouse/internal/model"
)

// WindowRange scans the most recent window bars and returns the high and low.
func WindowRange(bars []model.PriceBar, window int) (high, low float64, err error) {
	if len(bars) == 0 {
		return 0, 0, errors.New("no bars provided")
	}
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}
	n := len(bars)
	start := n - window
	if start < 0 {
		start = 0
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i < n; i++ {
		if bars[i].High > high {
			high = bars[i].High
		}
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	return high, low, nil
}

// Move is a window's percentage change of the high, close and low against
// the close just before the window opened.
type Move struct {
	High  float64
	Close float64
	Low   float64
}

// WindowMove computes the Move over the last window bars. Histories of
// window bars or fewer have no base close and yield the zero Move.
func WindowMove(bars []model.PriceBar, window int) Move {
	n := len(bars)
	if window <= 0 || n <= window {
		return Move{}
	}
	base := bars[n-window-1].Close
	if base <= 0 {
		return Move{}
	}
	high, low, err := WindowRange(bars, window)
	if err != nil {
		return Move{}
	}
	return Move{
		High:  pct(high, base),
		Close: pct(bars[n-1].Close, base),
		Low:   pct(low, base),
	}
}

func pct(v, base float64) float64 {
	return (v - base) / base * 100
}
