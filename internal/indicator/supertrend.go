// Package indicator computes the SuperTrend indicator the strategy trades
// on. The indicator is an ATR band around the candle midpoint; the trend
// flips when a close crosses the active band, and the band itself doubles
// as the stop level for the open position.
package indicator

import (
	"errors"
	"math"

	"delta-trading-bot/internal/marketdata"
)

// ErrInsufficientData is returned when the candle window is too short to
// seed the ATR.
var ErrInsufficientData = errors.New("insufficient candle data for indicator")

// Signal is the direction the indicator currently favors.
type Signal int

const (
	Flat Signal = iota
	Long
	Short
)

func (s Signal) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Result is the indicator state after the most recent finalized candle.
type Result struct {
	Signal     Signal
	PrevSignal Signal  // signal one candle earlier, for flip detection
	StopLevel  float64 // active band; stop-loss level for a position in Signal's direction
	ATR        float64
}

// Flipped reports whether the trend changed direction on the latest candle.
func (r *Result) Flipped() bool {
	return r.PrevSignal != Flat && r.Signal != r.PrevSignal
}

// Point is the indicator value at one candle, used by the series form.
type Point struct {
	Signal Signal
	Line   float64
	ATR    float64
}

// Compute evaluates SuperTrend over the candle window and returns the state
// at the last candle. Candles must be oldest first and at least period+1
// long.
func Compute(candles []marketdata.Candle, period int, multiplier float64) (*Result, error) {
	series, err := ComputeSeries(candles, period, multiplier)
	if err != nil {
		return nil, err
	}

	last := series[len(series)-1]
	res := &Result{
		Signal:    last.Signal,
		StopLevel: last.Line,
		ATR:       last.ATR,
	}
	if len(series) > 1 {
		res.PrevSignal = series[len(series)-2].Signal
	}
	return res, nil
}

// ComputeSeries evaluates SuperTrend at every candle from index period
// onward. The returned slice has len(candles)-period points, aligned so the
// last point corresponds to the last candle.
func ComputeSeries(candles []marketdata.Candle, period int, multiplier float64) ([]Point, error) {
	if period < 1 {
		return nil, errors.New("indicator period must be positive")
	}
	if len(candles) < period+1 {
		return nil, ErrInsufficientData
	}

	atr := wilderATR(candles, period)

	// Bands and trend are seeded at the first candle with a valid ATR
	series := make([]Point, 0, len(candles)-period)

	var (
		finalUpper, finalLower float64
		trend                  Signal
	)

	for i := period; i < len(candles); i++ {
		c := candles[i]
		hl2 := (c.High + c.Low) / 2
		basicUpper := hl2 + multiplier*atr[i]
		basicLower := hl2 - multiplier*atr[i]

		if i == period {
			finalUpper = basicUpper
			finalLower = basicLower
			if c.Close >= hl2 {
				trend = Long
			} else {
				trend = Short
			}
		} else {
			prevClose := candles[i-1].Close

			// Bands only tighten while the trend holds
			if basicUpper < finalUpper || prevClose > finalUpper {
				finalUpper = basicUpper
			}
			if basicLower > finalLower || prevClose < finalLower {
				finalLower = basicLower
			}

			// A close through the active band flips the trend and
			// resets the opposite band
			if trend == Long && c.Close < finalLower {
				trend = Short
				finalUpper = basicUpper
			} else if trend == Short && c.Close > finalUpper {
				trend = Long
				finalLower = basicLower
			}
		}

		line := finalLower
		if trend == Short {
			line = finalUpper
		}
		series = append(series, Point{Signal: trend, Line: line, ATR: atr[i]})
	}

	return series, nil
}

// wilderATR returns the Wilder-smoothed average true range per candle.
// Indices below period are zero; the value at index period is the SMA seed.
func wilderATR(candles []marketdata.Candle, period int) []float64 {
	tr := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	atr := make([]float64, len(candles))
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr[period] = sum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}
