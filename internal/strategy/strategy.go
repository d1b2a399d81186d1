// Package strategy ships reference implementations of the domain.Strategy
// port. The engine treats strategies as opaque opinion providers; these
// exist so the binaries run out of the box and as templates for real ones.
package strategy

import "github.com/mlukyanov/tradecore/internal/domain"

func sma(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// swingLow returns the lowest low of the last n candles.
func swingLow(candles []domain.Candle, n int) float64 {
	if len(candles) < n {
		n = len(candles)
	}
	low := candles[len(candles)-1].Low
	for _, c := range candles[len(candles)-n:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

// swingHigh returns the highest high of the last n candles.
func swingHigh(candles []domain.Candle, n int) float64 {
	if len(candles) < n {
		n = len(candles)
	}
	high := candles[len(candles)-1].High
	for _, c := range candles[len(candles)-n:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
