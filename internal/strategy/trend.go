package strategy

import (
	"fmt"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// TrendFollow signals on the fast/slow SMA relationship. The gap between
// the averages, as a fraction of price, drives both the direction tier and
// the confidence.
type TrendFollow struct {
	fast int
	slow int
}

func NewTrendFollow(fast, slow int) *TrendFollow {
	return &TrendFollow{fast: fast, slow: slow}
}

func (s *TrendFollow) Name() string    { return fmt.Sprintf("trend_%d_%d", s.fast, s.slow) }
func (s *TrendFollow) MinCandles() int { return s.slow }

func (s *TrendFollow) Analyze(history []domain.Candle) *domain.Signal {
	if len(history) < s.slow {
		return nil
	}
	fast := sma(history, s.fast)
	slow := sma(history, s.slow)
	if slow == 0 {
		return nil
	}
	last := history[len(history)-1]
	gapPct := (fast - slow) / slow * 100

	var dir domain.Direction
	switch {
	case gapPct > 1.0:
		dir = domain.StrongBuy
	case gapPct > 0.2:
		dir = domain.Buy
	case gapPct < -1.0:
		dir = domain.StrongSell
	case gapPct < -0.2:
		dir = domain.Sell
	default:
		dir = domain.Neutral
	}

	sig := &domain.Signal{
		Strategy:   s.Name(),
		Symbol:     last.Symbol,
		Direction:  dir,
		Confidence: clamp01(0.5 + abs(gapPct)/4),
		Reason:     fmt.Sprintf("sma%d/sma%d gap %.2f%%", s.fast, s.slow, gapPct),
	}
	if dir.IsBullish() {
		sig.SuggestedStop = swingLow(history, s.fast)
	} else if dir.IsBearish() {
		sig.SuggestedStop = swingHigh(history, s.fast)
	}
	return sig
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
