package strategy

import (
	"fmt"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// MeanReversion fades stretched moves away from the SMA: buys deep
// discounts, sells rich premiums, stays neutral inside the band.
type MeanReversion struct {
	period  int
	bandPct float64
}

func NewMeanReversion(period int, bandPct float64) *MeanReversion {
	return &MeanReversion{period: period, bandPct: bandPct}
}

func (s *MeanReversion) Name() string    { return fmt.Sprintf("meanrev_%d", s.period) }
func (s *MeanReversion) MinCandles() int { return s.period }

func (s *MeanReversion) Analyze(history []domain.Candle) *domain.Signal {
	if len(history) < s.period {
		return nil
	}
	mean := sma(history, s.period)
	if mean == 0 {
		return nil
	}
	last := history[len(history)-1]
	devPct := (last.Close - mean) / mean * 100

	var dir domain.Direction
	switch {
	case devPct < -2*s.bandPct:
		dir = domain.StrongBuy
	case devPct < -s.bandPct:
		dir = domain.Buy
	case devPct > 2*s.bandPct:
		dir = domain.StrongSell
	case devPct > s.bandPct:
		dir = domain.Sell
	default:
		dir = domain.Neutral
	}

	sig := &domain.Signal{
		Strategy:   s.Name(),
		Symbol:     last.Symbol,
		Direction:  dir,
		Confidence: clamp01(0.4 + abs(devPct)/(4*s.bandPct)),
		Reason:     fmt.Sprintf("deviation %.2f%% from sma%d", devPct, s.period),
	}
	// The mean itself is the target; the stop sits beyond the stretch.
	if dir.IsBullish() {
		sig.SuggestedEntry = last.Close
		sig.SuggestedStop = last.Close * (1 - s.bandPct/100)
		sig.SuggestedTarget = mean
	} else if dir.IsBearish() {
		sig.SuggestedEntry = last.Close
		sig.SuggestedStop = last.Close * (1 + s.bandPct/100)
		sig.SuggestedTarget = mean
	}
	return sig
}
