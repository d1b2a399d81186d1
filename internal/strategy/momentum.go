package strategy

import (
	"fmt"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// Momentum signals on the rate of change over a lookback window, with
// suggested stop and target derived from the move itself.
type Momentum struct {
	lookback int
}

func NewMomentum(lookback int) *Momentum {
	return &Momentum{lookback: lookback}
}

func (s *Momentum) Name() string    { return fmt.Sprintf("momentum_%d", s.lookback) }
func (s *Momentum) MinCandles() int { return s.lookback + 1 }

func (s *Momentum) Analyze(history []domain.Candle) *domain.Signal {
	if len(history) < s.lookback+1 {
		return nil
	}
	last := history[len(history)-1]
	past := history[len(history)-1-s.lookback]
	if past.Close <= 0 {
		return nil
	}
	rocPct := (last.Close - past.Close) / past.Close * 100

	var dir domain.Direction
	switch {
	case rocPct > 5:
		dir = domain.StrongBuy
	case rocPct > 1.5:
		dir = domain.Buy
	case rocPct < -5:
		dir = domain.StrongSell
	case rocPct < -1.5:
		dir = domain.Sell
	default:
		dir = domain.Neutral
	}

	sig := &domain.Signal{
		Strategy:   s.Name(),
		Symbol:     last.Symbol,
		Direction:  dir,
		Confidence: clamp01(0.4 + abs(rocPct)/10),
		Reason:     fmt.Sprintf("roc%d %.2f%%", s.lookback, rocPct),
	}
	move := abs(rocPct) / 100 * last.Close
	switch {
	case dir.IsBullish():
		sig.SuggestedEntry = last.Close
		sig.SuggestedStop = last.Close - move/2
		sig.SuggestedTarget = last.Close + move
	case dir.IsBearish():
		sig.SuggestedEntry = last.Close
		sig.SuggestedStop = last.Close + move/2
		sig.SuggestedTarget = last.Close - move
	}
	return sig
}
