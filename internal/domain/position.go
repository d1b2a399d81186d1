package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is one open position. Exactly one may exist per symbol; it is
// owned by the engine and mutated only through price updates and the
// breakeven ratchet.
type Position struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64 // 0 = none, winner runs on the trailing stop only
	OpenedAt   time.Time
	StrategyID string

	// PeakFavorablePct tracks the best favorable excursion seen so far,
	// in percent of entry price, updated from each candle's favorable
	// extreme.
	PeakFavorablePct float64

	// RiskUnit is the entry-to-stop distance at open time. One full risk
	// unit of favorable excursion arms the breakeven ratchet.
	RiskUnit float64

	EntryFee  float64
	Breakeven bool
}

// FavorablePct returns how far the given price has moved in the position's
// favor, in percent of entry price. Negative when under water.
func (p *Position) FavorablePct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	diff := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideShort {
		return -diff
	}
	return diff
}

// FavorableExtreme picks the candle extreme that is best for this side.
func (p *Position) FavorableExtreme(c Candle) float64 {
	if p.Side == SideShort {
		return c.Low
	}
	return c.High
}

// AdverseExtreme picks the candle extreme that is worst for this side.
func (p *Position) AdverseExtreme(c Candle) float64 {
	if p.Side == SideShort {
		return c.High
	}
	return c.Low
}

// PnL returns the gross profit at the given exit price, before fees.
func (p *Position) PnL(price float64) float64 {
	diff := (price - p.EntryPrice) * p.Quantity
	if p.Side == SideShort {
		return -diff
	}
	return diff
}

func (p *Position) Notional(price float64) float64 {
	return price * p.Quantity
}

// StopHit reports whether the adverse extreme reached the stop level.
func (p *Position) StopHit(adverse float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Side == SideShort {
		return adverse >= p.StopLoss
	}
	return adverse <= p.StopLoss
}

// TargetHit reports whether the favorable extreme reached the take profit.
func (p *Position) TargetHit(favorable float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Side == SideShort {
		return favorable <= p.TakeProfit
	}
	return favorable >= p.TakeProfit
}

// TrailingStopState shadows one position with a volatility-driven stop
// that only ever tightens. Created at open, discarded at close.
type TrailingStopState struct {
	Symbol                string
	Side                  Side
	HighestFavorablePrice float64
	CurrentStop           float64
	ATRMultiple           float64
}

func NewTrailingStopState(p *Position, atrMultiple float64) *TrailingStopState {
	return &TrailingStopState{
		Symbol:                p.Symbol,
		Side:                  p.Side,
		HighestFavorablePrice: p.EntryPrice,
		ATRMultiple:           atrMultiple,
	}
}

// Update ratchets the stop from the latest favorable extreme and ATR
// reading. The stop is monotonic: it never loosens. A zero atr leaves the
// stop untouched but still tracks the favorable peak.
func (t *TrailingStopState) Update(favorableExtreme, atr float64) {
	if t.Side == SideShort {
		if favorableExtreme < t.HighestFavorablePrice {
			t.HighestFavorablePrice = favorableExtreme
		}
		if atr <= 0 {
			return
		}
		candidate := t.HighestFavorablePrice + atr*t.ATRMultiple
		if t.CurrentStop == 0 || candidate < t.CurrentStop {
			t.CurrentStop = candidate
		}
		return
	}

	if favorableExtreme > t.HighestFavorablePrice {
		t.HighestFavorablePrice = favorableExtreme
	}
	if atr <= 0 {
		return
	}
	candidate := t.HighestFavorablePrice - atr*t.ATRMultiple
	if candidate > t.CurrentStop {
		t.CurrentStop = candidate
	}
}

// Stopped reports whether price has crossed the ratcheted stop.
func (t *TrailingStopState) Stopped(price float64) bool {
	if t.CurrentStop == 0 {
		return false
	}
	if t.Side == SideShort {
		return price >= t.CurrentStop
	}
	return price <= t.CurrentStop
}
