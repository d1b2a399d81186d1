package usecase

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
)

// ExitDecision is the single exit an evaluation may produce: the reason
// and the modeled execution price (stop level, target level, trail level
// or the update's close), before slippage.
type ExitDecision struct {
	Reason domain.ExitReason
	Price  float64
}

// ExitStateMachine evaluates one open position against each price update.
// Conditions are checked in fixed priority order against the update's full
// high/low range; the first match wins and at most one exit is emitted per
// update.
type ExitStateMachine struct {
	risk config.RiskLimits
	log  *zap.Logger
}

func NewExitStateMachine(risk config.RiskLimits, log *zap.Logger) *ExitStateMachine {
	return &ExitStateMachine{risk: risk, log: log}
}

// Evaluate updates peak tracking, the trailing ratchet and the breakeven
// ratchet, and returns the triggered exit if any. A corrupted position is
// a fatal internal error, never silently skipped.
func (m *ExitStateMachine) Evaluate(pos *domain.Position, ts *domain.TrailingStopState, c domain.Candle, atr float64, now time.Time) (*ExitDecision, error) {
	if pos.Quantity <= 0 || math.IsNaN(pos.Quantity) || math.IsInf(pos.Quantity, 0) {
		return nil, fmt.Errorf("%w: position %s has quantity %v", domain.ErrInvariant, pos.Symbol, pos.Quantity)
	}
	if pos.EntryPrice <= 0 || math.IsNaN(pos.EntryPrice) {
		return nil, fmt.Errorf("%w: position %s has entry price %v", domain.ErrInvariant, pos.Symbol, pos.EntryPrice)
	}

	favorable := pos.FavorableExtreme(c)
	adverse := pos.AdverseExtreme(c)

	// Peak tracking uses the favorable extreme, not the close; tracking
	// closes only would understate trailing activation.
	if favPct := pos.FavorablePct(favorable); favPct > pos.PeakFavorablePct {
		pos.PeakFavorablePct = favPct
	}
	if ts != nil {
		ts.Update(favorable, atr)
	}

	// 1. Stop loss: adverse extreme against the stop level.
	if pos.StopHit(adverse) {
		m.logExit(pos, domain.ExitStopLoss, pos.StopLoss)
		return &ExitDecision{Reason: domain.ExitStopLoss, Price: pos.StopLoss}, nil
	}

	// 2. Take profit, when one is set. High-confidence entries may omit
	// it and let the trailing stop run the winner.
	if pos.TargetHit(favorable) {
		m.logExit(pos, domain.ExitTakeProfit, pos.TakeProfit)
		return &ExitDecision{Reason: domain.ExitTakeProfit, Price: pos.TakeProfit}, nil
	}

	// 3. Trailing stop. The ATR ratchet applies when configured and
	// armed; otherwise the percentage activation/trail rule.
	if exit := m.checkTrailing(pos, ts, adverse); exit != nil {
		m.logExit(pos, exit.Reason, exit.Price)
		return exit, nil
	}

	// 4. Time limit, regardless of P&L.
	if now.Sub(pos.OpenedAt) > m.risk.MaxHoldingDuration {
		m.logExit(pos, domain.ExitTimeLimit, c.Close)
		return &ExitDecision{Reason: domain.ExitTimeLimit, Price: c.Close}, nil
	}

	// No exit: the breakeven ratchet may still tighten the stop for the
	// next update.
	m.breakevenRatchet(pos, favorable)
	return nil, nil
}

func (m *ExitStateMachine) checkTrailing(pos *domain.Position, ts *domain.TrailingStopState, adverse float64) *ExitDecision {
	if m.risk.TrailingATRMultiple > 0 && ts != nil && ts.CurrentStop != 0 {
		if ts.Stopped(adverse) {
			return &ExitDecision{Reason: domain.ExitTrailingStop, Price: ts.CurrentStop}
		}
		return nil
	}

	if m.risk.TrailingActivationPct <= 0 || pos.PeakFavorablePct < m.risk.TrailingActivationPct {
		return nil
	}
	trailLevel := pos.PeakFavorablePct - m.risk.TrailingTrailPct
	if pos.FavorablePct(adverse) >= trailLevel {
		return nil
	}
	// Execute at the trail level, not at the adverse extreme.
	price := pos.EntryPrice * (1 + trailLevel/100)
	if pos.Side == domain.SideShort {
		price = pos.EntryPrice * (1 - trailLevel/100)
	}
	return &ExitDecision{Reason: domain.ExitTrailingStop, Price: price}
}

// breakevenRatchet moves the stop to entry plus round-trip fees once the
// position has earned one full risk unit. The stop only ever tightens and
// re-applying at the same excursion is a no-op.
func (m *ExitStateMachine) breakevenRatchet(pos *domain.Position, favorable float64) {
	if pos.RiskUnit <= 0 {
		return
	}
	excursion := favorable - pos.EntryPrice
	if pos.Side == domain.SideShort {
		excursion = pos.EntryPrice - favorable
	}
	if excursion < pos.RiskUnit {
		return
	}

	feeAdj := 2 * m.risk.FeeRate
	if pos.Side == domain.SideShort {
		breakeven := pos.EntryPrice * (1 - feeAdj)
		if pos.StopLoss == 0 || breakeven < pos.StopLoss {
			pos.StopLoss = breakeven
			pos.Breakeven = true
		}
		return
	}
	breakeven := pos.EntryPrice * (1 + feeAdj)
	if breakeven > pos.StopLoss {
		pos.StopLoss = breakeven
		pos.Breakeven = true
	}
}

func (m *ExitStateMachine) logExit(pos *domain.Position, reason domain.ExitReason, price float64) {
	if m.log != nil {
		m.log.Debug("exit triggered",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", string(reason)),
			zap.Float64("price", price),
			zap.Float64("peak_favorable_pct", pos.PeakFavorablePct))
	}
}
