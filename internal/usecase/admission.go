package usecase

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/indicator"
)

// Admission is a fully specified open instruction: the position to insert,
// its trailing shadow and the balance debit (entry notional plus fee).
type Admission struct {
	Position *domain.Position
	Trailing *domain.TrailingStopState
	Cost     float64
}

// AdmissionInput carries the per-tick context an admission decision needs:
// the current price, the engine's logical clock, the volatility regime (if
// known) and whether the engine is emergency-stopped.
type AdmissionInput struct {
	Price     float64
	Now       time.Time
	Clock     uint64
	Vol       indicator.VolatilityLevel
	VolKnown  bool
	Emergency bool
	// FallbackLevels applies the percentage stop/target defaults when the
	// decision carries none (live mode behavior).
	FallbackLevels bool
}

// AdmissionController decides whether an aggregated decision becomes a
// position and how large. Gate failures are expected control flow and are
// returned as reject reasons, never as errors.
type AdmissionController struct {
	risk config.RiskLimits
	log  *zap.Logger
}

func NewAdmissionController(risk config.RiskLimits, log *zap.Logger) *AdmissionController {
	return &AdmissionController{risk: risk, log: log}
}

// Decide runs the gate chain in its fixed order, then sizes the position.
// It reads the portfolio but never mutates it; the caller applies the
// returned Admission atomically under the portfolio boundary.
func (c *AdmissionController) Decide(d domain.AggregatedDecision, pf *Portfolio, in AdmissionInput) (*Admission, domain.RejectReason) {
	if in.Emergency {
		return nil, c.reject(d, domain.RejectEmergencyStopped)
	}

	// Gate 1: direction.
	side := d.Direction.Side()
	if side == "" {
		return nil, c.reject(d, domain.RejectNeutralDirection)
	}
	if side == domain.SideShort && !c.risk.AllowShort {
		return nil, c.reject(d, domain.RejectShortsDisabled)
	}

	// Gate 2: confidence, against the max contributor confidence. The
	// chosen levels come from that contributor, so the gate must agree
	// with that choice.
	if d.MaxConfidence < c.risk.MinConfidence {
		return nil, c.reject(d, domain.RejectBelowConfidence)
	}

	// Gate 3: reward-to-risk from the chosen levels at the current price.
	// A deliberately absent target (winner runs on the trailing stop)
	// skips the gate.
	if d.ChosenStop != 0 && d.ChosenTarget != 0 {
		if d.RiskReward(in.Price) < c.risk.MinRiskReward {
			return nil, c.reject(d, domain.RejectInsufficientRR)
		}
	}

	// Gate 4: one position per symbol.
	if pf.HasPosition(d.Symbol) {
		return nil, c.reject(d, domain.RejectPositionExists)
	}

	// Gate 5: correlation group concurrency.
	if pf.Group(d.Symbol) != "" && pf.CorrelatedCount(d.Symbol) >= c.risk.MaxCorrelatedPositions {
		return nil, c.reject(d, domain.RejectCorrelationLimit)
	}

	// Gate 6: cooldown after a losing exit. Both simulation and live run
	// through this same gate, so the two paths cannot disagree.
	if exitClock, wasLoss, ok := pf.LastExit(d.Symbol); ok && wasLoss {
		if in.Clock < exitClock+uint64(c.risk.CooldownCandles) {
			return nil, c.reject(d, domain.RejectCooldown)
		}
	}

	adm, reason := c.size(d, side, pf, in)
	if reason != domain.RejectNone {
		return nil, c.reject(d, reason)
	}
	return adm, domain.RejectNone
}

func (c *AdmissionController) size(d domain.AggregatedDecision, side domain.Side, pf *Portfolio, in AdmissionInput) (*Admission, domain.RejectReason) {
	available := pf.Available()
	price := in.Price

	// Adverse slippage on entry.
	execPrice := price * (1 + c.risk.SlippageRate)
	if side == domain.SideShort {
		execPrice = price * (1 - c.risk.SlippageRate)
	}

	stop := d.ChosenStop
	if stop == 0 {
		// Percentage fallback keeps the risk-based sizing defined even
		// when the decision carries no native stop.
		pct := c.risk.DefaultStopLossPct / 100
		if side == domain.SideShort {
			stop = price * (1 + pct)
		} else {
			stop = price * (1 - pct)
		}
	}
	stopDistance := price - stop
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	if stopDistance == 0 {
		return nil, domain.RejectMissingStop
	}

	riskAmount := available * c.risk.RiskPerTradeFraction
	riskQty := riskAmount / stopDistance

	maxAllocation := available * c.risk.MaxAllocationFraction
	maxAffordableQty := maxAllocation / (execPrice * (1 + c.risk.FeeRate))

	quantity := riskQty
	if maxAffordableQty < quantity {
		quantity = maxAffordableQty
	}

	// Volatility scaling: smaller size when the regime is hot, since the
	// stop distance may have been computed from a stale reading. The
	// allocation cap still binds after a low-volatility size-up.
	if in.VolKnown {
		quantity *= in.Vol.SizeFactor()
		if quantity > maxAffordableQty {
			quantity = maxAffordableQty
		}
	}

	notional := quantity * execPrice
	fee := notional * c.risk.FeeRate

	if notional < c.risk.MinNotional {
		return nil, domain.RejectBelowMinNotional
	}
	if notional+fee > available {
		return nil, domain.RejectInsufficientFunds
	}

	target := d.ChosenTarget
	if target == 0 && in.FallbackLevels && c.risk.DefaultTakeProfitPct > 0 {
		pct := c.risk.DefaultTakeProfitPct / 100
		if side == domain.SideShort {
			target = price * (1 - pct)
		} else {
			target = price * (1 + pct)
		}
	}

	pos := &domain.Position{
		ID:         uuid.New().String(),
		Symbol:     d.Symbol,
		Side:       side,
		EntryPrice: execPrice,
		Quantity:   quantity,
		StopLoss:   stop,
		TakeProfit: target,
		OpenedAt:   in.Now,
		StrategyID: "ensemble",
		RiskUnit:   stopDistance,
		EntryFee:   fee,
	}

	return &Admission{
		Position: pos,
		Trailing: domain.NewTrailingStopState(pos, c.risk.TrailingATRMultiple),
		Cost:     notional + fee,
	}, domain.RejectNone
}

func (c *AdmissionController) reject(d domain.AggregatedDecision, reason domain.RejectReason) domain.RejectReason {
	if c.log != nil {
		c.log.Debug("admission rejected",
			zap.String("symbol", d.Symbol),
			zap.String("reason", string(reason)),
			zap.String("direction", string(d.Direction)),
			zap.Float64("confidence", d.MaxConfidence))
	}
	return reason
}
