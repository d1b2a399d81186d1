package usecase

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/indicator"
)

// StrategyRole tells the regime adjuster which way to shift a strategy's
// weight when volatility leaves the normal band.
type StrategyRole string

const (
	RoleTrend         StrategyRole = "trend"
	RoleMomentum      StrategyRole = "momentum"
	RoleMeanReversion StrategyRole = "mean_reversion"
	RoleOther         StrategyRole = "other"
)

// StrategyWeight binds one registered strategy to its base weight and role.
type StrategyWeight struct {
	Name   string
	Weight float64
	Role   StrategyRole
}

// regimeShift is the fixed delta moved between trend/momentum and
// mean-reversion weights on a regime change.
const regimeShift = 0.15

// SignalAggregator merges the registered strategies' signals for one
// symbol into a single decision. Weights are renormalized to sum to 1.0
// at construction and again after every regime adjustment.
type SignalAggregator struct {
	symbol  string
	entries []StrategyWeight
	weights map[string]float64
	log     *zap.Logger
}

func NewSignalAggregator(symbol string, entries []StrategyWeight, log *zap.Logger) (*SignalAggregator, error) {
	total := 0.0
	for _, e := range entries {
		if e.Weight < 0 {
			return nil, fmt.Errorf("%w: negative weight for %q", domain.ErrConfig, e.Name)
		}
		total += e.Weight
	}
	if len(entries) > 0 && total <= 0 {
		return nil, fmt.Errorf("%w: weights for %s sum to %v", domain.ErrConfig, symbol, total)
	}

	a := &SignalAggregator{
		symbol:  symbol,
		entries: entries,
		weights: make(map[string]float64, len(entries)),
		log:     log,
	}
	for _, e := range entries {
		a.weights[e.Name] = e.Weight / total
	}
	return a, nil
}

// Weights exposes the current normalized weight table.
func (a *SignalAggregator) Weights() map[string]float64 {
	out := make(map[string]float64, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

// AdjustForRegime shifts weight between the trend/momentum and
// mean-reversion roles for the given volatility level, clamps any result
// at zero and renormalizes so the table sums to exactly 1.0 again.
// Skipping the renormalization would inflate every downstream aggregate,
// so it is unconditional.
func (a *SignalAggregator) AdjustForRegime(level indicator.VolatilityLevel) {
	adjusted := make(map[string]float64, len(a.entries))
	total := 0.0
	for _, e := range a.entries {
		total += e.Weight
	}
	if total <= 0 {
		return
	}
	for _, e := range a.entries {
		adjusted[e.Name] = e.Weight / total
	}

	switch level {
	case indicator.VolatilityLow:
		// Ranging market: favor mean reversion over trend following.
		a.shift(adjusted, RoleMeanReversion, regimeShift)
		if !a.shift(adjusted, RoleTrend, -regimeShift) {
			a.shift(adjusted, RoleMomentum, -regimeShift)
		}
	case indicator.VolatilityMedium:
		// Base weights.
	case indicator.VolatilityHigh:
		if !a.shift(adjusted, RoleTrend, regimeShift) {
			a.shift(adjusted, RoleMomentum, regimeShift)
		}
		a.shift(adjusted, RoleMeanReversion, -regimeShift)
	case indicator.VolatilityExtreme:
		if a.shift(adjusted, RoleMomentum, 0.10) && len(a.entries) > 1 {
			cut := 0.10 / float64(len(a.entries)-1)
			for _, e := range a.entries {
				if e.Role != RoleMomentum {
					adjusted[e.Name] -= cut
				}
			}
		}
	}

	sum := 0.0
	for name, w := range adjusted {
		if w < 0 {
			adjusted[name] = 0
			w = 0
		}
		sum += w
	}
	if sum <= 0 {
		return
	}
	for name := range adjusted {
		adjusted[name] /= sum
	}
	a.weights = adjusted
}

func (a *SignalAggregator) shift(weights map[string]float64, role StrategyRole, delta float64) bool {
	moved := false
	for _, e := range a.entries {
		if e.Role == role {
			weights[e.Name] += delta
			moved = true
		}
	}
	return moved
}

// Aggregate merges one evaluation tick's signals into a decision. Neutral
// signals are excluded before weighting so they cannot dilute the active
// opinions; with no active signals the decision is Neutral with strength 0.
//
// Confidence is never multiplied into the strength sum: the strength mean
// uses weights only, and confidence is aggregated in parallel. Folding
// confidence into strength double-penalizes hesitant signals and pins the
// aggregate below actionable thresholds.
func (a *SignalAggregator) Aggregate(signals []*domain.Signal) domain.AggregatedDecision {
	var (
		weightedStrength float64
		weightedConf     float64
		totalWeight      float64
		bestConf         float64
		chosenStop       float64
		chosenTarget     float64
		contributors     int
		reasons          []string
	)

	// Unregistered strategies get the uniform share of the registered
	// table, not of the raw signal slice, which may carry nil and
	// Neutral entries.
	fallback := 1.0
	if len(a.entries) > 0 {
		fallback = 1 / float64(len(a.entries))
	}

	for _, s := range signals {
		if s == nil {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s (%.0f%%)", s.Strategy, s.Direction, s.Confidence*100))
		if s.Direction == domain.Neutral {
			continue
		}
		w, ok := a.weights[s.Strategy]
		if !ok {
			w = fallback
		}

		weightedStrength += float64(s.Direction.Strength()) * w
		weightedConf += s.Confidence * w
		totalWeight += w
		contributors++

		// Levels come from the most confident active contributor.
		if s.Confidence > bestConf {
			bestConf = s.Confidence
			chosenStop = s.SuggestedStop
			chosenTarget = s.SuggestedTarget
		}
	}

	decision := domain.AggregatedDecision{
		Symbol:    a.symbol,
		Direction: domain.Neutral,
		Reason:    strings.Join(reasons, " | "),
	}
	if totalWeight == 0 {
		return decision
	}

	strength := weightedStrength / totalWeight
	decision.Strength = strength
	decision.Confidence = weightedConf / totalWeight
	decision.MaxConfidence = bestConf
	decision.ChosenStop = chosenStop
	decision.ChosenTarget = chosenTarget
	decision.Contributors = contributors
	decision.Direction = classify(strength)

	if a.log != nil {
		a.log.Debug("aggregated decision",
			zap.String("symbol", a.symbol),
			zap.String("direction", string(decision.Direction)),
			zap.Float64("strength", strength),
			zap.Float64("confidence", decision.Confidence),
			zap.Int("contributors", contributors))
	}
	return decision
}

func classify(strength float64) domain.Direction {
	switch {
	case strength > 1.5:
		return domain.StrongBuy
	case strength > 0.5:
		return domain.Buy
	case strength < -1.5:
		return domain.StrongSell
	case strength < -0.5:
		return domain.Sell
	default:
		return domain.Neutral
	}
}
