package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/indicator"
	"github.com/mlukyanov/tradecore/internal/usecase"
)

func newAggregator(t *testing.T, entries []usecase.StrategyWeight) *usecase.SignalAggregator {
	t.Helper()
	agg, err := usecase.NewSignalAggregator("BTCUSDT", entries, zap.NewNop())
	require.NoError(t, err)
	return agg
}

func TestAggregator_RejectsNegativeWeight(t *testing.T) {
	_, err := usecase.NewSignalAggregator("BTCUSDT", []usecase.StrategyWeight{
		{Name: "a", Weight: -0.5, Role: usecase.RoleTrend},
	}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestAggregator_NeutralOnlyProducesNeutral(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.5, Role: usecase.RoleMomentum},
	})

	d := agg.Aggregate([]*domain.Signal{
		{Strategy: "a", Direction: domain.Neutral, Confidence: 0.9},
		{Strategy: "b", Direction: domain.Neutral, Confidence: 0.9},
	})

	assert.Equal(t, domain.Neutral, d.Direction)
	assert.Zero(t, d.Strength)
	assert.Zero(t, d.Contributors)
}

func TestAggregator_UnanimousStrongBuyIsExactlyTwo(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.5, Role: usecase.RoleMomentum},
	})

	d := agg.Aggregate([]*domain.Signal{
		{Strategy: "a", Direction: domain.StrongBuy, Confidence: 0.9},
		{Strategy: "b", Direction: domain.StrongBuy, Confidence: 0.8},
	})

	// Confidence must not be folded into the strength mean: two strong
	// buys are exactly 2.0 regardless of how hesitant they are.
	assert.InDelta(t, 2.0, d.Strength, 1e-9)
	assert.Equal(t, domain.StrongBuy, d.Direction)
	assert.InDelta(t, 0.9, d.MaxConfidence, 1e-9)
	assert.InDelta(t, 0.85, d.Confidence, 1e-9)
}

func TestAggregator_NeutralExcludedFromDenominator(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.5, Role: usecase.RoleMomentum},
	})

	d := agg.Aggregate([]*domain.Signal{
		{Strategy: "a", Direction: domain.Buy, Confidence: 0.8},
		{Strategy: "b", Direction: domain.Neutral, Confidence: 0.9},
	})

	// The neutral opinion neither votes nor dilutes.
	assert.InDelta(t, 1.0, d.Strength, 1e-9)
	assert.Equal(t, domain.Buy, d.Direction)
	assert.Equal(t, 1, d.Contributors)
}

func TestAggregator_UnregisteredShareUsesRegisteredTable(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.5, Role: usecase.RoleMomentum},
	})

	// Two registered entries, so the unregistered strong sell weighs 0.5
	// and exactly cancels the registered strong buy. Nil and neutral
	// slots in the slice must not shrink its share.
	d := agg.Aggregate([]*domain.Signal{
		nil,
		{Strategy: "b", Direction: domain.Neutral, Confidence: 0.9},
		{Strategy: "a", Direction: domain.StrongBuy, Confidence: 0.7},
		{Strategy: "x", Direction: domain.StrongSell, Confidence: 0.7},
	})

	assert.Equal(t, domain.Neutral, d.Direction)
	assert.InDelta(t, 0, d.Strength, 1e-9)
	assert.Equal(t, 2, d.Contributors)
}

func TestAggregator_ConflictAtBoundaryIsNeutral(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.75, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.25, Role: usecase.RoleMomentum},
	})

	d := agg.Aggregate([]*domain.Signal{
		{Strategy: "a", Direction: domain.Buy, Confidence: 0.8},
		{Strategy: "b", Direction: domain.Sell, Confidence: 0.8},
	})

	// 0.75 - 0.25 = 0.5, and the Buy tier requires strictly more.
	assert.InDelta(t, 0.5, d.Strength, 1e-9)
	assert.Equal(t, domain.Neutral, d.Direction)
}

func TestAggregator_LevelsFromMostConfidentContributor(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "b", Weight: 0.5, Role: usecase.RoleMomentum},
	})

	d := agg.Aggregate([]*domain.Signal{
		{Strategy: "a", Direction: domain.Buy, Confidence: 0.9, SuggestedStop: 95, SuggestedTarget: 120},
		{Strategy: "b", Direction: domain.Buy, Confidence: 0.95, SuggestedStop: 90, SuggestedTarget: 130},
	})

	assert.InDelta(t, 0.95, d.MaxConfidence, 1e-9)
	assert.InDelta(t, 90, d.ChosenStop, 1e-9)
	assert.InDelta(t, 130, d.ChosenTarget, 1e-9)
}

func TestAggregator_WeightsNormalizedAtConstruction(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "a", Weight: 2, Role: usecase.RoleTrend},
		{Name: "b", Weight: 1, Role: usecase.RoleMomentum},
		{Name: "c", Weight: 1, Role: usecase.RoleMeanReversion},
	})

	sum := 0.0
	for _, w := range agg.Weights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.5, agg.Weights()["a"], 1e-9)
}

func TestAggregator_RegimeAdjustKeepsSumOne(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "trend", Weight: 0.4, Role: usecase.RoleTrend},
		{Name: "momentum", Weight: 0.35, Role: usecase.RoleMomentum},
		{Name: "meanrev", Weight: 0.25, Role: usecase.RoleMeanReversion},
	})

	for _, level := range []indicator.VolatilityLevel{
		indicator.VolatilityLow,
		indicator.VolatilityMedium,
		indicator.VolatilityHigh,
		indicator.VolatilityExtreme,
	} {
		agg.AdjustForRegime(level)
		sum := 0.0
		for _, w := range agg.Weights() {
			sum += w
			assert.GreaterOrEqual(t, w, 0.0, "level %v", level)
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "level %v", level)
	}
}

func TestAggregator_HighVolatilityFavorsTrend(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "trend", Weight: 0.4, Role: usecase.RoleTrend},
		{Name: "momentum", Weight: 0.35, Role: usecase.RoleMomentum},
		{Name: "meanrev", Weight: 0.25, Role: usecase.RoleMeanReversion},
	})
	base := agg.Weights()

	agg.AdjustForRegime(indicator.VolatilityHigh)
	high := agg.Weights()
	assert.Greater(t, high["trend"], base["trend"])
	assert.Less(t, high["meanrev"], base["meanrev"])

	// Adjustments derive from the base table, not the previous
	// adjustment, so returning to medium restores the base weights.
	agg.AdjustForRegime(indicator.VolatilityMedium)
	restored := agg.Weights()
	assert.InDelta(t, base["trend"], restored["trend"], 1e-9)
	assert.InDelta(t, base["meanrev"], restored["meanrev"], 1e-9)
}

func TestAggregator_LowVolatilityFavorsMeanReversion(t *testing.T) {
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "trend", Weight: 0.5, Role: usecase.RoleTrend},
		{Name: "meanrev", Weight: 0.5, Role: usecase.RoleMeanReversion},
	})

	agg.AdjustForRegime(indicator.VolatilityLow)
	low := agg.Weights()
	assert.Greater(t, low["meanrev"], low["trend"])
}

func TestAggregator_ClampAtZeroThenRenormalize(t *testing.T) {
	// The mean-reversion weight is small enough that a regime shift
	// would push it negative; it must clamp at zero instead.
	agg := newAggregator(t, []usecase.StrategyWeight{
		{Name: "trend", Weight: 0.9, Role: usecase.RoleTrend},
		{Name: "meanrev", Weight: 0.1, Role: usecase.RoleMeanReversion},
	})

	agg.AdjustForRegime(indicator.VolatilityHigh)
	high := agg.Weights()
	assert.GreaterOrEqual(t, high["meanrev"], 0.0)
	sum := high["trend"] + high["meanrev"]
	assert.InDelta(t, 1.0, sum, 1e-9)
}
