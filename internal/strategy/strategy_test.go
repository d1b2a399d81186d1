package strategy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/strategy"
)

func series(prices ...float64) []domain.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, 0, len(prices))
	for i, p := range prices {
		out = append(out, domain.Candle{
			Symbol:   "BTCUSDT",
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     p, High: p, Low: p, Close: p,
			Volume: 1,
		})
	}
	return out
}

func repeat(price float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestTrendFollow_Name(t *testing.T) {
	s := strategy.NewTrendFollow(10, 30)
	assert.Equal(t, "trend_10_30", s.Name())
	assert.Equal(t, 30, s.MinCandles())
}

func TestTrendFollow_ShortHistoryIsSilent(t *testing.T) {
	s := strategy.NewTrendFollow(2, 4)
	assert.Nil(t, s.Analyze(series(100, 101, 102)))
}

func TestTrendFollow_StrongBuyWithSwingLowStop(t *testing.T) {
	s := strategy.NewTrendFollow(2, 4)
	// fast SMA (110+120)/2 = 115, slow SMA (100+105+110+120)/4 = 108.75,
	// gap about 5.7%.
	history := series(100, 105, 110, 120)
	history[3].Low = 118

	sig := s.Analyze(history)
	require.NotNil(t, sig)
	assert.Equal(t, domain.StrongBuy, sig.Direction)
	assert.InDelta(t, 1.0, sig.Confidence, 1e-9) // clamped
	// Stop at the lowest low of the fast window.
	assert.InDelta(t, 110, sig.SuggestedStop, 1e-9)
}

func TestTrendFollow_DowntrendSellsWithSwingHighStop(t *testing.T) {
	s := strategy.NewTrendFollow(2, 4)
	sig := s.Analyze(series(120, 110, 105, 100))
	require.NotNil(t, sig)
	assert.Equal(t, domain.StrongSell, sig.Direction)
	assert.InDelta(t, 105, sig.SuggestedStop, 1e-9)
}

func TestTrendFollow_FlatIsNeutral(t *testing.T) {
	s := strategy.NewTrendFollow(2, 4)
	sig := s.Analyze(series(repeat(100, 4)...))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Neutral, sig.Direction)
	assert.Zero(t, sig.SuggestedStop)
}

func TestMomentum_TiersAndLevels(t *testing.T) {
	s := strategy.NewMomentum(3)
	assert.Equal(t, "momentum_3", s.Name())
	assert.Equal(t, 4, s.MinCandles())

	// 100 -> 110 over the lookback: +10% rate of change.
	sig := s.Analyze(series(100, 104, 107, 110))
	require.NotNil(t, sig)
	assert.Equal(t, domain.StrongBuy, sig.Direction)
	assert.InDelta(t, 1.0, sig.Confidence, 1e-9)
	// move = 10% of 110 = 11
	assert.InDelta(t, 110, sig.SuggestedEntry, 1e-9)
	assert.InDelta(t, 104.5, sig.SuggestedStop, 1e-9)
	assert.InDelta(t, 121, sig.SuggestedTarget, 1e-9)
}

func TestMomentum_MildMoveIsPlainBuy(t *testing.T) {
	s := strategy.NewMomentum(3)
	sig := s.Analyze(series(100, 101, 101, 102)) // +2%
	require.NotNil(t, sig)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.InDelta(t, 0.6, sig.Confidence, 1e-9)
}

func TestMomentum_DownMoveMirrorsLevels(t *testing.T) {
	s := strategy.NewMomentum(3)
	sig := s.Analyze(series(100, 96, 93, 90)) // -10%
	require.NotNil(t, sig)
	assert.Equal(t, domain.StrongSell, sig.Direction)
	// move = 10% of 90 = 9
	assert.InDelta(t, 94.5, sig.SuggestedStop, 1e-9)
	assert.InDelta(t, 81, sig.SuggestedTarget, 1e-9)
}

func TestMeanReversion_BuysTheDip(t *testing.T) {
	s := strategy.NewMeanReversion(4, 2.0)
	assert.Equal(t, "meanrev_4", s.Name())

	// mean = (100+100+100+97)/4 = 99.25, deviation about -2.27%.
	sig := s.Analyze(series(100, 100, 100, 97))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.InDelta(t, 99.25, sig.SuggestedTarget, 1e-9)
	assert.InDelta(t, 97*0.98, sig.SuggestedStop, 1e-9)
}

func TestMeanReversion_DeepStretchIsStrong(t *testing.T) {
	s := strategy.NewMeanReversion(4, 2.0)
	// mean = (100+100+100+94)/4 = 98.5, deviation about -4.57%.
	sig := s.Analyze(series(100, 100, 100, 94))
	require.NotNil(t, sig)
	assert.Equal(t, domain.StrongBuy, sig.Direction)
}

func TestMeanReversion_FadesThePremium(t *testing.T) {
	s := strategy.NewMeanReversion(4, 2.0)
	// mean = (100+100+100+103)/4 = 100.75, deviation about +2.23%.
	sig := s.Analyze(series(100, 100, 100, 103))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Sell, sig.Direction)
	assert.InDelta(t, 100.75, sig.SuggestedTarget, 1e-9)
	assert.InDelta(t, 103*1.02, sig.SuggestedStop, 1e-9)
}

func TestMeanReversion_InsideBandIsNeutral(t *testing.T) {
	s := strategy.NewMeanReversion(4, 2.0)
	sig := s.Analyze(series(100, 100, 100, 101))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Neutral, sig.Direction)
	assert.Zero(t, sig.SuggestedTarget)
}
