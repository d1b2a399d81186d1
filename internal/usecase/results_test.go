package usecase_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/usecase"
)

func closedTrade(symbol string, pnl, fees float64, reason domain.ExitReason) domain.TradeRecord {
	return domain.TradeRecord{
		ID:         symbol + "-trade",
		Symbol:     symbol,
		Side:       domain.SideLong,
		PnL:        pnl,
		FeesPaid:   fees,
		ExitReason: reason,
		Closed:     true,
	}
}

func TestComputeResults_TradeStats(t *testing.T) {
	r := usecase.ComputeResults(usecase.ResultsInput{
		InitialBalance: 1000,
		FinalBalance:   1100,
		Trades: []domain.TradeRecord{
			closedTrade("BTCUSDT", 120, 2, domain.ExitTakeProfit),
			closedTrade("BTCUSDT", -40, 1, domain.ExitStopLoss),
			closedTrade("ETHUSDT", 20, 1, domain.ExitTrailingStop),
		},
		BenchmarkReturnPct: 4,
	})

	assert.InDelta(t, 10, r.TotalReturnPct, 1e-9)
	assert.InDelta(t, 6, r.AlphaPct, 1e-9)
	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 200.0/3.0, r.WinRatePct, 1e-9)
	assert.InDelta(t, 140.0/40.0, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 70, r.AvgWin, 1e-9)
	assert.InDelta(t, -40, r.AvgLoss, 1e-9)
	assert.InDelta(t, 120, r.LargestWin, 1e-9)
	assert.InDelta(t, -40, r.LargestLoss, 1e-9)

	assert.Equal(t, 1, r.ExitBreakdown[domain.ExitStopLoss])
	assert.Equal(t, 1, r.ExitBreakdown[domain.ExitTakeProfit])
	assert.Equal(t, 2, r.PerSymbol["BTCUSDT"].Trades)
	assert.InDelta(t, 80, r.PerSymbol["BTCUSDT"].PnL, 1e-9)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, r.Symbols())
}

func TestComputeResults_ProfitFactorWithoutLosses(t *testing.T) {
	r := usecase.ComputeResults(usecase.ResultsInput{
		InitialBalance: 1000,
		FinalBalance:   1050,
		Trades: []domain.TradeRecord{
			closedTrade("BTCUSDT", 50, 1, domain.ExitTakeProfit),
		},
	})
	assert.True(t, math.IsInf(r.ProfitFactor, 1))
	assert.InDelta(t, 100, r.WinRatePct, 1e-9)
}

func TestComputeResults_SharpeNeedsThreeDays(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Two days of samples are not enough.
	short := []usecase.EquityPoint{
		{At: start, Equity: 1000},
		{At: start.Add(24 * time.Hour), Equity: 1010},
	}
	r := usecase.ComputeResults(usecase.ResultsInput{InitialBalance: 1000, FinalBalance: 1010, EquityCurve: short})
	assert.Zero(t, r.SharpeRatio)

	// Intraday samples collapse to one closing value per day, so a dense
	// single-day curve still yields no ratio.
	dense := make([]usecase.EquityPoint, 0, 48)
	for i := 0; i < 48; i++ {
		dense = append(dense, usecase.EquityPoint{
			At:     start.Add(time.Duration(i) * 30 * time.Minute),
			Equity: 1000 + float64(i),
		})
	}
	r = usecase.ComputeResults(usecase.ResultsInput{InitialBalance: 1000, FinalBalance: 1047, EquityCurve: dense})
	assert.Zero(t, r.SharpeRatio)

	// Four daily closes with varied returns produce a positive ratio.
	curve := []usecase.EquityPoint{
		{At: start, Equity: 1000},
		{At: start.Add(24 * time.Hour), Equity: 1020},
		{At: start.Add(48 * time.Hour), Equity: 1015},
		{At: start.Add(72 * time.Hour), Equity: 1040},
	}
	r = usecase.ComputeResults(usecase.ResultsInput{InitialBalance: 1000, FinalBalance: 1040, EquityCurve: curve})
	assert.Greater(t, r.SharpeRatio, 0.0)
}

func TestRejectionSummary_SortedAndStable(t *testing.T) {
	r := usecase.ComputeResults(usecase.ResultsInput{
		InitialBalance: 1000,
		FinalBalance:   1000,
		Rejections: map[domain.RejectReason]int{
			domain.RejectCooldown:        3,
			domain.RejectBelowConfidence: 1,
		},
	})
	assert.Equal(t, "BELOW_CONFIDENCE=1 COOLDOWN=3", r.RejectionSummary())
}
