package usecase

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// SymbolStats aggregates closed trades for one symbol.
type SymbolStats struct {
	Trades int
	Wins   int
	PnL    float64
	Fees   float64
}

// BacktestResults is the full performance summary of one simulation run.
type BacktestResults struct {
	InitialBalance float64
	FinalBalance   float64
	TotalReturnPct float64
	MaxDrawdownPct float64
	SharpeRatio    float64

	TotalTrades  int
	Wins         int
	Losses       int
	WinRatePct   float64
	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64
	LargestWin   float64
	LargestLoss  float64
	TotalFees    float64

	DataErrors       int
	EmergencyStopped bool
	Rejections       map[domain.RejectReason]int
	ExitBreakdown    map[domain.ExitReason]int
	PerSymbol        map[string]SymbolStats
	EquityCurve      []EquityPoint

	// Equal-weight buy-and-hold over the same instruments and window.
	BenchmarkReturnPct float64
	AlphaPct           float64
}

type ResultsInput struct {
	InitialBalance     float64
	FinalBalance       float64
	MaxDrawdownPct     float64
	TotalFees          float64
	Trades             []domain.TradeRecord
	EquityCurve        []EquityPoint
	Rejections         map[domain.RejectReason]int
	DataErrors         int
	BenchmarkReturnPct float64
	EmergencyStopped   bool
}

func ComputeResults(in ResultsInput) *BacktestResults {
	r := &BacktestResults{
		InitialBalance:     in.InitialBalance,
		FinalBalance:       in.FinalBalance,
		MaxDrawdownPct:     in.MaxDrawdownPct,
		TotalFees:          in.TotalFees,
		TotalTrades:        len(in.Trades),
		DataErrors:         in.DataErrors,
		EmergencyStopped:   in.EmergencyStopped,
		Rejections:         in.Rejections,
		ExitBreakdown:      make(map[domain.ExitReason]int),
		PerSymbol:          make(map[string]SymbolStats),
		EquityCurve:        in.EquityCurve,
		BenchmarkReturnPct: in.BenchmarkReturnPct,
	}
	if in.InitialBalance > 0 {
		r.TotalReturnPct = (in.FinalBalance - in.InitialBalance) / in.InitialBalance * 100
	}
	r.AlphaPct = r.TotalReturnPct - r.BenchmarkReturnPct

	grossWin, grossLoss := 0.0, 0.0
	for _, t := range in.Trades {
		r.ExitBreakdown[t.ExitReason]++

		ss := r.PerSymbol[t.Symbol]
		ss.Trades++
		ss.PnL += t.PnL
		ss.Fees += t.FeesPaid

		if t.PnL > 0 {
			r.Wins++
			ss.Wins++
			grossWin += t.PnL
			if t.PnL > r.LargestWin {
				r.LargestWin = t.PnL
			}
		} else {
			r.Losses++
			grossLoss += -t.PnL
			if t.PnL < r.LargestLoss {
				r.LargestLoss = t.PnL
			}
		}
		r.PerSymbol[t.Symbol] = ss
	}

	if r.TotalTrades > 0 {
		r.WinRatePct = float64(r.Wins) / float64(r.TotalTrades) * 100
	}
	if r.Wins > 0 {
		r.AvgWin = grossWin / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = -grossLoss / float64(r.Losses)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		r.ProfitFactor = math.Inf(1)
	}

	r.SharpeRatio = sharpe(in.EquityCurve)
	return r
}

// sharpe computes an annualized Sharpe ratio from daily equity samples.
// The intraday curve is first collapsed to one closing sample per day so a
// one-minute run is not annualized as if each candle were a day.
func sharpe(curve []EquityPoint) float64 {
	daily := make([]float64, 0)
	lastDay := ""
	for _, p := range curve {
		day := p.At.UTC().Format("2006-01-02")
		if day == lastDay && len(daily) > 0 {
			daily[len(daily)-1] = p.Equity
		} else {
			daily = append(daily, p.Equity)
			lastDay = day
		}
	}
	if len(daily) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(daily)-1)
	for i := 1; i < len(daily); i++ {
		if daily[i-1] > 0 {
			returns = append(returns, (daily[i]-daily[i-1])/daily[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range returns {
		mean += v
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, v := range returns {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(365)
}

// Symbols returns the per-symbol stat keys in stable order for reporting.
func (r *BacktestResults) Symbols() []string {
	out := make([]string, 0, len(r.PerSymbol))
	for sym := range r.PerSymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RejectionSummary renders the rejection counters as one log-friendly
// string, sorted by reason.
func (r *BacktestResults) RejectionSummary() string {
	reasons := make([]string, 0, len(r.Rejections))
	for reason := range r.Rejections {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, reason+"="+strconv.Itoa(r.Rejections[domain.RejectReason(reason)]))
	}
	return strings.Join(parts, " ")
}
