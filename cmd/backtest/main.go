package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/infrastructure/logger"
	"github.com/mlukyanov/tradecore/internal/infrastructure/storage"
	"github.com/mlukyanov/tradecore/internal/strategy"
	"github.com/mlukyanov/tradecore/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dataDir := flag.String("data", "data", "directory with <SYMBOL>.csv candle files")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Ledger
	ledgerPath := cfg.Ledger.Path
	if ledgerPath == "" {
		ledgerPath = "backtest.db"
	}
	ledger, err := storage.NewSQLiteLedger(ledgerPath)
	if err != nil {
		log.Fatal("Failed to init sqlite ledger", zap.Error(err))
	}
	defer ledger.Close()

	// 4. Build Instruments
	instruments, err := buildInstruments(cfg, log)
	if err != nil {
		log.Fatal("Failed to build instruments", zap.Error(err))
	}

	// 5. Load Candle Data
	candles := make(map[string][]domain.Candle, len(cfg.Instruments))
	for _, ins := range cfg.Instruments {
		path := filepath.Join(*dataDir, ins.Symbol+".csv")
		cs, err := storage.LoadCandlesCSV(path, ins.Symbol)
		if err != nil {
			log.Fatal("Failed to load candles", zap.String("symbol", ins.Symbol), zap.Error(err))
		}
		log.Info("candles loaded", zap.String("symbol", ins.Symbol), zap.Int("count", len(cs)))
		candles[ins.Symbol] = cs
	}

	// 6. Run Simulation
	engine, err := usecase.NewSimulationEngine(cfg, instruments, ledger, log)
	if err != nil {
		log.Fatal("Failed to init engine", zap.Error(err))
	}
	results, err := engine.Run(context.Background(), candles)
	if err != nil {
		log.Fatal("Simulation failed", zap.Error(err))
	}

	printResults(results)
}

// buildInstruments wires the reference strategies with the configured
// weight tables. Symbols with no weight table get an equal split.
func buildInstruments(cfg *config.Config, log *zap.Logger) ([]usecase.EngineInstrument, error) {
	instruments := make([]usecase.EngineInstrument, 0, len(cfg.Instruments))
	for _, ins := range cfg.Instruments {
		strategies := []domain.Strategy{
			strategy.NewTrendFollow(10, 30),
			strategy.NewMomentum(12),
			strategy.NewMeanReversion(20, 2.0),
		}
		roles := []usecase.StrategyRole{
			usecase.RoleTrend,
			usecase.RoleMomentum,
			usecase.RoleMeanReversion,
		}

		entries := make([]usecase.StrategyWeight, 0, len(strategies))
		for i, s := range strategies {
			weight := 1.0
			if len(ins.StrategyWeights) > 0 {
				w, ok := ins.StrategyWeights[s.Name()]
				if !ok {
					continue
				}
				weight = w
			}
			entries = append(entries, usecase.StrategyWeight{
				Name:   s.Name(),
				Weight: weight,
				Role:   roles[i],
			})
		}

		agg, err := usecase.NewSignalAggregator(ins.Symbol, entries, log)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, usecase.EngineInstrument{
			Symbol:     ins.Symbol,
			Strategies: strategies,
			Aggregator: agg,
		})
	}
	return instruments, nil
}

func printResults(r *usecase.BacktestResults) {
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Initial balance:  %.2f\n", r.InitialBalance)
	fmt.Printf("Final balance:    %.2f\n", r.FinalBalance)
	fmt.Printf("Total return:     %.2f%%\n", r.TotalReturnPct)
	fmt.Printf("Benchmark (B&H):  %.2f%%  (alpha %.2f%%)\n", r.BenchmarkReturnPct, r.AlphaPct)
	fmt.Printf("Max drawdown:     %.2f%%\n", r.MaxDrawdownPct)
	fmt.Printf("Sharpe ratio:     %.2f\n", r.SharpeRatio)
	fmt.Printf("Trades:           %d (%d wins / %d losses, %.1f%% win rate)\n",
		r.TotalTrades, r.Wins, r.Losses, r.WinRatePct)
	fmt.Printf("Profit factor:    %.2f\n", r.ProfitFactor)
	fmt.Printf("Avg win / loss:   %.2f / %.2f\n", r.AvgWin, r.AvgLoss)
	fmt.Printf("Largest win/loss: %.2f / %.2f\n", r.LargestWin, r.LargestLoss)
	fmt.Printf("Total fees:       %.2f\n", r.TotalFees)
	if r.EmergencyStopped {
		fmt.Println("Run halted by emergency stop")
	}
	if r.DataErrors > 0 {
		fmt.Printf("Dropped candles:  %d\n", r.DataErrors)
	}

	if len(r.ExitBreakdown) > 0 {
		fmt.Println("\nExits by reason:")
		for reason, n := range r.ExitBreakdown {
			fmt.Printf("  %-16s %d\n", reason, n)
		}
	}
	if len(r.PerSymbol) > 0 {
		fmt.Println("\nPer symbol:")
		for _, sym := range r.Symbols() {
			ss := r.PerSymbol[sym]
			fmt.Printf("  %-10s trades=%d wins=%d pnl=%.2f fees=%.2f\n",
				sym, ss.Trades, ss.Wins, ss.PnL, ss.Fees)
		}
	}
	if summary := r.RejectionSummary(); summary != "" {
		fmt.Println("\nRejections:", summary)
	}
}
