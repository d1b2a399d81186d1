package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/infrastructure/exchange"
	"github.com/mlukyanov/tradecore/internal/infrastructure/logger"
	"github.com/mlukyanov/tradecore/internal/infrastructure/storage"
	"github.com/mlukyanov/tradecore/internal/strategy"
	"github.com/mlukyanov/tradecore/internal/usecase"
)

const warmupCandles = 200

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	interval := flag.String("interval", "15", "kline interval in minutes")
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
		ledgerPath = "live.db"
	}
	ledger, err := storage.NewSQLiteLedger(ledgerPath)
	if err != nil {
		log.Fatal("Failed to init sqlite ledger", zap.Error(err))
	}
	defer ledger.Close()

	// 4. Init Feed and Paper Broker
	feed := exchange.NewBybitFeed(cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, *interval, log)
	broker := exchange.NewPaperBroker(cfg.Risk.SlippageRate, log)

	// 5. Build Executor
	instruments, err := buildInstruments(cfg, log)
	if err != nil {
		log.Fatal("Failed to build instruments", zap.Error(err))
	}
	executor, err := usecase.NewLiveExecutor(cfg, instruments, ledger, broker, log)
	if err != nil {
		log.Fatal("Failed to init executor", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Warm Up from REST history so strategies signal immediately.
	for _, ins := range cfg.Instruments {
		history, err := feed.GetCandles(ctx, ins.Symbol, warmupCandles)
		if err != nil {
			log.Fatal("Failed to fetch warmup candles", zap.String("symbol", ins.Symbol), zap.Error(err))
		}
		log.Info("warmup loaded", zap.String("symbol", ins.Symbol), zap.Int("count", len(history)))
		for _, c := range history {
			broker.SetPrice(c.Symbol, c.Close)
			executor.Warmup(c)
		}
	}

	// 7. Stream
	feed.OnCandle(func(c domain.Candle) {
		broker.SetPrice(c.Symbol, c.Close)
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- executor.Run(ctx, feed)
	}()

	select {
	case <-stop:
		log.Info("Shutting down...")
		cancel()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			log.Fatal("Feed failed", zap.Error(err))
		}
	}
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
