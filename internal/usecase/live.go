package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/indicator"
)

// LiveExecutor runs the same decision pipeline as the simulation against a
// streaming candle feed, with orders routed through a Broker and fills
// reconciled back into the portfolio. A single mutex serializes candle
// processing so concurrent feed callbacks cannot interleave half-applied
// portfolio state.
type LiveExecutor struct {
	mu        sync.Mutex
	risk      config.RiskLimits
	log       *zap.Logger
	ledger    domain.TradeLedger
	broker    domain.Broker
	admission *AdmissionController
	exits     *ExitStateMachine
	portfolio *Portfolio
	states    map[string]*instrumentState
	prices    map[string]float64
	emergency bool
}

func NewLiveExecutor(cfg *config.Config, instruments []EngineInstrument, ledger domain.TradeLedger, broker domain.Broker, log *zap.Logger) (*LiveExecutor, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", domain.ErrConfig)
	}
	groups := make(map[string]string, len(cfg.Instruments))
	for _, ins := range cfg.Instruments {
		groups[ins.Symbol] = ins.CorrelationGroup
	}

	l := &LiveExecutor{
		risk:      cfg.Risk,
		log:       log,
		ledger:    ledger,
		broker:    broker,
		admission: NewAdmissionController(cfg.Risk, log),
		exits:     NewExitStateMachine(cfg.Risk, log),
		portfolio: NewPortfolio(cfg.InitialBalance, groups),
		states:    make(map[string]*instrumentState, len(instruments)),
		prices:    make(map[string]float64, len(instruments)),
	}
	for _, ins := range instruments {
		if _, dup := l.states[ins.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", domain.ErrConfig, ins.Symbol)
		}
		l.states[ins.Symbol] = &instrumentState{
			cfg:    ins,
			buffer: domain.NewCandleBuffer(historyDepth),
			atr:    indicator.NewATR(atrPeriod),
		}
	}
	return l, nil
}

func (l *LiveExecutor) Portfolio() *Portfolio { return l.portfolio }

// Run subscribes to the configured symbols and processes the feed until
// the context is cancelled or the feed fails.
func (l *LiveExecutor) Run(ctx context.Context, feed domain.CandleFeed) error {
	symbols := make([]string, 0, len(l.states))
	for sym := range l.states {
		symbols = append(symbols, sym)
	}
	if err := feed.Subscribe(symbols); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	feed.OnCandle(func(c domain.Candle) {
		if err := l.OnCandle(ctx, c); err != nil {
			l.log.Error("candle processing failed", zap.String("symbol", c.Symbol), zap.Error(err))
		}
	})
	l.log.Info("live executor started", zap.Strings("symbols", symbols))
	return feed.Run(ctx)
}

// Warmup primes history buffers and the ATR from historical candles
// without trading, so strategies can signal from the first live candle.
func (l *LiveExecutor) Warmup(c domain.Candle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[c.Symbol]
	if !ok {
		return
	}
	if err := c.Validate(); err != nil {
		l.log.Warn("bad warmup candle dropped", zap.String("symbol", c.Symbol), zap.Error(err))
		return
	}
	if last, ok := st.buffer.Last(); ok && !c.OpenTime.After(last.OpenTime) {
		l.log.Warn("out-of-order warmup candle dropped",
			zap.String("symbol", c.Symbol),
			zap.Time("open_time", c.OpenTime),
			zap.Time("last_open_time", last.OpenTime))
		return
	}
	st.clock++
	l.prices[c.Symbol] = c.Close
	st.buffer.Push(c)
	st.atr.Update(c.High, c.Low, c.Close)
}

// OnCandle runs one full pipeline step for one closed candle. Exits are
// evaluated before any new entry so freed capital and the cooldown mark
// are visible to admission on the same candle.
func (l *LiveExecutor) OnCandle(ctx context.Context, c domain.Candle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[c.Symbol]
	if !ok {
		return nil
	}
	if err := c.Validate(); err != nil {
		l.log.Warn("bad candle dropped", zap.String("symbol", c.Symbol), zap.Error(err))
		l.recordEvent(ctx, c.OpenTime, c.Symbol, "data_error", err.Error())
		return nil
	}
	// Feeds can replay on reconnect. A candle at or before the last
	// accepted open time must not advance the clock or touch the ATR.
	if last, ok := st.buffer.Last(); ok && !c.OpenTime.After(last.OpenTime) {
		l.log.Warn("out-of-order candle dropped",
			zap.String("symbol", c.Symbol),
			zap.Time("open_time", c.OpenTime),
			zap.Time("last_open_time", last.OpenTime))
		l.recordEvent(ctx, c.OpenTime, c.Symbol, "data_error", "non-monotonic open time")
		return nil
	}

	st.clock++
	l.prices[c.Symbol] = c.Close
	st.buffer.Push(c)
	atrVal, _ := st.atr.Update(c.High, c.Low, c.Close)
	level, levelKnown := st.atr.Level(c.Close)
	if levelKnown {
		st.cfg.Aggregator.AdjustForRegime(level)
	}

	exited := false
	if l.portfolio.HasPosition(c.Symbol) {
		ts, _ := l.portfolio.Trailing(c.Symbol)
		var (
			exit    *ExitDecision
			evalErr error
		)
		l.portfolio.MutatePosition(c.Symbol, func(p *domain.Position) {
			exit, evalErr = l.exits.Evaluate(p, ts, c, atrVal, time.Now())
		})
		if evalErr != nil {
			return evalErr
		}
		if exit != nil {
			if err := l.closeLive(ctx, c.Symbol, exit.Reason, st.clock); err != nil {
				// The position stays on the books and the exit is
				// re-evaluated on the next candle.
				l.log.Error("exit order failed, position kept",
					zap.String("symbol", c.Symbol), zap.Error(err))
			} else {
				exited = true
			}
		}
	}

	history := st.buffer.Candles()
	signals := make([]*domain.Signal, 0, len(st.cfg.Strategies))
	ran := false
	for _, strat := range st.cfg.Strategies {
		if len(history) < strat.MinCandles() {
			continue
		}
		ran = true
		if sig := strat.Analyze(history); sig != nil {
			signals = append(signals, sig)
		}
	}
	if ran {
		d := st.cfg.Aggregator.Aggregate(signals)
		if l.portfolio.HasPosition(c.Symbol) {
			if err := l.reversal(ctx, c, d, st.clock); err != nil {
				return err
			}
		} else if !exited && d.Direction != domain.Neutral {
			// A symbol that closed this candle may not reopen from the
			// same candle's data.
			l.tryOpenLive(ctx, st, c, d, level, levelKnown)
		}
	}

	dd := l.portfolio.UpdateDrawdown(l.prices)
	if !l.emergency && l.risk.MaxDrawdownPct > 0 && dd >= l.risk.MaxDrawdownPct {
		l.emergency = true
		l.log.Error("max drawdown breached, flattening and halting",
			zap.Float64("drawdown_pct", dd))
		l.recordEvent(ctx, time.Now(), "", "emergency_stop",
			fmt.Sprintf("drawdown %.2f%% >= limit %.2f%%", dd, l.risk.MaxDrawdownPct))
		for _, pos := range l.portfolio.OpenPositions() {
			sym := pos.Symbol
			if err := l.closeLive(ctx, sym, domain.ExitEmergencyStop, l.states[sym].clock); err != nil {
				l.log.Error("emergency close failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}
	return nil
}

func (l *LiveExecutor) reversal(ctx context.Context, c domain.Candle, d domain.AggregatedDecision, clock uint64) error {
	pos, ok := l.portfolio.Position(c.Symbol)
	if !ok {
		return nil
	}
	reversed := (pos.Side == domain.SideLong && d.Direction == domain.StrongSell) ||
		(pos.Side == domain.SideShort && d.Direction == domain.StrongBuy)
	if !reversed || d.MaxConfidence < l.risk.MinConfidence {
		return nil
	}
	l.log.Info("signal reversal", zap.String("symbol", c.Symbol), zap.String("direction", string(d.Direction)))
	return l.closeLive(ctx, c.Symbol, domain.ExitSignalReversal, clock)
}

func (l *LiveExecutor) tryOpenLive(ctx context.Context, st *instrumentState, c domain.Candle, d domain.AggregatedDecision, level indicator.VolatilityLevel, levelKnown bool) {
	in := AdmissionInput{
		Price:          c.Close,
		Now:            time.Now(),
		Clock:          st.clock,
		Vol:            level,
		VolKnown:       levelKnown,
		Emergency:      l.emergency,
		FallbackLevels: true,
	}
	adm, reason := l.admission.Decide(d, l.portfolio, in)
	if reason != domain.RejectNone {
		l.recordEvent(ctx, time.Now(), c.Symbol, "rejection", string(reason))
		return
	}

	fill, err := l.broker.PlaceOrder(ctx, domain.OrderInstruction{
		Symbol:   c.Symbol,
		Side:     adm.Position.Side,
		Quantity: adm.Position.Quantity,
	})
	if err != nil {
		l.log.Error("entry order failed", zap.String("symbol", c.Symbol), zap.Error(err))
		return
	}

	// Reconcile the modeled entry with the actual fill before the
	// position is booked.
	pos := adm.Position
	if fill > 0 && fill != pos.EntryPrice {
		pos.EntryPrice = fill
		pos.EntryFee = fill * pos.Quantity * l.risk.FeeRate
		adm.Cost = fill*pos.Quantity + pos.EntryFee
	}

	if err := l.portfolio.Open(pos, adm.Trailing, adm.Cost); err != nil {
		l.log.Error("open failed after fill", zap.String("symbol", c.Symbol), zap.Error(err))
		return
	}
	rec := openRecord(pos)
	if err := l.ledger.RecordOpen(ctx, &rec); err != nil {
		l.log.Warn("ledger open write failed", zap.Error(err))
	}
	l.log.Info("position opened",
		zap.String("symbol", c.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("fill", pos.EntryPrice),
		zap.Float64("quantity", pos.Quantity))
}

// closeLive flattens one position at the broker's fill price.
func (l *LiveExecutor) closeLive(ctx context.Context, symbol string, reason domain.ExitReason, clock uint64) error {
	pos, ok := l.portfolio.Position(symbol)
	if !ok {
		return nil
	}
	fill, err := l.broker.PlaceOrder(ctx, domain.OrderInstruction{
		Symbol:   symbol,
		Side:     pos.Side.Opposite(),
		Quantity: pos.Quantity,
		Reduce:   true,
	})
	if err != nil {
		// The position stays open; the next candle re-evaluates the exit.
		return fmt.Errorf("exit order for %s: %w", symbol, err)
	}
	if fill <= 0 {
		fill = l.prices[symbol]
	}
	exitFee := fill * pos.Quantity * l.risk.FeeRate

	closed, err := l.portfolio.Close(symbol, fill, exitFee, clock)
	if err != nil {
		return err
	}
	pnl := closed.PnL(fill) - closed.EntryFee - exitFee
	rec := closeRecord(&closed, fill, exitFee, pnl, reason, time.Now())
	if err := l.ledger.RecordClose(ctx, &rec); err != nil {
		l.log.Warn("ledger close write failed", zap.Error(err))
	}
	l.log.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.Float64("fill", fill),
		zap.Float64("pnl", pnl))
	return nil
}

func (l *LiveExecutor) recordEvent(ctx context.Context, at time.Time, symbol, kind, detail string) {
	ev := domain.EngineEvent{At: at, Symbol: symbol, Kind: kind, Detail: detail}
	if err := l.ledger.RecordEvent(ctx, &ev); err != nil {
		l.log.Warn("ledger event write failed", zap.String("kind", kind), zap.Error(err))
	}
}
