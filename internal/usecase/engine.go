package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/config"
	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/indicator"
)

const (
	atrPeriod    = 14
	historyDepth = 500
)

// EngineInstrument binds one symbol to its strategies and aggregator.
type EngineInstrument struct {
	Symbol     string
	Strategies []domain.Strategy
	Aggregator *SignalAggregator
}

type instrumentState struct {
	cfg        EngineInstrument
	buffer     *domain.CandleBuffer
	atr        *indicator.ATR
	clock      uint64
	firstClose float64
	lastClose  float64
}

// EquityPoint is one sample of the equity curve, taken after each
// processed candle.
type EquityPoint struct {
	At     time.Time
	Equity float64
}

// SimulationEngine replays historical candles through the full decision
// pipeline. Every candle runs the same fixed step: validate, update state,
// evaluate exits, then evaluate new entries. Exits always run before
// entries so freed capital and cooldown marks are visible to admission on
// the same candle.
type SimulationEngine struct {
	risk       config.RiskLimits
	log        *zap.Logger
	ledger     domain.TradeLedger
	admission  *AdmissionController
	exits      *ExitStateMachine
	portfolio  *Portfolio
	states     map[string]*instrumentState
	prices     map[string]float64
	equity     []EquityPoint
	trades     []domain.TradeRecord
	rejections map[domain.RejectReason]int
	dataErrors int
	emergency  bool
}

func NewSimulationEngine(cfg *config.Config, instruments []EngineInstrument, ledger domain.TradeLedger, log *zap.Logger) (*SimulationEngine, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", domain.ErrConfig)
	}

	groups := make(map[string]string, len(cfg.Instruments))
	for _, ins := range cfg.Instruments {
		groups[ins.Symbol] = ins.CorrelationGroup
	}

	e := &SimulationEngine{
		risk:       cfg.Risk,
		log:        log,
		ledger:     ledger,
		admission:  NewAdmissionController(cfg.Risk, log),
		exits:      NewExitStateMachine(cfg.Risk, log),
		portfolio:  NewPortfolio(cfg.InitialBalance, groups),
		states:     make(map[string]*instrumentState, len(instruments)),
		prices:     make(map[string]float64, len(instruments)),
		rejections: make(map[domain.RejectReason]int),
	}
	for _, ins := range instruments {
		if _, dup := e.states[ins.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", domain.ErrConfig, ins.Symbol)
		}
		e.states[ins.Symbol] = &instrumentState{
			cfg:    ins,
			buffer: domain.NewCandleBuffer(historyDepth),
			atr:    indicator.NewATR(atrPeriod),
		}
	}
	return e, nil
}

func (e *SimulationEngine) Portfolio() *Portfolio { return e.portfolio }

// Run replays the candle sets on a single merged timeline ordered by open
// time, with the symbol as tie-break so identical inputs always produce
// identical output.
func (e *SimulationEngine) Run(ctx context.Context, candles map[string][]domain.Candle) (*BacktestResults, error) {
	timeline := make([]domain.Candle, 0)
	for sym, cs := range candles {
		if _, ok := e.states[sym]; !ok {
			e.log.Warn("candles for unconfigured symbol dropped", zap.String("symbol", sym))
			continue
		}
		timeline = append(timeline, cs...)
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if !timeline[i].OpenTime.Equal(timeline[j].OpenTime) {
			return timeline[i].OpenTime.Before(timeline[j].OpenTime)
		}
		return timeline[i].Symbol < timeline[j].Symbol
	})
	if len(timeline) == 0 {
		return nil, fmt.Errorf("%w: empty candle timeline", domain.ErrConfig)
	}

	e.log.Info("simulation start",
		zap.Int("candles", len(timeline)),
		zap.Int("instruments", len(e.states)),
		zap.Float64("initial_balance", e.portfolio.InitialCapital()))

	for _, c := range timeline {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := e.step(ctx, c); err != nil {
			return nil, err
		}
	}

	last := timeline[len(timeline)-1]
	if err := e.closeAll(ctx, domain.ExitEndOfRun, last.OpenTime); err != nil {
		return nil, err
	}

	res := e.buildResults()
	e.log.Info("simulation done",
		zap.Int("trades", res.TotalTrades),
		zap.Float64("return_pct", res.TotalReturnPct),
		zap.Float64("max_drawdown_pct", res.MaxDrawdownPct))
	return res, nil
}

func (e *SimulationEngine) step(ctx context.Context, c domain.Candle) error {
	st := e.states[c.Symbol]

	if err := c.Validate(); err != nil {
		e.dataErrors++
		e.log.Warn("bad candle dropped", zap.String("symbol", c.Symbol), zap.Error(err))
		e.recordEvent(ctx, c.OpenTime, c.Symbol, "data_error", err.Error())
		return nil
	}
	// Duplicate or backdated timestamps survive the timeline sort; each
	// instrument only ever accepts a strictly advancing open time.
	if last, ok := st.buffer.Last(); ok && !c.OpenTime.After(last.OpenTime) {
		e.dataErrors++
		e.log.Warn("out-of-order candle dropped",
			zap.String("symbol", c.Symbol),
			zap.Time("open_time", c.OpenTime),
			zap.Time("last_open_time", last.OpenTime))
		e.recordEvent(ctx, c.OpenTime, c.Symbol, "data_error", "non-monotonic open time")
		return nil
	}

	st.clock++
	if st.firstClose == 0 {
		st.firstClose = c.Close
	}
	st.lastClose = c.Close
	e.prices[c.Symbol] = c.Close
	st.buffer.Push(c)

	atrVal, _ := st.atr.Update(c.High, c.Low, c.Close)
	level, levelKnown := st.atr.Level(c.Close)
	if levelKnown {
		st.cfg.Aggregator.AdjustForRegime(level)
	}

	exited, err := e.evaluateExits(ctx, st, c, atrVal)
	if err != nil {
		return err
	}

	decision, hasDecision := e.evaluateSignals(st)
	if hasDecision {
		if e.portfolio.HasPosition(c.Symbol) {
			if err := e.checkReversal(ctx, st, c, decision); err != nil {
				return err
			}
		} else if !exited && decision.Direction != domain.Neutral {
			// A symbol that closed this candle may not reopen from the
			// same candle's data.
			if err := e.tryOpen(ctx, st, c, decision, level, levelKnown); err != nil {
				return err
			}
		}
	}

	dd := e.portfolio.UpdateDrawdown(e.prices)
	if !e.emergency && e.risk.MaxDrawdownPct > 0 && dd >= e.risk.MaxDrawdownPct {
		e.emergency = true
		e.log.Error("max drawdown breached, trading halted",
			zap.Float64("drawdown_pct", dd),
			zap.Float64("limit_pct", e.risk.MaxDrawdownPct))
		e.recordEvent(ctx, c.OpenTime, "", "emergency_stop",
			fmt.Sprintf("drawdown %.2f%% >= limit %.2f%%", dd, e.risk.MaxDrawdownPct))
		if err := e.closeAll(ctx, domain.ExitEmergencyStop, c.OpenTime); err != nil {
			return err
		}
	}

	e.equity = append(e.equity, EquityPoint{At: c.OpenTime, Equity: e.portfolio.Equity(e.prices)})
	return nil
}

func (e *SimulationEngine) evaluateExits(ctx context.Context, st *instrumentState, c domain.Candle, atrVal float64) (bool, error) {
	if !e.portfolio.HasPosition(c.Symbol) {
		return false, nil
	}
	ts, _ := e.portfolio.Trailing(c.Symbol)

	var (
		exit    *ExitDecision
		evalErr error
	)
	e.portfolio.MutatePosition(c.Symbol, func(p *domain.Position) {
		exit, evalErr = e.exits.Evaluate(p, ts, c, atrVal, c.OpenTime)
	})
	if evalErr != nil {
		return false, evalErr
	}
	if exit == nil {
		return false, nil
	}
	return true, e.closePosition(ctx, c.Symbol, exit.Price, exit.Reason, c.OpenTime, st.clock)
}

// evaluateSignals runs every strategy with enough history and aggregates
// their signals. Returns false until at least one strategy is warm.
func (e *SimulationEngine) evaluateSignals(st *instrumentState) (domain.AggregatedDecision, bool) {
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
	if !ran {
		return domain.AggregatedDecision{}, false
	}
	return st.cfg.Aggregator.Aggregate(signals), true
}

// checkReversal closes an open position when the ensemble turns strongly
// against it with actionable confidence. Ordinary opposite leans are left
// to the stop and trailing machinery.
func (e *SimulationEngine) checkReversal(ctx context.Context, st *instrumentState, c domain.Candle, d domain.AggregatedDecision) error {
	pos, ok := e.portfolio.Position(c.Symbol)
	if !ok {
		return nil
	}
	reversed := (pos.Side == domain.SideLong && d.Direction == domain.StrongSell) ||
		(pos.Side == domain.SideShort && d.Direction == domain.StrongBuy)
	if !reversed || d.MaxConfidence < e.risk.MinConfidence {
		return nil
	}
	e.log.Info("signal reversal",
		zap.String("symbol", c.Symbol),
		zap.String("position_side", string(pos.Side)),
		zap.String("direction", string(d.Direction)),
		zap.Float64("confidence", d.MaxConfidence))
	return e.closePosition(ctx, c.Symbol, c.Close, domain.ExitSignalReversal, c.OpenTime, st.clock)
}

func (e *SimulationEngine) tryOpen(ctx context.Context, st *instrumentState, c domain.Candle, d domain.AggregatedDecision, level indicator.VolatilityLevel, levelKnown bool) error {
	in := AdmissionInput{
		Price:          c.Close,
		Now:            c.OpenTime,
		Clock:          st.clock,
		Vol:            level,
		VolKnown:       levelKnown,
		Emergency:      e.emergency,
		FallbackLevels: true,
	}
	adm, reason := e.admission.Decide(d, e.portfolio, in)
	if reason != domain.RejectNone {
		e.rejections[reason]++
		e.recordEvent(ctx, c.OpenTime, c.Symbol, "rejection", string(reason))
		return nil
	}

	if err := e.portfolio.Open(adm.Position, adm.Trailing, adm.Cost); err != nil {
		// Admission already checked funds and duplicates; reaching here
		// means internal state is corrupt and the run must not continue.
		return fmt.Errorf("open %s: %w", c.Symbol, err)
	}

	rec := openRecord(adm.Position)
	if err := e.ledger.RecordOpen(ctx, &rec); err != nil {
		e.log.Warn("ledger open write failed", zap.String("symbol", c.Symbol), zap.Error(err))
	}
	e.log.Info("position opened",
		zap.String("symbol", c.Symbol),
		zap.String("side", string(adm.Position.Side)),
		zap.Float64("entry", adm.Position.EntryPrice),
		zap.Float64("quantity", adm.Position.Quantity),
		zap.Float64("stop", adm.Position.StopLoss),
		zap.Float64("target", adm.Position.TakeProfit))
	return nil
}

// closePosition settles one position at the given raw price with slippage
// applied against the trade, writes the ledger row and keeps the in-memory
// trade list for results.
func (e *SimulationEngine) closePosition(ctx context.Context, symbol string, rawPrice float64, reason domain.ExitReason, at time.Time, clock uint64) error {
	pos, ok := e.portfolio.Position(symbol)
	if !ok {
		return nil
	}

	execPrice := rawPrice * (1 - e.risk.SlippageRate)
	if pos.Side == domain.SideShort {
		execPrice = rawPrice * (1 + e.risk.SlippageRate)
	}
	exitFee := execPrice * pos.Quantity * e.risk.FeeRate

	closed, err := e.portfolio.Close(symbol, execPrice, exitFee, clock)
	if err != nil {
		return err
	}

	pnl := closed.PnL(execPrice) - closed.EntryFee - exitFee
	rec := closeRecord(&closed, execPrice, exitFee, pnl, reason, at)
	e.trades = append(e.trades, rec)
	if err := e.ledger.RecordClose(ctx, &rec); err != nil {
		e.log.Warn("ledger close write failed", zap.String("symbol", symbol), zap.Error(err))
	}

	e.log.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit", execPrice),
		zap.Float64("pnl", pnl))
	return nil
}

func (e *SimulationEngine) closeAll(ctx context.Context, reason domain.ExitReason, at time.Time) error {
	for _, pos := range e.portfolio.OpenPositions() {
		price, ok := e.prices[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		st := e.states[pos.Symbol]
		if err := e.closePosition(ctx, pos.Symbol, price, reason, at, st.clock); err != nil {
			return err
		}
	}
	return nil
}

func (e *SimulationEngine) recordEvent(ctx context.Context, at time.Time, symbol, kind, detail string) {
	ev := domain.EngineEvent{At: at, Symbol: symbol, Kind: kind, Detail: detail}
	if err := e.ledger.RecordEvent(ctx, &ev); err != nil {
		e.log.Warn("ledger event write failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (e *SimulationEngine) buildResults() *BacktestResults {
	benchmark := 0.0
	n := 0
	for _, st := range e.states {
		if st.firstClose > 0 && st.lastClose > 0 {
			benchmark += (st.lastClose - st.firstClose) / st.firstClose * 100
			n++
		}
	}
	if n > 0 {
		benchmark /= float64(n)
	}
	return ComputeResults(ResultsInput{
		InitialBalance:     e.portfolio.InitialCapital(),
		FinalBalance:       e.portfolio.Equity(e.prices),
		MaxDrawdownPct:     e.portfolio.MaxDrawdown(),
		TotalFees:          e.portfolio.FeesPaid(),
		Trades:             e.trades,
		EquityCurve:        e.equity,
		Rejections:         e.rejections,
		DataErrors:         e.dataErrors,
		BenchmarkReturnPct: benchmark,
		EmergencyStopped:   e.emergency,
	})
}

func openRecord(pos *domain.Position) domain.TradeRecord {
	return domain.TradeRecord{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		OpenedAt:   pos.OpenedAt,
		FeesPaid:   pos.EntryFee,
		StrategyID: pos.StrategyID,
	}
}

func closeRecord(pos *domain.Position, exitPrice, exitFee, pnl float64, reason domain.ExitReason, at time.Time) domain.TradeRecord {
	entryNotional := pos.EntryPrice * pos.Quantity
	pct := 0.0
	if entryNotional > 0 {
		pct = pnl / entryNotional * 100
	}
	return domain.TradeRecord{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		ExitReason: reason,
		FeesPaid:   pos.EntryFee + exitFee,
		PnL:        pnl,
		PnLPct:     pct,
		StrategyID: pos.StrategyID,
		Closed:     true,
	}
}
