package usecase

import (
	"fmt"
	"sync"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// exitMark remembers when and how a symbol last exited. The clock is the
// engine's logical candle counter, never an index into a rotating buffer,
// so cooldown bookkeeping survives buffer rotation.
type exitMark struct {
	clock   uint64
	wasLoss bool
}

// Portfolio is the single shared mutable resource: balance, open
// positions, trailing states, correlation counters and cooldown clocks.
// All mutation goes through Open/Close; the embedded lock is the
// serialized-access boundary for live mode.
type Portfolio struct {
	mu sync.RWMutex

	initialCapital float64
	available      float64
	realizedPnL    float64
	feesPaid       float64

	positions map[string]*domain.Position
	trailing  map[string]*domain.TrailingStopState
	lastExit  map[string]exitMark
	groups    map[string]string // symbol -> correlation group

	peakEquity  float64
	maxDrawdown float64 // percent
}

func NewPortfolio(initialCapital float64, groups map[string]string) *Portfolio {
	g := make(map[string]string, len(groups))
	for k, v := range groups {
		g[k] = v
	}
	return &Portfolio{
		initialCapital: initialCapital,
		available:      initialCapital,
		positions:      make(map[string]*domain.Position),
		trailing:       make(map[string]*domain.TrailingStopState),
		lastExit:       make(map[string]exitMark),
		groups:         g,
		peakEquity:     initialCapital,
	}
}

func (p *Portfolio) Available() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

func (p *Portfolio) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

func (p *Portfolio) FeesPaid() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feesPaid
}

func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[symbol]
	return ok
}

// Position returns a copy so callers cannot alias engine-owned state.
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

func (p *Portfolio) OpenPositions() []domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

func (p *Portfolio) PositionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

func (p *Portfolio) Group(symbol string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.groups[symbol]
}

// CorrelatedCount counts open positions sharing the symbol's correlation
// group, the symbol's own position included.
func (p *Portfolio) CorrelatedCount(symbol string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	group := p.groups[symbol]
	if group == "" {
		return 0
	}
	n := 0
	for sym := range p.positions {
		if p.groups[sym] == group {
			n++
		}
	}
	return n
}

// Open inserts the position and its trailing state and debits the entry
// notional plus fee. Opening over an existing position or with a
// non-positive quantity is an invariant violation, not a rejection.
func (p *Portfolio) Open(pos *domain.Position, ts *domain.TrailingStopState, cost float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[pos.Symbol]; exists {
		return fmt.Errorf("%w: second open for %s", domain.ErrInvariant, pos.Symbol)
	}
	if pos.Quantity <= 0 {
		return fmt.Errorf("%w: non-positive quantity %f for %s", domain.ErrInvariant, pos.Quantity, pos.Symbol)
	}
	if pos.StopLoss != 0 {
		wrongSide := (pos.Side == domain.SideLong && pos.StopLoss >= pos.EntryPrice) ||
			(pos.Side == domain.SideShort && pos.StopLoss <= pos.EntryPrice)
		if wrongSide {
			return fmt.Errorf("%w: stop %.8f on wrong side of entry %.8f (%s %s)",
				domain.ErrInvariant, pos.StopLoss, pos.EntryPrice, pos.Symbol, pos.Side)
		}
	}
	if cost > p.available {
		return fmt.Errorf("%w: open cost %.2f exceeds available %.2f", domain.ErrInvariant, cost, p.available)
	}

	p.positions[pos.Symbol] = pos
	p.trailing[pos.Symbol] = ts
	p.available -= cost
	p.feesPaid += pos.EntryFee
	return nil
}

// Close removes the position, credits the exit notional net of the exit
// fee and records the cooldown mark. Returns the closed position.
func (p *Portfolio) Close(symbol string, exitPrice, exitFee float64, clock uint64) (domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("%w: close without open position for %s", domain.ErrInvariant, symbol)
	}

	netPnL := pos.PnL(exitPrice) - pos.EntryFee - exitFee

	// Entry notional was debited at open; return it plus the gross PnL,
	// minus the exit fee.
	p.available += pos.EntryPrice*pos.Quantity + pos.PnL(exitPrice) - exitFee
	p.realizedPnL += netPnL
	p.feesPaid += exitFee

	delete(p.positions, symbol)
	delete(p.trailing, symbol)
	p.lastExit[symbol] = exitMark{clock: clock, wasLoss: netPnL < 0}

	return *pos, nil
}

// Trailing exposes the engine-owned trailing state for in-place ratchet
// updates. Callers run inside the engine's serialized step.
func (p *Portfolio) Trailing(symbol string) (*domain.TrailingStopState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.trailing[symbol]
	return ts, ok
}

// MutatePosition applies fn to the live position under the lock.
func (p *Portfolio) MutatePosition(symbol string, fn func(*domain.Position)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return false
	}
	fn(pos)
	return true
}

// LastExit returns the cooldown mark for a symbol, if any.
func (p *Portfolio) LastExit(symbol string) (clock uint64, wasLoss, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, found := p.lastExit[symbol]
	return m.clock, m.wasLoss, found
}

// Equity values open positions at the given prices plus cash.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq := p.available
	for sym, pos := range p.positions {
		price, ok := prices[sym]
		if !ok {
			price = pos.EntryPrice
		}
		eq += pos.EntryPrice*pos.Quantity + pos.PnL(price)
	}
	return eq
}

// UpdateDrawdown refreshes peak equity and the max drawdown percentage.
func (p *Portfolio) UpdateDrawdown(prices map[string]float64) float64 {
	eq := p.Equity(prices)
	p.mu.Lock()
	defer p.mu.Unlock()
	if eq > p.peakEquity {
		p.peakEquity = eq
	}
	if p.peakEquity > 0 {
		dd := (p.peakEquity - eq) / p.peakEquity * 100
		if dd > p.maxDrawdown {
			p.maxDrawdown = dd
		}
	}
	return p.maxDrawdown
}

func (p *Portfolio) MaxDrawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxDrawdown
}

func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}
