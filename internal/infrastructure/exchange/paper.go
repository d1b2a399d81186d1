package exchange

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// PaperBroker fills every market order at the last observed price plus a
// fixed slippage against the trade. Prices are pushed in from the candle
// feed; an order for a symbol with no price yet is an error, not a zero
// fill.
type PaperBroker struct {
	mu       sync.RWMutex
	prices   map[string]float64
	slippage float64
	log      *zap.Logger
}

func NewPaperBroker(slippage float64, log *zap.Logger) *PaperBroker {
	return &PaperBroker{
		prices:   make(map[string]float64),
		slippage: slippage,
		log:      log,
	}
}

// SetPrice records the latest market price for a symbol.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperBroker) PlaceOrder(_ context.Context, ins domain.OrderInstruction) (float64, error) {
	p.mu.RLock()
	price, ok := p.prices[ins.Symbol]
	p.mu.RUnlock()
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no market price for %s", ins.Symbol)
	}

	// Buying fills above market, selling below. A reduce order carries
	// the closing side, so the side alone determines the sign.
	fill := price * (1 + p.slippage)
	if ins.Side == domain.SideShort {
		fill = price * (1 - p.slippage)
	}

	p.log.Info("paper fill",
		zap.String("symbol", ins.Symbol),
		zap.String("side", string(ins.Side)),
		zap.Bool("reduce", ins.Reduce),
		zap.Float64("quantity", ins.Quantity),
		zap.Float64("fill", fill))
	return fill, nil
}
