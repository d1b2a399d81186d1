package domain

import "context"

// Strategy is one external opinion provider. Implementations receive the
// candle history and return a Signal without touching engine state; a nil
// return means "no opinion this tick".
type Strategy interface {
	Name() string
	Analyze(history []Candle) *Signal
	MinCandles() int
}

// CandleFeed delivers candles for subscribed symbols. Backtest feeds are
// finite; live feeds run until the context is cancelled. Candles must be
// non-decreasing in OpenTime per symbol.
type CandleFeed interface {
	Subscribe(symbols []string) error
	OnCandle(callback func(Candle))
	Run(ctx context.Context) error
}

// TradeLedger receives one record per open and per close, plus the
// rejection/event log. The core never formats or displays this data.
type TradeLedger interface {
	RecordOpen(ctx context.Context, rec *TradeRecord) error
	RecordClose(ctx context.Context, rec *TradeRecord) error
	RecordEvent(ctx context.Context, ev *EngineEvent) error
}

// Broker executes market orders in live mode and returns the actual fill
// price for reconciliation.
type Broker interface {
	PlaceOrder(ctx context.Context, ins OrderInstruction) (fillPrice float64, err error)
}
