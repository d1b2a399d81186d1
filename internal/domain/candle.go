package domain

import (
	"fmt"
	"time"
)

type Candle struct {
	Symbol   string    `json:"symbol"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate reports a data error for candles that must be dropped rather
// than processed: inverted high/low or non-positive prices.
func (c Candle) Validate() error {
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8f < low %.8f", ErrBadCandle, c.High, c.Low)
	}
	if c.Open <= 0 || c.Close <= 0 || c.Low <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrBadCandle)
	}
	return nil
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

func (c Candle) ChangePct() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// CandleBuffer is a bounded history of candles for one symbol. It is the
// only buffer that rotates; anything that must survive rotation (cooldown
// clocks, last-exit bookkeeping) lives on the portfolio keyed by symbol.
type CandleBuffer struct {
	candles []Candle
	maxSize int
}

func NewCandleBuffer(maxSize int) *CandleBuffer {
	return &CandleBuffer{
		candles: make([]Candle, 0, maxSize),
		maxSize: maxSize,
	}
}

func (b *CandleBuffer) Push(c Candle) {
	if len(b.candles) >= b.maxSize {
		b.candles = b.candles[1:]
	}
	b.candles = append(b.candles, c)
}

func (b *CandleBuffer) Len() int {
	return len(b.candles)
}

func (b *CandleBuffer) Last() (Candle, bool) {
	if len(b.candles) == 0 {
		return Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// Candles returns the buffered history, oldest first. The returned slice
// must be treated as read-only by strategies.
func (b *CandleBuffer) Candles() []Candle {
	return b.candles
}

func (b *CandleBuffer) LastN(n int) []Candle {
	if n >= len(b.candles) {
		return b.candles
	}
	return b.candles[len(b.candles)-n:]
}
