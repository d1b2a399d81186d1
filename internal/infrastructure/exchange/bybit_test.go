package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/domain"
)

func TestKlineSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", klineSymbol("kline.15.BTCUSDT"))
	assert.Equal(t, "ETHUSDT", klineSymbol("kline.240.ETHUSDT"))
	assert.Equal(t, "", klineSymbol("no-dots"))
}

func TestParseKline(t *testing.T) {
	c, err := parseKline("BTCUSDT", 1709251200000, "50000", "50500.5", "49800", "50200", "12.5")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), c.OpenTime)
	assert.InDelta(t, 50500.5, c.High, 1e-9)
	assert.InDelta(t, 12.5, c.Volume, 1e-9)
}

func TestParseKline_BadNumber(t *testing.T) {
	_, err := parseKline("BTCUSDT", 0, "50000", "not-a-price", "49800", "50200", "1")
	require.Error(t, err)
}

func TestPaperBroker_FillsWithSlippage(t *testing.T) {
	b := NewPaperBroker(0.001, zap.NewNop())
	b.SetPrice("BTCUSDT", 50000)

	fill, err := b.PlaceOrder(context.Background(), domain.OrderInstruction{
		Symbol:   "BTCUSDT",
		Side:     domain.SideLong,
		Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 50050, fill, 1e-9)

	// A closing sell crosses the spread the other way.
	fill, err = b.PlaceOrder(context.Background(), domain.OrderInstruction{
		Symbol:   "BTCUSDT",
		Side:     domain.SideShort,
		Quantity: 0.5,
		Reduce:   true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 49950, fill, 1e-9)
}

func TestPaperBroker_UnknownSymbol(t *testing.T) {
	b := NewPaperBroker(0, zap.NewNop())
	_, err := b.PlaceOrder(context.Background(), domain.OrderInstruction{
		Symbol: "DOGEUSDT",
		Side:   domain.SideLong,
	})
	require.Error(t, err)
}
