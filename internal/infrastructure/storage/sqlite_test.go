package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlukyanov/tradecore/internal/domain"
	"github.com/mlukyanov/tradecore/internal/infrastructure/storage"
)

func newLedger(t *testing.T) *storage.SQLiteLedger {
	t.Helper()
	ledger, err := storage.NewSQLiteLedger(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func sampleRecord(id string, openedAt time.Time) *domain.TradeRecord {
	return &domain.TradeRecord{
		ID:         id,
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		EntryPrice: 50000,
		Quantity:   0.5,
		OpenedAt:   openedAt,
		FeesPaid:   25,
		StrategyID: "ensemble",
	}
}

func TestSQLiteLedger_OpenCloseRoundTrip(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := sampleRecord("trade-1", openedAt)
	require.NoError(t, ledger.RecordOpen(ctx, rec))

	trades, err := ledger.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Closed)
	assert.True(t, trades[0].ClosedAt.IsZero())
	assert.Equal(t, "ensemble", trades[0].StrategyID)

	rec.ExitPrice = 52000
	rec.ClosedAt = openedAt.Add(6 * time.Hour)
	rec.ExitReason = domain.ExitTakeProfit
	rec.FeesPaid = 51
	rec.PnL = 949
	rec.PnLPct = 3.8
	require.NoError(t, ledger.RecordClose(ctx, rec))

	trades, err = ledger.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.True(t, got.Closed)
	assert.Equal(t, domain.ExitTakeProfit, got.ExitReason)
	assert.InDelta(t, 52000, got.ExitPrice, 1e-9)
	assert.InDelta(t, 949, got.PnL, 1e-9)
	assert.Equal(t, rec.ClosedAt, got.ClosedAt.UTC())
}

func TestSQLiteLedger_CloseWithoutOpenInsertsFullRow(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()

	rec := sampleRecord("orphan-close", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	rec.ExitPrice = 49000
	rec.ClosedAt = rec.OpenedAt.Add(time.Hour)
	rec.ExitReason = domain.ExitStopLoss
	rec.PnL = -500
	require.NoError(t, ledger.RecordClose(ctx, rec))

	trades, err := ledger.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Closed)
	assert.Equal(t, domain.ExitStopLoss, trades[0].ExitReason)
	assert.InDelta(t, 50000, trades[0].EntryPrice, 1e-9)
}

func TestSQLiteLedger_ListTradesNewestFirst(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.RecordOpen(ctx, sampleRecord("older", base)))
	require.NoError(t, ledger.RecordOpen(ctx, sampleRecord("newer", base.Add(2*time.Hour))))

	trades, err := ledger.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "newer", trades[0].ID)
	assert.Equal(t, "older", trades[1].ID)
}

func TestSQLiteLedger_EventsFilteredBySince(t *testing.T) {
	ledger := newLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []string{"rejection", "data_error", "emergency_stop"} {
		ev := &domain.EngineEvent{
			At:     base.Add(time.Duration(i) * time.Hour),
			Symbol: "BTCUSDT",
			Kind:   kind,
			Detail: kind + " detail",
		}
		require.NoError(t, ledger.RecordEvent(ctx, ev))
	}

	events, err := ledger.ListEvents(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "data_error", events[0].Kind)
	assert.Equal(t, "emergency_stop", events[1].Kind)
}
