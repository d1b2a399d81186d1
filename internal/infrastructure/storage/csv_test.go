package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlukyanov/tradecore/internal/infrastructure/storage"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCandlesCSV_UnixMillisWithHeader(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
1709251200000,50000,50500,49800,50200,12.5
1709254800000,50200,50600,50100,50550,8.1
`)
	candles, err := storage.LoadCandlesCSV(path, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.OpenTime)
	assert.InDelta(t, 50000, first.Open, 1e-9)
	assert.InDelta(t, 50500, first.High, 1e-9)
	assert.InDelta(t, 49800, first.Low, 1e-9)
	assert.InDelta(t, 50200, first.Close, 1e-9)
	assert.InDelta(t, 12.5, first.Volume, 1e-9)
}

func TestLoadCandlesCSV_RFC3339NoHeader(t *testing.T) {
	path := writeCSV(t, `2024-03-01T00:00:00Z,100,101,99,100.5,3
2024-03-01T01:00:00+02:00,100.5,102,100,101,4
`)
	candles, err := storage.LoadCandlesCSV(path, "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), candles[0].OpenTime)
	// Offsets are normalized to UTC.
	assert.Equal(t, time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), candles[1].OpenTime)
}

func TestLoadCandlesCSV_BadTimestampPastHeader(t *testing.T) {
	path := writeCSV(t, `1709251200000,100,101,99,100.5,3
not-a-time,100,101,99,100.5,3
`)
	_, err := storage.LoadCandlesCSV(path, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestLoadCandlesCSV_ShortRow(t *testing.T) {
	path := writeCSV(t, "1709251200000,100,101,99\n")
	_, err := storage.LoadCandlesCSV(path, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 6 columns")
}

func TestLoadCandlesCSV_BadPrice(t *testing.T) {
	path := writeCSV(t, "1709251200000,100,abc,99,100.5,3\n")
	_, err := storage.LoadCandlesCSV(path, "BTCUSDT")
	require.Error(t, err)
}

func TestLoadCandlesCSV_MissingFile(t *testing.T) {
	_, err := storage.LoadCandlesCSV(filepath.Join(t.TempDir(), "absent.csv"), "BTCUSDT")
	require.Error(t, err)
}
