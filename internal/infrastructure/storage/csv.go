package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// LoadCandlesCSV reads one symbol's history from a CSV file with the
// columns: timestamp,open,high,low,close,volume. The timestamp is unix
// milliseconds or RFC3339. A header row is detected and skipped.
func LoadCandlesCSV(path, symbol string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var candles []domain.Candle
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%s row %d: expected 6 columns, got %d", path, i+1, len(row))
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			if i == 0 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}

		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d col %d: %w", path, i+1, j+1, err)
			}
			vals[j-1] = v
		}

		candles = append(candles, domain.Candle{
			Symbol:   symbol,
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return t.UTC(), nil
}
