package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mlukyanov/tradecore/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// BybitFeed streams closed klines over the public V5 websocket and fetches
// history over REST. Only confirmed (closed) candles are delivered to
// callbacks; the in-progress candle repaints and would feed the pipeline
// unstable values.
type BybitFeed struct {
	baseURL   string
	wsURL     string
	interval  string
	client    *http.Client
	log       *zap.Logger
	mu        sync.Mutex
	wsConn    *websocket.Conn
	callbacks []func(domain.Candle)
	symbols   []string
}

func NewBybitFeed(baseURL, wsURL, interval string, log *zap.Logger) *BybitFeed {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &BybitFeed{
		baseURL:  baseURL,
		wsURL:    wsURL,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (b *BybitFeed) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols = append(b.symbols, symbols...)
	if b.wsConn != nil {
		return b.subscribe(symbols)
	}
	return nil
}

func (b *BybitFeed) OnCandle(callback func(domain.Candle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Run connects, subscribes and reads until the context is cancelled or the
// connection drops. Reconnection policy belongs to the caller.
func (b *BybitFeed) Run(ctx context.Context) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.wsURL, err)
	}

	b.mu.Lock()
	b.wsConn = c
	symbols := make([]string, len(b.symbols))
	copy(symbols, b.symbols)
	err = b.subscribe(symbols)
	b.mu.Unlock()
	if err != nil {
		c.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	return b.readLoop(ctx, c)
}

func (b *BybitFeed) subscribe(symbols []string) error {
	if len(symbols) == 0 || b.wsConn == nil {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "kline." + b.interval + "." + s
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BybitFeed) readLoop(ctx context.Context, c *websocket.Conn) error {
	defer func() {
		c.Close()
		b.mu.Lock()
		b.wsConn = nil
		b.mu.Unlock()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ws read: %w", err)
		}

		var event struct {
			Topic string `json:"topic"`
			Data  []struct {
				Start   int64  `json:"start"`
				Open    string `json:"open"`
				High    string `json:"high"`
				Low     string `json:"low"`
				Close   string `json:"close"`
				Volume  string `json:"volume"`
				Confirm bool   `json:"confirm"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.log.Warn("ws unmarshal failed", zap.Error(err))
			continue
		}
		if event.Topic == "" {
			continue
		}

		symbol := klineSymbol(event.Topic)
		if symbol == "" {
			continue
		}

		for _, k := range event.Data {
			if !k.Confirm {
				continue
			}
			candle, err := parseKline(symbol, k.Start, k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				b.log.Warn("kline parse failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}

			b.mu.Lock()
			callbacks := make([]func(domain.Candle), len(b.callbacks))
			copy(callbacks, b.callbacks)
			b.mu.Unlock()

			for _, cb := range callbacks {
				cb(candle)
			}
		}
	}
}

// GetCandles fetches recent history over REST, oldest first, for strategy
// warm-up before the stream takes over.
func (b *BybitFeed) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, b.interval, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bybit kline: %s", string(body))
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error: %d", result.RetCode)
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		candle, err := parseKline(symbol, ts, raw[1], raw[2], raw[3], raw[4], raw[5])
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}

	// Bybit returns newest first; reverse to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func klineSymbol(topic string) string {
	// topic: kline.<interval>.<symbol>
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '.' {
			return topic[i+1:]
		}
	}
	return ""
}

func parseKline(symbol string, startMs int64, open, high, low, closePrice, volume string) (domain.Candle, error) {
	o, err := strconv.ParseFloat(open, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	h, err := strconv.ParseFloat(high, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	l, err := strconv.ParseFloat(low, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	c, err := strconv.ParseFloat(closePrice, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	v, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Symbol:   symbol,
		OpenTime: time.UnixMilli(startMs).UTC(),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Volume:   v,
	}, nil
}
