package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// binanceSource fetches spot klines from the Binance public API. It needs no
// credentials and serves as the fallback when the primary exchange feed is
// down. Derivative symbols are mapped to their spot equivalents, e.g.
// BTCUSD -> BTCUSDT.
type binanceSource struct {
	baseURL    string
	symbolMap  map[string]string
	httpClient *http.Client
}

// NewBinanceSource creates the fallback candle source.
func NewBinanceSource(baseURL string, symbolMap map[string]string, timeout time.Duration) Source {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &binanceSource{
		baseURL:    baseURL,
		symbolMap:  symbolMap,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *binanceSource) Name() string { return "binance" }

func (s *binanceSource) Candles(ctx context.Context, symbol, resolution string, limit int) ([]Candle, error) {
	mapped, ok := s.symbolMap[symbol]
	if !ok {
		return nil, fmt.Errorf("no fallback symbol mapping for %s", symbol)
	}

	params := url.Values{}
	params.Set("symbol", mapped)
	params.Set("interval", resolution)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/api/v3/klines?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("binance klines HTTP %d: %s", resp.StatusCode, body)
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("malformed kline row with %d fields", len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("malformed kline open time: %w", err)
		}
		c := Candle{Time: time.UnixMilli(openTime).UTC()}
		for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			var str string
			if err := json.Unmarshal(row[i+1], &str); err != nil {
				return nil, fmt.Errorf("malformed kline field %d: %w", i+1, err)
			}
			v, err := strconv.ParseFloat(str, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed kline value %q: %w", str, err)
			}
			*dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}
