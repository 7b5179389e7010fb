// Package marketdata fetches candle history for the strategy. A Feed tries
// its primary source first and falls back to a secondary source when the
// primary fails, so a flaky data endpoint degrades to stale-but-usable data
// instead of stopping the loop.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delta-trading-bot/internal/delta"
	"delta-trading-bot/internal/logging"
)

// ErrDataUnavailable is returned when every configured source failed or
// returned fewer candles than the strategy needs.
var ErrDataUnavailable = errors.New("market data unavailable")

// Source returns candle history for a symbol, oldest first.
type Source interface {
	Name() string
	Candles(ctx context.Context, symbol, resolution string, limit int) ([]Candle, error)
}

// Feed serves candle history from an ordered list of sources.
type Feed struct {
	sources    []Source
	minCandles int
	logger     *logging.Logger
}

// NewFeed creates a feed over the given sources, tried in order. minCandles
// is the smallest window a fetch may return; shorter histories are treated
// as a source failure.
func NewFeed(minCandles int, sources ...Source) *Feed {
	return &Feed{
		sources:    sources,
		minCandles: minCandles,
		logger:     logging.WithComponent("marketdata"),
	}
}

// Fetch returns at least minCandles finalized candles, oldest first. Each
// source gets one attempt; the first that returns enough candles wins. When
// all sources fail the error wraps ErrDataUnavailable.
func (f *Feed) Fetch(ctx context.Context, symbol, resolution string, limit int) ([]Candle, error) {
	if limit < f.minCandles {
		limit = f.minCandles
	}

	var lastErr error
	for i, src := range f.sources {
		candles, err := src.Candles(ctx, symbol, resolution, limit)
		if err != nil {
			lastErr = err
			f.logger.Warn("candle source failed",
				"source", src.Name(), "symbol", symbol, "error", err)
			continue
		}
		if len(candles) < f.minCandles {
			lastErr = fmt.Errorf("source %s returned %d candles, need %d",
				src.Name(), len(candles), f.minCandles)
			f.logger.Warn("candle source returned short history",
				"source", src.Name(), "symbol", symbol,
				"got", len(candles), "need", f.minCandles)
			continue
		}
		if i > 0 {
			f.logger.Info("using fallback candle source",
				"source", src.Name(), "symbol", symbol, "candles", len(candles))
		}
		return candles, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, lastErr)
	}
	return nil, ErrDataUnavailable
}

// deltaSource adapts the Delta Exchange client to the Source interface.
type deltaSource struct {
	client *delta.Client
}

// NewDeltaSource wraps a Delta client as a candle source.
func NewDeltaSource(client *delta.Client) Source {
	return &deltaSource{client: client}
}

func (s *deltaSource) Name() string { return "delta" }

func (s *deltaSource) Candles(ctx context.Context, symbol, resolution string, limit int) ([]Candle, error) {
	raw, err := s.client.GetCandles(ctx, symbol, resolution, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(raw))
	for _, rc := range raw {
		candles = append(candles, Candle{
			Time:   time.Unix(rc.Time, 0).UTC(),
			Open:   rc.Open,
			High:   rc.High,
			Low:    rc.Low,
			Close:  rc.Close,
			Volume: rc.Volume,
		})
	}
	// Delta occasionally returns newest-first; normalize to oldest-first
	if len(candles) > 1 && candles[0].Time.After(candles[len(candles)-1].Time) {
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}
	}
	return candles, nil
}
