package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeSource struct {
	name    string
	candles []Candle
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Candles(ctx context.Context, symbol, resolution string, limit int) ([]Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func makeCandles(n int) []Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			Time:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:  100, High: 101, Low: 99, Close: 100.5,
		}
	}
	return candles
}

func TestFeedUsesPrimary(t *testing.T) {
	primary := &fakeSource{name: "primary", candles: makeCandles(10)}
	secondary := &fakeSource{name: "secondary", candles: makeCandles(10)}
	feed := NewFeed(5, primary, secondary)

	candles, err := feed.Fetch(context.Background(), "BTCUSD", "5m", 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(candles) != 10 {
		t.Errorf("expected 10 candles, got %d", len(candles))
	}
	if secondary.calls != 0 {
		t.Error("secondary source should not be called when primary succeeds")
	}
}

func TestFeedFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeSource{name: "primary", err: errors.New("connection refused")}
	secondary := &fakeSource{name: "secondary", candles: makeCandles(10)}
	feed := NewFeed(5, primary, secondary)

	candles, err := feed.Fetch(context.Background(), "BTCUSD", "5m", 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(candles) != 10 {
		t.Errorf("expected 10 candles, got %d", len(candles))
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("expected one call each, got primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

func TestFeedFallsBackOnShortHistory(t *testing.T) {
	primary := &fakeSource{name: "primary", candles: makeCandles(3)}
	secondary := &fakeSource{name: "secondary", candles: makeCandles(10)}
	feed := NewFeed(5, primary, secondary)

	candles, err := feed.Fetch(context.Background(), "BTCUSD", "5m", 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(candles) != 10 {
		t.Errorf("expected fallback candles, got %d", len(candles))
	}
}

func TestFeedAllSourcesFail(t *testing.T) {
	primary := &fakeSource{name: "primary", err: errors.New("timeout")}
	secondary := &fakeSource{name: "secondary", err: errors.New("HTTP 503")}
	feed := NewFeed(5, primary, secondary)

	_, err := feed.Fetch(context.Background(), "BTCUSD", "5m", 10)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestBinanceSourceParsesKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("expected mapped symbol BTCUSDT, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			[1748736000000,"104000.0","104500.0","103800.0","104200.0","12.5",1748736299999,"0",0,"0","0","0"],
			[1748736300000,"104200.0","104800.0","104100.0","104700.0","9.1",1748736599999,"0",0,"0","0","0"]
		]`)
	}))
	defer server.Close()

	src := NewBinanceSource(server.URL, map[string]string{"BTCUSD": "BTCUSDT"}, time.Second)
	candles, err := src.Candles(context.Background(), "BTCUSD", "5m", 2)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 104200.0 {
		t.Errorf("expected close 104200.0, got %v", candles[0].Close)
	}
	if !candles[1].Time.After(candles[0].Time) {
		t.Error("candles should be oldest first")
	}
}

func TestBinanceSourceUnmappedSymbol(t *testing.T) {
	src := NewBinanceSource("http://localhost:0", map[string]string{}, time.Second)
	if _, err := src.Candles(context.Background(), "XRPUSD", "5m", 10); err == nil {
		t.Fatal("expected error for unmapped symbol")
	}
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5m", 5 * time.Minute, true},
		{"1h", time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"15m", 15 * time.Minute, true},
		{"", 0, false},
		{"5x", 0, false},
		{"m", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseInterval(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseInterval(%q) should fail", tc.in)
		}
	}
}

func TestNextBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 3, 27, 0, time.UTC)
	next := NextBoundary(now, 5*time.Minute)
	want := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", next, want)
	}
}
