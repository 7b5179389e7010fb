package marketdata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one finalized OHLC bar. Candles are immutable once fetched and
// always handled as an oldest-first sequence.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ParseInterval converts an exchange resolution string ("1m", "5m", "1h",
// "1d") into a duration.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(strings.TrimSuffix(s, string(unit)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", s)
	}
}

// NextBoundary returns the first candle-close boundary strictly after now
// for the given interval, e.g. the next 5-minute mark.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}
