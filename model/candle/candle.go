package candle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Candle is one OHLCV bucket. Time is in seconds and, once produced by the
// chart engine, aligned to the bucket resolution.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Flat returns a synthetic doji at t with every price equal to price.
func Flat(t int64, price float64) Candle {
	return Candle{Time: t, Open: price, High: price, Low: price, Close: price}
}

// Valid reports whether low ≤ open,close ≤ high.
func (c Candle) Valid() bool {
	return c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High
}

// Tick is a single push-feed sample. Timestamp is in milliseconds.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Timestamp int64   `json:"timestamp"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
}

// Seconds returns the tick time truncated to whole seconds.
func (t Tick) Seconds() int64 {
	return floorDiv(t.Timestamp, 1000)
}

// Range is an inclusive [From, To] span of raw timestamps in seconds.
type Range struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// TruncSeconds truncates a possibly fractional timestamp to whole seconds.
// It reports false for NaN and ±Inf.
func TruncSeconds(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int64(math.Trunc(v)), true
}

// Align floors sec to a multiple of res. res must be positive.
func Align(sec, res int64) int64 {
	return floorDiv(sec, res) * res
}

// AlignMillis is floor(floor(ms/1000)/res)*res, the bucket key shared by
// REST and push data.
func AlignMillis(ms, res int64) int64 {
	return Align(floorDiv(ms, 1000), res)
}

// FiniteOrZero maps NaN and ±Inf to 0.
func FiniteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

var resolutionUnits = []struct {
	suffix string
	sec    int64
}{
	{"w", 7 * 24 * 3600},
	{"d", 24 * 3600},
	{"h", 3600},
	{"m", 60},
	{"s", 1},
}

// ParseResolution converts a label such as "1m", "4h" or "1d" into seconds.
// A bare integer is taken as seconds.
func ParseResolution(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("candle: empty resolution")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("candle: resolution %q must be positive", s)
		}
		return n, nil
	}
	lower := strings.ToLower(s)
	for _, u := range resolutionUnits {
		if !strings.HasSuffix(lower, u.suffix) {
			continue
		}
		n, err := strconv.ParseInt(lower[:len(lower)-len(u.suffix)], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("candle: resolution %q: %w", s, err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("candle: resolution %q must be positive", s)
		}
		return n * u.sec, nil
	}
	return 0, fmt.Errorf("candle: unknown resolution unit in %q", s)
}

// FormatResolution is the inverse of ParseResolution, choosing the largest
// unit that divides sec evenly.
func FormatResolution(sec int64) string {
	if sec <= 0 {
		return strconv.FormatInt(sec, 10)
	}
	for _, u := range resolutionUnits {
		if sec%u.sec == 0 {
			return strconv.FormatInt(sec/u.sec, 10) + u.suffix
		}
	}
	return strconv.FormatInt(sec, 10) + "s"
}
