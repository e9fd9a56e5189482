package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/yitech/perpchart/model/candle"
)

const (
	candlesPath = "/candles"
	maxLimit    = 1000
)

// fetchMinutes requests the most recent limit one-minute candles, paging
// backwards with endTime until the limit is met or history runs out.
func fetchMinutes(ctx context.Context, client *http.Client, baseURL, symbol string, limit int) ([]candle.Candle, error) {
	if limit <= 0 {
		limit = maxLimit
	}

	var (
		all []candle.Candle
		end int64 = -1
	)
	for len(all) < limit {
		page := min(limit-len(all), maxLimit)
		batch, err := fetchBatch(ctx, client, baseURL, symbol, page, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)

		// Fewer than requested means we've reached the start of history.
		if len(batch) < page {
			break
		}

		oldest := batch[0].Time
		for _, c := range batch {
			oldest = min(oldest, c.Time)
		}
		end = oldest - 1
	}

	return normalize(all, limit), nil
}

// fetchBatch fetches a single page. end < 0 means "up to now".
func fetchBatch(ctx context.Context, client *http.Client, baseURL, symbol string, limit int, end int64) ([]candle.Candle, error) {
	u, err := url.Parse(baseURL + candlesPath)
	if err != nil {
		return nil, fmt.Errorf("rest: parse url: %w", err)
	}

	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", "1m")
	q.Set("limit", strconv.Itoa(limit))
	if end >= 0 {
		q.Set("endTime", strconv.FormatInt(end, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest: unexpected status %s", resp.Status)
	}

	var rows []wireCandle
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("rest: decode response: %w", err)
	}
	return parseCandles(rows), nil
}

// wireCandle is one record of the candles endpoint. Prices arrive either as
// JSON numbers or as quoted decimal strings.
type wireCandle struct {
	Time   json.RawMessage     `json:"time"`
	Open   decimal.NullDecimal `json:"open"`
	High   decimal.Decimal     `json:"high"`
	Low    decimal.Decimal     `json:"low"`
	Close  decimal.Decimal     `json:"close"`
	Volume decimal.NullDecimal `json:"volume"`
}

// parseCandles converts wire records, silently skipping rows whose time is
// missing or not a finite number.
func parseCandles(rows []wireCandle) []candle.Candle {
	out := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		t, ok := parseTime(r.Time)
		if !ok {
			continue
		}
		closePx := r.Close.InexactFloat64()
		// A missing open falls back to close.
		openPx := closePx
		if r.Open.Valid {
			openPx = r.Open.Decimal.InexactFloat64()
		}
		var vol float64
		if r.Volume.Valid {
			vol = r.Volume.Decimal.InexactFloat64()
		}
		out = append(out, candle.Candle{
			Time:   t,
			Open:   openPx,
			High:   r.High.InexactFloat64(),
			Low:    r.Low.InexactFloat64(),
			Close:  closePx,
			Volume: vol,
		})
	}
	return out
}

// parseTime accepts a JSON number or quoted number of seconds, possibly
// fractional, and truncates it.
func parseTime(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	s := string(bytes.Trim(raw, `"`))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return candle.TruncSeconds(f)
}

// normalize sorts ascending, drops duplicate times (the first record seen wins) and
// keeps the most recent limit candles.
func normalize(cs []candle.Candle, limit int) []candle.Candle {
	slices.SortStableFunc(cs, func(a, b candle.Candle) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
	out := cs[:0]
	for _, c := range cs {
		if n := len(out); n > 0 && out[n-1].Time == c.Time {
			continue
		}
		out = append(out, c)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
