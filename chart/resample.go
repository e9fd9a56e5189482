package chart

import (
	"math"
	"slices"

	"github.com/yitech/perpchart/model/candle"
)

// bucket is the in-flight merge state of one resolution-aligned period.
type bucket struct {
	c      candle.Candle
	firstT int64
	lastT  int64
}

// Resample merges one-minute candles into res-second buckets.
//
//   - Time   : source time floored to res
//   - Open   : open of the earliest source candle in the bucket
//   - High   : max across the bucket
//   - Low    : min across the bucket
//   - Close  : close of the latest source candle in the bucket
//   - Volume : sum across the bucket, non-finite counted as 0
//
// Input order does not matter; candles are sorted by time first. Only buckets
// that received data are returned.
func Resample(minutes []candle.Candle, res int64) Result {
	if res <= 0 {
		return empty(ReasonInvalidResolution)
	}
	if len(minutes) == 0 {
		return empty(ReasonEmptyInput)
	}

	sorted := slices.Clone(minutes)
	slices.SortStableFunc(sorted, func(a, b candle.Candle) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	out := make([]candle.Candle, 0, len(sorted))
	var cur *bucket
	flush := func() {
		if cur != nil {
			out = append(out, cur.c)
		}
	}

	for _, src := range sorted {
		t := src.Time
		key := candle.Align(t, res)
		open := src.Open
		if math.IsNaN(open) {
			open = src.Close
		}
		// A non-finite high or low is treated as missing.
		hi := math.Max(open, src.Close)
		if isFinite(src.High) {
			hi = math.Max(hi, src.High)
		}
		lo := math.Min(open, src.Close)
		if isFinite(src.Low) {
			lo = math.Min(lo, src.Low)
		}
		vol := candle.FiniteOrZero(src.Volume)

		if cur == nil || cur.c.Time != key {
			flush()
			cur = &bucket{
				c: candle.Candle{
					Time:   key,
					Open:   open,
					High:   hi,
					Low:    lo,
					Close:  src.Close,
					Volume: vol,
				},
				firstT: t,
				lastT:  t,
			}
			continue
		}

		if hi > cur.c.High {
			cur.c.High = hi
		}
		if lo < cur.c.Low {
			cur.c.Low = lo
		}
		cur.c.Volume += vol
		if t >= cur.lastT {
			cur.c.Close = src.Close
			cur.lastT = t
		}
		if t < cur.firstT {
			cur.c.Open = open
			cur.firstT = t
		}
	}
	flush()

	return Result{Candles: out}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
