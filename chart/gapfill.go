package chart

import (
	"github.com/yitech/perpchart/model/candle"
)

// GapFill emits one candle per res-second bucket from start through end
// (both floored to res, inclusive). src must be ascending and aligned.
//
// A bucket with a source candle at exactly its time passes through with its
// volume made finite. Any other bucket becomes a flat candle at the last
// known close. The last known close is seeded from the last source candle
// strictly before start. Buckets before any known close are skipped.
func GapFill(src []candle.Candle, start, end, res int64) Result {
	if res <= 0 {
		return empty(ReasonInvalidResolution)
	}
	from := candle.Align(start, res)
	to := candle.Align(end, res)
	if to < from {
		return empty(ReasonInvalidRange)
	}
	if len(src) == 0 {
		return empty(ReasonEmptyInput)
	}

	byTime := make(map[int64]candle.Candle, len(src))
	var (
		lastClose float64
		known     bool
	)
	for _, c := range src {
		if c.Time < from {
			lastClose = c.Close
			known = true
			continue
		}
		if c.Time <= to {
			byTime[c.Time] = c
		}
	}

	count := (to-from)/res + 1
	out := make([]candle.Candle, 0, count)
	for i := int64(0); i < count; i++ {
		t := from + i*res
		if c, ok := byTime[t]; ok {
			c.Volume = candle.FiniteOrZero(c.Volume)
			out = append(out, c)
			lastClose = c.Close
			known = true
			continue
		}
		if known {
			out = append(out, candle.Flat(t, lastClose))
		}
	}

	if len(out) == 0 {
		return empty(ReasonNoPriorClose)
	}
	return Result{Candles: out}
}

// AggregateFromMinutesToResolution resamples one-minute candles to res and
// gap-fills from the first real bucket through the last one.
//
// A one-bucket seed at first-res carries the last close strictly before the
// first bucket, when the input has one, so leading fill starts from a known
// price. Without it leading buckets are dropped.
func AggregateFromMinutesToResolution(minutes []candle.Candle, res int64) Result {
	r := Resample(minutes, res)
	if r.Empty() {
		return r
	}
	buckets := r.Candles
	first := buckets[0].Time
	last := buckets[len(buckets)-1].Time

	src := buckets
	if seed, ok := priorClose(minutes, first); ok {
		src = make([]candle.Candle, 0, len(buckets)+1)
		src = append(src, candle.Flat(first-res, seed))
		src = append(src, buckets...)
	}
	return GapFill(src, first, last, res)
}

// AggregateWindow resamples one-minute candles to res and gap-fills the
// explicit [start, end] window. Buckets resampled before start seed the
// leading fill.
func AggregateWindow(minutes []candle.Candle, res, start, end int64) Result {
	r := Resample(minutes, res)
	if r.Empty() {
		return r
	}
	return GapFill(r.Candles, start, end, res)
}

// priorClose returns the close of the latest minute strictly before t.
func priorClose(minutes []candle.Candle, t int64) (float64, bool) {
	var (
		best  int64
		px    float64
		found bool
	)
	for _, m := range minutes {
		if m.Time < t && (!found || m.Time >= best) {
			best, px, found = m.Time, m.Close, true
		}
	}
	return px, found
}

// FillEnd decides how far history is extended with flat candles.
//
// If the feed has been silent for at least largeGap, filling stops at the
// last real sample; otherwise it runs to now floored to res. A non-positive
// largeGap selects DefaultLargeGap. A last sample later than now (clock skew)
// is never cut off.
func FillEnd(nowSec, lastRealSec, res, largeGap int64) int64 {
	if largeGap <= 0 {
		largeGap = DefaultLargeGap
	}
	if res <= 0 {
		return lastRealSec
	}
	now := candle.Align(nowSec, res)
	if lastRealSec > now {
		return candle.Align(lastRealSec, res)
	}
	if now-lastRealSec >= largeGap {
		return lastRealSec
	}
	return now
}
