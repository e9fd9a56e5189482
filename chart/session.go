package chart

import "github.com/yitech/perpchart/model/candle"

// ActiveSessionRange returns the run of times after the most recent gap of at
// least largeGap seconds. times must be ascending. ok is false for empty
// input.
func ActiveSessionRange(times []int64, largeGap int64) (r candle.Range, ok bool) {
	n := len(times)
	if n == 0 {
		return candle.Range{}, false
	}
	if largeGap <= 0 {
		largeGap = DefaultLargeGap
	}
	r = candle.Range{From: times[0], To: times[n-1]}
	for i := n - 1; i > 0; i-- {
		if times[i]-times[i-1] >= largeGap {
			r.From = times[i]
			break
		}
	}
	return r, true
}

// SessionTracker maintains the active session range as ticks arrive, giving
// the same answer as ActiveSessionRange over the full ascending history.
type SessionTracker struct {
	LargeGap int64

	r  candle.Range
	ok bool
}

// Reset recomputes the range from a full ascending history.
func (s *SessionTracker) Reset(times []int64) {
	s.r, s.ok = ActiveSessionRange(times, s.LargeGap)
}

// Observe advances the range with a new tick time. Ticks older than the
// current end are ignored.
func (s *SessionTracker) Observe(t int64) candle.Range {
	gap := s.LargeGap
	if gap <= 0 {
		gap = DefaultLargeGap
	}
	switch {
	case !s.ok:
		s.r = candle.Range{From: t, To: t}
		s.ok = true
	case t < s.r.To:
	case t-s.r.To >= gap:
		s.r = candle.Range{From: t, To: t}
	default:
		s.r.To = t
	}
	return s.r
}

// Range returns the current session, if any tick has been seen.
func (s *SessionTracker) Range() (candle.Range, bool) {
	return s.r, s.ok
}
