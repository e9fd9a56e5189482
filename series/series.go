// Package series holds the live candle buffer for one symbol at one
// resolution. A Series is owned by its caller and is not safe for concurrent
// use; the hub serializes every write to it.
package series

import (
	"slices"
	"time"

	"github.com/yitech/perpchart/chart"
	"github.com/yitech/perpchart/model/candle"
)

const (
	// DefaultQuietPeriod is how long poll snapshots are ignored after a
	// push tick.
	DefaultQuietPeriod = 3 * time.Second

	// DefaultMaxCandles is the target buffer size after a resize.
	// The buffer grows freely until 2×MaxCandles, then trims back.
	DefaultMaxCandles = 1500
)

// Options configures a Series. Zero values select defaults.
type Options struct {
	Symbol      string
	Resolution  int64
	LargeGap    int64
	QuietPeriod time.Duration
	MaxCandles  int
}

// Snapshot is a copy of the buffer state handed to consumers.
type Snapshot struct {
	Symbol     string
	Resolution int64
	Candles    []candle.Candle
	Session    candle.Range
	HasSession bool
	LastReal   int64
}

// Series is the in-memory gap-filled candle buffer fed by poll and push.
type Series struct {
	opts Options

	candles  []candle.Candle
	lastReal int64
	hasReal  bool
	session  chart.SessionTracker
	lastPush time.Time
}

// New returns an empty Series.
func New(opts Options) *Series {
	if opts.Resolution <= 0 {
		opts.Resolution = 60
	}
	if opts.LargeGap <= 0 {
		opts.LargeGap = chart.DefaultLargeGap
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.MaxCandles <= 0 {
		opts.MaxCandles = DefaultMaxCandles
	}
	return &Series{
		opts:    opts,
		session: chart.SessionTracker{LargeGap: opts.LargeGap},
	}
}

// Options returns the effective options.
func (s *Series) Options() Options { return s.opts }

// Reload rebuilds the buffer from a full one-minute history, extending it
// with flat candles up to now unless the feed has been silent for LargeGap.
func (s *Series) Reload(minutes []candle.Candle, now time.Time) Snapshot {
	res := s.opts.Resolution

	times := make([]int64, 0, len(minutes))
	for _, m := range minutes {
		times = append(times, m.Time)
	}
	slices.Sort(times)
	s.session.Reset(times)

	if len(times) == 0 {
		s.candles = nil
		s.hasReal = false
		s.lastReal = 0
		return s.Snapshot()
	}

	s.lastReal = times[len(times)-1]
	s.hasReal = true
	end := chart.FillEnd(now.Unix(), s.lastReal, res, s.opts.LargeGap)
	r := chart.AggregateWindow(minutes, res, times[0], end)
	s.candles = r.Candles
	s.trim()
	return s.Snapshot()
}

// ApplySnapshot is the poll path. Snapshots arriving within QuietPeriod of
// the last push tick are stale relative to the buffer and are ignored.
func (s *Series) ApplySnapshot(minutes []candle.Candle, now time.Time) (Snapshot, bool) {
	if !s.lastPush.IsZero() && now.Sub(s.lastPush) < s.opts.QuietPeriod {
		return Snapshot{}, false
	}
	return s.Reload(minutes, now), true
}

// ApplyTick is the push path. It merges tk into its bucket and returns the
// candles that changed or were appended. ok is false when the tick was
// dropped.
func (s *Series) ApplyTick(tk candle.Tick, now time.Time) (changed []candle.Candle, ok bool) {
	res := s.opts.Resolution
	sec := tk.Seconds()
	key := candle.AlignMillis(tk.Timestamp, res)
	px := tk.Close
	vol := candle.FiniteOrZero(tk.Volume)

	n := len(s.candles)
	switch {
	case n == 0:
		s.candles = append(s.candles, candle.Candle{Time: key, Open: px, High: px, Low: px, Close: px, Volume: vol})
		changed = s.candles[n:]

	case key == s.candles[n-1].Time:
		mergeTick(&s.candles[n-1], px, vol)
		changed = s.candles[n-1:]

	case key < s.candles[n-1].Time:
		i, found := slices.BinarySearchFunc(s.candles, key, func(c candle.Candle, t int64) int {
			switch {
			case c.Time < t:
				return -1
			case c.Time > t:
				return 1
			}
			return 0
		})
		if !found {
			return nil, false
		}
		mergeTick(&s.candles[i], px, vol)
		changed = []candle.Candle{s.candles[i]}
		s.lastPush = now
		return changed, true

	default:
		last := s.candles[n-1]
		for i, gap := int64(1), (key-last.Time)/res; i < gap; i++ {
			s.candles = append(s.candles, candle.Flat(last.Time+i*res, last.Close))
		}
		// The new bucket opens at the previous close so the series has no
		// visual jump between buckets. After a silence of LargeGap the tick
		// price opens it instead, as a fresh minute row would after Reload.
		open := last.Close
		if s.hasReal && sec-s.lastReal >= s.opts.LargeGap {
			open = px
		}
		c := candle.Candle{Time: key, Open: open, High: open, Low: open, Close: open}
		mergeTick(&c, px, vol)
		s.candles = append(s.candles, c)
		changed = s.candles[n:]
	}

	changed = slices.Clone(changed)
	s.session.Observe(sec)
	if !s.hasReal || sec > s.lastReal {
		s.lastReal = sec
		s.hasReal = true
	}
	s.lastPush = now
	if s.trim() && len(changed) > len(s.candles) {
		changed = changed[len(changed)-len(s.candles):]
	}
	return changed, true
}

// Snapshot copies out the current state.
func (s *Series) Snapshot() Snapshot {
	r, ok := s.session.Range()
	return Snapshot{
		Symbol:     s.opts.Symbol,
		Resolution: s.opts.Resolution,
		Candles:    slices.Clone(s.candles),
		Session:    r,
		HasSession: ok,
		LastReal:   s.lastReal,
	}
}

// Session returns the active session range.
func (s *Series) Session() (candle.Range, bool) {
	return s.session.Range()
}

func mergeTick(c *candle.Candle, px, vol float64) {
	if px > c.High {
		c.High = px
	}
	if px < c.Low {
		c.Low = px
	}
	c.Close = px
	c.Volume += vol
}

// trim keeps the most recent MaxCandles once the buffer reaches
// 2×MaxCandles, then waits for it to grow back before trimming again.
func (s *Series) trim() bool {
	limit := s.opts.MaxCandles
	if len(s.candles) <= limit*2 {
		return false
	}
	s.candles = slices.Clone(s.candles[len(s.candles)-limit:])
	return true
}
