package series

import (
	"slices"
	"testing"
	"time"

	"github.com/yitech/perpchart/model/candle"
)

const hour = 3600

func minute(t int64, px, vol float64) candle.Candle {
	return candle.Candle{Time: t, Open: px, High: px, Low: px, Close: px, Volume: vol}
}

func checkContiguous(t *testing.T, cs []candle.Candle, res int64) {
	t.Helper()
	for i := 1; i < len(cs); i++ {
		if cs[i].Time-cs[i-1].Time != res {
			t.Fatalf("gap between %d and %d", cs[i-1].Time, cs[i].Time)
		}
	}
}

func TestReload_ExtendsToNow(t *testing.T) {
	base := int64(1_000_000 * 60)
	s := New(Options{Symbol: "BTC-PERP", Resolution: 300})
	now := time.Unix(base+3600+17, 0)
	snap := s.Reload([]candle.Candle{minute(base, 10, 1), minute(base+60, 11, 2)}, now)

	if len(snap.Candles) != 13 {
		t.Fatalf("got %d candles, want 13", len(snap.Candles))
	}
	checkContiguous(t, snap.Candles, 300)
	last := snap.Candles[len(snap.Candles)-1]
	if last.Time != base+3600 || last.Close != 11 || last.Volume != 0 {
		t.Fatalf("last = %+v", last)
	}
	if !snap.HasSession || snap.Session != (candle.Range{From: base, To: base + 60}) {
		t.Fatalf("session = %+v", snap.Session)
	}
}

func TestReload_ClampsAfterLongSilence(t *testing.T) {
	base := int64(1_000_000 * 60)
	s := New(Options{Resolution: 60, LargeGap: 48 * hour})
	now := time.Unix(base+50*hour, 0)
	snap := s.Reload([]candle.Candle{minute(base, 10, 1), minute(base+120, 12, 1)}, now)
	if len(snap.Candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(snap.Candles))
	}
	if snap.Candles[2].Time != base+120 {
		t.Fatalf("last = %+v", snap.Candles[2])
	}
}

func TestReload_Empty(t *testing.T) {
	s := New(Options{Resolution: 60})
	snap := s.Reload(nil, time.Unix(1000, 0))
	if len(snap.Candles) != 0 || snap.HasSession {
		t.Fatalf("got %+v", snap)
	}
}

func TestApplyTick_SameBucket(t *testing.T) {
	s := New(Options{Resolution: 60})
	now := time.Unix(600, 0)
	s.Reload([]candle.Candle{minute(540, 10, 1)}, now)

	changed, ok := s.ApplyTick(candle.Tick{Timestamp: 600_500, Close: 13, Volume: 2}, now)
	if !ok || len(changed) != 1 {
		t.Fatalf("changed = %+v ok=%v", changed, ok)
	}
	c := changed[0]
	if c.Time != 600 || c.Open != 10 || c.High != 13 || c.Low != 10 || c.Close != 13 || c.Volume != 2 {
		t.Fatalf("merged = %+v", c)
	}
}

func TestApplyTick_FillsGapToNewBucket(t *testing.T) {
	s := New(Options{Resolution: 60})
	s.Reload([]candle.Candle{minute(0, 10, 1)}, time.Unix(30, 0))

	changed, ok := s.ApplyTick(candle.Tick{Timestamp: 245_000, Close: 9}, time.Unix(245, 0))
	if !ok {
		t.Fatal("tick dropped")
	}
	if len(changed) != 4 {
		t.Fatalf("changed %d candles, want 4: %+v", len(changed), changed)
	}
	snap := s.Snapshot()
	checkContiguous(t, snap.Candles, 60)
	last := snap.Candles[len(snap.Candles)-1]
	if last.Time != 240 || last.Open != 10 || last.Close != 9 || last.Low != 9 || last.High != 10 {
		t.Fatalf("last = %+v", last)
	}
}

func TestApplyTick_AfterLongSilenceStartsNewSession(t *testing.T) {
	s := New(Options{Resolution: 60, LargeGap: hour})
	s.Reload([]candle.Candle{minute(0, 10, 1), minute(60, 11, 1)}, time.Unix(90, 0))

	tick := int64(2 * hour)
	changed, ok := s.ApplyTick(candle.Tick{Timestamp: tick * 1000, Close: 20}, time.Unix(tick, 0))
	if !ok {
		t.Fatal("tick dropped")
	}
	if len(changed) != 119 || changed[0] != candle.Flat(120, 11) {
		t.Fatalf("changed %d candles, first %+v", len(changed), changed[0])
	}
	if last := changed[len(changed)-1]; last.Time != tick || last.Open != 20 || last.Low != 20 {
		t.Fatalf("new session candle = %+v", last)
	}
	checkContiguous(t, s.Snapshot().Candles, 60)
	r, _ := s.Session()
	if r != (candle.Range{From: tick, To: tick}) {
		t.Fatalf("session = %+v", r)
	}
}

func TestApplyTick_MatchesReloadAfterLongSilence(t *testing.T) {
	history := []candle.Candle{minute(0, 10, 1), minute(60, 11, 1)}
	tick := int64(50*hour + 120)

	push := New(Options{Resolution: hour})
	push.Reload(history, time.Unix(60, 0))
	if _, ok := push.ApplyTick(candle.Tick{Timestamp: tick * 1000, Close: 20, Volume: 2}, time.Unix(tick, 0)); !ok {
		t.Fatal("tick dropped")
	}

	poll := New(Options{Resolution: hour})
	poll.Reload(append(history, minute(tick, 20, 2)), time.Unix(tick, 0))

	got, want := push.Snapshot(), poll.Snapshot()
	if len(want.Candles) != 51 {
		t.Fatalf("reload produced %d candles, want 51", len(want.Candles))
	}
	checkContiguous(t, got.Candles, hour)
	if !slices.Equal(got.Candles, want.Candles) {
		t.Fatalf("push buffer differs from reload:\npush   %+v\nreload %+v", got.Candles, want.Candles)
	}
	if got.Session != want.Session || got.LastReal != want.LastReal {
		t.Fatalf("push %+v/%d, reload %+v/%d", got.Session, got.LastReal, want.Session, want.LastReal)
	}
}

func TestApplyTick_OlderBucket(t *testing.T) {
	s := New(Options{Resolution: 60})
	s.Reload([]candle.Candle{minute(0, 10, 1), minute(60, 11, 1), minute(120, 12, 1)}, time.Unix(150, 0))

	changed, ok := s.ApplyTick(candle.Tick{Timestamp: 70_000, Close: 15}, time.Unix(150, 0))
	if !ok || len(changed) != 1 || changed[0].Time != 60 || changed[0].High != 15 {
		t.Fatalf("changed = %+v ok=%v", changed, ok)
	}
	if _, ok := s.ApplyTick(candle.Tick{Timestamp: -120_000, Close: 1}, time.Unix(150, 0)); ok {
		t.Fatal("tick before the buffer should be dropped")
	}
}

func TestApplyTick_EmptyBuffer(t *testing.T) {
	s := New(Options{Resolution: 300})
	changed, ok := s.ApplyTick(candle.Tick{Timestamp: 601_000, Close: 5, Volume: 1}, time.Unix(601, 0))
	if !ok || len(changed) != 1 || changed[0].Time != 600 {
		t.Fatalf("changed = %+v", changed)
	}
}

func TestApplySnapshot_QuietPeriodAfterPush(t *testing.T) {
	s := New(Options{Resolution: 60, QuietPeriod: 5 * time.Second})
	t0 := time.Unix(1_000, 0)
	s.Reload([]candle.Candle{minute(900, 10, 1)}, t0)
	s.ApplyTick(candle.Tick{Timestamp: 1_000_000, Close: 12}, t0)

	if _, ok := s.ApplySnapshot([]candle.Candle{minute(900, 10, 1)}, t0.Add(2*time.Second)); ok {
		t.Fatal("poll within quiet period must be ignored")
	}
	if got := s.Snapshot().Candles; got[len(got)-1].Close != 12 {
		t.Fatalf("push update overwritten: %+v", got)
	}
	if _, ok := s.ApplySnapshot([]candle.Candle{minute(900, 10, 1), minute(960, 12, 1)}, t0.Add(6*time.Second)); !ok {
		t.Fatal("poll after quiet period must apply")
	}
}

func TestApplySnapshot_WithoutPushApplies(t *testing.T) {
	s := New(Options{Resolution: 60})
	if _, ok := s.ApplySnapshot([]candle.Candle{minute(0, 1, 1)}, time.Unix(10, 0)); !ok {
		t.Fatal("first snapshot must apply")
	}
}

func TestIncrementalSessionMatchesReload(t *testing.T) {
	const gap = 600
	live := New(Options{Resolution: 60, LargeGap: gap})
	var history []candle.Candle
	ts := []int64{0, 60, 120, 1000, 1030, 1090, 5000, 5060, 5600, 5660}
	for i, sec := range ts {
		history = append(history, minute(sec, float64(i+1), 1))
		live.ApplyTick(candle.Tick{Timestamp: sec * 1000, Close: float64(i + 1)}, time.Unix(sec, 0))

		batch := New(Options{Resolution: 60, LargeGap: gap})
		batch.Reload(history, time.Unix(sec, 0))

		a, _ := live.Session()
		b, _ := batch.Session()
		if a != b {
			t.Fatalf("step %d: live %+v, reload %+v", i, a, b)
		}
	}
}

func TestTrim(t *testing.T) {
	s := New(Options{Resolution: 60, MaxCandles: 5})
	var hist []candle.Candle
	for i := int64(0); i < 11; i++ {
		hist = append(hist, minute(i*60, float64(i), 1))
	}
	snap := s.Reload(hist, time.Unix(10*60, 0))
	if len(snap.Candles) != 5 || snap.Candles[0].Time != 360 {
		t.Fatalf("trimmed to %d candles starting %d", len(snap.Candles), snap.Candles[0].Time)
	}
}
