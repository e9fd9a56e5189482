package main

import (
	"testing"

	"github.com/yitech/perpchart/model/candle"
	"github.com/yitech/perpchart/rpc"
)

func times(cs []candle.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Time
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApplyFrame(t *testing.T) {
	m := newModel("X", 60, 10, nil)
	m.applyFrame(&rpc.Frame{
		Kind:    rpc.KindSnapshot,
		Candles: []candle.Candle{{Time: 0, Close: 1}, {Time: 60, Close: 2}, {Time: 180, Close: 4}},
		Session: &candle.Range{From: 0, To: 190},
	})
	m.applyFrame(&rpc.Frame{
		Kind:    rpc.KindUpdate,
		Candles: []candle.Candle{{Time: 120, Close: 3}, {Time: 180, Close: 5}, {Time: 240, Close: 6}},
	})
	if got := times(m.candles); !equal(got, []int64{0, 60, 120, 180, 240}) {
		t.Fatalf("times = %v", got)
	}
	if m.candles[3].Close != 5 {
		t.Fatalf("upsert did not replace: %+v", m.candles[3])
	}
	if m.session == nil || m.session.To != 190 {
		t.Fatalf("session lost on update: %+v", m.session)
	}

	m.applyFrame(&rpc.Frame{Kind: rpc.KindSnapshot, Candles: []candle.Candle{{Time: 600, Close: 9}}})
	if len(m.candles) != 1 || m.session != nil {
		t.Fatalf("snapshot should replace: %+v %+v", m.candles, m.session)
	}
}

func TestFocusWindow(t *testing.T) {
	var cs []candle.Candle
	for i := int64(0); i < 10; i++ {
		cs = append(cs, candle.Candle{Time: i * 60})
	}
	cases := []struct {
		name    string
		session *candle.Range
		n       int
		want    []int64
	}{
		{"no session", nil, 3, []int64{420, 480, 540}},
		{"session inside window", &candle.Range{From: 500, To: 560}, 4, []int64{480, 540}},
		{"session before window", &candle.Range{From: 0, To: 560}, 2, []int64{480, 540}},
		{"unbounded", &candle.Range{From: 300, To: 560}, 0, []int64{300, 360, 420, 480, 540}},
	}
	for _, c := range cases {
		if got := times(focusWindow(cs, c.session, 60, c.n)); !equal(got, c.want) {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestTimeLabels(t *testing.T) {
	cs := make([]candle.Candle, 7)
	for i := range cs {
		cs[i].Time = int64(i) * 60
	}
	got := timeLabels(cs)
	if len(got) != 2*len(cs) {
		t.Fatalf("label row is %d chars, want %d: %q", len(got), 2*len(cs), got)
	}
	if got[:5] != "00:00" || got[10:14] != "00:0" {
		t.Fatalf("labels = %q", got)
	}
}
