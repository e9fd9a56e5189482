package pushfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yitech/perpchart/model/candle"
)

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want []candle.Tick
	}{
		{
			"single",
			`{"symbol":"BTC-PERP","timeframe":"1m","timestamp":1700000000123,"close":"42000.5"}`,
			[]candle.Tick{{Symbol: "BTC-PERP", Timeframe: "1m", Timestamp: 1700000000123, Close: 42000.5}},
		},
		{
			"array with volume and case-insensitive symbol",
			`[{"symbol":"btc-perp","timestamp":1,"close":1,"volume":"2"},{"symbol":"ETH-PERP","timestamp":2,"close":3}]`,
			[]candle.Tick{{Symbol: "BTC-PERP", Timeframe: "5m", Timestamp: 1, Close: 1, Volume: 2}},
		},
		{"control frame", `{"op":"subscribed","args":["BTC-PERP@5m"]}`, []candle.Tick{}},
		{"missing close", `{"symbol":"BTC-PERP","timestamp":5}`, []candle.Tick{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := parseMessage("BTC-PERP", "5m", []byte(c.msg))
			if err != nil {
				t.Fatalf("parseMessage: %v", err)
			}
			if len(got) != len(c.want) {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Errorf("tick %d = %+v, want %+v", i, got[i], c.want[i])
				}
			}
		})
	}
	if _, err := parseMessage("BTC-PERP", "1m", []byte(`{broken`)); err == nil {
		t.Fatal("expected error for broken frame")
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// feedServer accepts a subscription and pushes the given frames.
func feedServer(t *testing.T, frames []string, subs *atomic.Int32, gotTopic chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs.Add(1)
		if len(sub.Args) > 0 {
			select {
			case gotTopic <- sub.Args[0]:
			default:
			}
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Drop the connection to force a reconnect.
	}))
}

func TestSubscribe_DeliversAndReconnects(t *testing.T) {
	var subs atomic.Int32
	topics := make(chan string, 1)
	srv := feedServer(t, []string{
		`{"symbol":"BTC-PERP","timeframe":"1m","timestamp":60000,"close":10}`,
		`not json`,
		`{"symbol":"BTC-PERP","timeframe":"1m","timestamp":61000,"close":11}`,
	}, &subs, topics)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := New(url, zap.NewNop(), WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	defer a.Close()

	ticks := make(chan candle.Tick, 64)
	tok, err := a.Subscribe("BTC-PERP", "1m", func(tk candle.Tick) {
		select {
		case ticks <- tk:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer tok.Unsubscribe()

	select {
	case topic := <-topics:
		if topic != "BTC-PERP@1m" {
			t.Fatalf("topic = %q", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	var got []candle.Tick
	deadline := time.After(3 * time.Second)
	for len(got) < 4 {
		select {
		case tk := <-ticks:
			got = append(got, tk)
		case <-deadline:
			t.Fatalf("received %d ticks, want at least 4 (two sessions)", len(got))
		}
	}
	if got[0].Close != 10 || got[1].Close != 11 {
		t.Fatalf("first session ticks = %+v", got[:2])
	}
	if subs.Load() < 2 {
		t.Fatalf("subscriptions = %d, want a reconnect", subs.Load())
	}
}

func TestSubscribe_AfterClose(t *testing.T) {
	a := New("ws://127.0.0.1:1", nil)
	a.Close()
	if _, err := a.Subscribe("BTC-PERP", "1m", func(candle.Tick) {}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestSubscribe_EmptySymbol(t *testing.T) {
	a := New("ws://127.0.0.1:1", nil)
	defer a.Close()
	if _, err := a.Subscribe("", "1m", func(candle.Tick) {}); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}
