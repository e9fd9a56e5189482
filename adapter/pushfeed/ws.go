package pushfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yitech/perpchart/adapter"
	"github.com/yitech/perpchart/model/candle"
)

// pingInterval is how often we send a heartbeat to keep the connection alive.
const pingInterval = 20 * time.Second

const writeWait = 5 * time.Second

type dialer func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// token implements adapter.Token for a single subscription.
type token struct {
	cancel context.CancelFunc
}

func (t *token) Unsubscribe() { t.cancel() }

// subscribe starts the reconnect loop for one symbol/timeframe stream.
func (a *Adapter) subscribe(symbol, timeframe string, handler adapter.TickHandler) (adapter.Token, error) {
	if a.ctx.Err() != nil {
		return nil, fmt.Errorf("pushfeed: adapter closed")
	}
	if symbol == "" {
		return nil, fmt.Errorf("pushfeed: empty symbol")
	}
	ctx, cancel := context.WithCancel(a.ctx)
	log := a.logger.With(zap.String("symbol", symbol), zap.String("timeframe", timeframe))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		b := &backoff.Backoff{
			Min:    a.minBackoff,
			Max:    a.maxBackoff,
			Factor: 2,
			Jitter: true,
		}
		for {
			if ctx.Err() != nil {
				return
			}
			connected, err := a.connectAndRead(ctx, symbol, timeframe, handler, log)
			if ctx.Err() != nil {
				return
			}
			if connected {
				b.Reset()
			}
			wait := b.Duration()
			log.Warn("websocket session ended, reconnecting",
				zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}()

	return &token{cancel: cancel}, nil
}

// connectAndRead maintains a single websocket session until the context is
// cancelled or an error occurs. connected reports whether the subscription
// was acknowledged by a successful write.
func (a *Adapter) connectAndRead(ctx context.Context, symbol, timeframe string, handler adapter.TickHandler, log *zap.Logger) (connected bool, err error) {
	conn, err := a.dialer(ctx, a.url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// Close the connection when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeMsg{Op: "subscribe", Args: []string{topic(symbol, timeframe)}}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		ticker := time.NewTicker(a.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}

		ticks, err := parseMessage(symbol, timeframe, msg)
		if err != nil {
			log.Debug("dropping unparseable frame", zap.Error(err))
			continue
		}
		for _, tk := range ticks {
			handler(tk)
		}
	}
}

func topic(symbol, timeframe string) string {
	return symbol + "@" + timeframe
}

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// wireTick is one push event. Prices may be numbers or quoted strings.
type wireTick struct {
	Op        string              `json:"op"`
	Symbol    string              `json:"symbol"`
	Timeframe string              `json:"timeframe"`
	Timestamp int64               `json:"timestamp"`
	Close     decimal.NullDecimal `json:"close"`
	Volume    decimal.NullDecimal `json:"volume"`
}

// parseMessage decodes a frame holding one tick or an array of ticks.
// Control frames (those with "op") and ticks for other symbols are dropped.
func parseMessage(symbol, timeframe string, msg []byte) ([]candle.Tick, error) {
	msg = bytes.TrimSpace(msg)
	var wire []wireTick
	switch {
	case len(msg) == 0:
		return nil, nil
	case msg[0] == '[':
		if err := json.Unmarshal(msg, &wire); err != nil {
			return nil, err
		}
	default:
		var w wireTick
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil, err
		}
		wire = []wireTick{w}
	}

	out := make([]candle.Tick, 0, len(wire))
	for _, w := range wire {
		if w.Op != "" || !w.Close.Valid || w.Timestamp == 0 {
			continue
		}
		if w.Symbol != "" && !strings.EqualFold(w.Symbol, symbol) {
			continue
		}
		tf := w.Timeframe
		if tf == "" {
			tf = timeframe
		}
		var vol float64
		if w.Volume.Valid {
			vol = w.Volume.Decimal.InexactFloat64()
		}
		out = append(out, candle.Tick{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: w.Timestamp,
			Close:     w.Close.Decimal.InexactFloat64(),
			Volume:    vol,
		})
	}
	return out, nil
}
