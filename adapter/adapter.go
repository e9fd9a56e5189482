package adapter

import (
	"context"

	"github.com/yitech/perpchart/model/candle"
)

// TickHandler receives push-feed ticks. It is called from the feed's read
// goroutine and must not block for long.
type TickHandler func(candle.Tick)

// Token cancels a single subscription.
type Token interface {
	Unsubscribe()
}

// HistorySource returns the most recent one-minute candles for a market,
// ascending by time.
type HistorySource interface {
	FetchMinutes(ctx context.Context, symbol string, limit int) ([]candle.Candle, error)
}

// Feed defines the contract for realtime tick sources.
type Feed interface {
	// Subscribe starts streaming ticks for symbol at the given timeframe
	// label. The returned Token stops this subscription only.
	Subscribe(symbol, timeframe string, handler TickHandler) (Token, error)

	// Close shuts down every subscription and releases all resources.
	Close() error
}

// TokenFunc adapts a plain function to Token.
type TokenFunc func()

func (f TokenFunc) Unsubscribe() { f() }
