package pushfeed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yitech/perpchart/adapter"
)

// Adapter is the websocket tick feed.
type Adapter struct {
	url    string
	logger *zap.Logger
	dialer dialer

	ctx    context.Context
	cancel context.CancelFunc

	minBackoff time.Duration
	maxBackoff time.Duration
	pingEvery  time.Duration

	wg sync.WaitGroup
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(lo, hi time.Duration) Option {
	return func(a *Adapter) {
		a.minBackoff = lo
		a.maxBackoff = hi
	}
}

// WithPingInterval sets how often a heartbeat is written.
func WithPingInterval(d time.Duration) Option {
	return func(a *Adapter) { a.pingEvery = d }
}

// New returns a feed that dials url for every subscription.
func New(url string, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		url:        url,
		logger:     logger.Named("pushfeed"),
		dialer:     defaultDialer,
		ctx:        ctx,
		cancel:     cancel,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		pingEvery:  pingInterval,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Subscribe opens a websocket stream for symbol/timeframe.
// The returned Token cancels this specific subscription.
func (a *Adapter) Subscribe(symbol, timeframe string, handler adapter.TickHandler) (adapter.Token, error) {
	return a.subscribe(symbol, timeframe, handler)
}

// Close cancels all active subscriptions and waits for their goroutines.
func (a *Adapter) Close() error {
	a.cancel()
	a.wg.Wait()
	return nil
}
