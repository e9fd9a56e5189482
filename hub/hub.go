package hub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yitech/perpchart/adapter"
	"github.com/yitech/perpchart/model/candle"
	"github.com/yitech/perpchart/series"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultHistoryLimit = 1440

	// setupTimeout bounds the initial history fetch shared by every
	// subscriber of a key.
	setupTimeout = 30 * time.Second
)

// Update is one change to a chart series, delivered to every handler.
//
// Reset means Candles is the whole series (a poll snapshot replaced the
// buffer); otherwise Candles holds only the changed or appended candles.
type Update struct {
	Symbol     string
	Resolution int64
	Candles    []candle.Candle
	Reset      bool
	Session    candle.Range
	HasSession bool
}

// Handler receives updates. It is called outside any hub lock but on the
// feed or poll goroutine, so it must not block.
type Handler func(Update)

// Options configures a Hub. Zero values select defaults.
type Options struct {
	HistoryLimit int
	PollInterval time.Duration
	LargeGap     int64
	QuietPeriod  time.Duration
	MaxCandles   int

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Hub multiplexes one history source and one tick feed into a live series
// per "symbol:resolution" key.
//
// Both the poll loop and the feed write to the same series. Every write
// happens under the key's lock, and a poll snapshot that lands within the
// quiet period after a push tick is discarded so a stale REST response
// never overwrites fresher push data.
type Hub struct {
	history adapter.HistorySource
	feed    adapter.Feed
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]*symState
}

// symState holds runtime data for one "symbol:resolution" key.
type symState struct {
	mu       sync.Mutex
	key      string
	symbol   string
	res      int64
	setup    bool
	ready    chan struct{}
	setupErr error

	feedToken adapter.Token
	stopPoll  context.CancelFunc

	series *series.Series

	handlers map[uint64]Handler
	nextID   uint64
}

// hubToken cancels a single handler registration.
type hubToken struct {
	id    uint64
	state *symState
}

func (t *hubToken) Unsubscribe() {
	t.state.mu.Lock()
	delete(t.state.handlers, t.id)
	t.state.mu.Unlock()
}

// New creates a Hub. feed may be nil, in which case series only refresh by
// polling.
func New(history adapter.HistorySource, feed adapter.Feed, opts Options, logger *zap.Logger) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		history: history,
		feed:    feed,
		opts:    opts,
		logger:  logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		states:  make(map[string]*symState),
	}
}

// Key is the state key for symbol at res seconds.
func Key(symbol string, res int64) string {
	return symbol + ":" + strconv.FormatInt(res, 10)
}

// Subscribe registers handler for symbol at res seconds and returns the
// current series. The first subscriber for a key loads history and starts
// the feed subscription and poll loop; later subscribers wait for that
// setup to finish.
func (h *Hub) Subscribe(ctx context.Context, symbol string, res int64, handler Handler) (adapter.Token, series.Snapshot, error) {
	if symbol == "" || res <= 0 {
		return nil, series.Snapshot{}, fmt.Errorf("hub: invalid subscription %q/%d", symbol, res)
	}
	if h.ctx.Err() != nil {
		return nil, series.Snapshot{}, fmt.Errorf("hub: closed")
	}
	state := h.getOrCreateState(symbol, res)

	// Register the handler before starting the feed so we never miss an
	// early tick.
	state.mu.Lock()
	id := state.nextID
	state.nextID++
	state.handlers[id] = handler
	needsSetup := !state.setup
	if needsSetup {
		state.setup = true
		state.ready = make(chan struct{})
	}
	ready := state.ready
	state.mu.Unlock()

	if needsSetup {
		err := h.start(state)
		state.mu.Lock()
		state.setupErr = err
		if err != nil {
			state.setup = false // allow a future retry
			delete(state.handlers, id)
		}
		close(ready)
		state.mu.Unlock()
		if err != nil {
			return nil, series.Snapshot{}, err
		}
	} else {
		select {
		case <-ready:
		case <-ctx.Done():
			state.mu.Lock()
			delete(state.handlers, id)
			state.mu.Unlock()
			return nil, series.Snapshot{}, ctx.Err()
		}
		state.mu.Lock()
		err := state.setupErr
		if err != nil {
			delete(state.handlers, id)
		}
		state.mu.Unlock()
		if err != nil {
			return nil, series.Snapshot{}, err
		}
	}

	state.mu.Lock()
	snap := state.series.Snapshot()
	state.mu.Unlock()
	return &hubToken{id: id, state: state}, snap, nil
}

// Snapshot returns the current series for symbol at res, if it exists.
func (h *Hub) Snapshot(symbol string, res int64) (series.Snapshot, bool) {
	h.mu.Lock()
	state, ok := h.states[Key(symbol, res)]
	h.mu.Unlock()
	if !ok {
		return series.Snapshot{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.setup {
		return series.Snapshot{}, false
	}
	return state.series.Snapshot(), true
}

// Close stops every poll loop and feed subscription managed by this hub.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	for _, state := range h.states {
		state.mu.Lock()
		if state.feedToken != nil {
			state.feedToken.Unsubscribe()
			state.feedToken = nil
		}
		if state.stopPoll != nil {
			state.stopPoll()
			state.stopPoll = nil
		}
		state.mu.Unlock()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// ── internal ─────────────────────────────────────────────────────────────────

func (h *Hub) getOrCreateState(symbol string, res int64) *symState {
	key := Key(symbol, res)
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.states[key]; ok {
		return s
	}
	s := &symState{
		key:    key,
		symbol: symbol,
		res:    res,
		series: series.New(series.Options{
			Symbol:      symbol,
			Resolution:  res,
			LargeGap:    h.opts.LargeGap,
			QuietPeriod: h.opts.QuietPeriod,
			MaxCandles:  h.opts.MaxCandles,
		}),
		handlers: make(map[uint64]Handler),
	}
	h.states[key] = s
	return s
}

// start runs setup on the hub's context rather than the first subscriber's,
// since later subscribers wait on its outcome.
func (h *Hub) start(state *symState) error {
	log := h.logger.With(zap.String("symbol", state.symbol), zap.Int64("resolution", state.res))

	ctx, cancel := context.WithTimeout(h.ctx, setupTimeout)
	defer cancel()
	minutes, err := h.history.FetchMinutes(ctx, state.symbol, h.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("hub [%s]: initial fetch: %w", state.key, err)
	}
	state.mu.Lock()
	snap := state.series.Reload(minutes, h.opts.Now())
	state.mu.Unlock()
	log.Info("series loaded", zap.Int("minutes", len(minutes)), zap.Int("candles", len(snap.Candles)))

	var tok adapter.Token
	if h.feed != nil {
		tok, err = h.feed.Subscribe(state.symbol, candle.FormatResolution(state.res), func(tk candle.Tick) {
			h.handleTick(state, tk)
		})
		if err != nil {
			return fmt.Errorf("hub [%s]: feed: %w", state.key, err)
		}
	}

	pollCtx, stop := context.WithCancel(h.ctx)
	state.mu.Lock()
	state.feedToken = tok
	state.stopPoll = stop
	state.mu.Unlock()

	h.wg.Add(1)
	go h.pollLoop(pollCtx, state, log)
	return nil
}

func (h *Hub) pollLoop(ctx context.Context, state *symState, log *zap.Logger) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.poll(ctx, state, log)
		}
	}
}

func (h *Hub) poll(ctx context.Context, state *symState, log *zap.Logger) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.opts.PollInterval)
	defer cancel()
	minutes, err := h.history.FetchMinutes(fetchCtx, state.symbol, h.opts.HistoryLimit)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("poll failed", zap.Error(err))
		}
		return
	}

	state.mu.Lock()
	snap, applied := state.series.ApplySnapshot(minutes, h.opts.Now())
	hs := snapshotHandlers(state)
	state.mu.Unlock()

	if !applied {
		log.Debug("poll ignored after recent push")
		return
	}
	publish(hs, Update{
		Symbol:     snap.Symbol,
		Resolution: snap.Resolution,
		Candles:    snap.Candles,
		Reset:      true,
		Session:    snap.Session,
		HasSession: snap.HasSession,
	})
}

// handleTick is called by the feed for every incoming tick.
func (h *Hub) handleTick(state *symState, tk candle.Tick) {
	state.mu.Lock()
	changed, ok := state.series.ApplyTick(tk, h.opts.Now())
	session, hasSession := state.series.Session()
	// Snapshot handlers before releasing the lock to avoid holding it
	// while calling user code.
	hs := snapshotHandlers(state)
	state.mu.Unlock()

	if !ok {
		return
	}
	publish(hs, Update{
		Symbol:     state.symbol,
		Resolution: state.res,
		Candles:    changed,
		Session:    session,
		HasSession: hasSession,
	})
}

// snapshotHandlers returns a copy of the handler set (called under lock).
func snapshotHandlers(state *symState) []Handler {
	hs := make([]Handler, 0, len(state.handlers))
	for _, h := range state.handlers {
		hs = append(hs, h)
	}
	return hs
}

func publish(hs []Handler, u Update) {
	for _, h := range hs {
		h(u)
	}
}
