// Package market runs the synthetic price feed and serves the stock and
// index catalog.
package market

import (
	"context"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/metrics"
	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/store"
)

// DefaultInterval is the time between simulation ticks.
const DefaultInterval = 2 * time.Second

// Tracked symbols.
var (
	DefaultStocks  = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA"}
	DefaultIndices = []string{"NIFTY", "SENSEX", "BANKNIFTY", "MIDCAPNIFTY", "FINNIFTY"}
)

// Max fractional move per tick.
var (
	stockBand = decimal.RequireFromString("0.04") // ±2%
	indexBand = decimal.RequireFromString("0.02") // ±1%
)

// Publisher receives every simulated price update.
type Publisher interface {
	Publish(symbol string, update any)
}

// Simulator perturbs tracked prices by a bounded random walk on a fixed
// interval. One Simulator is owned by the process; Start is idempotent.
type Simulator struct {
	ref     store.ReferenceStore
	history store.HistoryStore
	pub     Publisher

	interval time.Duration
	stocks   []string
	indices  []string
	rand     func() float64
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSymbols replaces the tracked stock and index symbols.
func WithSymbols(stocks, indices []string) Option {
	return func(s *Simulator) {
		s.stocks = stocks
		s.indices = indices
	}
}

// WithRand sets the source of uniform draws in [0, 1).
func WithRand(fn func() float64) Option {
	return func(s *Simulator) { s.rand = fn }
}

// WithClock sets the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Simulator) { s.now = fn }
}

// NewSimulator creates an idle simulator.
func NewSimulator(ref store.ReferenceStore, history store.HistoryStore, pub Publisher, opts ...Option) *Simulator {
	s := &Simulator{
		ref:      ref,
		history:  history,
		pub:      pub,
		interval: DefaultInterval,
		stocks:   DefaultStocks,
		indices:  DefaultIndices,
		rand:     rand.Float64,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. Calling Start on a running simulator logs
// a warning and does nothing.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		slog.Warn("market simulation already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	slog.Info("market simulation started",
		"interval", s.interval.String(),
		"stocks", len(s.stocks),
		"indices", len(s.indices),
	)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
// The simulator can be started again afterwards.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	slog.Info("market simulation stopped")
}

// Running reports whether the tick loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// runningLocked reports whether the loop is alive, clearing the handle of
// a loop that exited because its parent context ended. s.mu must be held.
func (s *Simulator) runningLocked() bool {
	if s.cancel == nil {
		return false
	}
	select {
	case <-s.done:
		s.cancel()
		s.cancel = nil
		s.done = nil
		return false
	default:
		return true
	}
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick moves every tracked symbol once. A failure on one symbol is logged
// and only that symbol is skipped.
func (s *Simulator) Tick(ctx context.Context) {
	for _, sym := range s.stocks {
		if err := s.tickStock(ctx, sym); err != nil {
			metrics.SimulatorErrors.WithLabelValues("stock").Inc()
			slog.Warn("stock tick skipped", "symbol", sym, "err", err)
		}
	}
	for _, sym := range s.indices {
		if err := s.tickIndex(ctx, sym); err != nil {
			metrics.SimulatorErrors.WithLabelValues("index").Inc()
			slog.Warn("index tick skipped", "symbol", sym, "err", err)
		}
	}
	metrics.SimulatorTicks.Inc()
}

func (s *Simulator) tickStock(ctx context.Context, symbol string) error {
	st, err := s.ref.GetStock(ctx, symbol)
	if err != nil {
		return err
	}
	change := s.draw(stockBand)
	price := walk(st.CurrentPrice, change)
	if err := s.ref.UpdateStockPrice(ctx, symbol, price); err != nil {
		return err
	}

	ts := s.now()
	if err := s.history.AppendPrice(ctx, store.StockHistoryKey(symbol), model.PricePoint{Price: &price, Timestamp: ts}); err != nil {
		// The price is already persisted; a lost history point is not fatal.
		slog.Warn("history append failed", "symbol", symbol, "err", err)
	}
	s.pub.Publish(symbol, model.PriceUpdate{
		Symbol:        symbol,
		Price:         &price,
		ChangePercent: change.Mul(decimal.NewFromInt(100)).Round(4),
		Timestamp:     ts,
	})
	metrics.PriceUpdates.WithLabelValues("stock").Inc()
	return nil
}

func (s *Simulator) tickIndex(ctx context.Context, symbol string) error {
	idx, err := s.ref.GetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	change := s.draw(indexBand)
	value := walk(idx.CurrentValue, change)
	if err := s.ref.UpdateIndexValue(ctx, symbol, value); err != nil {
		return err
	}

	ts := s.now()
	if err := s.history.AppendPrice(ctx, store.IndexHistoryKey(symbol), model.PricePoint{Value: &value, Timestamp: ts}); err != nil {
		slog.Warn("history append failed", "symbol", symbol, "err", err)
	}
	s.pub.Publish(symbol, model.PriceUpdate{
		Symbol:        symbol,
		Value:         &value,
		ChangePercent: change.Mul(decimal.NewFromInt(100)).Round(4),
		Timestamp:     ts,
	})
	metrics.PriceUpdates.WithLabelValues("index").Inc()
	return nil
}

// draw returns a fractional change uniform in [-band/2, +band/2).
func (s *Simulator) draw(band decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(s.rand() - 0.5).Mul(band)
}

// walk applies change to current and rounds to cents.
func walk(current, change decimal.Decimal) decimal.Decimal {
	return current.Mul(decimal.NewFromInt(1).Add(change)).Round(2)
}

// History returns the retained price history of symbol, oldest first.
func (s *Simulator) History(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	return NewHistoryReader(s.history, s.indices).History(ctx, symbol)
}

// HistoryReader resolves a symbol to its history key. Index symbols read
// the index log; everything else reads the stock log.
type HistoryReader struct {
	history store.HistoryStore
	indices []string
}

// NewHistoryReader creates a reader treating the given symbols as indices.
func NewHistoryReader(history store.HistoryStore, indices []string) *HistoryReader {
	return &HistoryReader{history: history, indices: indices}
}

// History returns the retained price history of symbol, oldest first.
func (h *HistoryReader) History(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	symbol = model.NormalizeSymbol(symbol)
	key := store.StockHistoryKey(symbol)
	if slices.Contains(h.indices, symbol) {
		key = store.IndexHistoryKey(symbol)
	}
	return h.history.PriceHistory(ctx, key)
}
