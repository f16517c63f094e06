// Package store defines the persistence interfaces for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache and capped price history), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned for duplicate keys and for settlements whose
	// guarded writes no longer hold (e.g. balance would go negative).
	ErrConflict = errors.New("store: conflict")
)

// ReferenceStore holds stock and index reference data. Prices are written
// only by the price simulator; seed data inserts the initial rows.
type ReferenceStore interface {
	// GetStock retrieves a stock by its uppercase symbol.
	GetStock(ctx context.Context, symbol string) (*model.Stock, error)

	// ListStocks returns all stocks sorted by symbol.
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// UpsertStock inserts or replaces a stock row.
	UpsertStock(ctx context.Context, stock *model.Stock) error

	// UpdateStockPrice sets a stock's current price.
	UpdateStockPrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// GetIndex retrieves an index by its uppercase symbol.
	GetIndex(ctx context.Context, symbol string) (*model.Index, error)

	// ListIndices returns all indices sorted by symbol.
	ListIndices(ctx context.Context) ([]model.Index, error)

	// UpsertIndex inserts or replaces an index row.
	UpsertIndex(ctx context.Context, index *model.Index) error

	// UpdateIndexValue sets an index's current value.
	UpdateIndexValue(ctx context.Context, symbol string, value decimal.Decimal) error
}

// LedgerStore holds users, holdings and the immutable order log. Holdings
// and balances are mutated only through ApplySettlement.
type LedgerStore interface {
	// --- Users ---

	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// --- Holdings ---

	GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error)
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// ApplySettlement applies balance delta, holding change and order
	// insert as one unit. It returns ErrConflict without writing anything if
	// the resulting balance would be negative.
	ApplySettlement(ctx context.Context, s *model.Settlement) error

	// --- Orders ---

	// ListOrdersByUser returns a user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// MostBought groups BUY orders by symbol, ordered by total quantity.
	MostBought(ctx context.Context, limit int) ([]model.SymbolVolume, error)
}

// WatchlistStore holds per-user symbol sets.
type WatchlistStore interface {
	GetWatchlist(ctx context.Context, userID string) (*model.Watchlist, error)
	AddToWatchlist(ctx context.Context, userID, symbol string) (*model.Watchlist, error)
	RemoveFromWatchlist(ctx context.Context, userID, symbol string) (*model.Watchlist, error)
}

// HistoryStore keeps a bounded, chronological price history per key.
// AppendPrice must add and trim in one atomic step so readers never see a
// partially trimmed log.
type HistoryStore interface {
	AppendPrice(ctx context.Context, key string, point model.PricePoint) error

	// PriceHistory returns the retained points, oldest first.
	PriceHistory(ctx context.Context, key string) ([]model.PricePoint, error)
}

// Store is the full persistence surface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	ReferenceStore
	LedgerStore
	WatchlistStore
}

// StockHistoryKey is the history key of a stock symbol.
func StockHistoryKey(symbol string) string { return "stock:history:" + symbol }

// IndexHistoryKey is the history key of an index symbol.
func IndexHistoryKey(symbol string) string { return "index:history:" + symbol }
