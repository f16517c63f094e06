// Package trade executes market orders against the ledger and values
// portfolios at current reference prices.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/metrics"
	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/store"
)

var (
	ErrNotFound             = errors.New("trade: not found")
	ErrInsufficientFunds    = errors.New("trade: insufficient funds")
	ErrInsufficientHoldings = errors.New("trade: insufficient holdings")
	ErrInvalidOrder         = errors.New("trade: invalid order")
)

// Engine executes market orders. Orders for the same user run one at a
// time; orders for different users proceed in parallel.
type Engine struct {
	ledger store.LedgerStore
	ref    store.ReferenceStore
	locks  *userLocks
	now    func() time.Time
}

// NewEngine creates an order execution engine.
func NewEngine(ledger store.LedgerStore, ref store.ReferenceStore) *Engine {
	return &Engine{
		ledger: ledger,
		ref:    ref,
		locks:  newUserLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute fills a market order for quantity shares of symbol at the current
// reference price and returns the recorded order.
func (e *Engine) Execute(ctx context.Context, userID, symbol string, side model.Side, quantity int64) (*model.Order, error) {
	started := time.Now()
	symbol = model.NormalizeSymbol(symbol)

	if err := validateOrder(userID, symbol, side, quantity); err != nil {
		metrics.OrderRejections.WithLabelValues("invalid").Inc()
		return nil, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	user, err := e.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, e.reject(mapStoreErr(err, "user "+userID))
	}
	stock, err := e.ref.GetStock(ctx, symbol)
	if err != nil {
		return nil, e.reject(mapStoreErr(err, "stock "+symbol))
	}

	price := stock.CurrentPrice
	total := price.Mul(decimal.NewFromInt(quantity))
	now := e.now()

	existing, err := e.ledger.GetHolding(ctx, userID, symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load holding: %w", err)
	}

	order := model.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		CreatedAt: now,
	}
	settlement := &model.Settlement{Order: order}

	switch side {
	case model.SideBuy:
		if user.Balance.LessThan(total) {
			return nil, e.reject(fmt.Errorf("%w: cost %s exceeds balance %s",
				ErrInsufficientFunds, total.StringFixed(2), user.Balance.StringFixed(2)))
		}
		settlement.BalanceDelta = total.Neg()
		settlement.Holding = applyBuy(existing, userID, symbol, quantity, price, total, now)

	case model.SideSell:
		if existing == nil || existing.Quantity < quantity {
			held := int64(0)
			if existing != nil {
				held = existing.Quantity
			}
			return nil, e.reject(fmt.Errorf("%w: selling %d of %s, holding %d",
				ErrInsufficientHoldings, quantity, symbol, held))
		}
		settlement.BalanceDelta = total
		remaining := existing.Quantity - quantity
		if remaining == 0 {
			settlement.DeleteHolding = true
		} else {
			h := *existing
			h.Quantity = remaining
			h.UpdatedAt = now
			settlement.Holding = &h
		}
	}

	if err := e.ledger.ApplySettlement(ctx, settlement); err != nil {
		if errors.Is(err, store.ErrConflict) && side == model.SideBuy {
			return nil, e.reject(fmt.Errorf("%w: %v", ErrInsufficientFunds, err))
		}
		return nil, fmt.Errorf("settle order %s: %w", order.ID, err)
	}

	metrics.ObserveOrder(string(side), started)
	slog.Info("order executed",
		"order_id", order.ID,
		"user", userID,
		"symbol", symbol,
		"side", side,
		"qty", quantity,
		"price", price.String(),
		"total", total.String(),
	)
	return &order, nil
}

// Orders returns a user's order history, newest first.
func (e *Engine) Orders(ctx context.Context, userID string) ([]model.Order, error) {
	if _, err := e.ledger.GetUser(ctx, userID); err != nil {
		return nil, mapStoreErr(err, "user "+userID)
	}
	orders, err := e.ledger.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// applyBuy returns the position after buying quantity at price. A new
// position starts at the execution price; an existing one moves to the
// weighted average cost.
func applyBuy(existing *model.Holding, userID, symbol string, quantity int64, price, total decimal.Decimal, now time.Time) *model.Holding {
	if existing == nil {
		return &model.Holding{
			UserID:      userID,
			Symbol:      symbol,
			Quantity:    quantity,
			AvgBuyPrice: price,
			UpdatedAt:   now,
		}
	}
	newQty := existing.Quantity + quantity
	cost := existing.AvgBuyPrice.Mul(decimal.NewFromInt(existing.Quantity)).Add(total)
	h := *existing
	h.Quantity = newQty
	h.AvgBuyPrice = cost.Div(decimal.NewFromInt(newQty))
	h.UpdatedAt = now
	return &h
}

func validateOrder(userID, symbol string, side model.Side, quantity int64) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	case symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case !side.Valid():
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	case quantity < 1:
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidOrder)
	}
	return nil
}

func (e *Engine) reject(err error) error {
	reason := "error"
	switch {
	case errors.Is(err, ErrNotFound):
		reason = "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		reason = "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		reason = "insufficient_holdings"
	}
	metrics.OrderRejections.WithLabelValues(reason).Inc()
	return err
}

// mapStoreErr turns a store miss into ErrNotFound; other errors pass through.
func mapStoreErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// userLocks is a keyed mutex. Entries are reference counted and removed
// once no goroutine holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
