// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// User is an account holder with a cash balance. Balance is never negative.
type User struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Stock is a tradable equity. Only the price simulator changes CurrentPrice.
type Stock struct {
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	Sector        string          `json:"sector" db:"sector"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	PreviousClose decimal.Decimal `json:"previous_close" db:"previous_close"`
	MarketCap     decimal.Decimal `json:"market_cap" db:"market_cap"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Index is a market index. It is not tradable.
type Index struct {
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	CurrentValue  decimal.Decimal `json:"current_value" db:"current_value"`
	PreviousClose decimal.Decimal `json:"previous_close" db:"previous_close"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Quote is the read-side view of a stock or index with derived change
// fields. Change values are computed on read and never stored.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Sector        string          `json:"sector,omitempty"`
	Current       decimal.Decimal `json:"current"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Quote derives change and changePercent from the stock's prices.
func (s Stock) Quote() Quote {
	return newQuote(s.Symbol, s.Name, s.Sector, s.CurrentPrice, s.PreviousClose)
}

// Quote derives change and changePercent from the index's values.
func (i Index) Quote() Quote {
	return newQuote(i.Symbol, i.Name, "", i.CurrentValue, i.PreviousClose)
}

func newQuote(symbol, name, sector string, current, prev decimal.Decimal) Quote {
	change := current.Sub(prev)
	pct := decimal.Zero
	if !prev.IsZero() {
		pct = change.Div(prev).Mul(decimal.NewFromInt(100))
	}
	return Quote{
		Symbol:        symbol,
		Name:          name,
		Sector:        sector,
		Current:       current,
		PreviousClose: prev,
		Change:        change.Round(2),
		ChangePercent: pct.Round(2),
	}
}

// Holding is a user's open position in one symbol. A holding with zero
// quantity never exists; it is deleted instead.
type Holding struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is an immutable record of an executed market order.
// Once created, these are never modified or deleted.
type Order struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      Side            `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"` // execution price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Total returns price × quantity.
func (o Order) Total() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Settlement is the full ledger effect of one order. Stores apply it as a
// single unit: the balance delta, the holding change and the order insert
// either all land or none do.
type Settlement struct {
	Order        Order
	BalanceDelta decimal.Decimal // signed: -cost for BUY, +proceeds for SELL

	// Holding is the position after the order. When DeleteHolding is set the
	// (UserID, Symbol) position is removed instead.
	Holding       *Holding
	DeleteHolding bool
}

// Watchlist is a user's set of followed symbols.
type Watchlist struct {
	UserID  string   `json:"user_id" db:"user_id"`
	Symbols []string `json:"symbols" db:"symbols"`
}

// PricePoint is one entry of a symbol's bounded price history. Stocks carry
// Price, indices carry Value.
type PricePoint struct {
	Price     *decimal.Decimal `json:"price,omitempty"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// PriceUpdate is the live push published for every simulated tick.
type PriceUpdate struct {
	Symbol        string           `json:"symbol"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Value         *decimal.Decimal `json:"value,omitempty"`
	ChangePercent decimal.Decimal  `json:"changePercent"`
	Timestamp     time.Time        `json:"timestamp"`
}

// HoldingValue is a holding marked to the current reference price.
type HoldingValue struct {
	Symbol            string          `json:"symbol"`
	Quantity          int64           `json:"quantity"`
	AvgBuyPrice       decimal.Decimal `json:"avg_buy_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	InvestedValue     decimal.Decimal `json:"invested_value"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// PortfolioSummary aggregates all holdings for a user with unrealized P&L.
type PortfolioSummary struct {
	UserID                 string          `json:"user_id"`
	Holdings               []HoldingValue  `json:"holdings"`
	TotalInvestedValue     decimal.Decimal `json:"total_invested_value"`
	TotalCurrentValue      decimal.Decimal `json:"total_current_value"`
	TotalProfitLoss        decimal.Decimal `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal `json:"total_profit_loss_percent"`
	AvailableBalance       decimal.Decimal `json:"available_balance"`
	TotalPortfolioValue    decimal.Decimal `json:"total_portfolio_value"`
}

// SymbolVolume is one row of the most-bought aggregation.
type SymbolVolume struct {
	Symbol        string `json:"symbol"`
	TotalQuantity int64  `json:"total_quantity"`
	OrderCount    int64  `json:"order_count"`
}
