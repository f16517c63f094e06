package trade

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/metrics"
	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Valuator marks a user's holdings to current reference prices. It never
// writes.
type Valuator struct {
	ledger store.LedgerStore
	ref    store.ReferenceStore
}

// NewValuator creates a portfolio valuator.
func NewValuator(ledger store.LedgerStore, ref store.ReferenceStore) *Valuator {
	return &Valuator{ledger: ledger, ref: ref}
}

// Valuate computes unrealized P&L for every holding of userID. Holdings
// whose symbol is gone from the reference store are skipped.
func (v *Valuator) Valuate(ctx context.Context, userID string) (*model.PortfolioSummary, error) {
	user, err := v.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err, "user "+userID)
	}
	holdings, err := v.ledger.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &model.PortfolioSummary{
		UserID:                 userID,
		Holdings:               make([]model.HoldingValue, 0, len(holdings)),
		TotalInvestedValue:     decimal.Zero,
		TotalCurrentValue:      decimal.Zero,
		TotalProfitLoss:        decimal.Zero,
		TotalProfitLossPercent: decimal.Zero,
		AvailableBalance:       user.Balance,
	}

	for _, h := range holdings {
		stock, err := v.ref.GetStock(ctx, h.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			metrics.DataIntegrityAnomalies.Inc()
			slog.Warn("holding references unknown symbol, skipping",
				"user", userID, "symbol", h.Symbol, "qty", h.Quantity)
			continue
		}
		if err != nil {
			return nil, err
		}

		qty := decimal.NewFromInt(h.Quantity)
		invested := h.AvgBuyPrice.Mul(qty)
		current := stock.CurrentPrice.Mul(qty)
		pl := current.Sub(invested)

		summary.Holdings = append(summary.Holdings, model.HoldingValue{
			Symbol:            h.Symbol,
			Quantity:          h.Quantity,
			AvgBuyPrice:       h.AvgBuyPrice,
			CurrentPrice:      stock.CurrentPrice,
			InvestedValue:     invested,
			CurrentValue:      current,
			ProfitLoss:        pl,
			ProfitLossPercent: percent(pl, invested),
		})
		summary.TotalInvestedValue = summary.TotalInvestedValue.Add(invested)
		summary.TotalCurrentValue = summary.TotalCurrentValue.Add(current)
	}

	summary.TotalProfitLoss = summary.TotalCurrentValue.Sub(summary.TotalInvestedValue)
	summary.TotalProfitLossPercent = percent(summary.TotalProfitLoss, summary.TotalInvestedValue)
	summary.TotalPortfolioValue = summary.AvailableBalance.Add(summary.TotalCurrentValue)
	return summary, nil
}

// percent returns part / whole × 100 rounded to 2 places, or 0 when whole is 0.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
