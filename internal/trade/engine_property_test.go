package trade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/store"
	"github.com/papertrade/market-engine/internal/trade"
)

// genPrice generates a positive price with two decimal places.
func genPrice() *rapid.Generator[decimal.Decimal] {
	return rapid.Map(rapid.Int64Range(1, 5_000_00), func(cents int64) decimal.Decimal {
		return decimal.New(cents, -2)
	})
}

func TestProperty_WeightedAverageCost(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := store.NewMemoryStore()
		eng := trade.NewEngine(ms, ms)
		ctx := context.Background()

		q1 := rapid.Int64Range(1, 1000).Draw(t, "q1")
		q2 := rapid.Int64Range(1, 1000).Draw(t, "q2")
		p1 := genPrice().Draw(t, "p1")
		p2 := genPrice().Draw(t, "p2")

		ms.CreateUser(ctx, &model.User{ID: "u", Email: "u@example.com", Balance: decimal.NewFromInt(1_000_000_000)})
		ms.UpsertStock(ctx, &model.Stock{Symbol: "AAPL", CurrentPrice: p1, PreviousClose: p1})

		if _, err := eng.Execute(ctx, "u", "AAPL", model.SideBuy, q1); err != nil {
			t.Fatalf("first buy: %v", err)
		}
		ms.UpdateStockPrice(ctx, "AAPL", p2)
		if _, err := eng.Execute(ctx, "u", "AAPL", model.SideBuy, q2); err != nil {
			t.Fatalf("second buy: %v", err)
		}

		h, err := ms.GetHolding(ctx, "u", "AAPL")
		if err != nil {
			t.Fatalf("holding: %v", err)
		}
		want := p1.Mul(decimal.NewFromInt(q1)).Add(p2.Mul(decimal.NewFromInt(q2))).Div(decimal.NewFromInt(q1 + q2))
		if h.Quantity != q1+q2 {
			t.Fatalf("quantity = %d, want %d", h.Quantity, q1+q2)
		}
		if !h.AvgBuyPrice.Equal(want) {
			t.Fatalf("avg = %s, want %s", h.AvgBuyPrice, want)
		}
	})
}

// TestProperty_LedgerConsistency drives random order sequences and checks
// every outcome against the balance and holding rules.
func TestProperty_LedgerConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := store.NewMemoryStore()
		eng := trade.NewEngine(ms, ms)
		ctx := context.Background()

		start := decimal.New(rapid.Int64Range(0, 100_000_00).Draw(t, "balance"), -2)
		ms.CreateUser(ctx, &model.User{ID: "u", Email: "u@example.com", Balance: start})
		ms.UpsertStock(ctx, &model.Stock{Symbol: "MSFT", CurrentPrice: decimal.NewFromInt(100), PreviousClose: decimal.NewFromInt(100)})

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			price := genPrice().Draw(t, "price")
			ms.UpdateStockPrice(ctx, "MSFT", price)
			side := rapid.SampledFrom([]model.Side{model.SideBuy, model.SideSell}).Draw(t, "side")
			qty := rapid.Int64Range(1, 50).Draw(t, "qty")

			before, _ := ms.GetUser(ctx, "u")
			heldBefore := int64(0)
			if h, err := ms.GetHolding(ctx, "u", "MSFT"); err == nil {
				heldBefore = h.Quantity
			}

			_, err := eng.Execute(ctx, "u", "MSFT", side, qty)

			after, _ := ms.GetUser(ctx, "u")
			heldAfter := int64(0)
			h, herr := ms.GetHolding(ctx, "u", "MSFT")
			if herr == nil {
				heldAfter = h.Quantity
				if h.Quantity <= 0 {
					t.Fatalf("holding with quantity %d exists", h.Quantity)
				}
			}
			if after.Balance.IsNegative() {
				t.Fatalf("balance went negative: %s", after.Balance)
			}

			total := price.Mul(decimal.NewFromInt(qty))
			switch {
			case err == nil && side == model.SideBuy:
				if !after.Balance.Equal(before.Balance.Sub(total)) || heldAfter != heldBefore+qty {
					t.Fatalf("buy: balance %s→%s, held %d→%d", before.Balance, after.Balance, heldBefore, heldAfter)
				}
			case err == nil && side == model.SideSell:
				if !after.Balance.Equal(before.Balance.Add(total)) || heldAfter != heldBefore-qty {
					t.Fatalf("sell: balance %s→%s, held %d→%d", before.Balance, after.Balance, heldBefore, heldAfter)
				}
			case errors.Is(err, trade.ErrInsufficientFunds):
				if !total.GreaterThan(before.Balance) {
					t.Fatalf("rejected affordable buy: total %s balance %s", total, before.Balance)
				}
				fallthrough
			case errors.Is(err, trade.ErrInsufficientHoldings):
				if !after.Balance.Equal(before.Balance) || heldAfter != heldBefore {
					t.Fatalf("rejected order mutated state")
				}
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}
