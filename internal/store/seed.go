package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// SeedStocks is the reference equity catalog.
var SeedStocks = []model.Stock{
	{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", CurrentPrice: dec("178.25"), PreviousClose: dec("176.80"), MarketCap: dec("2800000000000")},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Sector: "Technology", CurrentPrice: dec("140.35"), PreviousClose: dec("139.20"), MarketCap: dec("1750000000000")},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Sector: "Technology", CurrentPrice: dec("378.90"), PreviousClose: dec("375.50"), MarketCap: dec("2820000000000")},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Sector: "Technology", CurrentPrice: dec("155.75"), PreviousClose: dec("154.20"), MarketCap: dec("1600000000000")},
	{Symbol: "TSLA", Name: "Tesla Inc.", Sector: "Automotive", CurrentPrice: dec("248.50"), PreviousClose: dec("245.80"), MarketCap: dec("789000000000")},
}

// SeedIndices is the reference index catalog.
var SeedIndices = []model.Index{
	{Symbol: "NIFTY", Name: "NIFTY 50", CurrentValue: dec("22150.50"), PreviousClose: dec("22100.00")},
	{Symbol: "SENSEX", Name: "BSE SENSEX", CurrentValue: dec("72850.75"), PreviousClose: dec("72700.00")},
	{Symbol: "BANKNIFTY", Name: "NIFTY BANK", CurrentValue: dec("48250.30"), PreviousClose: dec("48100.00")},
	{Symbol: "MIDCAPNIFTY", Name: "NIFTY MIDCAP 50", CurrentValue: dec("12450.80"), PreviousClose: dec("12400.00")},
	{Symbol: "FINNIFTY", Name: "NIFTY FINANCIAL SERVICES", CurrentValue: dec("20350.60"), PreviousClose: dec("20300.00")},
}

// Seed inserts every catalog row that is not already present. Existing rows
// keep their simulated prices.
func Seed(ctx context.Context, st ReferenceStore) error {
	inserted := 0
	for i := range SeedStocks {
		_, err := st.GetStock(ctx, SeedStocks[i].Symbol)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seed stock %s: %w", SeedStocks[i].Symbol, err)
		}
		if err := st.UpsertStock(ctx, &SeedStocks[i]); err != nil {
			return fmt.Errorf("seed stock %s: %w", SeedStocks[i].Symbol, err)
		}
		inserted++
	}
	for i := range SeedIndices {
		_, err := st.GetIndex(ctx, SeedIndices[i].Symbol)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seed index %s: %w", SeedIndices[i].Symbol, err)
		}
		if err := st.UpsertIndex(ctx, &SeedIndices[i]); err != nil {
			return fmt.Errorf("seed index %s: %w", SeedIndices[i].Symbol, err)
		}
		inserted++
	}
	if inserted > 0 {
		slog.Info("reference data seeded", "rows", inserted)
	}
	return nil
}
