package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newCatalogRouter(t *testing.T) (*store.MemoryStore, *Simulator, chi.Router) {
	t.Helper()
	ms := newSeededStore(t)
	hist := store.NewMemoryHistory(100)
	sim := NewSimulator(ms, hist, &recordingPublisher{})

	r := chi.NewRouter()
	r.Route("/api/v1", NewCatalog(ms, ms, NewHistoryReader(hist, DefaultIndices)).Routes)
	return ms, sim, r
}

func get(t *testing.T, router chi.Router, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestCatalog_ListStocks(t *testing.T) {
	_, _, router := newCatalogRouter(t)

	code, env := get(t, router, "/api/v1/stocks")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var stocks []StockView
	require.NoError(t, json.Unmarshal(env.Data, &stocks))
	require.Len(t, stocks, 5)
	assert.Equal(t, "AAPL", stocks[0].Symbol)
	// 178.25 vs 176.80
	assert.True(t, stocks[0].Change.Equal(decimal.RequireFromString("1.45")), "change %s", stocks[0].Change)
	assert.True(t, stocks[0].ChangePercent.Equal(decimal.RequireFromString("0.82")), "pct %s", stocks[0].ChangePercent)
}

func TestCatalog_GetStock(t *testing.T) {
	_, _, router := newCatalogRouter(t)

	code, env := get(t, router, "/api/v1/stocks/msft")
	require.Equal(t, http.StatusOK, code)
	var st StockView
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "MSFT", st.Symbol)
	assert.Equal(t, "Microsoft Corporation", st.Name)

	code, env = get(t, router, "/api/v1/stocks/NOPE")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestCatalog_StockHistory(t *testing.T) {
	_, sim, router := newCatalogRouter(t)
	for i := 0; i < 3; i++ {
		sim.Tick(context.Background())
	}

	code, env := get(t, router, "/api/v1/stocks/aapl/history")
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Symbol  string             `json:"symbol"`
		History []model.PricePoint `json:"history"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "AAPL", body.Symbol)
	assert.Len(t, body.History, 3)

	code, _ = get(t, router, "/api/v1/stocks/NOPE/history")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCatalog_Indices(t *testing.T) {
	_, sim, router := newCatalogRouter(t)
	sim.Tick(context.Background())

	code, env := get(t, router, "/api/v1/indices")
	require.Equal(t, http.StatusOK, code)
	var indices []IndexView
	require.NoError(t, json.Unmarshal(env.Data, &indices))
	assert.Len(t, indices, 5)

	code, env = get(t, router, "/api/v1/indices/sensex")
	require.Equal(t, http.StatusOK, code)
	var idx IndexView
	require.NoError(t, json.Unmarshal(env.Data, &idx))
	assert.Equal(t, "SENSEX", idx.Symbol)

	code, env = get(t, router, "/api/v1/indices/SENSEX/history")
	require.Equal(t, http.StatusOK, code)
	var body struct {
		History []model.PricePoint `json:"history"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.History, 1)
	assert.NotNil(t, body.History[0].Value)

	code, _ = get(t, router, "/api/v1/indices/DOW")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCatalog_MostBought(t *testing.T) {
	ms, _, router := newCatalogRouter(t)
	ctx := context.Background()
	require.NoError(t, ms.CreateUser(ctx, &model.User{ID: "u1", Email: "u1@example.com", Balance: decimal.NewFromInt(1_000_000)}))

	settle := func(id, symbol string, side model.Side, qty int64) {
		require.NoError(t, ms.ApplySettlement(ctx, &model.Settlement{
			Order:   model.Order{ID: id, UserID: "u1", Symbol: symbol, Side: side, Quantity: qty, Price: decimal.NewFromInt(1)},
			Holding: &model.Holding{UserID: "u1", Symbol: symbol, Quantity: 100, AvgBuyPrice: decimal.NewFromInt(1)},
		}))
	}
	settle("o1", "AAPL", model.SideBuy, 5)
	settle("o2", "TSLA", model.SideBuy, 20)
	settle("o3", "AAPL", model.SideBuy, 5)
	settle("o4", "MSFT", model.SideSell, 50)

	code, env := get(t, router, "/api/v1/stocks/most-bought")
	require.Equal(t, http.StatusOK, code)
	var rows []MostBoughtView
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "TSLA", rows[0].Symbol)
	assert.Equal(t, int64(20), rows[0].TotalQuantity)
	assert.Equal(t, "AAPL", rows[1].Symbol)
	assert.Equal(t, int64(10), rows[1].TotalQuantity)
	assert.Equal(t, int64(2), rows[1].OrderCount)
	assert.Equal(t, "Apple Inc.", rows[1].Name)
}
