package market

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/respond"
	"github.com/papertrade/market-engine/internal/store"
)

// MostBoughtLimit is the number of rows returned by /stocks/most-bought.
const MostBoughtLimit = 10

// HistorySource returns the retained history of a symbol.
type HistorySource interface {
	History(ctx context.Context, symbol string) ([]model.PricePoint, error)
}

// Catalog serves stock and index reference data over HTTP.
type Catalog struct {
	ref     store.ReferenceStore
	ledger  store.LedgerStore
	history HistorySource
}

// NewCatalog creates the catalog handlers.
func NewCatalog(ref store.ReferenceStore, ledger store.LedgerStore, history HistorySource) *Catalog {
	return &Catalog{ref: ref, ledger: ledger, history: history}
}

// Routes mounts the handlers on r.
func (c *Catalog) Routes(r chi.Router) {
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", c.ListStocks)
		r.Get("/most-bought", c.MostBought)
		r.Get("/{symbol}", c.GetStock)
		r.Get("/{symbol}/history", c.StockHistory)
	})
	r.Route("/indices", func(r chi.Router) {
		r.Get("/", c.ListIndices)
		r.Get("/{symbol}", c.GetIndex)
		r.Get("/{symbol}/history", c.IndexHistory)
	})
}

// StockView is a stock with its derived day change.
type StockView struct {
	model.Stock
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// IndexView is an index with its derived day change.
type IndexView struct {
	model.Index
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// MostBoughtView is one row of /stocks/most-bought.
type MostBoughtView struct {
	model.SymbolVolume
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

func stockView(s model.Stock) StockView {
	q := s.Quote()
	return StockView{Stock: s, Change: q.Change, ChangePercent: q.ChangePercent}
}

func indexView(i model.Index) IndexView {
	q := i.Quote()
	return IndexView{Index: i, Change: q.Change, ChangePercent: q.ChangePercent}
}

// ListStocks handles GET /api/v1/stocks
func (c *Catalog) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := c.ref.ListStocks(r.Context())
	if err != nil {
		internalError(w, "list stocks", err)
		return
	}
	views := make([]StockView, 0, len(stocks))
	for _, s := range stocks {
		views = append(views, stockView(s))
	}
	respond.OK(w, views)
}

// GetStock handles GET /api/v1/stocks/{symbol}
func (c *Catalog) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	st, err := c.ref.GetStock(r.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "stock not found")
		return
	}
	if err != nil {
		internalError(w, "get stock", err)
		return
	}
	respond.OK(w, stockView(*st))
}

// StockHistory handles GET /api/v1/stocks/{symbol}/history
func (c *Catalog) StockHistory(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if _, err := c.ref.GetStock(r.Context(), symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "stock not found")
			return
		}
		internalError(w, "get stock", err)
		return
	}
	c.writeHistory(w, r, symbol)
}

// MostBought handles GET /api/v1/stocks/most-bought
func (c *Catalog) MostBought(w http.ResponseWriter, r *http.Request) {
	rows, err := c.ledger.MostBought(r.Context(), MostBoughtLimit)
	if err != nil {
		internalError(w, "most bought", err)
		return
	}
	views := make([]MostBoughtView, 0, len(rows))
	for _, row := range rows {
		v := MostBoughtView{SymbolVolume: row}
		if st, err := c.ref.GetStock(r.Context(), row.Symbol); err == nil {
			v.Name = st.Name
			v.CurrentPrice = st.CurrentPrice
		}
		views = append(views, v)
	}
	respond.OK(w, views)
}

// ListIndices handles GET /api/v1/indices
func (c *Catalog) ListIndices(w http.ResponseWriter, r *http.Request) {
	indices, err := c.ref.ListIndices(r.Context())
	if err != nil {
		internalError(w, "list indices", err)
		return
	}
	views := make([]IndexView, 0, len(indices))
	for _, i := range indices {
		views = append(views, indexView(i))
	}
	respond.OK(w, views)
}

// GetIndex handles GET /api/v1/indices/{symbol}
func (c *Catalog) GetIndex(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	idx, err := c.ref.GetIndex(r.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "index not found")
		return
	}
	if err != nil {
		internalError(w, "get index", err)
		return
	}
	respond.OK(w, indexView(*idx))
}

// IndexHistory handles GET /api/v1/indices/{symbol}/history
func (c *Catalog) IndexHistory(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if _, err := c.ref.GetIndex(r.Context(), symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "index not found")
			return
		}
		internalError(w, "get index", err)
		return
	}
	c.writeHistory(w, r, symbol)
}

func (c *Catalog) writeHistory(w http.ResponseWriter, r *http.Request, symbol string) {
	points, err := c.history.History(r.Context(), symbol)
	if err != nil {
		internalError(w, "price history", err)
		return
	}
	respond.OK(w, map[string]any{"symbol": symbol, "history": points})
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("catalog request failed", "op", op, "err", err)
	respond.Error(w, http.StatusInternalServerError, "internal error")
}
