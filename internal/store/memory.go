package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	stocks     map[string]*model.Stock
	indices    map[string]*model.Index
	users      map[string]*model.User
	holdings   map[holdingKey]*model.Holding
	orders     []model.Order
	watchlists map[string][]string
}

type holdingKey struct {
	userID string
	symbol string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:     make(map[string]*model.Stock),
		indices:    make(map[string]*model.Index),
		users:      make(map[string]*model.User),
		holdings:   make(map[holdingKey]*model.Holding),
		watchlists: make(map[string][]string),
	}
}

// --- Reference data ---

func (s *MemoryStore) GetStock(_ context.Context, symbol string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[symbol]
	if !ok {
		return nil, fmt.Errorf("stock %s: %w", symbol, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Symbol < stocks[j].Symbol })
	return stocks, nil
}

func (s *MemoryStore) UpsertStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *st
	s.stocks[st.Symbol] = &copy
	return nil
}

func (s *MemoryStore) UpdateStockPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stocks[symbol]
	if !ok {
		return fmt.Errorf("stock %s: %w", symbol, ErrNotFound)
	}
	st.CurrentPrice = price
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetIndex(_ context.Context, symbol string) (*model.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[symbol]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", symbol, ErrNotFound)
	}
	copy := *idx
	return &copy, nil
}

func (s *MemoryStore) ListIndices(_ context.Context) ([]model.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := make([]model.Index, 0, len(s.indices))
	for _, idx := range s.indices {
		indices = append(indices, *idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i].Symbol < indices[j].Symbol })
	return indices, nil
}

func (s *MemoryStore) UpsertIndex(_ context.Context, idx *model.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *idx
	s.indices[idx.Symbol] = &copy
	return nil
}

func (s *MemoryStore) UpdateIndexValue(_ context.Context, symbol string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[symbol]
	if !ok {
		return fmt.Errorf("index %s: %w", symbol, ErrNotFound)
	}
	idx.CurrentValue = value
	idx.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteStock removes a stock. Reference rows are never deleted in normal
// operation; tests use this to simulate a delisted symbol.
func (s *MemoryStore) DeleteStock(_ context.Context, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stocks, symbol)
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("user %s: %w", u.ID, ErrConflict)
	}
	for _, existing := range s.users {
		if u.Email != "" && existing.Email == u.Email {
			return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
		}
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
}

// --- Holdings and orders ---

func (s *MemoryStore) GetHolding(_ context.Context, userID, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey{userID, symbol}]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Holding
	for k, h := range s.holdings {
		if k.userID == userID {
			result = append(result, *h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// ApplySettlement validates the whole settlement before touching any map,
// so a rejected settlement leaves no partial state behind.
func (s *MemoryStore) ApplySettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[st.Order.UserID]
	if !ok {
		return fmt.Errorf("user %s: %w", st.Order.UserID, ErrNotFound)
	}
	newBalance := u.Balance.Add(st.BalanceDelta)
	if newBalance.IsNegative() {
		return fmt.Errorf("balance of user %s would go negative: %w", u.ID, ErrConflict)
	}
	key := holdingKey{st.Order.UserID, st.Order.Symbol}
	if st.DeleteHolding {
		if _, ok := s.holdings[key]; !ok {
			return fmt.Errorf("holding %s/%s: %w", key.userID, key.symbol, ErrConflict)
		}
	} else if st.Holding == nil || st.Holding.Quantity <= 0 {
		return fmt.Errorf("settlement for order %s has no holding state: %w", st.Order.ID, ErrConflict)
	}

	u.Balance = newBalance
	if st.DeleteHolding {
		delete(s.holdings, key)
	} else {
		h := *st.Holding
		s.holdings[key] = &h
	}
	s.orders = append(s.orders, st.Order)
	return nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].UserID == userID {
			result = append(result, s.orders[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) MostBought(_ context.Context, limit int) ([]model.SymbolVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*model.SymbolVolume)
	for _, o := range s.orders {
		if o.Side != model.SideBuy {
			continue
		}
		v, ok := agg[o.Symbol]
		if !ok {
			v = &model.SymbolVolume{Symbol: o.Symbol}
			agg[o.Symbol] = v
		}
		v.TotalQuantity += o.Quantity
		v.OrderCount++
	}

	result := make([]model.SymbolVolume, 0, len(agg))
	for _, v := range agg {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalQuantity != result[j].TotalQuantity {
			return result[i].TotalQuantity > result[j].TotalQuantity
		}
		return result[i].Symbol < result[j].Symbol
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Watchlists ---

func (s *MemoryStore) GetWatchlist(_ context.Context, userID string) (*model.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &model.Watchlist{UserID: userID, Symbols: append([]string{}, s.watchlists[userID]...)}, nil
}

func (s *MemoryStore) AddToWatchlist(_ context.Context, userID, symbol string) (*model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := s.watchlists[userID]
	found := false
	for _, sym := range symbols {
		if sym == symbol {
			found = true
			break
		}
	}
	if !found {
		symbols = append(symbols, symbol)
	}
	s.watchlists[userID] = symbols
	return &model.Watchlist{UserID: userID, Symbols: append([]string{}, symbols...)}, nil
}

func (s *MemoryStore) RemoveFromWatchlist(_ context.Context, userID, symbol string) (*model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := s.watchlists[userID]
	kept := symbols[:0]
	for _, sym := range symbols {
		if sym != symbol {
			kept = append(kept, sym)
		}
	}
	s.watchlists[userID] = kept
	return &model.Watchlist{UserID: userID, Symbols: append([]string{}, kept...)}, nil
}
