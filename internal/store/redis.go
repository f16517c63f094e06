package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for reference data. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary. Ledger
// reads are never cached. Cached reads may trail the primary by up to the
// TTL, so only catalog endpoints read through it.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// Direct returns a view of s whose reads go straight to the primary store
// while writes still invalidate the cache. Order execution, valuation and
// the price simulator use it so a stale cache entry never prices an order
// or seeds a random-walk step.
func (s *CachedStore) Direct() Store {
	return &directStore{CachedStore: s}
}

type directStore struct {
	*CachedStore
}

func (d *directStore) GetStock(ctx context.Context, symbol string) (*model.Stock, error) {
	return d.CachedStore.Store.GetStock(ctx, symbol)
}

func (d *directStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return d.CachedStore.Store.ListStocks(ctx)
}

func (d *directStore) GetIndex(ctx context.Context, symbol string) (*model.Index, error) {
	return d.CachedStore.Store.GetIndex(ctx, symbol)
}

func (d *directStore) ListIndices(ctx context.Context) ([]model.Index, error) {
	return d.CachedStore.Store.ListIndices(ctx)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	if err := s.Store.UpsertStock(ctx, st); err != nil {
		return err
	}
	s.invalidate(ctx, stocksListKey, stockDetailKey(st.Symbol))
	return nil
}

func (s *CachedStore) UpdateStockPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if err := s.Store.UpdateStockPrice(ctx, symbol, price); err != nil {
		return err
	}
	s.invalidate(ctx, stocksListKey, stockDetailKey(symbol))
	return nil
}

func (s *CachedStore) UpsertIndex(ctx context.Context, idx *model.Index) error {
	if err := s.Store.UpsertIndex(ctx, idx); err != nil {
		return err
	}
	s.invalidate(ctx, indicesListKey, indexDetailKey(idx.Symbol))
	return nil
}

func (s *CachedStore) UpdateIndexValue(ctx context.Context, symbol string, value decimal.Decimal) error {
	if err := s.Store.UpdateIndexValue(ctx, symbol, value); err != nil {
		return err
	}
	s.invalidate(ctx, indicesListKey, indexDetailKey(symbol))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStock(ctx context.Context, symbol string) (*model.Stock, error) {
	var st model.Stock
	if s.get(ctx, stockDetailKey(symbol), &st) {
		return &st, nil
	}

	// Cache miss: read from primary.
	got, err := s.Store.GetStock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.set(ctx, stockDetailKey(symbol), got)
	return got, nil
}

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	var stocks []model.Stock
	if s.get(ctx, stocksListKey, &stocks) {
		return stocks, nil
	}

	stocks, err := s.Store.ListStocks(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, stocksListKey, stocks)
	return stocks, nil
}

func (s *CachedStore) GetIndex(ctx context.Context, symbol string) (*model.Index, error) {
	var idx model.Index
	if s.get(ctx, indexDetailKey(symbol), &idx) {
		return &idx, nil
	}

	got, err := s.Store.GetIndex(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.set(ctx, indexDetailKey(symbol), got)
	return got, nil
}

func (s *CachedStore) ListIndices(ctx context.Context) ([]model.Index, error) {
	var indices []model.Index
	if s.get(ctx, indicesListKey, &indices) {
		return indices, nil
	}

	indices, err := s.Store.ListIndices(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, indicesListKey, indices)
	return indices, nil
}

// --- Cache helpers ---

// get reports a hit only when the key exists and decodes cleanly. Redis
// errors degrade to a miss.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache read failed", "key", key, "err", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "key", key, "err", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

const (
	stocksListKey  = "stocks:list"
	indicesListKey = "indices:list"
)

func stockDetailKey(symbol string) string { return "stocks:detail:" + symbol }
func indexDetailKey(symbol string) string { return "indices:detail:" + symbol }

// RedisHistory implements HistoryStore as capped Redis lists. Each list is
// chronological: new points are pushed on the right and the left is trimmed
// inside the same MULTI/EXEC block.
type RedisHistory struct {
	rdb      *redis.Client
	capacity int64
}

// NewRedisHistory creates a Redis-backed history keeping capacity points per key.
func NewRedisHistory(rdb *redis.Client, capacity int) *RedisHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryLength
	}
	return &RedisHistory{rdb: rdb, capacity: int64(capacity)}
}

func (h *RedisHistory) AppendPrice(ctx context.Context, key string, point model.PricePoint) error {
	data, err := json.Marshal(point)
	if err != nil {
		return err
	}
	_, err = h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -h.capacity, -1)
		return nil
	})
	return err
}

func (h *RedisHistory) PriceHistory(ctx context.Context, key string) ([]model.PricePoint, error) {
	items, err := h.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	points := make([]model.PricePoint, 0, len(items))
	for _, item := range items {
		var p model.PricePoint
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			slog.Warn("skipping malformed history entry", "key", key, "err", err)
			continue
		}
		points = append(points, p)
	}
	return points, nil
}
