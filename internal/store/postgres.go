package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// --- Reference data ---

const stockColumns = `symbol, name, sector, current_price::TEXT, previous_close::TEXT, market_cap::TEXT, updated_at`

func (s *PostgresStore) GetStock(ctx context.Context, symbol string) (*model.Stock, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE symbol = $1`, symbol)
	st, err := scanStock(row)
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", symbol, mapErr(err))
	}
	return st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *st)
	}
	return stocks, rows.Err()
}

func (s *PostgresStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (symbol, name, sector, current_price, previous_close, market_cap, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, now())
		 ON CONFLICT (symbol) DO UPDATE
		 SET name = EXCLUDED.name, sector = EXCLUDED.sector,
		     current_price = EXCLUDED.current_price, previous_close = EXCLUDED.previous_close,
		     market_cap = EXCLUDED.market_cap, updated_at = now()`,
		st.Symbol, st.Name, st.Sector,
		st.CurrentPrice.String(), st.PreviousClose.String(), st.MarketCap.String(),
	)
	return err
}

func (s *PostgresStore) UpdateStockPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stocks SET current_price = $2::NUMERIC, updated_at = now() WHERE symbol = $1`,
		symbol, price.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock %s: %w", symbol, ErrNotFound)
	}
	return nil
}

const indexColumns = `symbol, name, current_value::TEXT, previous_close::TEXT, updated_at`

func (s *PostgresStore) GetIndex(ctx context.Context, symbol string) (*model.Index, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+indexColumns+` FROM indices WHERE symbol = $1`, symbol)
	idx, err := scanIndex(row)
	if err != nil {
		return nil, fmt.Errorf("get index %s: %w", symbol, mapErr(err))
	}
	return idx, nil
}

func (s *PostgresStore) ListIndices(ctx context.Context) ([]model.Index, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+indexColumns+` FROM indices ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indices []model.Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		indices = append(indices, *idx)
	}
	return indices, rows.Err()
}

func (s *PostgresStore) UpsertIndex(ctx context.Context, idx *model.Index) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indices (symbol, name, current_value, previous_close, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, now())
		 ON CONFLICT (symbol) DO UPDATE
		 SET name = EXCLUDED.name, current_value = EXCLUDED.current_value,
		     previous_close = EXCLUDED.previous_close, updated_at = now()`,
		idx.Symbol, idx.Name, idx.CurrentValue.String(), idx.PreviousClose.String(),
	)
	return err
}

func (s *PostgresStore) UpdateIndexValue(ctx context.Context, symbol string, value decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE indices SET current_value = $2::NUMERIC, updated_at = now() WHERE symbol = $1`,
		symbol, value.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("index %s: %w", symbol, ErrNotFound)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Balance.String(), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Email, mapErr(err))
	}
	return nil
}

const userColumns = `id, name, email, password_hash, balance::TEXT, created_at`

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, mapErr(err))
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("get user by email %s: %w", email, mapErr(err))
	}
	return u, nil
}

// --- Holdings and orders ---

const holdingColumns = `user_id, symbol, quantity, avg_buy_price::TEXT, updated_at`

func (s *PostgresStore) GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	h, err := scanHolding(s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol))
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, symbol, mapErr(err))
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

// ApplySettlement runs the balance update, holding change and order insert
// in one transaction. The balance update is guarded so that a concurrent
// writer from another instance cannot drive the balance negative.
func (s *PostgresStore) ApplySettlement(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op after commit

	o := st.Order
	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC
		 WHERE id = $1 AND balance + $2::NUMERIC >= 0`,
		o.UserID, st.BalanceDelta.String())
	if err != nil {
		return fmt.Errorf("settle order %s: update balance: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settle order %s: balance guard: %w", o.ID, ErrConflict)
	}

	if st.DeleteHolding {
		tag, err = tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND symbol = $2`, o.UserID, o.Symbol)
		if err != nil {
			return fmt.Errorf("settle order %s: delete holding: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("settle order %s: holding vanished: %w", o.ID, ErrConflict)
		}
	} else {
		if st.Holding == nil || st.Holding.Quantity <= 0 {
			return fmt.Errorf("settle order %s: missing holding state: %w", o.ID, ErrConflict)
		}
		h := st.Holding
		_, err = tx.Exec(ctx,
			`INSERT INTO holdings (user_id, symbol, quantity, avg_buy_price, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)
			 ON CONFLICT (user_id, symbol) DO UPDATE
			 SET quantity = EXCLUDED.quantity, avg_buy_price = EXCLUDED.avg_buy_price,
			     updated_at = EXCLUDED.updated_at`,
			h.UserID, h.Symbol, h.Quantity, h.AvgBuyPrice.String(), h.UpdatedAt)
		if err != nil {
			return fmt.Errorf("settle order %s: upsert holding: %w", o.ID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol, side, quantity, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		o.ID, o.UserID, o.Symbol, string(o.Side), o.Quantity, o.Price.String(), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("settle order %s: insert order: %w", o.ID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, side, quantity, price::TEXT, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) MostBought(ctx context.Context, limit int) ([]model.SymbolVolume, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, SUM(quantity), COUNT(*)
		 FROM orders WHERE side = 'BUY'
		 GROUP BY symbol
		 ORDER BY SUM(quantity) DESC, symbol
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SymbolVolume
	for rows.Next() {
		var v model.SymbolVolume
		if err := rows.Scan(&v.Symbol, &v.TotalQuantity, &v.OrderCount); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// --- Watchlists ---

func (s *PostgresStore) GetWatchlist(ctx context.Context, userID string) (*model.Watchlist, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol FROM watchlist_symbols WHERE user_id = $1 ORDER BY added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wl := &model.Watchlist{UserID: userID, Symbols: []string{}}
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		wl.Symbols = append(wl.Symbols, sym)
	}
	return wl, rows.Err()
}

func (s *PostgresStore) AddToWatchlist(ctx context.Context, userID, symbol string) (*model.Watchlist, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist_symbols (user_id, symbol) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, symbol)
	if err != nil {
		return nil, err
	}
	return s.GetWatchlist(ctx, userID)
}

func (s *PostgresStore) RemoveFromWatchlist(ctx context.Context, userID, symbol string) (*model.Watchlist, error) {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist_symbols WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	if err != nil {
		return nil, err
	}
	return s.GetWatchlist(ctx, userID)
}

// --- Scanning helpers ---

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanStock(row pgxRow) (*model.Stock, error) {
	var st model.Stock
	var price, prev, mcap string
	if err := row.Scan(&st.Symbol, &st.Name, &st.Sector, &price, &prev, &mcap, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.CurrentPrice, _ = decimal.NewFromString(price)
	st.PreviousClose, _ = decimal.NewFromString(prev)
	st.MarketCap, _ = decimal.NewFromString(mcap)
	return &st, nil
}

func scanIndex(row pgxRow) (*model.Index, error) {
	var idx model.Index
	var value, prev string
	if err := row.Scan(&idx.Symbol, &idx.Name, &value, &prev, &idx.UpdatedAt); err != nil {
		return nil, err
	}
	idx.CurrentValue, _ = decimal.NewFromString(value)
	idx.PreviousClose, _ = decimal.NewFromString(prev)
	return &idx, nil
}

func scanUser(row pgxRow) (*model.User, error) {
	var u model.User
	var balance string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &balance, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func scanHolding(row pgxRow) (*model.Holding, error) {
	var h model.Holding
	var avg string
	if err := row.Scan(&h.UserID, &h.Symbol, &h.Quantity, &avg, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.AvgBuyPrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var side, price string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &o.Quantity, &price, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = model.Side(side)
		o.Price, _ = decimal.NewFromString(price)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrConflict
	}
	return err
}
