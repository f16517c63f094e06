// Package account serves registration, login, profile and watchlist
// endpoints.
package account

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/market-engine/internal/auth"
	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/respond"
	"github.com/papertrade/market-engine/internal/store"
)

const minPasswordLength = 6

// Users is the slice of the ledger the account handlers need.
type Users interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// Handler serves the account endpoints.
type Handler struct {
	users          Users
	watchlists     store.WatchlistStore
	ref            store.ReferenceStore
	tokens         *auth.Tokens
	initialBalance decimal.Decimal
}

// NewHandler creates the account handlers. New users start with
// initialBalance in cash.
func NewHandler(users Users, watchlists store.WatchlistStore, ref store.ReferenceStore, tokens *auth.Tokens, initialBalance decimal.Decimal) *Handler {
	return &Handler{
		users:          users,
		watchlists:     watchlists,
		ref:            ref,
		tokens:         tokens,
		initialBalance: initialBalance,
	}
}

// PublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
}

// Routes mounts the endpoints that need auth.Middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/auth/me", h.Me)
	r.Get("/watchlist", h.GetWatchlist)
	r.Post("/watchlist/add", h.AddToWatchlist)
	r.Post("/watchlist/remove", h.RemoveFromWatchlist)
}

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// WatchlistRequest is the JSON body for the watchlist mutations.
type WatchlistRequest struct {
	Symbol string `json:"symbol"`
}

// Register handles POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	switch {
	case req.Name == "":
		respond.Error(w, http.StatusBadRequest, "name is required")
		return
	case !validEmail(req.Email):
		respond.Error(w, http.StatusBadRequest, "a valid email is required")
		return
	case len(req.Password) < minPasswordLength:
		respond.Error(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, "hash password", err)
		return
	}
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      h.initialBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			respond.Error(w, http.StatusConflict, "user with this email already exists")
			return
		}
		internalError(w, "create user", err)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		internalError(w, "issue token", err)
		return
	}
	slog.Info("user registered", "user", user.ID)
	respond.JSON(w, http.StatusCreated, AuthResponse{User: user, Token: token})
}

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		internalError(w, "find user", err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		internalError(w, "issue token", err)
		return
	}
	respond.OK(w, AuthResponse{User: user, Token: token})
}

// Me handles GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), auth.UserID(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		internalError(w, "get user", err)
		return
	}
	respond.OK(w, user)
}

// GetWatchlist handles GET /api/v1/watchlist
func (h *Handler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	wl, err := h.watchlists.GetWatchlist(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		internalError(w, "get watchlist", err)
		return
	}
	respond.OK(w, wl)
}

// AddToWatchlist handles POST /api/v1/watchlist/add
func (h *Handler) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol, ok := decodeSymbol(w, r)
	if !ok {
		return
	}
	if _, err := h.ref.GetStock(r.Context(), symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "stock not found")
			return
		}
		internalError(w, "get stock", err)
		return
	}

	wl, err := h.watchlists.AddToWatchlist(r.Context(), auth.UserID(r.Context()), symbol)
	if err != nil {
		internalError(w, "add to watchlist", err)
		return
	}
	respond.OK(w, wl)
}

// RemoveFromWatchlist handles POST /api/v1/watchlist/remove
func (h *Handler) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol, ok := decodeSymbol(w, r)
	if !ok {
		return
	}
	wl, err := h.watchlists.RemoveFromWatchlist(r.Context(), auth.UserID(r.Context()), symbol)
	if err != nil {
		internalError(w, "remove from watchlist", err)
		return
	}
	respond.OK(w, wl)
}

func decodeSymbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req WatchlistRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	symbol := model.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		respond.Error(w, http.StatusBadRequest, "symbol is required")
		return "", false
	}
	return symbol, true
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("account request failed", "op", op, "err", err)
	respond.Error(w, http.StatusInternalServerError, "internal error")
}
