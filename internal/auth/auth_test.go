package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	tok, err := tokens.Issue("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "u1@example.com" || claims.Subject != "u1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_Rejects(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := NewTokens("secret", time.Hour)
	issuer.now = func() time.Time { return issuedAt }
	tok, err := issuer.Issue("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }

	otherKey := NewTokens("another-secret", time.Hour)
	otherKey.now = issuer.now

	tests := []struct {
		name   string
		tokens *Tokens
		token  string
	}{
		{"expired", expired, tok},
		{"wrong secret", otherKey, tok},
		{"garbage", issuer, "not.a.token"},
		{"empty", issuer, ""},
		{"tampered", issuer, tok[:len(tok)-2] + "xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.tokens.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, _ := tokens.Issue("u42", "u42@example.com")

	var seen Identity
	h := tokens.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, http.StatusNoContent},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+tok) }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: tok}) }, http.StatusNoContent},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") }, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Identity{}
			req := httptest.NewRequest("GET", "/", nil)
			tt.prepare(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusNoContent && seen.UserID != "u42" {
				t.Errorf("identity not propagated: %+v", seen)
			}
			if tt.want == http.StatusUnauthorized && !strings.Contains(w.Body.String(), `"success":false`) {
				t.Errorf("expected failure envelope, got %s", w.Body.String())
			}
		})
	}
}

func TestUserID_Absent(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := UserID(req.Context()); got != "" {
		t.Errorf("expected empty user ID, got %q", got)
	}
	ctx := WithIdentity(req.Context(), Identity{UserID: "u1"})
	if got := UserID(ctx); got != "u1" {
		t.Errorf("expected u1, got %q", got)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("password stored in clear")
	}
	if !CheckPassword(hash, "hunter22") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "hunter23") {
		t.Error("wrong password accepted")
	}
}
