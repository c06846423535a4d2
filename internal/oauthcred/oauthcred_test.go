package oauthcred

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tokenServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSourceRefreshesFromRefreshToken(t *testing.T) {
	srv := tokenServer(t, "refreshed-access-token")

	src, err := NewTokenSource(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
		RefreshToken: "seed-refresh-token",
	})
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "refreshed-access-token" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestNewTokenSourceRequiresRefreshToken(t *testing.T) {
	if _, err := NewTokenSource(Config{TokenURL: "https://example.com/token"}); err == nil {
		t.Fatalf("expected error for missing refresh token")
	}
}

func TestStaticSource(t *testing.T) {
	var s Source = Static("fixed-token")
	token, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "fixed-token" {
		t.Fatalf("expected fixed-token, got %q", token)
	}
}

func TestStaticSourceEmptyDisabled(t *testing.T) {
	var s Source = Static("")
	if _, err := s.Token(context.Background()); err != ErrSourceDisabled {
		t.Fatalf("expected ErrSourceDisabled, got %v", err)
	}
}

func TestNilTokenSourceDisabled(t *testing.T) {
	var ts *TokenSource
	if _, err := ts.Token(context.Background()); err != ErrSourceDisabled {
		t.Fatalf("expected ErrSourceDisabled, got %v", err)
	}
}
