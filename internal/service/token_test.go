package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCredentials is an in-memory CredentialRepository for service tests.
type memCredentials struct {
	mu    sync.Mutex
	creds map[string]*model.UserCredential
}

var _ repository.CredentialRepository = (*memCredentials)(nil)

func newMemCredentials() *memCredentials {
	return &memCredentials{creds: make(map[string]*model.UserCredential)}
}

func (m *memCredentials) Get(ctx context.Context, userID string) (*model.UserCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return nil, apperror.NotFound("credential", userID)
	}
	copied := *cred
	return &copied, nil
}

func (m *memCredentials) Upsert(ctx context.Context, cred *model.UserCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.creds[cred.UserID]; ok && cred.RefreshToken == "" {
		cred.RefreshToken = existing.RefreshToken
	}
	copied := *cred
	m.creds[cred.UserID] = &copied
	return nil
}

func (m *memCredentials) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return apperror.NotFound("credential", userID)
	}
	cred.AccessToken = accessToken
	cred.ExpiresAt = expiresAt
	return nil
}

// newTokenServer fakes the OAuth token endpoint. handler decides the response
// per request; the default grants a one-hour token.
func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTokenService(creds repository.CredentialRepository, tokenURL string) *TokenService {
	return NewTokenService(creds, TokenConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "http://localhost/auth",
			TokenURL: tokenURL,
		},
	}, testLogger())
}

func TestAuthorizationURL(t *testing.T) {
	svc := newTestTokenService(newMemCredentials(), "http://localhost/token")

	url := svc.AuthorizationURL("user-7")
	for _, want := range []string{"state=user-7", "access_type=offline", "prompt=consent", "client_id=client-id"} {
		if !strings.Contains(url, want) {
			t.Errorf("AuthorizationURL() = %q, missing %q", url, want)
		}
	}
}

func TestExchangeCode_PersistsCredential(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"https://www.googleapis.com/auth/calendar"}`))
	})
	creds := newMemCredentials()
	svc := newTestTokenService(creds, srv.URL)

	cred, err := svc.ExchangeCode(context.Background(), "auth-code", "user-1")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if cred.AccessToken != "at-1" || cred.RefreshToken != "rt-1" {
		t.Errorf("got tokens (%q, %q), want (at-1, rt-1)", cred.AccessToken, cred.RefreshToken)
	}
	if cred.ExpiresAt == nil {
		t.Error("ExpiresAt = nil, want epoch seconds")
	}

	stored, err := creds.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("credential not persisted: %v", err)
	}
	if stored.AccessToken != "at-1" {
		t.Errorf("stored access token = %q, want at-1", stored.AccessToken)
	}
}

func TestExchangeCode_ProviderRejects(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	svc := newTestTokenService(newMemCredentials(), srv.URL)

	_, err := svc.ExchangeCode(context.Background(), "bad-code", "user-1")
	if !errors.Is(err, apperror.ErrTokenExchange) {
		t.Fatalf("ExchangeCode() error = %v, want ErrTokenExchange", err)
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", appErr.StatusCode)
	}
	if !strings.Contains(appErr.Body, "invalid_grant") {
		t.Errorf("Body = %q, want the provider body preserved", appErr.Body)
	}
}

func TestEnsureValidAccessToken_StillValid(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "valid-token",
		RefreshToken: "rt",
		ExpiresAt:    &expires,
	})

	// The token endpoint must never be called.
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("refresh endpoint called for a still-valid token")
	})
	svc := newTestTokenService(creds, srv.URL)

	token, err := svc.EnsureValidAccessToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken() error = %v", err)
	}
	if token != "valid-token" {
		t.Errorf("token = %q, want the stored token", token)
	}
}

func TestEnsureValidAccessToken_RefreshesExpired(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(-time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "expired-token",
		RefreshToken: "rt",
		ExpiresAt:    &expires,
	})

	srv := newTokenServer(t, nil)
	svc := newTestTokenService(creds, srv.URL)

	token, err := svc.EnsureValidAccessToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken() error = %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token from the refresh", token)
	}

	stored, _ := creds.Get(context.Background(), "user-1")
	if stored.AccessToken != "fresh-token" {
		t.Errorf("stored token = %q, want the refreshed token persisted", stored.AccessToken)
	}
	if stored.ExpiresAt == nil || *stored.ExpiresAt <= expires {
		t.Errorf("stored ExpiresAt = %v, want advanced past the old expiry", stored.ExpiresAt)
	}
}

func TestEnsureValidAccessToken_WithinMarginRefreshes(t *testing.T) {
	creds := newMemCredentials()
	// Expires in 30s, inside the one-minute margin.
	expires := time.Now().Add(30 * time.Second).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "nearly-expired",
		RefreshToken: "rt",
		ExpiresAt:    &expires,
	})

	srv := newTokenServer(t, nil)
	svc := newTestTokenService(creds, srv.URL)

	token, err := svc.EnsureValidAccessToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken() error = %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want an early refresh inside the margin", token)
	}
}

func TestEnsureValidAccessToken_NoCredential(t *testing.T) {
	svc := newTestTokenService(newMemCredentials(), "http://localhost/token")

	_, err := svc.EnsureValidAccessToken(context.Background(), "stranger")
	if !errors.Is(err, apperror.ErrNotConnected) {
		t.Errorf("EnsureValidAccessToken() error = %v, want ErrNotConnected", err)
	}
}

func TestEnsureValidAccessToken_NoRefreshToken(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(-time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:      "user-1",
		AccessToken: "expired",
		ExpiresAt:   &expires,
	})
	svc := newTestTokenService(creds, "http://localhost/token")

	_, err := svc.EnsureValidAccessToken(context.Background(), "user-1")
	if !errors.Is(err, apperror.ErrNotConnected) {
		t.Errorf("EnsureValidAccessToken() error = %v, want ErrNotConnected without a refresh token", err)
	}
}

func TestEnsureValidAccessToken_RefreshRejected(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(-time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "expired",
		RefreshToken: "revoked",
		ExpiresAt:    &expires,
	})

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	svc := newTestTokenService(creds, srv.URL)

	// The degraded path: a rejected refresh means "not connected", not a
	// hard failure.
	_, err := svc.EnsureValidAccessToken(context.Background(), "user-1")
	if !errors.Is(err, apperror.ErrNotConnected) {
		t.Errorf("EnsureValidAccessToken() error = %v, want ErrNotConnected", err)
	}

	// The direct refresh call surfaces the provider detail instead.
	_, err = svc.RefreshAccessToken(context.Background(), "revoked")
	if !errors.Is(err, apperror.ErrRefresh) {
		t.Fatalf("RefreshAccessToken() error = %v, want ErrRefresh", err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.StatusCode != http.StatusBadRequest || !strings.Contains(appErr.Body, "invalid_grant") {
		t.Errorf("got status %d body %q, want the provider's 400 invalid_grant", appErr.StatusCode, appErr.Body)
	}
}

func TestForceRefresh(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "rejected-by-provider",
		RefreshToken: "rt",
		ExpiresAt:    &expires,
	})

	srv := newTokenServer(t, nil)
	svc := newTestTokenService(creds, srv.URL)

	// ForceRefresh bypasses the local expiry check entirely.
	token, err := svc.ForceRefresh(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", token)
	}

	stored, _ := creds.Get(context.Background(), "user-1")
	if stored.AccessToken != "fresh-token" {
		t.Errorf("stored token = %q, want the forced refresh persisted", stored.AccessToken)
	}
}

func TestConnected(t *testing.T) {
	creds := newMemCredentials()
	expires := time.Now().Add(time.Hour).Unix()
	creds.Upsert(context.Background(), &model.UserCredential{
		UserID:       "connected",
		AccessToken:  "token",
		RefreshToken: "rt",
		ExpiresAt:    &expires,
	})
	svc := newTestTokenService(creds, "http://localhost/token")

	if !svc.Connected(context.Background(), "connected") {
		t.Error("Connected() = false for a user with a valid token")
	}
	if svc.Connected(context.Background(), "stranger") {
		t.Error("Connected() = true for an unknown user")
	}
}
