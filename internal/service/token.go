// Package service contains the business logic of the calendar subsystem: the
// token lifecycle and the two-sided reconciliation engine. Services speak in
// domain errors (internal/apperror) and know nothing about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/repository"
)

// DefaultExpiryMargin is the safety margin below which a stored access token
// is refreshed instead of returned.
const DefaultExpiryMargin = time.Minute

// TokenConfig holds the OAuth app settings for the token lifecycle.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// ExpiryMargin defaults to DefaultExpiryMargin.
	ExpiryMargin time.Duration

	// Endpoint defaults to Google's; tests point it at a local server.
	Endpoint oauth2.Endpoint
}

// TokenService manages the OAuth credential lifecycle: building
// authorization URLs, exchanging codes, and keeping access tokens fresh.
type TokenService struct {
	creds  repository.CredentialRepository
	conf   *oauth2.Config
	margin time.Duration
	logger *slog.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(creds repository.CredentialRepository, cfg TokenConfig, logger *slog.Logger) *TokenService {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	margin := cfg.ExpiryMargin
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}

	return &TokenService{
		creds: creds,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     endpoint,
		},
		margin: margin,
		logger: logger,
	}
}

// AuthorizationURL returns the provider consent URL for a user. The user id
// rides along as the state parameter so the callback can tell whose code
// arrived. Offline access is requested so a refresh token is issued; prompt
// is forced to consent because Google only returns a refresh token on a
// consenting flow. No side effects.
func (s *TokenService) AuthorizationURL(userID string) string {
	return s.conf.AuthCodeURL(userID,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode trades an authorization code for tokens and persists the
// credential. A stored refresh token survives a re-consent that returns none.
func (s *TokenService) ExchangeCode(ctx context.Context, code, userID string) (*model.UserCredential, error) {
	token, err := s.conf.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, apperror.TokenExchangeFailed(retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return nil, &apperror.AppError{
			Err:     apperror.ErrTokenExchange,
			Message: fmt.Sprintf("token exchange failed: %v", err),
		}
	}

	cred := &model.UserCredential{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    epochSeconds(token.Expiry),
		Scope:        tokenScope(token),
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting credential for %s: %w", userID, err)
	}

	s.logger.Info("google calendar connected",
		slog.String("userID", userID),
		slog.Bool("hasRefreshToken", cred.RefreshToken != ""),
	)
	return cred, nil
}

// EnsureValidAccessToken returns a usable access token for the user. A
// stored token with enough remaining lifetime is returned as-is; otherwise
// the token is refreshed and persisted. Every dead end — no credential, no
// refresh token, refresh rejected — comes back as ErrNotConnected so the
// caller falls back to "must re-authorize" instead of crashing.
func (s *TokenService) EnsureValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.NotConnected(userID)
		}
		return "", fmt.Errorf("loading credential for %s: %w", userID, err)
	}

	if cred.AccessToken != "" && cred.ExpiresIn(time.Now()) > s.margin {
		return cred.AccessToken, nil
	}

	if !cred.Connected() {
		return "", apperror.NotConnected(userID)
	}

	token, err := s.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed, user must re-authorize",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return "", apperror.NotConnected(userID)
	}

	if err := s.creds.UpdateAccessToken(ctx, userID, token.AccessToken, epochSeconds(token.Expiry)); err != nil {
		return "", fmt.Errorf("persisting refreshed token for %s: %w", userID, err)
	}
	return token.AccessToken, nil
}

// ForceRefresh refreshes the user's access token unconditionally and
// persists it. Used by the 401 retry cycle when a token the store believed
// valid was rejected by the provider.
func (s *TokenService) ForceRefresh(ctx context.Context, userID string) (string, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.NotConnected(userID)
		}
		return "", fmt.Errorf("loading credential for %s: %w", userID, err)
	}
	if !cred.Connected() {
		return "", apperror.NotConnected(userID)
	}

	token, err := s.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.creds.UpdateAccessToken(ctx, userID, token.AccessToken, epochSeconds(token.Expiry)); err != nil {
		return "", fmt.Errorf("persisting refreshed token for %s: %w", userID, err)
	}
	return token.AccessToken, nil
}

// RefreshAccessToken calls the provider's refresh endpoint directly. A
// rejection maps to ErrRefresh carrying the provider's status and body.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, apperror.RefreshFailed(retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return nil, &apperror.AppError{
			Err:     apperror.ErrRefresh,
			Message: fmt.Sprintf("token refresh failed: %v", err),
		}
	}
	return token, nil
}

// Connected reports whether the user holds a valid or refreshable token.
// Degrades to false on any error rather than failing.
func (s *TokenService) Connected(ctx context.Context, userID string) bool {
	_, err := s.EnsureValidAccessToken(ctx, userID)
	return err == nil
}

func epochSeconds(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	epoch := t.Unix()
	return &epoch
}

func tokenScope(token *oauth2.Token) string {
	if scope, ok := token.Extra("scope").(string); ok {
		return scope
	}
	return ""
}
