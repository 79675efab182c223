package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCredentialUpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cred := &model.UserCredential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    int64Ptr(1893456000),
		Scope:        "https://www.googleapis.com/auth/calendar.events",
	}
	if err := db.Upsert(ctx, cred); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	found, err := db.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found.AccessToken != "access-1" || found.RefreshToken != "refresh-1" {
		t.Errorf("got tokens (%q, %q), want (access-1, refresh-1)", found.AccessToken, found.RefreshToken)
	}
	if found.ExpiresAt == nil || *found.ExpiresAt != 1893456000 {
		t.Errorf("ExpiresAt = %v, want 1893456000", found.ExpiresAt)
	}
	if !found.Connected() {
		t.Error("Connected() = false with a refresh token present")
	}
}

func TestCredentialGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestCredentialUpsert_PreservesRefreshToken covers the re-consent case:
// Google only returns a refresh token on the first authorization, so an
// upsert carrying an empty one must not wipe the stored token.
func TestCredentialUpsert_PreservesRefreshToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.UserCredential{
		UserID:       "user-2",
		AccessToken:  "access-old",
		RefreshToken: "refresh-keep",
	}
	if err := db.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}

	second := &model.UserCredential{
		UserID:      "user-2",
		AccessToken: "access-new",
		// no refresh token this time
	}
	if err := db.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	found, err := db.Get(ctx, "user-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found.AccessToken != "access-new" {
		t.Errorf("AccessToken = %q, want access-new", found.AccessToken)
	}
	if found.RefreshToken != "refresh-keep" {
		t.Errorf("RefreshToken = %q, want the stored token preserved", found.RefreshToken)
	}
}

func TestCredentialUpsert_ReplacesRefreshToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, &model.UserCredential{
		UserID: "user-3", AccessToken: "a1", RefreshToken: "r1",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := db.Upsert(ctx, &model.UserCredential{
		UserID: "user-3", AccessToken: "a2", RefreshToken: "r2",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	found, err := db.Get(ctx, "user-3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found.RefreshToken != "r2" {
		t.Errorf("RefreshToken = %q, want r2 — a fresh token replaces the old one", found.RefreshToken)
	}
}

func TestUpdateAccessToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, &model.UserCredential{
		UserID: "user-4", AccessToken: "stale", RefreshToken: "r",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := db.UpdateAccessToken(ctx, "user-4", "fresh", int64Ptr(1900000000)); err != nil {
		t.Fatalf("UpdateAccessToken() error = %v", err)
	}

	found, err := db.Get(ctx, "user-4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want fresh", found.AccessToken)
	}
	if found.RefreshToken != "r" {
		t.Errorf("RefreshToken = %q, want untouched", found.RefreshToken)
	}
	if found.ExpiresAt == nil || *found.ExpiresAt != 1900000000 {
		t.Errorf("ExpiresAt = %v, want 1900000000", found.ExpiresAt)
	}
}

func TestUpdateAccessToken_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateAccessToken(context.Background(), "nobody", "token", nil)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateAccessToken() error = %v, want ErrNotFound", err)
	}
}
