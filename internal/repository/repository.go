// Package repository declares the storage interfaces consumed by the service
// layer. Concrete implementations live in repository/sqlite.
package repository

import (
	"context"
	"time"

	"github.com/sakif/fitcal/internal/model"
)

// CredentialRepository persists one OAuth credential record per user.
type CredentialRepository interface {
	// Get returns the credential for a user, or apperror.ErrNotFound.
	Get(ctx context.Context, userID string) (*model.UserCredential, error)

	// Upsert inserts or replaces the user's credential in place. When the
	// incoming record has an empty refresh token but a previous one is
	// stored, the stored refresh token is preserved (the provider omits the
	// refresh token on re-consent).
	Upsert(ctx context.Context, cred *model.UserCredential) error

	// UpdateAccessToken persists a refreshed access token and its new
	// expiry, leaving the refresh token untouched.
	UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt *int64) error
}

// EventRepository is the local event store.
type EventRepository interface {
	Create(ctx context.Context, event *model.CalendarEvent) error
	GetByID(ctx context.Context, id int64) (*model.CalendarEvent, error)
	GetByRemoteID(ctx context.Context, ownerID int64, remoteEventID string) (*model.CalendarEvent, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.CalendarEvent, error)

	// UpdateFields applies a partial update; nil patch fields are left
	// untouched. Returns apperror.ErrNotFound when no row matches.
	UpdateFields(ctx context.Context, id int64, patch *model.EventPatch) error

	Delete(ctx context.Context, id int64) error

	// SetRemoteEventID marks an event as mirrored after a successful remote
	// create.
	SetRemoteEventID(ctx context.Context, id int64, remoteEventID string) error

	// FindRecentDuplicate returns an event for the same owner, title and
	// date created at or after the given instant, or apperror.ErrNotFound.
	FindRecentDuplicate(ctx context.Context, ownerID int64, title, date string, since time.Time) (*model.CalendarEvent, error)

	// UpsertRemote bulk-upserts pulled remote events keyed by
	// (owner_id, remote_event_id) in a single set-based statement, so two
	// rows racing on the same key cannot interleave partial writes.
	UpsertRemote(ctx context.Context, ownerID int64, events []model.CalendarEvent) error

	// DeleteStale removes every mirrored row of the owner whose
	// remote_event_id is not in keep. An empty keep set removes all mirrored
	// rows. Rows that were never mirrored are never touched.
	DeleteStale(ctx context.Context, ownerID int64, keep []string) error
}

// OwnerResolver maps a platform user identifier to the internal profile id
// that events belong to. Numeric identifiers are already profile ids and
// bypass the resolver in the service layer.
type OwnerResolver interface {
	ResolveOwnerID(ctx context.Context, userID string) (int64, error)
}
