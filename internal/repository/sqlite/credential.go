package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/repository"
)

// compile-time check that *DB implements repository.CredentialRepository
var _ repository.CredentialRepository = (*DB)(nil)

// Get returns the stored credential for a user.
func (db *DB) Get(ctx context.Context, userID string) (*model.UserCredential, error) {
	var (
		cred      model.UserCredential
		expiresAt sql.NullInt64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, expires_at, scope, created_at, updated_at
		 FROM credentials WHERE user_id = ?`,
		userID,
	).Scan(
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&expiresAt,
		&cred.Scope,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("credential", userID)
		}
		return nil, fmt.Errorf("sqlite: getting credential for %s: %w", userID, err)
	}

	if expiresAt.Valid {
		cred.ExpiresAt = &expiresAt.Int64
	}
	return &cred, nil
}

// Upsert inserts or updates the single credential row for a user. A stored
// refresh token survives an upsert that carries none — Google only returns
// the refresh token on the first consent.
func (db *DB) Upsert(ctx context.Context, cred *model.UserCredential) error {
	var existing model.UserCredential
	err := db.conn.QueryRowContext(ctx,
		`SELECT refresh_token, created_at FROM credentials WHERE user_id = ?`,
		cred.UserID,
	).Scan(&existing.RefreshToken, &existing.CreatedAt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: looking up credential for %s: %w", cred.UserID, err)
	}

	now := time.Now()
	if err == sql.ErrNoRows {
		cred.CreatedAt = now
		cred.UpdatedAt = now
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO credentials (user_id, access_token, refresh_token, expires_at, scope, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cred.UserID,
			cred.AccessToken,
			cred.RefreshToken,
			nullableInt64(cred.ExpiresAt),
			cred.Scope,
			cred.CreatedAt,
			cred.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting credential for %s: %w", cred.UserID, err)
		}
		return nil
	}

	if cred.RefreshToken == "" {
		cred.RefreshToken = existing.RefreshToken
	}
	cred.CreatedAt = existing.CreatedAt
	cred.UpdatedAt = now

	_, err = db.conn.ExecContext(ctx,
		`UPDATE credentials
		 SET access_token = ?, refresh_token = ?, expires_at = ?, scope = ?, updated_at = ?
		 WHERE user_id = ?`,
		cred.AccessToken,
		cred.RefreshToken,
		nullableInt64(cred.ExpiresAt),
		cred.Scope,
		cred.UpdatedAt,
		cred.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating credential for %s: %w", cred.UserID, err)
	}
	return nil
}

// UpdateAccessToken persists a refreshed access token without touching the
// refresh token. Concurrent refreshes are last-write-wins.
func (db *DB) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt *int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET access_token = ?, expires_at = ?, updated_at = ? WHERE user_id = ?`,
		accessToken,
		nullableInt64(expiresAt),
		time.Now(),
		userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating access token for %s: %w", userID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("credential", userID)
	}
	return nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
