package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/repository"
)

// compile-time check that *DB implements repository.OwnerResolver
var _ repository.OwnerResolver = (*DB)(nil)

// ResolveOwnerID maps a platform user identifier to the internal profile id.
// Profiles are created by the wider platform; an unknown identifier is a
// NotFound, not an invitation to create one here.
func (db *DB) ResolveOwnerID(ctx context.Context, userID string) (int64, error) {
	var ownerID int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM profiles WHERE user_id = ?`, userID,
	).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("profile", userID)
		}
		return 0, fmt.Errorf("sqlite: resolving owner for %s: %w", userID, err)
	}
	return ownerID, nil
}
