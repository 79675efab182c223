package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/repository"
)

// compile-time check that *DB implements repository.EventRepository
var _ repository.EventRepository = (*DB)(nil)

// selectColumns returns the event column list, honouring the cached color
// probe so reads keep working on databases that predate the color migration.
func (db *DB) selectColumns() string {
	if db.hasColor {
		return `id, owner_id, remote_event_id, title, description, color, date, start_time, end_time, created_at, updated_at`
	}
	return `id, owner_id, remote_event_id, title, description, date, start_time, end_time, created_at, updated_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one row in selectColumns order.
func (db *DB) scanEvent(row rowScanner) (*model.CalendarEvent, error) {
	var (
		e           model.CalendarEvent
		remoteID    sql.NullString
		description sql.NullString
		color       sql.NullString
		startTime   sql.NullString
		endTime     sql.NullString
	)

	dest := []any{&e.ID, &e.OwnerID, &remoteID, &e.Title, &description}
	if db.hasColor {
		dest = append(dest, &color)
	}
	dest = append(dest, &e.Date, &startTime, &endTime, &e.CreatedAt, &e.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	e.RemoteEventID = nullableString(remoteID)
	e.Description = nullableString(description)
	e.Color = nullableString(color)
	e.StartTime = nullableString(startTime)
	e.EndTime = nullableString(endTime)
	return &e, nil
}

// Create inserts a new local event. The store assigns the internal id and
// timestamps; RemoteEventID stays NULL until a remote mirror succeeds.
func (db *DB) Create(ctx context.Context, event *model.CalendarEvent) error {
	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	cols := `owner_id, remote_event_id, title, description, date, start_time, end_time, created_at, updated_at`
	args := []any{
		event.OwnerID,
		derefString(event.RemoteEventID),
		event.Title,
		derefString(event.Description),
		event.Date,
		derefString(event.StartTime),
		derefString(event.EndTime),
		event.CreatedAt,
		event.UpdatedAt,
	}
	placeholders := `?, ?, ?, ?, ?, ?, ?, ?, ?`

	if db.hasColor {
		cols = `owner_id, remote_event_id, title, description, color, date, start_time, end_time, created_at, updated_at`
		args = []any{
			event.OwnerID,
			derefString(event.RemoteEventID),
			event.Title,
			derefString(event.Description),
			derefString(event.Color),
			event.Date,
			derefString(event.StartTime),
			derefString(event.EndTime),
			event.CreatedAt,
			event.UpdatedAt,
		}
		placeholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
	}

	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO events (%s) VALUES (%s)`, cols, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading inserted event id: %w", err)
	}
	event.ID = id
	return nil
}

// GetByID retrieves a single event.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.CalendarEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE id = ?`, db.selectColumns()),
		id,
	)
	event, err := db.scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("event", fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("sqlite: getting event %d: %w", id, err)
	}
	return event, nil
}

// GetByRemoteID retrieves the event mirroring a given remote event for one
// owner. remote_event_id is unique per owner, so at most one row matches.
func (db *DB) GetByRemoteID(ctx context.Context, ownerID int64, remoteEventID string) (*model.CalendarEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE owner_id = ? AND remote_event_id = ?`, db.selectColumns()),
		ownerID, remoteEventID,
	)
	event, err := db.scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("event", remoteEventID)
		}
		return nil, fmt.Errorf("sqlite: getting event by remote id %s: %w", remoteEventID, err)
	}
	return event, nil
}

// ListByOwner returns all events of one owner, soonest first.
func (db *DB) ListByOwner(ctx context.Context, ownerID int64) ([]model.CalendarEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE owner_id = ? ORDER BY date, start_time, id`, db.selectColumns()),
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		event, err := db.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating events: %w", err)
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	return events, nil
}

// UpdateFields applies the non-nil fields of the patch. A color update is
// silently dropped when the column does not exist — the optional field is
// not load-bearing.
func (db *DB) UpdateFields(ctx context.Context, id int64, patch *model.EventPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}

	appendSet := func(col string, v *string) {
		if v == nil {
			return
		}
		sets = append(sets, col+" = ?")
		if *v == "" && col != "title" && col != "date" {
			args = append(args, nil)
			return
		}
		args = append(args, *v)
	}

	appendSet("title", patch.Title)
	appendSet("date", patch.Date)
	appendSet("start_time", patch.StartTime)
	appendSet("end_time", patch.EndTime)
	appendSet("description", patch.Description)
	if db.hasColor {
		appendSet("color", patch.Color)
	}

	args = append(args, id)
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE events SET %s WHERE id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating event %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("event", fmt.Sprintf("%d", id))
	}
	return nil
}

// Delete removes an event row.
func (db *DB) Delete(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting event %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("event", fmt.Sprintf("%d", id))
	}
	return nil
}

// SetRemoteEventID links a local event to its provider counterpart.
func (db *DB) SetRemoteEventID(ctx context.Context, id int64, remoteEventID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE events SET remote_event_id = ?, updated_at = ? WHERE id = ?`,
		remoteEventID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting remote event id on %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("event", fmt.Sprintf("%d", id))
	}
	return nil
}

// FindRecentDuplicate looks for an event with the same owner, title and date
// created at or after since. Used for duplicate suppression of
// double-submitted create requests.
func (db *DB) FindRecentDuplicate(ctx context.Context, ownerID int64, title, date string, since time.Time) (*model.CalendarEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(
			`SELECT %s FROM events
			 WHERE owner_id = ? AND title = ? AND date = ? AND created_at >= ?
			 ORDER BY id DESC LIMIT 1`,
			db.selectColumns(),
		),
		ownerID, title, date, since,
	)
	event, err := db.scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("event", title)
		}
		return nil, fmt.Errorf("sqlite: looking up duplicate of %q: %w", title, err)
	}
	return event, nil
}

// UpsertRemote bulk-upserts pulled remote events in one statement, keyed on
// the partial unique index (owner_id, remote_event_id). A single set-based
// INSERT ... ON CONFLICT avoids the partial-failure races a per-row loop
// would have when two rows land on the same key.
func (db *DB) UpsertRemote(ctx context.Context, ownerID int64, events []model.CalendarEvent) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now()
	valueClauses := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*9)
	for _, e := range events {
		valueClauses = append(valueClauses, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ownerID,
			derefString(e.RemoteEventID),
			e.Title,
			derefString(e.Description),
			e.Date,
			derefString(e.StartTime),
			derefString(e.EndTime),
			now,
			now,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO events (owner_id, remote_event_id, title, description, date, start_time, end_time, created_at, updated_at)
		VALUES %s
		ON CONFLICT(owner_id, remote_event_id) WHERE remote_event_id IS NOT NULL
		DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			date = excluded.date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			updated_at = excluded.updated_at`,
		strings.Join(valueClauses, ", "),
	)

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: upserting %d remote events for owner %d: %w", len(events), ownerID, err)
	}
	return nil
}

// DeleteStale removes mirrored rows of the owner that are no longer present
// remotely. keep holds the remote ids of the latest listing; when it is
// empty every mirrored row goes (the user has no remote events left). Rows
// with a NULL remote_event_id are purely local and are never touched.
func (db *DB) DeleteStale(ctx context.Context, ownerID int64, keep []string) error {
	query := `DELETE FROM events WHERE owner_id = ? AND remote_event_id IS NOT NULL`
	args := []any{ownerID}

	if len(keep) > 0 {
		query += fmt.Sprintf(` AND remote_event_id NOT IN (%s)`,
			strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", "))
		for _, id := range keep {
			args = append(args, id)
		}
	}

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: deleting stale events for owner %d: %w", ownerID, err)
	}
	return nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func derefString(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
