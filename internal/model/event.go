// Package model defines the data structures shared across the calendar
// subsystem.
package model

import "time"

// CalendarEvent is a locally stored calendar entry. The local row is the
// durable source of truth; RemoteEventID links it to its Google Calendar
// counterpart once the event has been mirrored.
//
// Date and the wall-clock times are kept as the verbatim strings the client
// submitted ("2006-01-02" and "15:04:05"). No timezone conversion happens at
// write time — a user who typed 13:00 gets an event at 13:00. Offsets are
// attached only when a request body for the provider is built.
type CalendarEvent struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"ownerId"`
	RemoteEventID *string   `json:"remoteEventId"`
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	Color         *string   `json:"color,omitempty"`
	Date          string    `json:"date"`
	StartTime     *string   `json:"startTime"`
	EndTime       *string   `json:"endTime"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Mirrored reports whether the event has a counterpart on the provider side.
func (e *CalendarEvent) Mirrored() bool {
	return e.RemoteEventID != nil && *e.RemoteEventID != ""
}

// AllDay reports whether the event has no wall-clock times attached.
func (e *CalendarEvent) AllDay() bool {
	return e.StartTime == nil && e.EndTime == nil
}

// RemoteEvent is the provider's event normalized into the local date/time
// split. It is the transient wire shape returned by the remote client and is
// never persisted as-is.
//
// Google returns either a date ("2006-01-02", all-day) or a dateTime
// (RFC 3339); the client splits the latter into date + time so the
// reconciliation engine only ever deals with one shape.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	StartDate   string
	StartTime   string // empty for all-day events
	EndDate     string
	EndTime     string // empty for all-day events
}

// AllDay reports whether the provider sent a date-only start.
func (r *RemoteEvent) AllDay() bool {
	return r.StartTime == ""
}

// EventPatch carries a partial update. Nil fields are left untouched; a
// non-nil pointer to an empty string clears a nullable column.
type EventPatch struct {
	Title       *string `json:"title"`
	Date        *string `json:"date"`
	StartTime   *string `json:"start"`
	EndTime     *string `json:"end"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// Empty reports whether the patch carries no fields at all.
func (p *EventPatch) Empty() bool {
	return p.Title == nil && p.Date == nil && p.StartTime == nil &&
		p.EndTime == nil && p.Description == nil && p.Color == nil
}
