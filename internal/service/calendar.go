package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/fitcal/internal/apperror"
	gcal "github.com/sakif/fitcal/internal/google"
	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/repository"
)

const (
	// MaxTitleLength bounds event titles.
	MaxTitleLength = 200

	// DefaultDuplicateWindow is the create-suppression window when none is
	// configured.
	DefaultDuplicateWindow = 2 * time.Minute

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// RemoteCalendar is the provider surface the engine reconciles against.
// Implemented by google.Client; mocked in tests.
type RemoteCalendar interface {
	ListUpcoming(ctx context.Context, accessToken string) ([]model.RemoteEvent, error)
	Create(ctx context.Context, accessToken string, event *model.CalendarEvent) (string, error)
	Patch(ctx context.Context, accessToken, remoteEventID string, event *model.CalendarEvent) error
	Delete(ctx context.Context, accessToken, remoteEventID string) error
}

// TokenManager is the slice of the token lifecycle the engine needs.
type TokenManager interface {
	EnsureValidAccessToken(ctx context.Context, userID string) (string, error)
	ForceRefresh(ctx context.Context, userID string) (string, error)
}

// CreateEventInput is the create payload after JSON parsing.
type CreateEventInput struct {
	Title       string
	Date        string
	StartTime   *string
	EndTime     *string
	Description *string
	Color       *string
}

// CalendarService is the reconciliation engine. The local store is the
// durable source of truth; the remote calendar is an eventually consistent
// projection repaired by SyncFromRemote.
//
// Concurrent syncs for the same owner converge (the upsert is keyed on
// remote_event_id) but are not mutually excluded; a concurrent create+delete
// race on the same event is an accepted limitation.
type CalendarService struct {
	events    repository.EventRepository
	owners    repository.OwnerResolver
	tokens    TokenManager
	remote    RemoteCalendar
	dupWindow time.Duration
	logger    *slog.Logger
}

// NewCalendarService creates a CalendarService. dupWindow <= 0 falls back to
// DefaultDuplicateWindow.
func NewCalendarService(
	events repository.EventRepository,
	owners repository.OwnerResolver,
	tokens TokenManager,
	remote RemoteCalendar,
	dupWindow time.Duration,
	logger *slog.Logger,
) *CalendarService {
	if dupWindow <= 0 {
		dupWindow = DefaultDuplicateWindow
	}
	return &CalendarService{
		events:    events,
		owners:    owners,
		tokens:    tokens,
		remote:    remote,
		dupWindow: dupWindow,
		logger:    logger,
	}
}

// resolveOwner maps the caller's identifier to the internal profile id.
// Numeric identifiers already are profile ids and pass through unchanged.
func (s *CalendarService) resolveOwner(ctx context.Context, userID string) (int64, error) {
	if ownerID, err := strconv.ParseInt(userID, 10, 64); err == nil {
		return ownerID, nil
	}
	return s.owners.ResolveOwnerID(ctx, userID)
}

// SyncFromRemote pulls the provider's upcoming events, upserts them locally
// and removes mirrored rows that disappeared remotely. The upsert always
// completes before the stale delete is issued, so a crash in between leaves
// at worst a stale row until the next sync, never a lost event. Returns the
// owner's full event set after reconciliation.
func (s *CalendarService) SyncFromRemote(ctx context.Context, userID string) ([]model.CalendarEvent, error) {
	log := s.logger.With(slog.String("syncID", xid.New().String()), slog.String("userID", userID))

	ownerID, err := s.resolveOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	var remoteEvents []model.RemoteEvent
	err = s.withTokenRetry(ctx, userID, func(token string) error {
		var listErr error
		remoteEvents, listErr = s.remote.ListUpcoming(ctx, token)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	mapped := make([]model.CalendarEvent, 0, len(remoteEvents))
	keep := make([]string, 0, len(remoteEvents))
	for _, re := range remoteEvents {
		if re.ID == "" {
			continue
		}
		mapped = append(mapped, mapRemoteEvent(ownerID, re))
		keep = append(keep, re.ID)
	}

	if err := s.events.UpsertRemote(ctx, ownerID, mapped); err != nil {
		return nil, err
	}
	if err := s.events.DeleteStale(ctx, ownerID, keep); err != nil {
		return nil, err
	}

	log.Info("calendar synced from remote",
		slog.Int64("ownerID", ownerID),
		slog.Int("remoteEvents", len(keep)),
	)
	return s.events.ListByOwner(ctx, ownerID)
}

// ListEvents returns all local events of the user.
func (s *CalendarService) ListEvents(ctx context.Context, userID string) ([]model.CalendarEvent, error) {
	ownerID, err := s.resolveOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.events.ListByOwner(ctx, ownerID)
}

// CreateEvent validates and stores a new event, then mirrors it to the
// provider on a best-effort basis. The local insert always wins: a remote
// failure of any kind leaves the row unmirrored and is not an error for the
// caller. A create repeated within the duplicate window for the same owner,
// title and date returns the existing row instead of inserting twice.
func (s *CalendarService) CreateEvent(ctx context.Context, userID string, input CreateEventInput) (*model.CalendarEvent, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := validateCreate(&input); err != nil {
		return nil, err
	}

	ownerID, err := s.resolveOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.events.FindRecentDuplicate(ctx, ownerID, input.Title, input.Date, time.Now().Add(-s.dupWindow))
	if err == nil {
		s.logger.Info("duplicate event create suppressed",
			slog.String("userID", userID),
			slog.Int64("eventID", existing.ID),
			slog.String("title", input.Title),
		)
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	event := &model.CalendarEvent{
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		Color:       input.Color,
		Date:        input.Date,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}

	s.mirrorCreate(ctx, userID, event)
	return event, nil
}

// mirrorCreate pushes a freshly created event to the provider. Failures are
// logged and absorbed; the caller already holds a durable local row.
func (s *CalendarService) mirrorCreate(ctx context.Context, userID string, event *model.CalendarEvent) {
	var remoteID string
	err := s.withTokenRetry(ctx, userID, func(token string) error {
		var createErr error
		remoteID, createErr = s.remote.Create(ctx, token, event)
		return createErr
	})
	if err != nil {
		if errors.Is(err, apperror.ErrNotConnected) {
			return
		}
		s.logger.Warn("remote event create failed, keeping local row unmirrored",
			slog.String("userID", userID),
			slog.Int64("eventID", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.events.SetRemoteEventID(ctx, event.ID, remoteID); err != nil {
		s.logger.Error("linking event to remote id failed",
			slog.Int64("eventID", event.ID),
			slog.String("remoteEventID", remoteID),
			slog.String("error", err.Error()),
		)
		return
	}
	event.RemoteEventID = &remoteID
}

// UpdateEvent applies a partial update to an event addressed by either its
// internal id or its remote event id. Mirrored rows are patched remotely
// with the single refresh-and-retry rule; a 401 that survives the refresh
// surfaces as ErrAuthRequired so the caller can prompt re-authorization.
// Other remote failures are absorbed — the local update already succeeded.
func (s *CalendarService) UpdateEvent(ctx context.Context, userID, idOrRemoteID string, patch *model.EventPatch) (*model.CalendarEvent, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	event, err := s.findByIDOrRemoteID(ctx, userID, idOrRemoteID)
	if err != nil {
		return nil, err
	}

	if !patch.Empty() {
		if err := s.events.UpdateFields(ctx, event.ID, patch); err != nil {
			return nil, err
		}
	}

	updated, err := s.events.GetByID(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	if updated.Mirrored() {
		err := s.withTokenRetry(ctx, userID, func(token string) error {
			return s.remote.Patch(ctx, token, *updated.RemoteEventID, updated)
		})
		switch {
		case err == nil:
		case errors.Is(err, apperror.ErrAuthRequired):
			return nil, err
		case errors.Is(err, apperror.ErrNotConnected):
			// Nothing to patch against; the local row is the truth.
		default:
			s.logger.Warn("remote event patch failed",
				slog.String("userID", userID),
				slog.Int64("eventID", updated.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return updated, nil
}

// DeleteEvent removes an event. A missing row is success (deletes are
// idempotent), a remote 404 is success, and a remote failure of any kind
// never blocks the local delete.
func (s *CalendarService) DeleteEvent(ctx context.Context, userID string, id int64) error {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}

	if event.Mirrored() {
		err := s.withTokenRetry(ctx, userID, func(token string) error {
			return s.remote.Delete(ctx, token, *event.RemoteEventID)
		})
		if err != nil && !errors.Is(err, apperror.ErrNotConnected) {
			s.logger.Warn("remote event delete failed, deleting local row anyway",
				slog.String("userID", userID),
				slog.Int64("eventID", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.events.Delete(ctx, id); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	return nil
}

// findByIDOrRemoteID resolves an event target. All-digit identifiers are
// internal ids; anything else is treated as a remote event id scoped to the
// caller's owner.
func (s *CalendarService) findByIDOrRemoteID(ctx context.Context, userID, idOrRemoteID string) (*model.CalendarEvent, error) {
	if id, err := strconv.ParseInt(idOrRemoteID, 10, 64); err == nil {
		return s.events.GetByID(ctx, id)
	}

	ownerID, err := s.resolveOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.events.GetByRemoteID(ctx, ownerID, idOrRemoteID)
}

// withTokenRetry runs one remote call with a valid access token, allowing
// exactly one refresh-and-retry when the provider answers 401. A second 401,
// or a refresh that fails, surfaces as ErrAuthRequired. No other failure is
// ever retried.
func (s *CalendarService) withTokenRetry(ctx context.Context, userID string, call func(token string) error) error {
	token, err := s.tokens.EnsureValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}

	err = call(token)
	if !errors.Is(err, gcal.ErrAccessTokenExpired) {
		return err
	}

	token, err = s.tokens.ForceRefresh(ctx, userID)
	if err != nil {
		s.logger.Warn("refresh after 401 failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return apperror.AuthRequired(userID)
	}

	err = call(token)
	if errors.Is(err, gcal.ErrAccessTokenExpired) {
		return apperror.AuthRequired(userID)
	}
	return err
}

// mapRemoteEvent converts the provider shape into a local row. A date-only
// start becomes an all-day event (both times NULL).
func mapRemoteEvent(ownerID int64, re model.RemoteEvent) model.CalendarEvent {
	remoteID := re.ID
	event := model.CalendarEvent{
		OwnerID:       ownerID,
		RemoteEventID: &remoteID,
		Title:         re.Title,
		Date:          re.StartDate,
	}
	if re.Description != "" {
		description := re.Description
		event.Description = &description
	}
	if !re.AllDay() {
		startTime := re.StartTime
		event.StartTime = &startTime
		if re.EndTime != "" {
			endTime := re.EndTime
			event.EndTime = &endTime
		}
	}
	return event
}

func validateCreate(input *CreateEventInput) error {
	if input.Title == "" {
		return apperror.ValidationFailed("title", "event title is required")
	}
	if len(input.Title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("event title must be %d characters or less", MaxTitleLength))
	}
	if err := validateDate(input.Date); err != nil {
		return err
	}
	if input.StartTime == nil && input.EndTime != nil {
		return apperror.ValidationFailed("end", "end time requires a start time")
	}
	if err := validateTime("start", input.StartTime); err != nil {
		return err
	}
	return validateTime("end", input.EndTime)
}

func validatePatch(patch *model.EventPatch) error {
	if patch == nil {
		return apperror.ValidationFailed("body", "update payload is required")
	}
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return apperror.ValidationFailed("title", "event title cannot be empty")
		}
		if len(trimmed) > MaxTitleLength {
			return apperror.ValidationFailed("title",
				fmt.Sprintf("event title must be %d characters or less", MaxTitleLength))
		}
		*patch.Title = trimmed
	}
	if patch.Date != nil {
		if err := validateDate(*patch.Date); err != nil {
			return err
		}
	}
	if err := validateTime("start", patch.StartTime); err != nil {
		return err
	}
	return validateTime("end", patch.EndTime)
}

func validateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return apperror.ValidationFailed("date", "date must be formatted as YYYY-MM-DD")
	}
	return nil
}

func validateTime(field string, wallClock *string) error {
	if wallClock == nil || *wallClock == "" {
		return nil
	}
	if _, err := time.Parse(timeLayout, *wallClock); err != nil {
		return apperror.ValidationFailed(field, "time must be formatted as HH:MM:SS")
	}
	return nil
}
