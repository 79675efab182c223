package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/fitcal/internal/model"
	"github.com/sakif/fitcal/internal/service"
)

// CalendarSyncer is the reconciliation surface the handler needs; satisfied
// by *service.CalendarService.
type CalendarSyncer interface {
	SyncFromRemote(ctx context.Context, userID string) ([]model.CalendarEvent, error)
	ListEvents(ctx context.Context, userID string) ([]model.CalendarEvent, error)
	CreateEvent(ctx context.Context, userID string, input service.CreateEventInput) (*model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, userID, idOrRemoteID string, patch *model.EventPatch) (*model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, userID string, id int64) error
}

// TokenFlow is the OAuth surface the handler needs; satisfied by
// *service.TokenService.
type TokenFlow interface {
	AuthorizationURL(userID string) string
	ExchangeCode(ctx context.Context, code, userID string) (*model.UserCredential, error)
	Connected(ctx context.Context, userID string) bool
}

// CalendarHandler exposes the calendar operations as JSON endpoints. Request
// authentication is the platform gateway's job; these endpoints trust the
// user_id they are handed.
type CalendarHandler struct {
	calendar CalendarSyncer
	tokens   TokenFlow
	logger   *slog.Logger
}

// NewCalendarHandler creates a CalendarHandler.
func NewCalendarHandler(calendar CalendarSyncer, tokens TokenFlow, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, tokens: tokens, logger: logger}
}

// HandleAuthURL returns the Google consent URL for a user.
//
// HTTP: GET /api/calendar/auth/url?user_id=...
func (h *CalendarHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.tokens.AuthorizationURL(userID)})
}

// HandleAuthCallback completes the OAuth flow. Google redirects here with
// the authorization code and our state, which carries the user id.
//
// HTTP: GET /api/calendar/auth/callback?code=...&state=<user_id>
func (h *CalendarHandler) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("state")
	if code == "" || userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "code and state are required",
		})
		return
	}

	if _, err := h.tokens.ExchangeCode(r.Context(), code, userID); err != nil {
		h.logger.Error("oauth callback failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// HandleStatus reports whether the user has a usable (valid or refreshable)
// calendar connection.
//
// HTTP: GET /api/calendar/status?user_id=...
func (h *CalendarHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": h.tokens.Connected(r.Context(), userID)})
}

// HandleList returns the user's local events.
//
// HTTP: GET /api/calendar/events?user_id=...
func (h *CalendarHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	events, err := h.calendar.ListEvents(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleSync pulls the remote calendar and returns the reconciled event set.
//
// HTTP: POST /api/calendar/sync?user_id=...
func (h *CalendarHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	events, err := h.calendar.SyncFromRemote(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type createEventRequest struct {
	UserID      string  `json:"userId"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// HandleCreate stores a new event and mirrors it to Google when connected.
//
// HTTP: POST /api/calendar/events
func (h *CalendarHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}
	if req.UserID == "" {
		req.UserID = r.URL.Query().Get("user_id")
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "userId is required",
		})
		return
	}

	event, err := h.calendar.CreateEvent(r.Context(), req.UserID, service.CreateEventInput{
		Title:       req.Title,
		Date:        req.Date,
		StartTime:   req.Start,
		EndTime:     req.End,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// HandleUpdate applies a partial update. {id} may be the internal id or the
// remote event id.
//
// HTTP: PATCH /api/calendar/events/{id}?user_id=...
func (h *CalendarHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	idOrRemoteID := r.PathValue("id")
	if idOrRemoteID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "event id is required",
		})
		return
	}

	var patch model.EventPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	event, err := h.calendar.UpdateEvent(r.Context(), userID, idOrRemoteID, &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// HandleDelete removes an event. Deleting an unknown id is still a success —
// the caller wanted it gone and it is gone.
//
// HTTP: DELETE /api/calendar/events/{id}?user_id=...
func (h *CalendarHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "event id must be numeric",
		})
		return
	}

	if err := h.calendar.DeleteEvent(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "user_id is required",
		})
		return "", false
	}
	return userID, true
}
