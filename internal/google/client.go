// Package google wraps the Google Calendar API (calendar/v3) behind the
// small surface the reconciliation engine needs, normalizing the provider's
// event shape into the local one.
//
// The client is deliberately token-agnostic: every call takes the access
// token to use, and a 401 is reported as ErrAccessTokenExpired so the caller
// can run its single refresh-and-retry cycle. Token refresh never happens in
// here.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sakif/fitcal/internal/apperror"
	"github.com/sakif/fitcal/internal/model"
)

// ErrAccessTokenExpired signals a provider 401. It is an internal signal for
// the retry cycle and is never surfaced to callers of the service layer.
var ErrAccessTokenExpired = errors.New("google: access token expired (HTTP 401)")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Config holds the client settings.
type Config struct {
	// CalendarID defaults to "primary".
	CalendarID string

	// Endpoint overrides the API base URL; used by tests to point the
	// client at a local server.
	Endpoint string

	// Timezone is the IANA zone events are composed in when a request body
	// needs an explicit offset.
	Timezone string

	// MaxListResults caps one upcoming-events listing.
	MaxListResults int
}

// Client lists, creates, patches and deletes events against Google Calendar.
type Client struct {
	calendarID string
	endpoint   string
	maxResults int64
	location   *time.Location
	logger     *slog.Logger
}

// New creates a Client. The timezone must be a valid IANA name.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.MaxListResults <= 0 {
		cfg.MaxListResults = 250
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("google: loading timezone %q: %w", cfg.Timezone, err)
	}

	return &Client{
		calendarID: cfg.CalendarID,
		endpoint:   cfg.Endpoint,
		maxResults: int64(cfg.MaxListResults),
		location:   location,
		logger:     logger,
	}, nil
}

// service builds a calendar.Service bound to one access token. The static
// token source means the SDK never refreshes behind our back.
func (c *Client) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: creating calendar service: %w", err)
	}
	return svc, nil
}

// ListUpcoming returns the upcoming events of the calendar, normalized. A
// provider 401 maps to ErrAccessTokenExpired; any other failure maps to the
// remote-list error class.
func (c *Client) ListUpcoming(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Events.List(c.calendarID).
		TimeMin(time.Now().In(c.location).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(c.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		if status, body := errorStatus(err); status == http.StatusUnauthorized {
			return nil, ErrAccessTokenExpired
		} else if status != 0 {
			return nil, apperror.RemoteFailed("list", status, body)
		}
		return nil, fmt.Errorf("google: listing events: %w", err)
	}

	events := make([]model.RemoteEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" || item.Start == nil {
			continue
		}
		events = append(events, normalizeEvent(item))
	}
	return events, nil
}

// Create inserts an event and returns the provider-assigned id.
func (c *Client) Create(ctx context.Context, accessToken string, event *model.CalendarEvent) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	body, err := c.eventBody(event)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
	if err != nil {
		if status, respBody := errorStatus(err); status == http.StatusUnauthorized {
			return "", ErrAccessTokenExpired
		} else if status != 0 {
			return "", apperror.RemoteFailed("insert", status, respBody)
		}
		return "", fmt.Errorf("google: inserting event: %w", err)
	}
	return created.Id, nil
}

// Patch updates an existing remote event.
func (c *Client) Patch(ctx context.Context, accessToken, remoteEventID string, event *model.CalendarEvent) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	body, err := c.eventBody(event)
	if err != nil {
		return err
	}

	_, err = svc.Events.Patch(c.calendarID, remoteEventID, body).Context(ctx).Do()
	if err != nil {
		if status, respBody := errorStatus(err); status == http.StatusUnauthorized {
			return ErrAccessTokenExpired
		} else if status != 0 {
			return apperror.RemoteFailed("patch", status, respBody)
		}
		return fmt.Errorf("google: patching event %s: %w", remoteEventID, err)
	}
	return nil
}

// Delete removes a remote event. A 404 (or 410) means the event is already
// gone and counts as success — deletion is idempotent.
func (c *Client) Delete(ctx context.Context, accessToken, remoteEventID string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(c.calendarID, remoteEventID).Context(ctx).Do()
	if err != nil {
		status, respBody := errorStatus(err)
		switch status {
		case http.StatusNotFound, http.StatusGone:
			return nil
		case http.StatusUnauthorized:
			return ErrAccessTokenExpired
		case 0:
			return fmt.Errorf("google: deleting event %s: %w", remoteEventID, err)
		default:
			return apperror.RemoteFailed("delete", status, respBody)
		}
	}
	return nil
}

// eventBody builds the provider request body. All-day events use date-only
// fields (end date exclusive); timed events get the explicit offset of the
// configured timezone attached here, and nowhere else.
func (c *Client) eventBody(event *model.CalendarEvent) (*calendar.Event, error) {
	body := &calendar.Event{Summary: event.Title}
	if event.Description != nil {
		body.Description = *event.Description
	}

	if event.AllDay() {
		day, err := time.ParseInLocation(dateLayout, event.Date, c.location)
		if err != nil {
			return nil, fmt.Errorf("google: parsing event date %q: %w", event.Date, err)
		}
		body.Start = &calendar.EventDateTime{Date: event.Date}
		body.End = &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout)}
		return body, nil
	}

	start, err := c.combine(event.Date, event.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := c.combine(event.Date, event.EndTime)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	body.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)}
	body.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)}
	return body, nil
}

// combine parses date + wall-clock time in the configured location. A nil
// time yields the zero instant.
func (c *Client) combine(date string, wallClock *string) (time.Time, error) {
	if wallClock == nil || *wallClock == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+*wallClock, c.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("google: parsing event time %q %q: %w", date, *wallClock, err)
	}
	return t, nil
}

// normalizeEvent splits the provider shape into the local date/time triple.
// Timed events keep the provider's own offset, so the wall clock the user
// sees on Google is the wall clock stored locally.
func normalizeEvent(item *calendar.Event) model.RemoteEvent {
	ev := model.RemoteEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
	}

	if item.Start.Date != "" {
		ev.StartDate = item.Start.Date
		if item.End != nil {
			ev.EndDate = item.End.Date
		}
		return ev
	}

	if start, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
		ev.StartDate = start.Format(dateLayout)
		ev.StartTime = start.Format(timeLayout)
	}
	if item.End != nil && item.End.DateTime != "" {
		if end, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			ev.EndDate = end.Format(dateLayout)
			ev.EndTime = end.Format(timeLayout)
		}
	}
	return ev
}

// errorStatus extracts the HTTP status and body from a googleapi error.
// Returns 0 for transport-level failures.
func errorStatus(err error) (int, string) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code, gerr.Body
	}
	return 0, ""
}
