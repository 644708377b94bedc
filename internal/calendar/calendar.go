// Package calendar pushes session events to an external calendar bridge
// as ICS payloads.  Every call here is fire-and-forget: failures are
// logged and never block or roll back booking or notification logic.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/nkoval/studio-booking/internal/config"
)

// Client posts calendar events keyed by session id.  A nil Client (or
// one with an empty endpoint) disables the integration.
type Client struct {
	endpoint string
	http     *http.Client
}

// New constructs a calendar client, or nil when no endpoint is
// configured.
func New(cfg config.CalendarConfig) *Client {
	if cfg.Endpoint == "" {
		return nil
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// PushSession publishes or updates the calendar event for a session.
func (c *Client) PushSession(ctx context.Context, sessionID uint64, title string, startsAt, endsAt time.Time) {
	if c == nil {
		return
	}
	c.send(ctx, sessionID, buildEvent(ics.MethodRequest, sessionID, title, startsAt, endsAt))
}

// CancelSession publishes a cancellation for the session's event.
func (c *Client) CancelSession(ctx context.Context, sessionID uint64, title string, startsAt, endsAt time.Time) {
	if c == nil {
		return
	}
	c.send(ctx, sessionID, buildEvent(ics.MethodCancel, sessionID, title, startsAt, endsAt))
}

func buildEvent(method ics.Method, sessionID uint64, title string, startsAt, endsAt time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(method)
	ev := cal.AddEvent(fmt.Sprintf("session-%d@studio-booking", sessionID))
	ev.SetDtStampTime(time.Now().UTC())
	ev.SetStartAt(startsAt)
	ev.SetEndAt(endsAt)
	ev.SetSummary(title)
	return cal.Serialize()
}

func (c *Client) send(ctx context.Context, sessionID uint64, payload string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(payload))
	if err != nil {
		log.Printf("calendar: build request for session %d failed: %v", sessionID, err)
		return
	}
	req.Header.Set("Content-Type", "text/calendar")
	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("calendar: push for session %d failed: %v", sessionID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("calendar: push for session %d returned %d", sessionID, resp.StatusCode)
	}
}
