package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/pkg/client"
)

type googleCalendar struct {
	http        *client.HTTPClient
	tokens      oauth2.TokenSource
	userInfoURL string
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (t googleTime) parse() (time.Time, error) {
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	// all-day events
	return time.Parse("2006-01-02", t.Date)
}

type googleAttendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type googleEvent struct {
	ID          string           `json:"id,omitempty"`
	Summary     string           `json:"summary"`
	Description string           `json:"description,omitempty"`
	Start       googleTime       `json:"start"`
	End         googleTime       `json:"end"`
	Attendees   []googleAttendee `json:"attendees,omitempty"`
	Status      string           `json:"status,omitempty"`
}

func (g *googleCalendar) Name() string { return "google" }

func (g *googleCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	header, err := bearer(g.tokens)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	err = g.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/freeBusy",
		Header: header,
		JSON: map[string]interface{}{
			"timeMin": from.UTC().Format(time.RFC3339),
			"timeMax": to.UTC().Format(time.RFC3339),
			"items":   []map[string]string{{"id": "primary"}},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	var out []Interval
	for _, cal := range resp.Calendars {
		for _, b := range cal.Busy {
			out = append(out, Interval{Start: b.Start, End: b.End})
		}
	}
	return MergeIntervals(out), nil
}

func (g *googleCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	header, err := bearer(g.tokens)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []googleEvent `json:"items"`
	}
	err = g.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/calendars/primary/events",
		Header: header,
		Query: map[string]string{
			"timeMin":      from.UTC().Format(time.RFC3339),
			"timeMax":      to.UTC().Format(time.RFC3339),
			"singleEvents": "true",
			"orderBy":      "startTime",
			"maxResults":   "250",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		ev, err := item.toEvent()
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *googleCalendar) CreateEvent(ctx context.Context, ev NewEvent) (*Event, error) {
	header, err := bearer(g.tokens)
	if err != nil {
		return nil, err
	}
	body := googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       googleTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Start.Location().String()},
		End:         googleTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.End.Location().String()},
	}
	if ev.AttendeeEmail != "" {
		body.Attendees = []googleAttendee{{Email: ev.AttendeeEmail, DisplayName: ev.AttendeeName}}
	}

	var created googleEvent
	err = g.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/calendars/primary/events",
		Header: header,
		JSON:   body,
	}, &created)
	if err != nil {
		return nil, err
	}
	out, err := created.toEvent()
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return &out, nil
}

func (g *googleCalendar) AccountEmail(ctx context.Context) (string, error) {
	header, err := bearer(g.tokens)
	if err != nil {
		return "", err
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := g.http.Do(ctx, client.Request{Method: http.MethodGet, Path: g.userInfoURL, Header: header}, &info); err != nil {
		return "", err
	}
	return info.Email, nil
}

func (e googleEvent) toEvent() (Event, error) {
	start, err := e.Start.parse()
	if err != nil {
		return Event{}, fmt.Errorf("parse event start: %w", err)
	}
	end, err := e.End.parse()
	if err != nil {
		return Event{}, fmt.Errorf("parse event end: %w", err)
	}
	ev := Event{ID: e.ID, Title: e.Summary, Start: start, End: end}
	if len(e.Attendees) > 0 {
		ev.AttendeeEmail = e.Attendees[0].Email
		ev.AttendeeName = e.Attendees[0].DisplayName
	}
	return ev, nil
}
