package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// Graph returns naive date times ("2026-03-12T14:00:00.0000000") in the zone
// requested through the Prefer header; we always ask for UTC.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

type graphCalendar struct {
	http   *client.HTTPClient
	tokens oauth2.TokenSource
}

type graphTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func newGraphTime(t time.Time) graphTime {
	return graphTime{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}

func (t graphTime) parse() (time.Time, error) {
	return time.ParseInLocation(graphTimeLayout, t.DateTime, time.UTC)
}

type graphEmail struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphAttendee struct {
	EmailAddress graphEmail `json:"emailAddress"`
	Type         string     `json:"type,omitempty"`
}

type graphEvent struct {
	ID        string          `json:"id,omitempty"`
	Subject   string          `json:"subject"`
	Body      *graphBody      `json:"body,omitempty"`
	Start     graphTime       `json:"start"`
	End       graphTime       `json:"end"`
	ShowAs    string          `json:"showAs,omitempty"`
	Cancelled bool            `json:"isCancelled,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func (g *graphCalendar) Name() string { return "microsoft" }

func (g *graphCalendar) headers() (http.Header, error) {
	h, err := bearer(g.tokens)
	if err != nil {
		return nil, err
	}
	h.Set("Prefer", `outlook.timezone="UTC"`)
	return h, nil
}

func (g *graphCalendar) calendarView(ctx context.Context, from, to time.Time) ([]graphEvent, error) {
	header, err := g.headers()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Value []graphEvent `json:"value"`
	}
	err = g.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/me/calendarView",
		Header: header,
		Query: map[string]string{
			"startDateTime": from.UTC().Format(time.RFC3339),
			"endDateTime":   to.UTC().Format(time.RFC3339),
			"$top":          "250",
			"$orderby":      "start/dateTime",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (g *graphCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	events, err := g.calendarView(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var out []Interval
	for _, e := range events {
		if e.Cancelled || e.ShowAs == "free" {
			continue
		}
		ev, err := e.toEvent()
		if err != nil {
			continue
		}
		out = append(out, Interval{Start: ev.Start, End: ev.End})
	}
	return MergeIntervals(out), nil
}

func (g *graphCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	events, err := g.calendarView(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Cancelled {
			continue
		}
		ev, err := e.toEvent()
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (g *graphCalendar) CreateEvent(ctx context.Context, ev NewEvent) (*Event, error) {
	header, err := g.headers()
	if err != nil {
		return nil, err
	}
	body := graphEvent{
		Subject: ev.Title,
		Start:   newGraphTime(ev.Start),
		End:     newGraphTime(ev.End),
	}
	if ev.Description != "" {
		body.Body = &graphBody{ContentType: "text", Content: ev.Description}
	}
	if ev.AttendeeEmail != "" {
		body.Attendees = []graphAttendee{{
			EmailAddress: graphEmail{Address: ev.AttendeeEmail, Name: ev.AttendeeName},
			Type:         "required",
		}}
	}

	var created graphEvent
	err = g.http.Do(ctx, client.Request{Method: http.MethodPost, Path: "/me/events", Header: header, JSON: body}, &created)
	if err != nil {
		return nil, err
	}
	out, err := created.toEvent()
	if err != nil {
		return nil, fmt.Errorf("microsoft graph: %w", err)
	}
	return &out, nil
}

func (g *graphCalendar) AccountEmail(ctx context.Context) (string, error) {
	header, err := g.headers()
	if err != nil {
		return "", err
	}
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := g.http.Do(ctx, client.Request{Method: http.MethodGet, Path: "/me", Header: header}, &me); err != nil {
		return "", err
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	return me.UserPrincipalName, nil
}

func (e graphEvent) toEvent() (Event, error) {
	start, err := e.Start.parse()
	if err != nil {
		return Event{}, fmt.Errorf("parse event start: %w", err)
	}
	end, err := e.End.parse()
	if err != nil {
		return Event{}, fmt.Errorf("parse event end: %w", err)
	}
	ev := Event{ID: e.ID, Title: e.Subject, Start: start, End: end}
	if len(e.Attendees) > 0 {
		ev.AttendeeEmail = e.Attendees[0].EmailAddress.Address
		ev.AttendeeName = e.Attendees[0].EmailAddress.Name
	}
	return ev, nil
}
