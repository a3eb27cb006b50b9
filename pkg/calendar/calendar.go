// Package calendar reads availability from and writes events to the
// calendars connected through OAuth integrations.
package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/pkg/client"
	"github.com/hallcall/hallcall-api/pkg/oauth"
)

// Interval is a busy period.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects the interval.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

type Event struct {
	ID            string
	Title         string
	Start         time.Time
	End           time.Time
	AttendeeName  string
	AttendeeEmail string
}

type NewEvent struct {
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeName  string
	AttendeeEmail string
}

// Provider is one connected calendar account.
type Provider interface {
	Name() string
	FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error)
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, ev NewEvent) (*Event, error)
	AccountEmail(ctx context.Context) (string, error)
}

type Config struct {
	GoogleBaseURL     string
	GoogleUserInfoURL string
	GraphBaseURL      string
	Timeout           time.Duration
}

// Service builds providers bound to a token source. HTTP clients are shared
// so every account of a provider goes through the same circuit breaker.
type Service struct {
	google      *client.HTTPClient
	graph       *client.HTTPClient
	userInfoURL string
}

func NewService(cfg Config) *Service {
	if cfg.GoogleBaseURL == "" {
		cfg.GoogleBaseURL = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.GoogleUserInfoURL == "" {
		cfg.GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Service{
		google:      client.NewHTTPClient("google_calendar", cfg.GoogleBaseURL, cfg.Timeout, nil),
		graph:       client.NewHTTPClient("microsoft_graph", cfg.GraphBaseURL, cfg.Timeout, nil),
		userInfoURL: cfg.GoogleUserInfoURL,
	}
}

// For returns the provider implementation for name.
func (s *Service) For(name string, tokens oauth2.TokenSource) (Provider, error) {
	switch name {
	case oauth.ProviderGoogle:
		return &googleCalendar{http: s.google, tokens: tokens, userInfoURL: s.userInfoURL}, nil
	case oauth.ProviderMicrosoft:
		return &graphCalendar{http: s.graph, tokens: tokens}, nil
	}
	return nil, oauth.ErrUnknownProvider
}

func bearer(tokens oauth2.TokenSource) (http.Header, error) {
	tok, err := tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("calendar token: %w", err)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	return h, nil
}

// MergeIntervals sorts busy intervals and joins the overlapping ones.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
