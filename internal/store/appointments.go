package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
)

// UpsertAppointment stores a calendar event keyed by (user, provider, external id).
func (s *Store) UpsertAppointment(ctx context.Context, a *models.Appointment) error {
	now := s.now()
	if a.ID == "" {
		a.ID = NewID()
	}
	set := bson.M{
		"agent_id":   a.AgentID,
		"title":      a.Title,
		"start":      a.Start,
		"end":        a.End,
		"source":     a.Source,
		"updated_at": now,
	}
	if a.AttendeeName != "" {
		set["attendee_name"] = a.AttendeeName
	}
	if a.AttendeePhone != "" {
		set["attendee_phone"] = a.AttendeePhone
	}
	if a.AttendeeEmail != "" {
		set["attendee_email"] = a.AttendeeEmail
	}
	return s.owned(colAppointments, a.UserID).
		Eq("provider", a.Provider).
		Eq("external_id", a.ExternalID).
		Upsert(ctx, set, bson.M{"_id": a.ID, "created_at": now})
}

func (s *Store) ListAppointments(ctx context.Context, userID string, from, to time.Time) ([]models.Appointment, error) {
	q := s.owned(colAppointments, userID)
	if !from.IsZero() {
		q = q.Gte("start", from)
	}
	if !to.IsZero() {
		q = q.Lt("start", to)
	}
	out := []models.Appointment{}
	err := q.Sort("start", true).Limit(500).All(ctx, &out)
	return out, err
}

// OverlappingAppointments returns booked appointments intersecting [from, to).
func (s *Store) OverlappingAppointments(ctx context.Context, userID string, from, to time.Time) ([]models.Appointment, error) {
	out := []models.Appointment{}
	err := s.owned(colAppointments, userID).Lt("start", to).Gt("end", from).All(ctx, &out)
	return out, err
}
