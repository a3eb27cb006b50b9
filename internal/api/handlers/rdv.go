package handlers

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/booking"
	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/calendar"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/validation"
)

const (
	toolSecretHeader = "X-HallCall-Tool-Secret"

	ActionCheckAvailability = "check_availability"
	ActionBook              = "book"

	// providerLocal marks appointments booked without a connected calendar.
	providerLocal = "hallcall"

	maxSlotsListed   = 6
	alternativeSlots = 3
)

// errCalendar marks failures talking to the connected calendar, as opposed
// to failures of the local store.
var errCalendar = stderrors.New("calendar request failed")

type RDVRequest struct {
	Action string `json:"action" binding:"required,oneof=check_availability book"`
	Date   string `json:"date" binding:"required,max=100"`
	Time   string `json:"time" binding:"max=50"`
	Name   string `json:"name" binding:"max=200"`
	Phone  string `json:"phone" binding:"max=32"`
	Email  string `json:"email" binding:"omitempty,email,max=254"`
}

// RDVResponse is read by the voice agent. Message is meant to be spoken.
type RDVResponse struct {
	Success      bool     `json:"success"`
	Available    bool     `json:"available"`
	Date         string   `json:"date,omitempty"`
	Time         string   `json:"time,omitempty"`
	Slots        []string `json:"slots,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Message      string   `json:"message"`
	BookingID    string   `json:"booking_id,omitempty"`
}

func say(lang, fr, en string) string {
	if lang == "" || strings.HasPrefix(strings.ToLower(lang), "fr") {
		return fr
	}
	return en
}

func formatSlots(slots []time.Time, lang string) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, booking.FormatTime(s, lang))
	}
	return out
}

// bookingCalendar is the calendar the agent books into, or nil when the owner
// has none connected.
func (h *Handler) bookingCalendar(ctx context.Context, userID string) (calendar.Provider, *models.Integration, error) {
	in, err := h.store.FirstIntegration(ctx, userID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	cal, err := h.calendarFor(ctx, in)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errCalendar, err)
	}
	return cal, in, nil
}

// busyOn merges the calendar's busy periods for day with appointments already
// booked locally.
func (h *Handler) busyOn(ctx context.Context, userID string, cal calendar.Provider, day time.Time) ([]calendar.Interval, error) {
	from := day
	to := day.AddDate(0, 0, 1)

	var busy []calendar.Interval
	if cal != nil {
		remote, err := cal.FreeBusy(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errCalendar, err)
		}
		busy = append(busy, remote...)
	}
	local, err := h.store.OverlappingAppointments(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	for _, a := range local {
		busy = append(busy, calendar.Interval{Start: a.Start, End: a.End})
	}
	return calendar.MergeIntervals(busy), nil
}

// RDVWebhook is the appointment tool the voice agent calls mid-conversation.
func (h *Handler) RDVWebhook(c *gin.Context) {
	if secret := h.cfg.ToolSecret; secret != "" {
		got := c.GetHeader(toolSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			errors.Unauthorized(c, "invalid tool secret")
			return
		}
	}

	var req RDVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	agent, err := h.store.PublicAgent(ctx, c.Param("agentId"))
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}
	if !agent.BookingEnabled {
		errors.Forbidden(c, "booking is disabled for this agent")
		return
	}
	lang := agent.Language

	loc, err := time.LoadLocation(h.cfg.TZ)
	if err != nil {
		loc = time.UTC
	}
	now := h.now().In(loc)

	day, err := booking.ResolveDate(req.Date, now)
	if err != nil {
		c.JSON(http.StatusOK, RDVResponse{Message: say(lang,
			"Je n'ai pas compris la date. Pouvez-vous préciser le jour souhaité ?",
			"I did not understand the date. Which day would you like?")})
		return
	}

	cal, integration, err := h.bookingCalendar(ctx, agent.UserID)
	if err != nil {
		h.bookingError(c, err)
		return
	}
	busy, err := h.busyOn(ctx, agent.UserID, cal, day)
	if err != nil {
		h.bookingError(c, err)
		return
	}

	hours := booking.DefaultHours()
	free, err := booking.FreeSlots(day, hours, busy, now)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	dateText := booking.FormatDate(day, lang)

	if req.Action == ActionCheckAvailability && req.Time == "" {
		h.respondAvailability(c, lang, dateText, free)
		return
	}

	hour, minute, err := booking.ResolveTime(req.Time)
	if err != nil {
		c.JSON(http.StatusOK, RDVResponse{Date: dateText, Message: say(lang,
			"Je n'ai pas compris l'heure. À quelle heure souhaitez-vous venir ?",
			"I did not understand the time. What time would suit you?")})
		return
	}
	start := booking.At(day, hour, minute)
	timeText := booking.FormatTime(start, lang)

	if !booking.IsFree(start, hours, busy, now) {
		alts := formatSlots(booking.Nearest(free, start, alternativeSlots), lang)
		resp := RDVResponse{Date: dateText, Time: timeText, Alternatives: alts}
		if len(alts) == 0 {
			resp.Message = say(lang,
				fmt.Sprintf("Le %s à %s n'est pas disponible et il n'y a plus de créneau ce jour-là.", dateText, timeText),
				fmt.Sprintf("%s at %s is not available and the day is fully booked.", dateText, timeText))
		} else {
			resp.Message = say(lang,
				fmt.Sprintf("Le %s à %s n'est pas disponible. Je peux vous proposer %s.", dateText, timeText, strings.Join(alts, ", ")),
				fmt.Sprintf("%s at %s is not available. I can offer %s.", dateText, timeText, strings.Join(alts, ", ")))
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	if req.Action == ActionCheckAvailability {
		c.JSON(http.StatusOK, RDVResponse{Success: true, Available: true, Date: dateText, Time: timeText, Message: say(lang,
			fmt.Sprintf("Le %s à %s est disponible.", dateText, timeText),
			fmt.Sprintf("%s at %s is available.", dateText, timeText))})
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusOK, RDVResponse{Available: true, Date: dateText, Time: timeText, Message: say(lang,
			"Pour réserver, j'ai besoin de votre nom.",
			"I need your name to make the booking.")})
		return
	}

	appt, err := h.book(ctx, agent, cal, integration, req, start, start.Add(hours.SlotLength()))
	if err != nil {
		h.bookingError(c, err)
		return
	}

	h.logger.Info("Appointment booked by agent", logger.Tenant(agent.UserID,
		zap.String("agent_id", agent.ID),
		zap.String("appointment_id", appt.ID),
		zap.Time("start", appt.Start))...)
	c.JSON(http.StatusOK, RDVResponse{
		Success:   true,
		Available: true,
		Date:      dateText,
		Time:      timeText,
		BookingID: appt.ID,
		Message: say(lang,
			fmt.Sprintf("C'est noté, votre rendez-vous est confirmé le %s à %s.", dateText, timeText),
			fmt.Sprintf("Your appointment is confirmed for %s at %s.", dateText, timeText)),
	})
}

// bookingError answers 502 when the calendar failed and 500 otherwise.
func (h *Handler) bookingError(c *gin.Context, err error) {
	if stderrors.Is(err, errCalendar) {
		h.vendorError(c, "calendar", err)
		return
	}
	errors.InternalError(c, err, h.logger)
}

func (h *Handler) respondAvailability(c *gin.Context, lang, dateText string, free []time.Time) {
	if len(free) == 0 {
		c.JSON(http.StatusOK, RDVResponse{Date: dateText, Message: say(lang,
			fmt.Sprintf("Il n'y a plus de créneau disponible le %s.", dateText),
			fmt.Sprintf("There is no free slot left on %s.", dateText))})
		return
	}
	if len(free) > maxSlotsListed {
		free = free[:maxSlotsListed]
	}
	slots := formatSlots(free, lang)
	c.JSON(http.StatusOK, RDVResponse{
		Success:   true,
		Available: true,
		Date:      dateText,
		Slots:     slots,
		Message: say(lang,
			fmt.Sprintf("Le %s, je peux vous proposer %s.", dateText, strings.Join(slots, ", ")),
			fmt.Sprintf("On %s I can offer %s.", dateText, strings.Join(slots, ", "))),
	})
}

// book writes the event to the connected calendar, if any, and records the
// appointment.
func (h *Handler) book(ctx context.Context, agent *models.Agent, cal calendar.Provider, in *models.Integration, req RDVRequest, start, end time.Time) (*models.Appointment, error) {
	phone := req.Phone
	if p, err := validation.NormalizeE164(req.Phone, defaultCountryCode); err == nil {
		phone = p
	}
	title := "RDV " + strings.TrimSpace(req.Name)

	appt := &models.Appointment{
		ID:            store.NewID(),
		UserID:        agent.UserID,
		AgentID:       agent.ID,
		Provider:      providerLocal,
		Title:         title,
		Start:         start,
		End:           end,
		AttendeeName:  strings.TrimSpace(req.Name),
		AttendeePhone: phone,
		AttendeeEmail: req.Email,
		Source:        models.AppointmentSourceAgent,
	}
	appt.ExternalID = appt.ID

	if cal != nil {
		ev, err := cal.CreateEvent(ctx, calendar.NewEvent{
			Title:         title,
			Description:   fmt.Sprintf("Réservé par l'agent vocal %s. Téléphone : %s", agent.Name, phone),
			Start:         start,
			End:           end,
			AttendeeName:  appt.AttendeeName,
			AttendeeEmail: req.Email,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errCalendar, err)
		}
		appt.Provider = in.Provider
		appt.ExternalID = ev.ID
	}

	if err := h.store.UpsertAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("record appointment: %w", err)
	}
	return appt, nil
}
