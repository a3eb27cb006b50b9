package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/calendar"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/oauth"
)

// syncWindow is how far ahead calendar events are pulled.
const syncWindow = 30 * 24 * time.Hour

type IntegrationsResponse struct {
	Data      []models.Integration `json:"data"`
	Available []string             `json:"available"`
}

func (h *Handler) ListIntegrations(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	list, err := h.store.ListIntegrations(ctx, currentUser(c))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, IntegrationsResponse{Data: list, Available: h.oauth.Providers()})
}

// dashboardRedirect keeps post-consent redirects on the dashboard.
func (h *Handler) dashboardRedirect(raw string) string {
	if raw != "" && (raw == h.cfg.DashboardURL || strings.HasPrefix(raw, h.cfg.DashboardURL+"/")) {
		return raw
	}
	return h.cfg.DashboardURL + "/integrations"
}

func (h *Handler) AuthorizeIntegration(c *gin.Context) {
	provider := c.Param("provider")

	authURL, err := h.oauth.AuthorizeURL(c.Request.Context(), provider, currentUser(c), h.dashboardRedirect(c.Query("redirect")))
	if stderrors.Is(err, oauth.ErrUnknownProvider) {
		errors.NotFound(c, "integration provider "+provider+" is not available")
		return
	}
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": authURL})
}

func withQuery(target string, values url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for k, v := range values {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IntegrationCallback is where the provider sends the browser back. It always
// redirects to the dashboard with the outcome in the query string.
func (h *Handler) IntegrationCallback(c *gin.Context) {
	provider := c.Param("provider")
	fail := func(reason string) {
		c.Redirect(http.StatusFound, withQuery(h.cfg.DashboardURL+"/integrations", url.Values{
			"integration": {"error"},
			"provider":    {provider},
			"reason":      {reason},
		}))
	}

	if e := c.Query("error"); e != "" {
		fail(e)
		return
	}
	code := c.Query("code")
	if code == "" {
		fail("missing_code")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	st, tok, err := h.oauth.Exchange(ctx, provider, code, c.Query("state"))
	if err != nil {
		h.logger.Warn("OAuth exchange failed", zap.String("provider", provider), zap.Error(err))
		if stderrors.Is(err, oauth.ErrInvalidState) {
			fail("invalid_state")
			return
		}
		fail("exchange_failed")
		return
	}

	email := ""
	if cal, err := h.calendars.For(provider, oauth2.StaticTokenSource(tok)); err == nil {
		if email, err = cal.AccountEmail(ctx); err != nil {
			h.logger.Warn("Could not read integration account", zap.String("provider", provider), zap.Error(err))
		}
	}

	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.SaveIntegration(ctx, st.UserID, provider, tok, email); err != nil {
		h.logger.Error("Failed to save integration", zap.String("provider", provider), zap.Error(err))
		fail("storage")
		return
	}

	audit.Log(ctx, h.store.Client(), st.UserID, audit.ActionConnect, "integration", provider, nil)
	h.logger.Info("Integration connected", logger.Tenant(st.UserID, zap.String("provider", provider))...)
	c.Redirect(http.StatusFound, withQuery(h.dashboardRedirect(st.Redirect), url.Values{
		"integration": {"success"},
		"provider":    {provider},
	}))
}

func (h *Handler) DeleteIntegration(c *gin.Context) {
	userID := currentUser(c)
	provider := c.Param("provider")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if err := h.store.DeleteIntegration(ctx, userID, provider); err != nil {
		h.storeError(c, err, "integration")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionDisconnect, "integration", provider, nil)
	c.JSON(http.StatusOK, gin.H{"message": "integration disconnected"})
}

// calendarFor binds a calendar provider to the stored integration. Refreshed
// tokens are written back to the integration row.
func (h *Handler) calendarFor(ctx context.Context, in *models.Integration) (calendar.Provider, error) {
	persist := func(tok *oauth2.Token) error {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.dbTimeout)
		defer cancel()
		return h.store.UpdateIntegrationToken(pctx, in.UserID, in.Provider, tok)
	}
	ts, err := h.oauth.TokenSource(ctx, in.Provider, in.Token(), persist)
	if err != nil {
		return nil, err
	}
	return h.calendars.For(in.Provider, ts)
}

type SyncCalendarResponse struct {
	Provider string    `json:"provider"`
	Synced   int       `json:"synced"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// SyncIntegration copies the next 30 days of calendar events into appointments.
func (h *Handler) SyncIntegration(c *gin.Context) {
	userID := currentUser(c)
	provider := c.Param("provider")

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	in, err := h.store.Integration(ctx, userID, provider)
	if err != nil {
		h.storeError(c, err, "integration")
		return
	}
	cal, err := h.calendarFor(ctx, in)
	if err != nil {
		h.vendorError(c, provider, err)
		return
	}

	from := h.now().UTC()
	to := from.Add(syncWindow)
	events, err := cal.ListEvents(ctx, from, to)
	if err != nil {
		h.vendorError(c, provider, err)
		return
	}

	for _, ev := range events {
		err := h.store.UpsertAppointment(ctx, &models.Appointment{
			UserID:        userID,
			Provider:      provider,
			ExternalID:    ev.ID,
			Title:         ev.Title,
			Start:         ev.Start,
			End:           ev.End,
			AttendeeName:  ev.AttendeeName,
			AttendeeEmail: ev.AttendeeEmail,
			Source:        models.AppointmentSourceSync,
		})
		if err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
	}

	c.JSON(http.StatusOK, SyncCalendarResponse{Provider: provider, Synced: len(events), From: from, To: to})
}

// ListAppointments accepts optional RFC 3339 from/to bounds; by default it
// returns the next 30 days.
func (h *Handler) ListAppointments(c *gin.Context) {
	from := h.now().UTC()
	to := from.Add(syncWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errors.BadRequest(c, "from must be RFC 3339")
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errors.BadRequest(c, "to must be RFC 3339")
			return
		}
		to = t
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	list, err := h.store.ListAppointments(ctx, currentUser(c), from, to)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}
