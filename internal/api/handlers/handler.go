package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/calendar"
	"github.com/hallcall/hallcall-api/pkg/client"
	"github.com/hallcall/hallcall-api/pkg/env"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/mailer"
	"github.com/hallcall/hallcall-api/pkg/middleware"
	"github.com/hallcall/hallcall-api/pkg/oauth"
	"github.com/hallcall/hallcall-api/pkg/storage"
	"github.com/hallcall/hallcall-api/pkg/telephony"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

const defaultDBTimeout = 5 * time.Second

// Deps are the services shared by every handler.
type Deps struct {
	Config    *env.Config
	Store     *store.Store
	Redis     *redis.Client
	Voice     *voice.Client
	Twilio    *telephony.Client
	Mailer    mailer.Sender
	Audio     storage.Driver
	OAuth     *oauth.Manager
	Calendars *calendar.Service
	Dialer    *dialer.Dialer
	Issuer    auth.Issuer
	Refresh   *auth.RefreshStore
	OTP       *auth.OTPManager
}

type Handler struct {
	cfg         *env.Config
	store       *store.Store
	redisClient *redis.Client
	voice       *voice.Client
	twilio      *telephony.Client
	mailer      mailer.Sender
	audio       storage.Driver
	oauth       *oauth.Manager
	calendars   *calendar.Service
	dialer      *dialer.Dialer
	issuer      auth.Issuer
	refresh     *auth.RefreshStore
	otp         *auth.OTPManager
	smsBucket   *middleware.TokenBucket
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	now         func() time.Time
	dbTimeout   time.Duration
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		cfg:         d.Config,
		store:       d.Store,
		redisClient: d.Redis,
		voice:       d.Voice,
		twilio:      d.Twilio,
		mailer:      d.Mailer,
		audio:       d.Audio,
		oauth:       d.OAuth,
		calendars:   d.Calendars,
		dialer:      d.Dialer,
		issuer:      d.Issuer,
		refresh:     d.Refresh,
		otp:         d.OTP,
		logger:      logger.Log,
		now:         time.Now,
		dbTimeout:   defaultDBTimeout,
	}
	// 10 messages burst, then one every 6 seconds per user
	h.smsBucket = middleware.NewTokenBucket(d.Redis, "sms", 10, 1, 6*time.Second)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkDashboardOrigin,
	}
	return h
}

// dbContext bounds one store phase of a request. Handlers that call a vendor
// between store phases take a fresh one after the vendor returns.
func (h *Handler) dbContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.dbTimeout)
}

// checkDashboardOrigin accepts websocket upgrades from the dashboard or from
// clients that send no Origin at all.
func (h *Handler) checkDashboardOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == h.cfg.DashboardURL {
		return true
	}
	for _, allowed := range h.cfg.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// storeError turns a store failure into a response.
func (h *Handler) storeError(c *gin.Context, err error, resource string) {
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		errors.NotFound(c, resource+" not found")
	case stderrors.Is(err, store.ErrConflict):
		errors.Conflict(c, resource+" already exists")
	default:
		errors.InternalError(c, err, h.logger)
	}
}

func (h *Handler) vendorError(c *gin.Context, vendor string, err error) {
	errors.Vendor(c, vendor, err, h.logger)
}

// isVendorNotFound is true when the vendor no longer knows the resource, which
// deletes treat as success.
func isVendorNotFound(err error) bool {
	var apiErr *client.APIError
	return stderrors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func currentUser(c *gin.Context) string {
	return middleware.UserID(c)
}
