// Package api assembles the HTTP surface: middleware chain, route groups and
// the public widget and webhook endpoints.
package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hallcall/hallcall-api/internal/api/handlers"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/env"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/middleware"
	"github.com/hallcall/hallcall-api/pkg/otel"
)

const (
	defaultBodyLimit = 1 << 20
	webhookBodyLimit = 5 << 20
)

// Options carries what the router needs beyond the handlers.
type Options struct {
	Config  *env.Config
	Redis   *redis.Client
	Issuer  auth.Issuer
	Handler *handlers.Handler
}

func corsMiddleware(cfg *env.Config) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	allowAll := len(cfg.CORSAllowedOrigins) == 0
	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = append([]string{cfg.DashboardURL}, cfg.CORSAllowedOrigins...)
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	corsConfig.ExposeHeaders = []string{"X-Trace-ID", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	handler := cors.New(corsConfig)

	return func(c *gin.Context) {
		if publicPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		handler(c)
	}
}

// publicPath reports routes that are called from customer sites or vendors.
// The widget routes check origins against the widget whitelist themselves.
func publicPath(path string) bool {
	for _, prefix := range []string{"/embed.js", "/widget/", "/api/widgets/config/", "/api/widgets/signed-url/", "/webhooks/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bodyLimit applies the knowledge base upload limit to that route and the
// default limit everywhere else.
func bodyLimit() gin.HandlerFunc {
	upload := middleware.RequestSizeLimit(handlers.MaxKnowledgeUpload)
	standard := middleware.RequestSizeLimit(defaultBodyLimit)
	return func(c *gin.Context) {
		if c.FullPath() == "/api/agents/:id/knowledge-base" && c.Request.Method == "POST" {
			upload(c)
			return
		}
		standard(c)
	}
}

// NewRouter builds the gin engine serving the whole API.
func NewRouter(opts Options) *gin.Engine {
	cfg, h, rdb := opts.Config, opts.Handler, opts.Redis

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	// spans start before the trace middleware so both share one trace ID
	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(logger.Named("http")))
	router.Use(corsMiddleware(cfg))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", h.Metrics)

	requireAuth := middleware.AuthMiddleware(opts.Issuer)
	loginLimiter := middleware.NewAuthRateLimiter(rdb, "login", 5, 900, 1800)
	otpLimiter := middleware.NewAuthRateLimiter(rdb, "otp", 10, 3600, 3600)
	rateLimiter := middleware.NewRateLimiter(rdb, cfg.APIRateLimitRPM)
	uuidParam := middleware.ValidateUUIDParam

	authGroup := router.Group("/auth")
	authGroup.Use(middleware.RequestSizeLimit(defaultBodyLimit))
	{
		authGroup.POST("/login", loginLimiter.Middleware(), h.Login)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", requireAuth, h.Logout)
		authGroup.POST("/signup", otpLimiter.Middleware(), h.Signup)
		authGroup.POST("/signup/verify", otpLimiter.Middleware(), h.VerifySignup)
		authGroup.POST("/password/forgot", otpLimiter.Middleware(), h.ForgotPassword)
		authGroup.POST("/password/reset", otpLimiter.Middleware(), h.ResetPassword)
	}

	// Public embed contract. Origins are checked against each widget's whitelist.
	router.GET("/embed.js", h.EmbedScript)
	router.GET("/widget/:agentId", uuidParam("agentId"), h.WidgetPage)
	router.GET("/api/widgets/config/:agentId", uuidParam("agentId"), h.WidgetConfig)
	router.GET("/api/widgets/signed-url/:agentId", uuidParam("agentId"), h.WidgetSignedURL)

	// OAuth provider redirect target
	router.GET("/integrations/:provider/callback", h.IntegrationCallback)

	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RequestSizeLimit(webhookBodyLimit))
	{
		webhooks.POST("/voice", h.VoiceWebhook)
		webhooks.POST("/twilio/sms-status", h.TwilioSMSStatus)
		webhooks.POST("/rdv/:agentId", uuidParam("agentId"), h.RDVWebhook)
	}

	api := router.Group("/api")
	api.Use(bodyLimit())
	api.Use(requireAuth)
	api.Use(middleware.IdempotencyMiddleware(rdb))
	api.Use(rateLimiter.Middleware())
	{
		api.GET("/me", h.Me)

		profile := api.Group("/profile")
		{
			profile.GET("", h.GetProfile)
			profile.PUT("", h.UpdateProfile)
			profile.GET("/usage", h.GetUsage)
		}

		agents := api.Group("/agents")
		{
			agents.POST("", h.CreateAgent)
			agents.GET("", h.ListAgents)
			agents.GET("/:id", uuidParam("id"), h.GetAgent)
			agents.PUT("/:id", uuidParam("id"), h.UpdateAgent)
			agents.DELETE("/:id", uuidParam("id"), h.DeleteAgent)
			agents.POST("/:id/knowledge-base", uuidParam("id"), h.AddKnowledge)
			agents.GET("/:id/knowledge-base", uuidParam("id"), h.ListKnowledge)
			agents.DELETE("/:id/knowledge-base/:docId", uuidParam("id", "docId"), h.DeleteKnowledge)
		}

		tts := api.Group("/tts")
		{
			tts.POST("", h.TextToSpeech)
			tts.GET("/voices", h.ListVoices)
		}

		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.ListConversations)
			conversations.POST("/sync", h.SyncConversations)
			conversations.GET("/:id", uuidParam("id"), h.GetConversation)
			conversations.GET("/:id/audio", uuidParam("id"), h.ConversationAudio)
		}

		campaigns := api.Group("/campaigns")
		{
			campaigns.POST("", h.CreateCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:id", uuidParam("id"), h.GetCampaign)
			campaigns.PUT("/:id", uuidParam("id"), h.UpdateCampaign)
			campaigns.DELETE("/:id", uuidParam("id"), h.DeleteCampaign)
			campaigns.POST("/:id/start", uuidParam("id"), h.StartCampaign)
			campaigns.POST("/:id/pause", uuidParam("id"), h.PauseCampaign)
			campaigns.POST("/:id/resume", uuidParam("id"), h.ResumeCampaign)
			campaigns.POST("/:id/cancel", uuidParam("id"), h.CancelCampaign)
			campaigns.POST("/:id/contacts", uuidParam("id"), h.AddContacts)
			campaigns.GET("/:id/contacts", uuidParam("id"), h.ListContacts)
			campaigns.DELETE("/:id/contacts/:contactId", uuidParam("id", "contactId"), h.DeleteContact)
			campaigns.GET("/:id/live", uuidParam("id"), h.CampaignLive)
		}

		numbers := api.Group("/phone-numbers")
		{
			numbers.GET("/available", h.SearchPhoneNumbers)
			numbers.POST("", h.BuyPhoneNumber)
			numbers.GET("", h.ListPhoneNumbers)
			numbers.PUT("/:id", uuidParam("id"), h.AssignPhoneNumber)
			numbers.DELETE("/:id", uuidParam("id"), h.DeletePhoneNumber)
		}

		widgets := api.Group("/widgets")
		{
			widgets.POST("", h.CreateWidget)
			widgets.GET("", h.ListWidgets)
			widgets.GET("/:id", uuidParam("id"), h.GetWidget)
			widgets.PUT("/:id", uuidParam("id"), h.UpdateWidget)
			widgets.DELETE("/:id", uuidParam("id"), h.DeleteWidget)
		}

		integrations := api.Group("/integrations")
		{
			integrations.GET("", h.ListIntegrations)
			integrations.GET("/:provider/authorize", h.AuthorizeIntegration)
			integrations.POST("/:provider/sync", h.SyncIntegration)
			integrations.DELETE("/:provider", h.DeleteIntegration)
		}
		api.GET("/appointments", h.ListAppointments)

		sms := api.Group("/sms")
		{
			sms.POST("/templates", h.CreateSMSTemplate)
			sms.GET("/templates", h.ListSMSTemplates)
			sms.GET("/templates/:id", uuidParam("id"), h.GetSMSTemplate)
			sms.PUT("/templates/:id", uuidParam("id"), h.UpdateSMSTemplate)
			sms.DELETE("/templates/:id", uuidParam("id"), h.DeleteSMSTemplate)
			sms.POST("/send", h.SendSMS)
			sms.GET("/history", h.ListSMSHistory)
		}

		api.GET("/audit-logs", h.ListAuditLogs)

		admin := api.Group("/admin")
		admin.Use(middleware.RoleMiddleware(auth.RoleAdmin))
		{
			admin.PUT("/users/:id/plan", uuidParam("id"), h.SetUserPlan)
		}
	}

	return router
}
