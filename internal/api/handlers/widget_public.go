package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/voice"
	"github.com/hallcall/hallcall-api/pkg/widget"
)

const widgetCacheTTL = 5 * time.Minute

func widgetCacheKey(agentID string) string {
	return "widget:config:" + agentID
}

// widgetConfig is what the public endpoints need to know about an agent's
// widget. It is cached in Redis and dropped whenever the widget changes.
type widgetConfig struct {
	AgentID        string       `json:"agent_id"`
	VendorAgentID  string       `json:"vendor_agent_id"`
	Name           string       `json:"name"`
	AllowedDomains []string     `json:"allowed_domains"`
	Theme          widget.Theme `json:"theme"`
	Enabled        bool         `json:"enabled"`
}

// PublicWidgetConfig is the body of GET /api/widgets/config/:agentId.
type PublicWidgetConfig struct {
	AgentID string       `json:"agent_id"`
	Name    string       `json:"name"`
	Theme   widget.Theme `json:"theme"`
}

func (h *Handler) loadWidgetConfig(ctx context.Context, agentID string) (*widgetConfig, error) {
	key := widgetCacheKey(agentID)
	if raw, err := h.redisClient.Get(ctx, key).Bytes(); err == nil {
		var cfg widgetConfig
		if json.Unmarshal(raw, &cfg) == nil {
			return &cfg, nil
		}
	} else if !stderrors.Is(err, redis.Nil) {
		h.logger.Warn("Widget cache read failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	w, err := h.store.WidgetForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	agent, err := h.store.PublicAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	cfg := &widgetConfig{
		AgentID:        agentID,
		VendorAgentID:  agent.VendorAgentID,
		Name:           w.Name,
		AllowedDomains: w.AllowedDomains,
		Theme:          w.Theme.Fill(),
		Enabled:        w.Enabled,
	}
	if raw, err := json.Marshal(cfg); err == nil {
		h.redisClient.Set(ctx, key, raw, widgetCacheTTL)
	}
	return cfg, nil
}

// publicWidget resolves the widget for the request and enforces the domain
// whitelist. It writes the error response itself and returns nil on failure.
func (h *Handler) publicWidget(c *gin.Context) *widgetConfig {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	cfg, err := h.loadWidgetConfig(ctx, c.Param("agentId"))
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			errors.NotFound(c, "widget not found")
			return nil
		}
		errors.InternalError(c, err, h.logger)
		return nil
	}
	if !cfg.Enabled {
		errors.NotFound(c, "widget not found")
		return nil
	}

	host := widget.RequestHost(c.GetHeader("Origin"), c.GetHeader("Referer"))
	if !widget.OriginAllowed(cfg.AllowedDomains, host) {
		h.logger.Info("Widget request from non-listed origin",
			zap.String("agent_id", cfg.AgentID), zap.String("host", host))
		errors.Forbidden(c, "origin not allowed for this widget")
		return nil
	}

	if origin := c.GetHeader("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
	}
	return cfg
}

func (h *Handler) WidgetConfig(c *gin.Context) {
	cfg := h.publicWidget(c)
	if cfg == nil {
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.JSON(http.StatusOK, PublicWidgetConfig{AgentID: cfg.AgentID, Name: cfg.Name, Theme: cfg.Theme})
}

func (h *Handler) WidgetSignedURL(c *gin.Context) {
	cfg := h.publicWidget(c)
	if cfg == nil {
		return
	}
	signed, err := h.voice.SignedURL(c.Request.Context(), cfg.VendorAgentID)
	if err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"signed_url": signed})
}

// WidgetPage serves the iframe document. Framing is limited to the widget's
// allowed domains.
func (h *Handler) WidgetPage(c *gin.Context) {
	cfg := h.publicWidget(c)
	if cfg == nil {
		return
	}
	page, err := widget.RenderPage(widget.PageData{
		AgentID:        cfg.AgentID,
		Name:           cfg.Name,
		Theme:          cfg.Theme,
		AllowedDomains: cfg.AllowedDomains,
	})
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.Header("Content-Security-Policy", "frame-ancestors "+frameAncestors(cfg.AllowedDomains))
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func frameAncestors(domains []string) string {
	if len(domains) == 0 {
		return "*"
	}
	out := make([]string, 0, 2*len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(d, "www.")
		out = append(out, "https://"+d)
		if apex, ok := strings.CutPrefix(d, "*."); ok {
			out = append(out, "https://"+apex)
		} else {
			out = append(out, "https://www."+d)
		}
	}
	return strings.Join(out, " ")
}

func (h *Handler) EmbedScript(c *gin.Context) {
	script, err := widget.EmbedScript(h.cfg.PublicBaseURL)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", script)
}

