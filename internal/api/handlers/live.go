package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/models"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 54 * time.Second
)

// liveSnapshot is the first frame sent on a live connection.
type liveSnapshot struct {
	Type     string                `json:"type"`
	Campaign *models.CampaignGroup `json:"campaign"`
	Stats    models.CampaignStats  `json:"stats"`
}

// CampaignLive streams the dialer events of one campaign over a websocket.
func (h *Handler) CampaignLive(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	campaign, err := h.store.Campaign(ctx, userID, c.Param("id"))
	if err != nil {
		cancel()
		h.storeError(c, err, "campaign")
		return
	}
	stats, err := h.store.CampaignStats(ctx, campaign.ID)
	cancel()
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade live connection",
			zap.Error(err),
			zap.String("campaign_id", campaign.ID),
			zap.String("origin", c.GetHeader("Origin")),
		)
		return
	}
	defer conn.Close()

	streamCtx, stop := context.WithCancel(context.Background())
	defer stop()

	sub := dialer.Subscribe(streamCtx, h.redisClient, campaign.ID)
	defer sub.Close()

	snapshot, _ := json.Marshal(liveSnapshot{Type: "snapshot", Campaign: campaign, Stats: stats})
	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	h.streamLive(conn, sub.Channel(), campaign.ID)
}

func (h *Handler) streamLive(conn *websocket.Conn, events <-chan *redis.Message, campaignID string) {
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		return nil
	})

	// the client sends nothing; reading only detects close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("Live connection read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
			var ev dialer.Event
			if json.Unmarshal([]byte(msg.Payload), &ev) == nil && ev.Type == dialer.EventCampaignCompleted {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "campaign completed"),
					time.Now().Add(liveWriteWait))
				h.logger.Debug("Live stream finished", zap.String("campaign_id", campaignID))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
