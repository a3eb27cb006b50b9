package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// fakeVoiceAPI stands in for the conversational agent vendor.
type fakeVoiceAPI struct {
	delay time.Duration

	mu      sync.Mutex
	created int
	deleted []string
}

func (f *fakeVoiceAPI) start(mt *mtest.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/convai/agents/create", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(f.delay)
		f.mu.Lock()
		f.created++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"agent_id":"agent_vendor_1"}`))
	})
	mux.HandleFunc("DELETE /v1/convai/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	mt.Cleanup(srv.Close)
	return srv
}

func (f *fakeVoiceAPI) calls() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, append([]string(nil), f.deleted...)
}

func withVoice(baseURL string) func(*Deps) {
	return func(d *Deps) {
		d.Voice = voice.NewClient(voice.Config{BaseURL: baseURL, APIKey: "xi-test", Timeout: 2 * time.Second}, zap.NewNop())
	}
}

func dashboardRouter(h *Handler, userID string) *gin.Engine {
	r := gin.New()
	r.Use(asUser(userID))
	r.POST("/api/agents", h.CreateAgent)
	r.GET("/api/agents/:id", h.GetAgent)
	r.POST("/api/campaigns", h.CreateCampaign)
	r.POST("/api/sms/send", h.SendSMS)
	r.POST("/api/widgets", h.CreateWidget)
	return r
}

func profileDoc(userID, plan string) bson.D {
	return bson.D{{Key: "_id", Value: userID}, {Key: "plan", Value: plan}, {Key: "full_name", Value: "Jane Doe"}}
}

func agentDoc(id, userID string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "user_id", Value: userID},
		{Key: "vendor_agent_id", Value: "agent_vendor_1"},
		{Key: "name", Value: "Accueil"},
		{Key: "language", Value: "fr"},
		{Key: "booking_enabled", Value: true},
	}
}

const createAgentBody = `{"name":"Accueil","first_message":"Bonjour, cabinet Martin.","booking_enabled":true}`

func TestCreateAgent(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("mirrors the vendor agent", func(mt *mtest.T) {
		api := &fakeVoiceAPI{}
		h, _ := newMockHandler(mt, withVoice(api.start(mt).URL))
		mt.AddMockResponses(
			cursorOf("profiles", profileDoc("user-1", "free")),
			countOf("agents", 0),
			okReply(), // agents
			okReply(), // audit_log
		)

		w := do(dashboardRouter(h, "user-1"), http.MethodPost, "/api/agents", createAgentBody, nil)
		require.Equal(mt, http.StatusCreated, w.Code, w.Body.String())

		var agent models.Agent
		require.NoError(mt, json.Unmarshal(w.Body.Bytes(), &agent))
		assert.Equal(mt, "agent_vendor_1", agent.VendorAgentID)
		assert.Equal(mt, "user-1", agent.UserID)
		assert.Equal(mt, "fr", agent.Language)

		stored := insertedDoc(mt, "agents")
		assert.Equal(mt, agent.ID, stored.Lookup("_id").StringValue())
		assert.Equal(mt, "agent_vendor_1", stored.Lookup("vendor_agent_id").StringValue())
		assert.Equal(mt, "user-1", filterOf(mt, "find", "profiles", "filter").Lookup("_id").StringValue())
	})

	mt.Run("stops at the plan limit before calling the vendor", func(mt *mtest.T) {
		api := &fakeVoiceAPI{}
		h, _ := newMockHandler(mt, withVoice(api.start(mt).URL))
		mt.AddMockResponses(
			cursorOf("profiles", profileDoc("user-1", "free")),
			countOf("agents", 1),
		)

		w := do(dashboardRouter(h, "user-1"), http.MethodPost, "/api/agents", createAgentBody, nil)
		assert.Equal(mt, http.StatusPaymentRequired, w.Code)
		created, _ := api.calls()
		assert.Zero(mt, created)
	})

	mt.Run("a slow vendor does not eat the store deadline", func(mt *mtest.T) {
		api := &fakeVoiceAPI{delay: 150 * time.Millisecond}
		h, _ := newMockHandler(mt, withVoice(api.start(mt).URL))
		h.dbTimeout = 50 * time.Millisecond
		mt.AddMockResponses(
			cursorOf("profiles", profileDoc("user-1", "free")),
			countOf("agents", 0),
			okReply(),
			okReply(),
		)

		w := do(dashboardRouter(h, "user-1"), http.MethodPost, "/api/agents", createAgentBody, nil)
		require.Equal(mt, http.StatusCreated, w.Code, w.Body.String())
		_, deleted := api.calls()
		assert.Empty(mt, deleted)
		assert.Len(mt, commandsOn(mt, "insert", "agents"), 1)
	})

	mt.Run("a failed insert removes the vendor agent", func(mt *mtest.T) {
		api := &fakeVoiceAPI{}
		h, _ := newMockHandler(mt, withVoice(api.start(mt).URL))
		mt.AddMockResponses(
			cursorOf("profiles", profileDoc("user-1", "free")),
			countOf("agents", 0),
			failureReply(),
		)

		w := do(dashboardRouter(h, "user-1"), http.MethodPost, "/api/agents", createAgentBody, nil)
		assert.Equal(mt, http.StatusInternalServerError, w.Code)
		created, deleted := api.calls()
		assert.Equal(mt, 1, created)
		assert.Equal(mt, []string{"agent_vendor_1"}, deleted)
	})

	mt.Run("an unknown profile is a 404", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("profiles"))

		w := do(dashboardRouter(h, "user-1"), http.MethodPost, "/api/agents", createAgentBody, nil)
		assert.Equal(mt, http.StatusNotFound, w.Code)
	})
}

func TestGetAgent(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("returns the caller's agent", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents", agentDoc("agent-1", "user-1")))

		w := do(dashboardRouter(h, "user-1"), http.MethodGet, "/api/agents/agent-1", "", nil)
		require.Equal(mt, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(mt, w.Body.String(), `"vendor_agent_id":"agent_vendor_1"`)
	})

	mt.Run("scopes the lookup to the caller", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents"))

		w := do(dashboardRouter(h, "user-2"), http.MethodGet, "/api/agents/agent-1", "", nil)
		assert.Equal(mt, http.StatusNotFound, w.Code)

		filter := filterOf(mt, "find", "agents", "filter")
		assert.Equal(mt, "user-2", filter.Lookup("user_id").StringValue())
		assert.Equal(mt, "agent-1", filter.Lookup("_id").StringValue())
	})
}
