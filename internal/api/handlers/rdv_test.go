package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"golang.org/x/oauth2"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/calendar"
)

var toolHeader = http.Header{toolSecretHeader: {"tool-secret"}}

func rdvRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/rdv/:agentId", h.RDVWebhook)
	return r
}

// bookingAgent is agent-1 of owner-1 with booking switched on or off.
func bookingAgent(enabled bool) bson.D {
	doc := agentDoc("agent-1", "owner-1")
	for i := range doc {
		if doc[i].Key == "booking_enabled" {
			doc[i].Value = enabled
		}
	}
	return doc
}

// noCalendarReplies answers the agent, integration and appointment lookups
// for an owner without a connected calendar.
func noCalendarReplies(booked ...bson.D) []bson.D {
	return []bson.D{
		cursorOf("agents", bookingAgent(true)),
		cursorOf("integrations"),
		cursorOf("appointments", booked...),
	}
}

func withCalendar(googleURL string) func(*Deps) {
	return func(d *Deps) {
		d.Calendars = calendar.NewService(calendar.Config{
			GoogleBaseURL:     googleURL,
			GoogleUserInfoURL: googleURL + "/userinfo",
			Timeout:           2 * time.Second,
		})
		d.OAuth = d.OAuth.WithConfig("google", &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Endpoint:     oauth2.Endpoint{AuthURL: googleURL + "/auth", TokenURL: googleURL + "/token"},
		})
	}
}

func googleIntegrationDoc() bson.D {
	return bson.D{
		{Key: "_id", Value: "integration-1"},
		{Key: "user_id", Value: "owner-1"},
		{Key: "provider", Value: "google"},
		{Key: "access_token", Value: "ya29.token"},
		{Key: "token_type", Value: "Bearer"},
		{Key: "expiry", Value: time.Now().Add(time.Hour)},
	}
}

func postRDV(t *testing.T, r http.Handler, agentID, body string) RDVResponse {
	t.Helper()
	w := do(r, http.MethodPost, "/webhooks/rdv/"+agentID, body, toolHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp RDVResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRDVWebhook_RejectsBadSecret(t *testing.T) {
	r := rdvRouter(newBareHandler())

	w := do(r, http.MethodPost, "/webhooks/rdv/"+store.NewID(), `{"action":"book","date":"demain"}`, http.Header{toolSecretHeader: {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/webhooks/rdv/"+store.NewID(), `{"action":"book","date":"demain"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRDVWebhook_RejectsUnknownAction(t *testing.T) {
	r := rdvRouter(newBareHandler())

	w := do(r, http.MethodPost, "/webhooks/rdv/"+store.NewID(), `{"action":"cancel","date":"demain"}`, toolHeader)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRDVWebhook(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("refuses when booking is disabled", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents", bookingAgent(false)))

		w := do(rdvRouter(h), http.MethodPost, "/webhooks/rdv/agent-1", `{"action":"check_availability","date":"demain"}`, toolHeader)
		assert.Equal(mt, http.StatusForbidden, w.Code)
	})

	mt.Run("an unknown agent is a 404", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents"))

		w := do(rdvRouter(h), http.MethodPost, "/webhooks/rdv/agent-9", `{"action":"check_availability","date":"demain"}`, toolHeader)
		assert.Equal(mt, http.StatusNotFound, w.Code)
	})

	mt.Run("lists the first free slots", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(noCalendarReplies()...)

		resp := postRDV(mt.T, rdvRouter(h), "agent-1", `{"action":"check_availability","date":"demain"}`)
		assert.True(mt, resp.Available)
		assert.Equal(mt, []string{"9h", "9h30", "10h", "10h30", "11h", "11h30"}, resp.Slots)
		assert.Contains(mt, resp.Message, "je peux vous proposer")

		filter := filterOf(mt, "find", "appointments", "filter")
		assert.Equal(mt, "owner-1", filter.Lookup("user_id").StringValue())
	})

	mt.Run("speaks an unknown date", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents", bookingAgent(true)))

		resp := postRDV(mt.T, rdvRouter(h), "agent-1", `{"action":"check_availability","date":"quand vous voulez"}`)
		assert.False(mt, resp.Success)
		assert.Contains(mt, resp.Message, "pas compris la date")
	})

	mt.Run("asks for a name before booking", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(noCalendarReplies()...)

		resp := postRDV(mt.T, rdvRouter(h), "agent-1", `{"action":"book","date":"demain","time":"10h"}`)
		assert.False(mt, resp.Success)
		assert.Contains(mt, resp.Message, "votre nom")
		assert.Empty(mt, commandsOn(mt, "update", "appointments"))
	})

	mt.Run("books a free slot", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(append(noCalendarReplies(), writeReply(1))...)

		resp := postRDV(mt.T, rdvRouter(h), "agent-1", `{"action":"book","date":"demain","time":"10h","name":"Jeanne Petit","phone":"06 11 22 33 44"}`)
		require.True(mt, resp.Success, resp.Message)
		require.NotEmpty(mt, resp.BookingID)
		assert.Equal(mt, "10h", resp.Time)

		upserts := commandsOn(mt, "update", "appointments")
		require.Len(mt, upserts, 1)
		stmts, err := upserts[0].Lookup("updates").Array().Values()
		require.NoError(mt, err)
		stmt := stmts[0].Document()
		assert.Equal(mt, providerLocal, stmt.Lookup("q", "provider").StringValue())
		assert.Equal(mt, "owner-1", stmt.Lookup("q", "user_id").StringValue())
		assert.Equal(mt, resp.BookingID, stmt.Lookup("u", "$setOnInsert", "_id").StringValue())
		assert.Equal(mt, "+33611223344", stmt.Lookup("u", "$set", "attendee_phone").StringValue())
		assert.Equal(mt, string(models.AppointmentSourceAgent), stmt.Lookup("u", "$set", "source").StringValue())
		assert.Equal(mt, time.Date(2026, 10, 21, 10, 0, 0, 0, testNow.Location()).UnixMilli(),
			stmt.Lookup("u", "$set", "start").Time().UnixMilli())
	})

	mt.Run("offers neighbours of a taken slot", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		taken := bson.D{
			{Key: "_id", Value: "appt-1"},
			{Key: "user_id", Value: "owner-1"},
			{Key: "provider", Value: providerLocal},
			{Key: "start", Value: time.Date(2026, 10, 21, 10, 0, 0, 0, testNow.Location())},
			{Key: "end", Value: time.Date(2026, 10, 21, 10, 30, 0, 0, testNow.Location())},
		}
		mt.AddMockResponses(noCalendarReplies(taken)...)

		resp := postRDV(mt.T, rdvRouter(h), "agent-1", `{"action":"check_availability","date":"demain","time":"10h"}`)
		assert.False(mt, resp.Available)
		assert.Equal(mt, []string{"9h", "9h30", "10h30"}, resp.Alternatives)
	})

	mt.Run("a failed integration lookup is a 500", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("agents", bookingAgent(true)), failureReply())

		w := do(rdvRouter(h), http.MethodPost, "/webhooks/rdv/agent-1", `{"action":"check_availability","date":"demain"}`, toolHeader)
		assert.Equal(mt, http.StatusInternalServerError, w.Code)
	})

	mt.Run("a failed appointment write is a 500", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(append(noCalendarReplies(), failureReply())...)

		w := do(rdvRouter(h), http.MethodPost, "/webhooks/rdv/agent-1", `{"action":"book","date":"demain","time":"10h","name":"Jeanne Petit"}`, toolHeader)
		assert.Equal(mt, http.StatusInternalServerError, w.Code)
	})

	mt.Run("a failing calendar is a 502", func(mt *mtest.T) {
		google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		mt.Cleanup(google.Close)

		h, _ := newMockHandler(mt, withCalendar(google.URL))
		mt.AddMockResponses(cursorOf("agents", bookingAgent(true)), cursorOf("integrations", googleIntegrationDoc()))

		w := do(rdvRouter(h), http.MethodPost, "/webhooks/rdv/agent-1", `{"action":"check_availability","date":"demain"}`, toolHeader)
		assert.Equal(mt, http.StatusBadGateway, w.Code)
		assert.Empty(mt, commandsOn(mt, "find", "appointments"))
	})
}
