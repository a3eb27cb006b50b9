package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/queue"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

var errMissing = errors.New("not found")

type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*models.CampaignGroup
	contacts  map[string]*models.Contact
	order     []string
	exhausted bool
}

func newMemStore(c *models.CampaignGroup, contacts ...models.Contact) *memStore {
	s := &memStore{campaigns: map[string]*models.CampaignGroup{c.ID: c}, contacts: map[string]*models.Contact{}}
	for i := range contacts {
		ct := contacts[i]
		ct.CampaignID = c.ID
		ct.UserID = c.UserID
		if ct.Status == "" {
			ct.Status = models.ContactPending
		}
		s.contacts[ct.ID] = &ct
		s.order = append(s.order, ct.ID)
	}
	return s
}

func (s *memStore) contact(id string) models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.contacts[id]
}

func (s *memStore) RunningCampaigns(ctx context.Context) ([]models.CampaignGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignGroup
	for _, c := range s.campaigns {
		if c.Status == models.CampaignRunning {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) CampaignByID(ctx context.Context, id string) (*models.CampaignGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, errMissing
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) CompleteCampaign(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	if c == nil || c.Status != models.CampaignRunning {
		return false, nil
	}
	c.Status = models.CampaignCompleted
	return true, nil
}

func (s *memStore) QuotaExhausted(ctx context.Context, userID string) (bool, error) {
	return s.exhausted, nil
}

func (s *memStore) DueContacts(ctx context.Context, campaignID string, now time.Time, limit int64) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Contact
	for _, id := range s.order {
		c := s.contacts[id]
		if c.CampaignID != campaignID || c.Status != models.ContactPending {
			continue
		}
		if c.NextAttemptAt != nil && c.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *c)
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CountContacts(ctx context.Context, campaignID string, statuses ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.contacts {
		for _, st := range statuses {
			if c.CampaignID == campaignID && c.Status == st {
				n++
			}
		}
	}
	return n, nil
}

func (s *memStore) ContactByID(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, errMissing
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ClaimContact(ctx context.Context, id string) (*models.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.Status != models.ContactPending {
		return nil, false, nil
	}
	c.Status = models.ContactCalling
	c.Attempts++
	now := time.Now()
	c.LastAttemptAt = &now
	cp := *c
	return &cp, true, nil
}

func (s *memStore) SettleContact(ctx context.Context, id string, set bson.M) (*models.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.Status != models.ContactCalling {
		return nil, false, nil
	}
	for k, v := range set {
		switch k {
		case "status":
			c.Status = v.(string)
		case "disposition":
			c.Disposition = v.(string)
		case "last_error":
			c.LastError = v.(string)
		case "conversation_id":
			c.ConversationID = v.(string)
		case "next_attempt_at":
			t := v.(time.Time)
			c.NextAttemptAt = &t
		}
	}
	cp := *c
	return &cp, true, nil
}

func (s *memStore) AttachConversation(ctx context.Context, contactID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contactID].ConversationID = conversationID
	return nil
}

func (s *memStore) StaleCalling(ctx context.Context, campaignID string, cutoff time.Time) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Contact
	for _, c := range s.contacts {
		if c.CampaignID == campaignID && c.Status == models.ContactCalling &&
			c.LastAttemptAt != nil && c.LastAttemptAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) Agent(ctx context.Context, userID, id string) (*models.Agent, error) {
	return &models.Agent{ID: id, UserID: userID, VendorAgentID: "agent_vendor_1"}, nil
}

func (s *memStore) PhoneNumber(ctx context.Context, userID, id string) (*models.PhoneNumber, error) {
	return &models.PhoneNumber{ID: id, UserID: userID, VendorPhoneID: "phnum_1"}, nil
}

type memQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	ids   map[string]bool
}

func (q *memQueue) Enqueue(ctx context.Context, t queue.Task, opts queue.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ids == nil {
		q.ids = map[string]bool{}
	}
	if q.ids[opts.TaskID] {
		return "", queue.ErrDuplicate
	}
	q.ids[opts.TaskID] = true
	q.tasks = append(q.tasks, t)
	return opts.TaskID, nil
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []voice.OutboundCall
	err   error
}

func (f *fakeCaller) PlaceOutboundCall(ctx context.Context, call voice.OutboundCall) (*voice.OutboundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &voice.OutboundResult{Success: true, ConversationID: "conv_" + call.ToNumber}, nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func runningCampaign() *models.CampaignGroup {
	return &models.CampaignGroup{
		ID:            "camp-" + time.Now().Format("150405.000000000"),
		UserID:        "user-1",
		AgentID:       "agent-1",
		PhoneNumberID: "num-1",
		Status:        models.CampaignRunning,
		MaxRetries:    1,
		RetryGapMin:   10,
		MaxConcurrent: 2,
	}
}

func TestInWindow(t *testing.T) {
	// Wednesday 14 October 2026 08:30 UTC is 10:30 in Paris.
	now := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		c    models.CampaignGroup
		want bool
	}{
		{"no window", models.CampaignGroup{}, true},
		{"inside in campaign zone", models.CampaignGroup{WindowStart: "09:00", WindowEnd: "18:00", Timezone: "Europe/Paris"}, true},
		{"before start in utc", models.CampaignGroup{WindowStart: "09:00", WindowEnd: "18:00"}, false},
		{"end is exclusive", models.CampaignGroup{WindowStart: "08:00", WindowEnd: "08:30"}, false},
		{"weekday allowed", models.CampaignGroup{Days: []int{1, 2, 3, 4, 5}}, true},
		{"weekend only", models.CampaignGroup{Days: []int{0, 6}}, false},
		{"unknown zone falls back to utc", models.CampaignGroup{WindowStart: "08:00", WindowEnd: "09:00", Timezone: "Mars/Olympus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InWindow(&tt.c, now))
		})
	}
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 3, Capacity(5, 2, 50))
	assert.Equal(t, 0, Capacity(2, 2, 50))
	assert.Equal(t, 0, Capacity(2, 3, 50))
	assert.Equal(t, 1, Capacity(0, 0, 50))
	assert.Equal(t, 10, Capacity(100, 0, 10))
}

func TestNextState(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	c := &models.CampaignGroup{MaxRetries: 2, RetryGapMin: 15}

	t.Run("answered completes", func(t *testing.T) {
		set := NextState(c, &models.Contact{Attempts: 1}, Outcome{Answered: true, ConversationID: "conv"}, now)
		assert.Equal(t, models.ContactCompleted, set["status"])
		assert.Equal(t, DispositionAnswered, set["disposition"])
		assert.Equal(t, "conv", set["conversation_id"])
	})

	t.Run("unanswered retries after the gap", func(t *testing.T) {
		set := NextState(c, &models.Contact{Attempts: 2}, Outcome{}, now)
		assert.Equal(t, models.ContactPending, set["status"])
		assert.Equal(t, DispositionNoAnswer, set["disposition"])
		assert.Equal(t, now.Add(15*time.Minute), set["next_attempt_at"])
	})

	t.Run("retries exhausted fails", func(t *testing.T) {
		set := NextState(c, &models.Contact{Attempts: 3}, Outcome{Disposition: DispositionDialError, Error: "busy"}, now)
		assert.Equal(t, models.ContactFailed, set["status"])
		assert.Equal(t, DispositionDialError, set["disposition"])
		assert.Equal(t, "busy", set["last_error"])
		assert.NotContains(t, set, "next_attempt_at")
	})

	t.Run("zero retries fails on first miss", func(t *testing.T) {
		set := NextState(&models.CampaignGroup{}, &models.Contact{Attempts: 1}, Outcome{}, now)
		assert.Equal(t, models.ContactFailed, set["status"])
	})
}

func TestDynamicVariables(t *testing.T) {
	c := &models.CampaignGroup{ID: "camp"}
	contact := &models.Contact{
		ID:        "contact",
		Phone:     "+33612345678",
		Name:      "Alice",
		Variables: map[string]string{"company": "Acme", VarContactID: "spoofed"},
	}
	vars := DynamicVariables(c, contact)
	assert.Equal(t, "contact", vars[VarContactID])
	assert.Equal(t, "camp", vars[VarCampaignID])
	assert.Equal(t, "Alice", vars[VarName])
	assert.Equal(t, "+33612345678", vars[VarPhone])
	assert.Equal(t, "Acme", vars["company"])
}

func TestTickAndDial(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	camp := runningCampaign()
	st := newMemStore(camp,
		models.Contact{ID: camp.ID + "-c1", Phone: "+33600000001"},
		models.Contact{ID: camp.ID + "-c2", Phone: "+33600000002"},
		models.Contact{ID: camp.ID + "-c3", Phone: "+33600000003"},
	)
	q := &memQueue{}
	caller := &fakeCaller{}
	d := New(st, rdb, q, caller, Config{CallsPerSec: 100})

	n, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "bounded by max_concurrent")

	n, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "locked contacts are not enqueued twice")

	require.Len(t, q.tasks, 2)
	assert.Equal(t, TaskDial, q.tasks[0].Type)

	var p dialPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload, &p))
	assert.Equal(t, camp.ID, p.CampaignID)

	require.NoError(t, d.HandleDial(ctx, q.tasks[0]))
	first := st.contact(p.ContactID)
	assert.Equal(t, models.ContactCalling, first.Status)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, "conv_"+first.Phone, first.ConversationID)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "agent_vendor_1", caller.calls[0].AgentID)
	assert.Equal(t, "phnum_1", caller.calls[0].PhoneNumberID)
	assert.Equal(t, first.ID, caller.calls[0].DynamicVariables[VarContactID])

	// A redelivered task must not dial again.
	require.NoError(t, d.HandleDial(ctx, q.tasks[0]))
	assert.Len(t, caller.calls, 1)

	require.NoError(t, d.ReportOutcome(ctx, first.ID, Outcome{Answered: true}))
	assert.Equal(t, models.ContactCompleted, st.contact(first.ID).Status)

	// The vendor refuses the second call: the contact is rescheduled.
	caller.err = errors.New("vendor down")
	require.NoError(t, d.HandleDial(ctx, q.tasks[1]))
	require.NoError(t, json.Unmarshal(q.tasks[1].Payload, &p))
	second := st.contact(p.ContactID)
	assert.Equal(t, models.ContactPending, second.Status)
	assert.Equal(t, DispositionDialError, second.Disposition)
	require.NotNil(t, second.NextAttemptAt)
	assert.True(t, second.NextAttemptAt.After(time.Now().Add(9*time.Minute)))

	// Only the third contact is due now.
	n, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	camp2, _ := st.CampaignByID(ctx, camp.ID)
	assert.Equal(t, models.CampaignRunning, camp2.Status)
}

func TestReportOutcomeCompletesCampaign(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	camp := runningCampaign()
	st := newMemStore(camp,
		models.Contact{ID: camp.ID + "-done", Status: models.ContactCompleted, Attempts: 1},
		models.Contact{ID: camp.ID + "-last", Status: models.ContactCalling, Attempts: 2},
	)
	d := New(st, rdb, &memQueue{}, &fakeCaller{}, Config{})

	sub := Subscribe(ctx, rdb, camp.ID)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, d.ReportOutcome(ctx, camp.ID+"-last", Outcome{Disposition: DispositionNoAnswer}))
	assert.Equal(t, models.ContactFailed, st.contact(camp.ID+"-last").Status)

	got, _ := st.CampaignByID(ctx, camp.ID)
	assert.Equal(t, models.CampaignCompleted, got.Status)

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case msg := <-sub.Channel():
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("events not received, got %v", types)
		}
	}
	assert.Equal(t, []string{EventContactSettled, EventCampaignCompleted}, types)

	// A duplicate outcome is ignored.
	require.NoError(t, d.ReportOutcome(ctx, camp.ID+"-last", Outcome{Answered: true}))
	assert.Equal(t, models.ContactFailed, st.contact(camp.ID+"-last").Status)
}

func TestTickHoldsCampaigns(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	t.Run("quota exhausted", func(t *testing.T) {
		camp := runningCampaign()
		st := newMemStore(camp, models.Contact{ID: camp.ID + "-c1", Phone: "+33600000001"})
		st.exhausted = true
		q := &memQueue{}
		n, err := New(st, rdb, q, &fakeCaller{}, Config{}).Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, q.tasks)
	})

	t.Run("stale calling contacts are settled", func(t *testing.T) {
		camp := runningCampaign()
		long := time.Now().Add(-2 * time.Hour)
		st := newMemStore(camp, models.Contact{
			ID: camp.ID + "-stuck", Status: models.ContactCalling, Attempts: 1, LastAttemptAt: &long,
		})
		d := New(st, rdb, &memQueue{}, &fakeCaller{}, Config{StaleAfter: time.Hour})
		_, err := d.Tick(ctx)
		require.NoError(t, err)

		got := st.contact(camp.ID + "-stuck")
		assert.Equal(t, models.ContactPending, got.Status)
		assert.Equal(t, DispositionTimeout, got.Disposition)
	})
}
