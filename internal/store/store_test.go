package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

// Store methods run against the driver's mock deployment. Each command
// consumes the next queued reply.

const testDB = "hallcall"

var storeNow = time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)

func newMockStore(mt *mtest.T) *Store {
	s := New(mongo.Wrap(mt.Client, testDB))
	s.now = func() time.Time { return storeNow }
	return s
}

func cursor(coll string, docs ...bson.D) bson.D {
	return mtest.CreateCursorResponse(0, testDB+"."+coll, mtest.FirstBatch, docs...)
}

func counted(coll string, n int) bson.D {
	if n == 0 {
		return cursor(coll)
	}
	return cursor(coll, bson.D{{Key: "n", Value: n}})
}

func written(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n}, bson.E{Key: "nModified", Value: n})
}

func modified(doc bson.D) bson.D {
	if doc == nil {
		return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil})
	}
	return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: doc})
}

func failed() bson.D {
	return mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "mocked failure"})
}

func duplicate() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})
}

// sent returns the commands of the given name addressed to coll.
func sent(mt *mtest.T, name, coll string) []bson.Raw {
	var out []bson.Raw
	for _, e := range mt.GetAllStartedEvents() {
		if e.CommandName != name {
			continue
		}
		if target, ok := e.Command.Lookup(name).StringValueOK(); ok && target == coll {
			out = append(out, e.Command)
		}
	}
	return out
}

// entries unpacks the documents, updates or deletes array of a write command.
func entries(mt *mtest.T, cmd bson.Raw, field string) []bson.Raw {
	mt.Helper()
	vals, err := cmd.Lookup(field).Array().Values()
	require.NoError(mt, err)
	out := make([]bson.Raw, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Document())
	}
	return out
}

func onlyCommand(mt *mtest.T, name, coll string) bson.Raw {
	mt.Helper()
	cmds := sent(mt, name, coll)
	require.Len(mt, cmds, 1, "%s on %s", name, coll)
	return cmds[0]
}

func TestCreateUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("creates the profile on the plan", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		u, err := s.CreateUser(ctx, "a@b.fr", "hash", auth.RoleOwner, "Ana", "Acme", "")
		require.NoError(mt, err)
		assert.True(mt, u.IsActive)

		profile := entries(mt, onlyCommand(mt, "insert", colProfiles), "documents")[0]
		assert.Equal(mt, u.ID, profile.Lookup("_id").StringValue())
		assert.Equal(mt, "free", profile.Lookup("plan").StringValue())
		assert.EqualValues(mt, 30, profile.Lookup("minutes_quota").AsInt64())
		assert.True(mt, storeNow.Equal(profile.Lookup("period_start").Time()))
	})

	mt.Run("refuses a registered email", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(duplicate())

		_, err := s.CreateUser(ctx, "a@b.fr", "hash", auth.RoleOwner, "", "", "")
		assert.ErrorIs(mt, err, ErrEmailTaken)
		assert.Empty(mt, sent(mt, "insert", colProfiles))
	})

	mt.Run("removes the user when the profile fails", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), failed(), written(1))

		_, err := s.CreateUser(ctx, "a@b.fr", "hash", auth.RoleOwner, "", "", "")
		require.Error(mt, err)

		userID := entries(mt, onlyCommand(mt, "insert", colUsers), "documents")[0].Lookup("_id").StringValue()
		del := entries(mt, onlyCommand(mt, "delete", colUsers), "deletes")[0]
		assert.Equal(mt, userID, del.Lookup("q", "_id").StringValue())
	})
}

func TestAgents_ScopedToOwner(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("reads", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(cursor(colAgents))

		_, err := s.Agent(ctx, "someone-else", "a1")
		assert.ErrorIs(mt, err, ErrNotFound)

		find := onlyCommand(mt, "find", colAgents)
		assert.Equal(mt, "someone-else", find.Lookup("filter", "user_id").StringValue())
		assert.Equal(mt, "a1", find.Lookup("filter", "_id").StringValue())
	})

	mt.Run("writes", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(nil), written(0))

		_, err := s.UpdateAgent(ctx, "someone-else", "a1", bson.M{"name": "pwned"})
		assert.ErrorIs(mt, err, ErrNotFound)
		assert.Equal(mt, "someone-else", onlyCommand(mt, "findAndModify", colAgents).Lookup("query", "user_id").StringValue())

		assert.ErrorIs(mt, s.DeleteAgent(ctx, "someone-else", "a1"), ErrNotFound)
		assert.Empty(mt, sent(mt, "delete", colKnowledge), "nothing else is removed for a foreign agent")
		assert.Empty(mt, sent(mt, "delete", colWidgets))
	})

	mt.Run("vendor lookups span tenants", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(cursor(colAgents, bson.D{{Key: "_id", Value: "a1"}, {Key: "user_id", Value: "owner"}, {Key: "vendor_agent_id", Value: "agent_x"}}))

		a, err := s.AgentByVendorID(ctx, "agent_x")
		require.NoError(mt, err)
		assert.Equal(mt, "a1", a.ID)
		_, scoped := onlyCommand(mt, "find", colAgents).Lookup("filter").Document().Lookup("user_id").StringValueOK()
		assert.False(mt, scoped)
	})
}

func TestAddContacts(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("skips phones already in the campaign", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "n", Value: 2},
			{Key: "writeErrors", Value: bson.A{
				bson.D{{Key: "index", Value: 2}, {Key: "code", Value: 11000}, {Key: "errmsg", Value: "E11000 duplicate key error"}},
			}},
		})

		n, err := s.AddContacts(context.Background(), "u1", "c1", []models.Contact{
			{Phone: "+33612345678"}, {Phone: "+33612345679"}, {Phone: "+33612345678"},
		})
		require.NoError(mt, err)
		assert.Equal(mt, 2, n)

		docs := entries(mt, onlyCommand(mt, "insert", colContacts), "documents")
		require.Len(mt, docs, 3)
		ids := map[string]bool{}
		for _, d := range docs {
			assert.Equal(mt, "u1", d.Lookup("user_id").StringValue())
			assert.Equal(mt, "c1", d.Lookup("campaign_id").StringValue())
			assert.Equal(mt, models.ContactPending, d.Lookup("status").StringValue())
			ids[d.Lookup("_id").StringValue()] = true
		}
		assert.Len(mt, ids, 3)
	})
}

func TestDueContacts(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("pending contacts whose attempt is due", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(cursor(colContacts, bson.D{{Key: "_id", Value: "k1"}, {Key: "campaign_id", Value: "c1"}, {Key: "status", Value: "pending"}}))

		due, err := s.DueContacts(context.Background(), "c1", storeNow, 10)
		require.NoError(mt, err)
		require.Len(mt, due, 1)

		find := onlyCommand(mt, "find", colContacts)
		assert.Equal(mt, models.ContactPending, find.Lookup("filter", "status").StringValue())
		clauses, err := find.Lookup("filter", "$or").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, clauses, 2)
		assert.Equal(mt, bson.TypeNull, clauses[0].Document().Lookup("next_attempt_at").Type)
		assert.True(mt, storeNow.Equal(clauses[1].Document().Lookup("next_attempt_at", "$lte").Time()))
		assert.EqualValues(mt, 10, find.Lookup("limit").AsInt64())
	})
}

func TestClaimAndSettleContact(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	calling := bson.D{{Key: "_id", Value: "k1"}, {Key: "status", Value: models.ContactCalling}, {Key: "attempts", Value: 1}}

	mt.Run("claims a pending contact once", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(calling), modified(nil))

		c, ok, err := s.ClaimContact(ctx, "k1")
		require.NoError(mt, err)
		require.True(mt, ok)
		assert.Equal(mt, 1, c.Attempts)

		_, ok, err = s.ClaimContact(ctx, "k1")
		require.NoError(mt, err)
		assert.False(mt, ok)

		cmd := sent(mt, "findAndModify", colContacts)[0]
		assert.Equal(mt, models.ContactPending, cmd.Lookup("query", "status").StringValue())
		assert.EqualValues(mt, 1, cmd.Lookup("update", "$inc", "attempts").AsInt64())
		assert.Equal(mt, models.ContactCalling, cmd.Lookup("update", "$set", "status").StringValue())
	})

	mt.Run("settles only calling contacts", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(nil))

		_, ok, err := s.SettleContact(ctx, "k1", bson.M{"status": models.ContactFailed})
		require.NoError(mt, err)
		assert.False(mt, ok, "finished contacts are not reopened")
		assert.Equal(mt, models.ContactCalling, onlyCommand(mt, "findAndModify", colContacts).Lookup("query", "status").StringValue())
	})
}

func TestCampaignStats(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("counts each status", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(
			counted(colContacts, 3), // pending
			counted(colContacts, 1), // calling
			counted(colContacts, 4), // completed
			counted(colContacts, 0), // failed
			counted(colContacts, 2), // skipped
		)

		st, err := s.CampaignStats(context.Background(), "c1")
		require.NoError(mt, err)
		assert.Equal(mt, models.CampaignStats{Total: 10, Pending: 3, Calling: 1, Completed: 4, Skipped: 2}, st)
	})

	mt.Run("stops on the first failure", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(counted(colContacts, 3), failed())

		_, err := s.CampaignStats(context.Background(), "c1")
		assert.Error(mt, err)
	})
}

func TestTransitionCampaign(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	campaign := func(status string) bson.D {
		return bson.D{{Key: "_id", Value: "c1"}, {Key: "user_id", Value: "u1"}, {Key: "status", Value: status}}
	}

	mt.Run("starts a draft", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(campaign(models.CampaignRunning)))

		got, err := s.TransitionCampaign(ctx, "u1", "c1", []string{models.CampaignDraft}, models.CampaignRunning)
		require.NoError(mt, err)
		assert.Equal(mt, models.CampaignRunning, got.Status)

		cmd := onlyCommand(mt, "findAndModify", colCampaigns)
		assert.Equal(mt, "u1", cmd.Lookup("query", "user_id").StringValue())
		assert.True(mt, storeNow.Equal(cmd.Lookup("update", "$set", "started_at").Time()))
		from, err := cmd.Lookup("query", "status", "$in").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, from, 1)
		assert.Equal(mt, models.CampaignDraft, from[0].StringValue())
	})

	mt.Run("stamps completion", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(campaign(models.CampaignCancelled)))

		_, err := s.TransitionCampaign(ctx, "u1", "c1", []string{models.CampaignRunning}, models.CampaignCancelled)
		require.NoError(mt, err)
		cmd := onlyCommand(mt, "findAndModify", colCampaigns)
		assert.True(mt, storeNow.Equal(cmd.Lookup("update", "$set", "completed_at").Time()))
	})

	mt.Run("conflicts on another status", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(nil), cursor(colCampaigns, campaign(models.CampaignDraft)))

		_, err := s.TransitionCampaign(ctx, "u1", "c1", []string{models.CampaignPaused}, models.CampaignRunning)
		assert.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("unknown for another tenant", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(nil), cursor(colCampaigns))

		_, err := s.TransitionCampaign(ctx, "u2", "c1", []string{models.CampaignRunning}, models.CampaignPaused)
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestOTPStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	record := bson.D{
		{Key: "id", Value: "code-1"},
		{Key: "email", Value: "a@b.fr"},
		{Key: "code_hash", Value: "h"},
		{Key: "attempts", Value: 1},
		{Key: "expires_at", Value: storeNow.Add(time.Minute)},
	}

	mt.Run("reserves attempts under the cap", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(record), modified(nil))
		otp := s.OTP()

		rec, ok, err := otp.ReserveAttempt(ctx, auth.PurposeSignup, "code-1", 3)
		require.NoError(mt, err)
		require.True(mt, ok)
		assert.Equal(mt, 1, rec.Attempts)

		_, ok, err = otp.ReserveAttempt(ctx, auth.PurposeSignup, "code-1", 3)
		require.NoError(mt, err)
		assert.False(mt, ok)

		cmd := sent(mt, "findAndModify", colSignupCodes)[0]
		assert.Equal(mt, "code-1", cmd.Lookup("query", "id").StringValue())
		assert.Equal(mt, bson.TypeNull, cmd.Lookup("query", "used_at").Type)
		assert.EqualValues(mt, 3, cmd.Lookup("query", "attempts", "$lt").AsInt64())
		assert.EqualValues(mt, 1, cmd.Lookup("update", "$inc", "attempts").AsInt64())
	})

	mt.Run("keeps reset codes apart", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(nil))

		used, err := s.OTP().MarkUsed(ctx, auth.PurposePasswordReset, "code-1", storeNow)
		require.NoError(mt, err)
		assert.False(mt, used)

		cmd := onlyCommand(mt, "findAndModify", colResetCodes)
		assert.Equal(mt, bson.TypeNull, cmd.Lookup("query", "used_at").Type)
		assert.True(mt, storeNow.Equal(cmd.Lookup("update", "$set", "used_at").Time()))
	})

	mt.Run("replaces the unused code", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(written(1), mtest.CreateSuccessResponse())

		require.NoError(mt, s.OTP().ReplaceCode(ctx, auth.PurposeSignup, &auth.OTPRecord{ID: "code-2", Email: "a@b.fr", CodeHash: "h2"}))

		del := entries(mt, onlyCommand(mt, "delete", colSignupCodes), "deletes")[0]
		assert.Equal(mt, "a@b.fr", del.Lookup("q", "email").StringValue())
		assert.Equal(mt, bson.TypeNull, del.Lookup("q", "used_at").Type)
		assert.Equal(mt, "code-2", entries(mt, onlyCommand(mt, "insert", colSignupCodes), "documents")[0].Lookup("id").StringValue())
	})

	mt.Run("no live code", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(cursor(colSignupCodes))

		rec, err := s.OTP().LatestCode(ctx, auth.PurposeSignup, "a@b.fr")
		require.NoError(mt, err)
		assert.Nil(mt, rec)
		assert.EqualValues(mt, -1, onlyCommand(mt, "find", colSignupCodes).Lookup("sort", "created_at").AsInt64())
	})
}

func TestAddMinutes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("rolls the period over then counts", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(written(0), written(1))

		require.NoError(mt, s.AddMinutes(ctx, "u1", 29))

		updates := sent(mt, "update", colProfiles)
		require.Len(mt, updates, 2)
		rollover := entries(mt, updates[0], "updates")[0]
		assert.True(mt, storeNow.AddDate(0, -1, 0).Equal(rollover.Lookup("q", "period_start", "$lt").Time()))
		assert.EqualValues(mt, 0, rollover.Lookup("u", "$set", "minutes_used").AsInt64())
		inc := entries(mt, updates[1], "updates")[0]
		assert.EqualValues(mt, 29, inc.Lookup("u", "$inc", "minutes_used").AsInt64())
	})

	mt.Run("stops when the rollover fails", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(failed())

		err := s.AddMinutes(ctx, "u1", 2)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "roll usage period")
		assert.Len(mt, sent(mt, "update", colProfiles), 1, "minutes are not added after a failed rollover")
	})

	mt.Run("unknown profile", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(written(0), written(0))

		assert.ErrorIs(mt, s.AddMinutes(ctx, "ghost", 2), ErrNotFound)
	})

	mt.Run("nothing to add", func(mt *mtest.T) {
		s := newMockStore(mt)

		require.NoError(mt, s.AddMinutes(ctx, "u1", 0))
		assert.Empty(mt, mt.GetAllStartedEvents())
	})
}

func TestQuotaExhausted(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	profile := func(used int, periodStart time.Time) bson.D {
		return bson.D{
			{Key: "_id", Value: "u1"},
			{Key: "plan", Value: "free"},
			{Key: "minutes_quota", Value: 30},
			{Key: "minutes_used", Value: used},
			{Key: "period_start", Value: periodStart},
		}
	}

	tests := []struct {
		name        string
		used        int
		periodStart time.Time
		want        bool
	}{
		{"minutes left", 29, storeNow.AddDate(0, 0, -3), false},
		{"quota used up", 31, storeNow.AddDate(0, 0, -3), true},
		{"period about to roll over", 31, storeNow.AddDate(0, -2, 0), false},
	}
	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			s := newMockStore(mt)
			mt.AddMockResponses(cursor(colProfiles, profile(tt.used, tt.periodStart)))

			got, err := s.QuotaExhausted(context.Background(), "u1")
			require.NoError(mt, err)
			assert.Equal(mt, tt.want, got)
		})
	}
}

func TestSetPlan(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("keeps usage", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(modified(bson.D{
			{Key: "_id", Value: "u1"}, {Key: "plan", Value: "starter"},
			{Key: "minutes_quota", Value: 300}, {Key: "minutes_used", Value: 31},
		}))

		p, err := s.SetPlan(context.Background(), "u1", "starter")
		require.NoError(mt, err)
		assert.Equal(mt, 31, p.MinutesUsed)

		set := onlyCommand(mt, "findAndModify", colProfiles).Lookup("update", "$set").Document()
		assert.Equal(mt, "starter", set.Lookup("plan").StringValue())
		assert.EqualValues(mt, 300, set.Lookup("minutes_quota").AsInt64())
		_, touched := set.Lookup("minutes_used").Int32OK()
		assert.False(mt, touched)
	})
}

func TestCreateWidget(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("one widget per agent", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), duplicate())

		first := &models.Widget{UserID: "u1", AgentID: "a1", Name: "Site"}
		require.NoError(mt, s.CreateWidget(context.Background(), first))
		assert.NotEmpty(mt, first.ID)

		err := s.CreateWidget(context.Background(), &models.Widget{UserID: "u1", AgentID: "a1", Name: "Again"})
		assert.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("other failures pass through", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(failed())

		err := s.CreateWidget(context.Background(), &models.Widget{UserID: "u1", AgentID: "a1"})
		require.Error(mt, err)
		assert.NotErrorIs(mt, err, ErrConflict)
	})
}

func TestSaveConversation(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	msgs := []models.Message{{Role: "agent", Text: "Bonjour"}, {Role: "user", Text: "Salut"}}

	mt.Run("creates on first delivery", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(cursor(colConversations), written(1), written(0), mtest.CreateSuccessResponse())

		conv := &models.Conversation{UserID: "u1", AgentID: "a1", VendorConversationID: "conv_1", Status: "done", DurationSecs: 90}
		created, err := s.SaveConversation(ctx, conv, msgs)
		require.NoError(mt, err)
		assert.True(mt, created)
		require.NotEmpty(mt, conv.ID)

		upsert := entries(mt, onlyCommand(mt, "update", colConversations), "updates")[0]
		assert.True(mt, upsert.Lookup("upsert").Boolean())
		assert.Equal(mt, "conv_1", upsert.Lookup("q", "vendor_conversation_id").StringValue())
		assert.Equal(mt, conv.ID, upsert.Lookup("u", "$setOnInsert", "_id").StringValue())

		docs := entries(mt, onlyCommand(mt, "insert", colMessages), "documents")
		require.Len(mt, docs, 2)
		for i, d := range docs {
			assert.Equal(mt, conv.ID, d.Lookup("conversation_id").StringValue())
			assert.Equal(mt, "u1", d.Lookup("user_id").StringValue())
			assert.EqualValues(mt, i, d.Lookup("seq").AsInt64())
		}
	})

	mt.Run("keeps identity and billing on replay", func(mt *mtest.T) {
		s := newMockStore(mt)
		mt.AddMockResponses(
			cursor(colConversations, bson.D{
				{Key: "_id", Value: "conv-row-1"},
				{Key: "vendor_conversation_id", Value: "conv_1"},
				{Key: "minutes_billed", Value: 2},
				{Key: "created_at", Value: storeNow.Add(-time.Hour)},
			}),
			written(1), written(2), mtest.CreateSuccessResponse(),
		)

		again := &models.Conversation{UserID: "u1", AgentID: "a1", VendorConversationID: "conv_1", Status: "done", DurationSecs: 95}
		created, err := s.SaveConversation(ctx, again, msgs[:1])
		require.NoError(mt, err)
		assert.False(mt, created)
		assert.Equal(mt, "conv-row-1", again.ID)
		assert.Equal(mt, 2, again.MinutesBilled)
		assert.True(mt, storeNow.Add(-time.Hour).Equal(again.CreatedAt))

		del := entries(mt, onlyCommand(mt, "delete", colMessages), "deletes")[0]
		assert.Equal(mt, "conv-row-1", del.Lookup("q", "conversation_id").StringValue())
	})
}
