package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/calendar"
	"github.com/hallcall/hallcall-api/pkg/mongo"
	"github.com/hallcall/hallcall-api/pkg/oauth"
	"github.com/hallcall/hallcall-api/pkg/telephony"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// Handlers below run against the driver's mock deployment: every store call
// consumes the next queued reply, in order.

const mockDB = "hallcall"

var mockIssuer = auth.Issuer{Secret: "handler-secret", Issuer: "hallcall", Audience: "hallcall-api", TTL: time.Hour}

type sentCode struct {
	to, code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (m *fakeMailer) SendSignupCode(_ context.Context, to, _ string, code string) error {
	return m.record(to, code)
}

func (m *fakeMailer) SendPasswordResetCode(_ context.Context, to, code string) error {
	return m.record(to, code)
}

func (m *fakeMailer) record(to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCode{to: to, code: code})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) last() sentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentCode{}
	}
	return m.sent[len(m.sent)-1]
}

func newMockDB(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

// newMockHandler wires a handler to the mocked deployment and a throwaway
// Redis. Vendor clients point nowhere unless opts replace them.
func newMockHandler(mt *mtest.T, opts ...func(*Deps)) (*Handler, *fakeMailer) {
	mt.Helper()
	mr := miniredis.RunT(mt.T)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mt.Cleanup(func() { rdb.Close() })

	st := store.New(mongo.Wrap(mt.Client, mockDB))
	mail := &fakeMailer{}
	cfg := testConfig()
	d := Deps{
		Config:    cfg,
		Store:     st,
		Redis:     rdb,
		Mailer:    mail,
		Issuer:    mockIssuer,
		Refresh:   auth.NewRefreshStore(st.Client(), 30),
		OTP:       auth.NewOTPManager(st.OTP(), 10*time.Minute, 3, store.NewID),
		OAuth:     oauth.NewManager(oauth.Config{}, oauth.NewRedisNonces(rdb)),
		Calendars: calendar.NewService(calendar.Config{}),
		Twilio:    telephony.NewClient("http://127.0.0.1:1", "AC123", cfg.TwilioAuthToken, time.Second, nil),
		Voice:     voice.NewClient(voice.Config{BaseURL: "http://127.0.0.1:1", APIKey: "xi-test", Timeout: time.Second}, zap.NewNop()),
	}
	for _, opt := range opts {
		opt(&d)
	}
	h := NewHandler(d)
	h.now = func() time.Time { return testNow }
	return h, mail
}

func cursorOf(coll string, docs ...bson.D) bson.D {
	return mtest.CreateCursorResponse(0, mockDB+"."+coll, mtest.FirstBatch, docs...)
}

// countOf answers a CountDocuments aggregation.
func countOf(coll string, n int64) bson.D {
	if n == 0 {
		return cursorOf(coll)
	}
	return cursorOf(coll, bson.D{{Key: "n", Value: n}})
}

func okReply() bson.D {
	return mtest.CreateSuccessResponse()
}

// writeReply answers update and delete commands that touched n documents.
func writeReply(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n}, bson.E{Key: "nModified", Value: n})
}

// modifiedReply answers findAndModify. A nil doc means nothing matched.
func modifiedReply(doc bson.D) bson.D {
	if doc == nil {
		return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil})
	}
	return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: doc})
}

func duplicateKeyReply() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})
}

func failureReply() bson.D {
	return mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "mocked failure"})
}

// commandsOn returns the recorded commands of the given name sent to coll.
func commandsOn(mt *mtest.T, name, coll string) []bson.Raw {
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

// insertedDoc returns the last document inserted into coll.
func insertedDoc(mt *mtest.T, coll string) bson.Raw {
	mt.Helper()
	cmds := commandsOn(mt, "insert", coll)
	require.NotEmpty(mt, cmds, "nothing inserted into %s", coll)
	docs, err := cmds[len(cmds)-1].Lookup("documents").Array().Values()
	require.NoError(mt, err)
	require.NotEmpty(mt, docs)
	return docs[0].Document()
}

// asDoc turns a recorded document back into a reply payload.
func asDoc(mt *mtest.T, raw bson.Raw) bson.D {
	mt.Helper()
	var d bson.D
	require.NoError(mt, bson.Unmarshal(raw, &d))
	return d
}

// filterOf returns the filter of the last command of the given name on coll.
func filterOf(mt *mtest.T, name, coll, field string) bson.Raw {
	mt.Helper()
	cmds := commandsOn(mt, name, coll)
	require.NotEmpty(mt, cmds, "no %s on %s", name, coll)
	return cmds[len(cmds)-1].Lookup(field).Document()
}
