package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"golang.org/x/crypto/bcrypt"

	"github.com/hallcall/hallcall-api/pkg/auth"
)

func authRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/signup/verify", h.VerifySignup)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/forgot-password", h.ForgotPassword)
	r.POST("/auth/reset-password", h.ResetPassword)
	return r
}

func hashFor(mt *mtest.T, secret string) string {
	mt.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(mt, err)
	return string(hash)
}

// codeDoc is a stored one-time code as LatestCode reads it back.
func codeDoc(mt *mtest.T, email, code string, attempts int, expiresIn time.Duration) bson.D {
	now := time.Now().UTC()
	return bson.D{
		{Key: "id", Value: "code-1"},
		{Key: "email", Value: email},
		{Key: "code_hash", Value: hashFor(mt, code)},
		{Key: "expires_at", Value: now.Add(expiresIn)},
		{Key: "used_at", Value: nil},
		{Key: "attempts", Value: attempts},
		{Key: "created_at", Value: now},
		{Key: "user_id", Value: "user-1"},
	}
}

func userDoc(mt *mtest.T, email, password string, active bool) bson.D {
	return bson.D{
		{Key: "_id", Value: "user-1"},
		{Key: "email", Value: email},
		{Key: "password_hash", Value: hashFor(mt, password)},
		{Key: "role", Value: auth.RoleOwner},
		{Key: "is_active", Value: active},
	}
}

func TestSignup(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("emails a code for a new address", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mt.AddMockResponses(
			countOf("users", 0),
			writeReply(0),
			okReply(),
		)

		w := do(authRouter(h), http.MethodPost, "/auth/signup", `{"email":"Jane@Example.com","password":"s3cret-pass","full_name":"Jane Doe"}`, nil)
		require.Equal(mt, http.StatusAccepted, w.Code, w.Body.String())

		sent := mail.last()
		assert.Equal(mt, "jane@example.com", sent.to)
		assert.Len(mt, sent.code, 6)

		pending := insertedDoc(mt, "signup_verification_codes")
		assert.Equal(mt, "jane@example.com", pending.Lookup("email").StringValue())
		assert.EqualValues(mt, 0, pending.Lookup("attempts").AsInt64())
		assert.NoError(mt, bcrypt.CompareHashAndPassword([]byte(pending.Lookup("code_hash").StringValue()), []byte(sent.code)))
		assert.NoError(mt, auth.VerifyPassword(pending.Lookup("password_hash").StringValue(), "s3cret-pass"))
	})

	mt.Run("rejects a registered address", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mt.AddMockResponses(countOf("users", 1))

		w := do(authRouter(h), http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"s3cret-pass","full_name":"Jane Doe"}`, nil)
		assert.Equal(mt, http.StatusConflict, w.Code)
		assert.Zero(mt, mail.count())
		assert.Empty(mt, commandsOn(mt, "insert", "signup_verification_codes"))
	})

	mt.Run("rejects a weak password before touching storage", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)

		w := do(authRouter(h), http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"password","full_name":"Jane Doe"}`, nil)
		assert.Equal(mt, http.StatusBadRequest, w.Code)
		assert.Empty(mt, mt.GetAllStartedEvents())
	})

	mt.Run("reports a mail failure as a vendor error", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mail.err = fmt.Errorf("resend down")
		mt.AddMockResponses(countOf("users", 0), writeReply(0), okReply())

		w := do(authRouter(h), http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"s3cret-pass","full_name":"Jane Doe"}`, nil)
		assert.Equal(mt, http.StatusBadGateway, w.Code)
	})
}

func TestSignupThenVerify(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("creates the account from the pending registration", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		r := authRouter(h)

		mt.AddMockResponses(countOf("users", 0), writeReply(0), okReply())
		w := do(r, http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"s3cret-pass","full_name":"Jane Doe","company":"Cabinet Doe"}`, nil)
		require.Equal(mt, http.StatusAccepted, w.Code, w.Body.String())
		pending := insertedDoc(mt, "signup_verification_codes")
		rec := asDoc(mt, pending)

		mt.ClearEvents()
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", rec),
			modifiedReply(rec), // attempt reserved
			modifiedReply(rec), // marked used
			okReply(),          // users
			okReply(),          // profiles
			okReply(),          // refresh_tokens
			okReply(),          // audit_log
		)
		w = do(r, http.MethodPost, "/auth/signup/verify", fmt.Sprintf(`{"email":"jane@example.com","code":%q}`, mail.last().code), nil)
		require.Equal(mt, http.StatusCreated, w.Code, w.Body.String())

		var resp AuthResponse
		require.NoError(mt, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(mt, resp.AccessToken)
		assert.NotEmpty(mt, resp.RefreshToken)
		assert.Equal(mt, "jane@example.com", resp.User.Email)
		assert.Equal(mt, auth.RoleOwner, resp.User.Role)

		user := insertedDoc(mt, "users")
		assert.Equal(mt, pending.Lookup("password_hash").StringValue(), user.Lookup("password_hash").StringValue())
		profile := insertedDoc(mt, "profiles")
		assert.Equal(mt, resp.User.ID, profile.Lookup("_id").StringValue())
		assert.Equal(mt, "Jane Doe", profile.Lookup("full_name").StringValue())
		assert.Equal(mt, "Cabinet Doe", profile.Lookup("company").StringValue())
		assert.Equal(mt, "free", profile.Lookup("plan").StringValue())

		refresh := insertedDoc(mt, "refresh_tokens")
		assert.Equal(mt, auth.HashToken(resp.RefreshToken), refresh.Lookup("token_hash").StringValue())
	})
}

func TestVerifySignup(t *testing.T) {
	mt := newMockDB(t)
	verify := func(h *Handler, code string) int {
		return do(authRouter(h), http.MethodPost, "/auth/signup/verify", fmt.Sprintf(`{"email":"jane@example.com","code":%q}`, code), nil).Code
	}

	mt.Run("a wrong code reserves one attempt", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", codeDoc(mt, "jane@example.com", "123456", 0, 5*time.Minute)),
			modifiedReply(codeDoc(mt, "jane@example.com", "123456", 1, 5*time.Minute)),
		)

		assert.Equal(mt, http.StatusBadRequest, verify(h, "654321"))

		reserve := commandsOn(mt, "findAndModify", "signup_verification_codes")
		require.Len(mt, reserve, 1, "a failed guess never marks the code used")
		assert.Equal(mt, "code-1", reserve[0].Lookup("query", "id").StringValue())
		assert.EqualValues(mt, 3, reserve[0].Lookup("query", "attempts", "$lt").AsInt64())
		assert.EqualValues(mt, 1, reserve[0].Lookup("update", "$inc", "attempts").AsInt64())
		assert.Empty(mt, commandsOn(mt, "insert", "users"))
	})

	mt.Run("no attempt left locks the code", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", codeDoc(mt, "jane@example.com", "123456", 3, 5*time.Minute)),
			modifiedReply(nil),
		)

		assert.Equal(mt, http.StatusTooManyRequests, verify(h, "123456"))
		assert.Empty(mt, commandsOn(mt, "insert", "users"))
	})

	mt.Run("the last attempt failing locks the code", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", codeDoc(mt, "jane@example.com", "123456", 2, 5*time.Minute)),
			modifiedReply(codeDoc(mt, "jane@example.com", "123456", 3, 5*time.Minute)),
		)

		assert.Equal(mt, http.StatusTooManyRequests, verify(h, "000000"))
	})

	mt.Run("an expired code is refused without an attempt", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", codeDoc(mt, "jane@example.com", "123456", 0, -time.Minute)),
		)

		assert.Equal(mt, http.StatusBadRequest, verify(h, "123456"))
		assert.Empty(mt, commandsOn(mt, "findAndModify", "signup_verification_codes"))
	})

	mt.Run("an address registered meanwhile conflicts", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		rec := codeDoc(mt, "jane@example.com", "123456", 0, 5*time.Minute)
		mt.AddMockResponses(
			cursorOf("signup_verification_codes", rec),
			modifiedReply(rec),
			modifiedReply(rec),
			duplicateKeyReply(),
		)

		assert.Equal(mt, http.StatusConflict, verify(h, "123456"))
	})
}

func TestLogin(t *testing.T) {
	mt := newMockDB(t)
	login := func(h *Handler, password string) int {
		return do(authRouter(h), http.MethodPost, "/auth/login", fmt.Sprintf(`{"email":"Jane@example.com","password":%q}`, password), nil).Code
	}

	mt.Run("issues tokens for the right password", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("users", userDoc(mt, "jane@example.com", "s3cret-pass", true)),
			okReply(),     // refresh_tokens
			writeReply(1), // last_login_at
			okReply(),     // audit_log
		)

		assert.Equal(mt, http.StatusOK, login(h, "s3cret-pass"))
		assert.Equal(mt, "jane@example.com", filterOf(mt, "find", "users", "filter").Lookup("email").StringValue())
		assert.Len(mt, commandsOn(mt, "insert", "refresh_tokens"), 1)
	})

	mt.Run("refuses a wrong password", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("users", userDoc(mt, "jane@example.com", "s3cret-pass", true)))

		assert.Equal(mt, http.StatusUnauthorized, login(h, "wrong-pass1"))
		assert.Empty(mt, commandsOn(mt, "insert", "refresh_tokens"))
	})

	mt.Run("refuses an unknown address the same way", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("users"))

		assert.Equal(mt, http.StatusUnauthorized, login(h, "s3cret-pass"))
	})

	mt.Run("refuses an inactive account", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("users", userDoc(mt, "jane@example.com", "s3cret-pass", false)))

		assert.Equal(mt, http.StatusForbidden, login(h, "s3cret-pass"))
	})
}

func TestForgotPassword(t *testing.T) {
	mt := newMockDB(t)
	body := `{"email":"jane@example.com"}`

	mt.Run("unknown address answers the same without mail", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("users"))

		w := do(authRouter(h), http.MethodPost, "/auth/forgot-password", body, nil)
		assert.Equal(mt, http.StatusOK, w.Code)
		assert.Zero(mt, mail.count())
		assert.Empty(mt, commandsOn(mt, "insert", "password_reset_codes"))
	})

	mt.Run("known address gets a reset code", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mt.AddMockResponses(
			cursorOf("users", userDoc(mt, "jane@example.com", "s3cret-pass", true)),
			writeReply(0),
			okReply(),
		)

		w := do(authRouter(h), http.MethodPost, "/auth/forgot-password", body, nil)
		assert.Equal(mt, http.StatusOK, w.Code)
		assert.Contains(mt, w.Body.String(), "if the account exists")

		require.Equal(mt, 1, mail.count())
		assert.Equal(mt, "jane@example.com", mail.last().to)
		rec := insertedDoc(mt, "password_reset_codes")
		assert.Equal(mt, "user-1", rec.Lookup("user_id").StringValue())
		assert.NoError(mt, bcrypt.CompareHashAndPassword([]byte(rec.Lookup("code_hash").StringValue()), []byte(mail.last().code)))
	})

	mt.Run("a storage failure is not revealed", func(mt *mtest.T) {
		h, mail := newMockHandler(mt)
		mt.AddMockResponses(failureReply())

		w := do(authRouter(h), http.MethodPost, "/auth/forgot-password", body, nil)
		assert.Equal(mt, http.StatusOK, w.Code)
		assert.Zero(mt, mail.count())
	})
}

func TestResetPassword(t *testing.T) {
	mt := newMockDB(t)

	mt.Run("sets the password and signs out every session", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		rec := codeDoc(mt, "jane@example.com", "123456", 0, 5*time.Minute)
		mt.AddMockResponses(
			cursorOf("password_reset_codes", rec),
			modifiedReply(rec),
			modifiedReply(rec),
			writeReply(1), // users
			writeReply(2), // refresh_tokens
			okReply(),     // audit_log
		)

		w := do(authRouter(h), http.MethodPost, "/auth/reset-password", `{"email":"jane@example.com","code":"123456","new_password":"n3w-password"}`, nil)
		require.Equal(mt, http.StatusOK, w.Code, w.Body.String())

		updates := commandsOn(mt, "update", "users")
		require.Len(mt, updates, 1)
		stmts, err := updates[0].Lookup("updates").Array().Values()
		require.NoError(mt, err)
		stmt := stmts[0].Document()
		assert.Equal(mt, "user-1", stmt.Lookup("q", "_id").StringValue())
		assert.NoError(mt, auth.VerifyPassword(stmt.Lookup("u", "$set", "password_hash").StringValue(), "n3w-password"))

		revoke := commandsOn(mt, "update", "refresh_tokens")
		require.Len(mt, revoke, 1)
		stmts, err = revoke[0].Lookup("updates").Array().Values()
		require.NoError(mt, err)
		assert.Equal(mt, "user-1", stmts[0].Document().Lookup("q", "user_id").StringValue())
	})

	mt.Run("rejects a weak password before reading the code", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)

		w := do(authRouter(h), http.MethodPost, "/auth/reset-password", `{"email":"jane@example.com","code":"123456","new_password":"short1"}`, nil)
		assert.Equal(mt, http.StatusBadRequest, w.Code)
		assert.Empty(mt, mt.GetAllStartedEvents())
	})

	mt.Run("a missing code is invalid", func(mt *mtest.T) {
		h, _ := newMockHandler(mt)
		mt.AddMockResponses(cursorOf("password_reset_codes"))

		w := do(authRouter(h), http.MethodPost, "/auth/reset-password", `{"email":"jane@example.com","code":"123456","new_password":"n3w-password"}`, nil)
		assert.Equal(mt, http.StatusBadRequest, w.Code)
		assert.Empty(mt, commandsOn(mt, "update", "users"))
	})
}
