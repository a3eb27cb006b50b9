package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallcall/hallcall-api/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testIssuer = auth.Issuer{Secret: "test-secret", Issuer: "hallcall", Audience: "hallcall-api", TTL: time.Hour}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func perform(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	token, _, err := testIssuer.GenerateAccessToken("user-1", "a@b.fr", auth.RoleOwner)
	require.NoError(t, err)

	r := gin.New()
	r.Use(AuthMiddleware(testIssuer))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.POST("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"bearer", http.MethodGet, "/me", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", http.MethodGet, "/me", "bearer " + token, http.StatusOK},
		{"missing", http.MethodGet, "/me", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/me", "Basic " + token, http.StatusUnauthorized},
		{"garbage", http.MethodGet, "/me", "Bearer nope", http.StatusUnauthorized},
		{"query token on GET", http.MethodGet, "/me?access_token=" + token, "", http.StatusOK},
		{"query token ignored on POST", http.MethodPost, "/me?access_token=" + token, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			w := perform(r, tt.method, tt.path, h)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "user-1", w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_RejectsOtherSecret(t *testing.T) {
	other := testIssuer
	other.Secret = "different"
	token, _, err := other.GenerateAccessToken("user-1", "a@b.fr", auth.RoleOwner)
	require.NoError(t, err)

	r := gin.New()
	r.Use(AuthMiddleware(testIssuer))
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_role", c.GetHeader("X-Role")); c.Next() })
	r.GET("/admin", RoleMiddleware(auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/admin", http.Header{"X-Role": {"admin"}}).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", http.Header{"X-Role": {"owner"}}).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", nil).Code)
}

func TestValidateUUIDParam(t *testing.T) {
	r := gin.New()
	r.GET("/agents/:id", ValidateUUIDParam("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/agents/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/agents/42", nil).Code)
}

func TestValidateCallingWindow(t *testing.T) {
	assert.NoError(t, ValidateCallingWindow("09:00", "18:30", []int{1, 2, 3, 4, 5}))
	assert.Error(t, ValidateCallingWindow("9h", "18:00", nil))
	assert.Error(t, ValidateCallingWindow("18:00", "09:00", nil))
	assert.Error(t, ValidateCallingWindow("09:00", "09:00", nil))
	assert.Error(t, ValidateCallingWindow("09:00", "18:00", []int{7}))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hel\x00lo \n"))
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/api/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/widget/:agentId", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/api/x", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = perform(r, http.MethodGet, "/widget/agent_1", nil)
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
}

func TestRequestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeLimit(10))
	r.POST("/x", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"0123456789"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTraceMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("trace_id")) })

	w := perform(r, http.MethodGet, "/x", http.Header{"X-Trace-Id": {"abc"}})
	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get("X-Trace-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = perform(r, http.MethodGet, "/x", nil)
	assert.NotEmpty(t, w.Body.String())
}

func TestIdempotencyMiddleware_ReplaysSuccess(t *testing.T) {
	client := testRedis(t)

	calls := 0
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "user-1"); c.Next() })
	r.Use(IdempotencyMiddleware(client))
	r.POST("/campaigns", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	h := http.Header{"Idempotency-Key": {"k-1"}}
	first := perform(r, http.MethodPost, "/campaigns", h)
	second := perform(r, http.MethodPost, "/campaigns", h)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Key-Used"))
	assert.Equal(t, 1, calls)

	perform(r, http.MethodPost, "/campaigns", http.Header{"Idempotency-Key": {"k-2"}})
	assert.Equal(t, 2, calls)
}

func TestRateLimiter(t *testing.T) {
	client := testRedis(t)

	r := gin.New()
	r.Use(NewRateLimiter(client, 2).Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/x", nil).Code)
	w := perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestAuthRateLimiter_Blocks(t *testing.T) {
	client := testRedis(t)

	r := gin.New()
	r.POST("/login", NewAuthRateLimiter(client, "login", 1, 60, 120).Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/login", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodPost, "/login", nil).Code)
	w := perform(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestTokenBucket(t *testing.T) {
	client := testRedis(t)
	tb := NewTokenBucket(client, "sms", 2, 1, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := tb.TakeToken(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := tb.TakeToken(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tb.TakeToken(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)
}
