package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TZ", "UTC")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 10, cfg.OTPTTLMin)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.VendorTimeout())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "JWT_SECRET=from-file\nAPP_PORT=9090\nCORS_ALLOWED_ORIGINS=https://a.com, ,https://b.com\nTZ=UTC\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// godotenv never overrides variables that are already set
	os.Unsetenv("APP_PORT")
	os.Unsetenv("CORS_ALLOWED_ORIGINS")
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("APP_PORT")
		os.Unsetenv("CORS_ALLOWED_ORIGINS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, cfg.CORSAllowedOrigins)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TZ", "UTC")

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TZ", "Mars/Olympus")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{AppEnv: "development"}
	assert.NoError(t, cfg.ValidateServer())

	cfg.AppEnv = "production"
	err := cfg.ValidateServer()
	require.Error(t, err)
	assert.Equal(t, "production requires ELEVENLABS_WEBHOOK_SECRET, TOOL_WEBHOOK_SECRET, TWILIO_AUTH_TOKEN", err.Error())

	cfg.ToolSecret = "tool"
	cfg.ElevenLabsWebhookSecret = "whsec"
	err = cfg.ValidateServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWILIO_AUTH_TOKEN")
	assert.NotContains(t, err.Error(), "TOOL_WEBHOOK_SECRET")

	cfg.TwilioAuthToken = "token"
	assert.NoError(t, cfg.ValidateServer())
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		value    string
		expected int
	}{
		{"", 7},
		{"12", 12},
		{"abc", 7},
	}
	for _, tt := range tests {
		t.Setenv("HALLCALL_TEST_INT", tt.value)
		assert.Equal(t, tt.expected, getEnvInt("HALLCALL_TEST_INT", 7))
	}
}
