package env

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	AppPort        string
	TZ             string
	PublicBaseURL  string // Where embed.js and the widget iframe are served from
	DashboardURL   string
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTTLMin   int
	RefreshTTLDays int

	RedisURL string

	MongoURI string
	DBName   string

	// Conversational voice vendor (ElevenLabs)
	ElevenLabsAPIKey        string
	ElevenLabsBaseURL       string
	ElevenLabsVoiceID       string
	ElevenLabsModel         string
	ElevenLabsOutputFormat  string
	ElevenLabsWebhookSecret string
	VendorTimeoutMs         int

	// Telephony (Twilio)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioBaseURL    string

	// Transactional email (Resend)
	ResendAPIKey  string
	ResendBaseURL string
	MailFrom      string

	// OAuth integrations
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string
	OAuthRedirectBaseURL  string
	GoogleCalendarBaseURL string
	MicrosoftGraphBaseURL string

	// Tool webhook shared secret sent by the voice agent's RDV tool
	ToolSecret string

	OTPTTLMin      int
	OTPMaxAttempts int

	DialerIntervalSec  int
	DialerCallsPerSec  int
	DialerBatchSize    int
	DefaultRetryMax    int
	DefaultRetryGapMin int
	WorkerConcurrency  int
	WorkerQueues       string
	APIRateLimitRPM    int

	StorageDriver    string
	LocalStoragePath string

	LogLevel           string
	CORSAllowedOrigins []string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing .env is fine: production injects the environment directly.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		AppPort:        getEnv("APP_PORT", "8080"),
		TZ:             getEnv("TZ", "Europe/Paris"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DashboardURL:   strings.TrimRight(getEnv("DASHBOARD_URL", "http://localhost:3000"), "/"),
		JWTSecret:      mustGetEnv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", "hallcall"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "hallcall-api"),
		AccessTTLMin:   getEnvInt("ACCESS_TTL_MIN", 60),
		RefreshTTLDays: getEnvInt("REFRESH_TTL_DAYS", 30),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "hallcall"),

		ElevenLabsAPIKey:        getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL:       getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID:       getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModel:         getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		ElevenLabsOutputFormat:  getEnv("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
		ElevenLabsWebhookSecret: getEnv("ELEVENLABS_WEBHOOK_SECRET", ""),
		VendorTimeoutMs:         getEnvInt("VENDOR_TIMEOUT_MS", 30000),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioBaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),

		ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
		ResendBaseURL: getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		MailFrom:      getEnv("MAIL_FROM", "HallCall <no-reply@hallcall.app>"),

		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenant:       getEnv("MICROSOFT_TENANT", "common"),
		OAuthRedirectBaseURL:  strings.TrimRight(getEnv("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080"), "/"),
		GoogleCalendarBaseURL: getEnv("GOOGLE_CALENDAR_BASE_URL", "https://www.googleapis.com/calendar/v3"),
		MicrosoftGraphBaseURL: getEnv("MICROSOFT_GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),

		ToolSecret: getEnv("TOOL_WEBHOOK_SECRET", ""),

		OTPTTLMin:      getEnvInt("OTP_TTL_MIN", 10),
		OTPMaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),

		DialerIntervalSec:  getEnvInt("DIALER_INTERVAL_SEC", 30),
		DialerCallsPerSec:  getEnvInt("DIALER_CALLS_PER_SEC", 2),
		DialerBatchSize:    getEnvInt("DIALER_BATCH_SIZE", 50),
		DefaultRetryMax:    getEnvInt("RETRY_MAX", 2),
		DefaultRetryGapMin: getEnvInt("RETRY_GAP_MIN", 30),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 10),
		WorkerQueues:       getEnv("WORKER_QUEUES", "dialer=6,default=1"),
		APIRateLimitRPM:    getEnvInt("API_RATE_LIMIT_RPM", 300),

		StorageDriver:    getEnv("STORAGE_DRIVER", "vendor-proxy"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "/data/audio"),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

// VendorTimeout is the HTTP timeout shared by the vendor clients.
func (c *Config) VendorTimeout() time.Duration {
	if c.VendorTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.VendorTimeoutMs) * time.Millisecond
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ValidateServer checks the settings the API server needs in production.
// Elsewhere an empty webhook secret turns its signature check off.
func (c *Config) ValidateServer() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	for key, value := range map[string]string{
		"TOOL_WEBHOOK_SECRET":       c.ToolSecret,
		"ELEVENLABS_WEBHOOK_SECRET": c.ElevenLabsWebhookSecret,
		"TWILIO_AUTH_TOKEN":         c.TwilioAuthToken,
	} {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("production requires %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(strValue, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
