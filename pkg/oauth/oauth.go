// Package oauth runs the OAuth2 authorization code flow for calendar
// integrations and refreshes stored tokens on demand.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"

	stateTTL = 10 * time.Minute
)

var (
	ErrUnknownProvider = errors.New("unknown integration provider")
	ErrInvalidState    = errors.New("invalid or expired oauth state")
)

// Config carries client credentials for every supported provider.
type Config struct {
	RedirectBaseURL       string // callbacks land on {base}/integrations/{provider}/callback
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string
}

// State travels through the provider in the state parameter.
type State struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Nonce    string `json:"nonce"`
	Redirect string `json:"redirect,omitempty"`
}

// NonceStore remembers issued nonces so each state is accepted once.
type NonceStore interface {
	Save(ctx context.Context, nonce, userID string, ttl time.Duration) error
	// Consume deletes the nonce and returns the user it was issued to ("" if unknown).
	Consume(ctx context.Context, nonce string) (string, error)
}

type Manager struct {
	configs map[string]*oauth2.Config
	nonces  NonceStore
}

func NewManager(cfg Config, nonces NonceStore) *Manager {
	configs := map[string]*oauth2.Config{}
	if cfg.GoogleClientID != "" {
		configs[ProviderGoogle] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectBaseURL + "/integrations/google/callback",
			Scopes: []string{
				"openid",
				"email",
				"https://www.googleapis.com/auth/calendar.events",
				"https://www.googleapis.com/auth/calendar.readonly",
			},
		}
	}
	if cfg.MicrosoftClientID != "" {
		tenant := cfg.MicrosoftTenant
		if tenant == "" {
			tenant = "common"
		}
		configs[ProviderMicrosoft] = &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			RedirectURL:  cfg.RedirectBaseURL + "/integrations/microsoft/callback",
			Scopes:       []string{"offline_access", "User.Read", "Calendars.ReadWrite"},
		}
	}
	return &Manager{configs: configs, nonces: nonces}
}

// WithConfig registers or replaces a provider configuration.
func (m *Manager) WithConfig(provider string, cfg *oauth2.Config) *Manager {
	m.configs[provider] = cfg
	return m
}

// Providers lists the configured providers.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.configs))
	for _, p := range []string{ProviderGoogle, ProviderMicrosoft} {
		if _, ok := m.configs[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) config(provider string) (*oauth2.Config, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return cfg, nil
}

// AuthorizeURL builds the consent URL for userID.
func (m *Manager) AuthorizeURL(ctx context.Context, provider, userID, redirect string) (string, error) {
	cfg, err := m.config(provider)
	if err != nil {
		return "", err
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := m.nonces.Save(ctx, nonce, userID, stateTTL); err != nil {
		return "", fmt.Errorf("save oauth nonce: %w", err)
	}

	state, err := EncodeState(State{UserID: userID, Provider: provider, Nonce: nonce, Redirect: redirect})
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if provider == ProviderGoogle {
		// force a refresh token on reconnect
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// Exchange validates the state and trades the code for a token.
func (m *Manager) Exchange(ctx context.Context, provider, code, rawState string) (*State, *oauth2.Token, error) {
	state, err := DecodeState(rawState)
	if err != nil {
		return nil, nil, err
	}
	if state.Provider != provider {
		return nil, nil, ErrInvalidState
	}
	owner, err := m.nonces.Consume(ctx, state.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("consume oauth nonce: %w", err)
	}
	if owner == "" || owner != state.UserID {
		return nil, nil, ErrInvalidState
	}

	cfg, err := m.config(provider)
	if err != nil {
		return nil, nil, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange code: %w", err)
	}
	return state, tok, nil
}

// TokenSource returns a source that refreshes tok when it expires and calls
// persist with every new token.
func (m *Manager) TokenSource(ctx context.Context, provider string, tok *oauth2.Token, persist func(*oauth2.Token) error) (oauth2.TokenSource, error) {
	cfg, err := m.config(provider)
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base:    oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		last:    tok.AccessToken,
		persist: persist,
	}, nil
}

// persistingSource saves each refreshed token once. Calendar clients share it
// across goroutines.
type persistingSource struct {
	base    oauth2.TokenSource
	persist func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if s.persist != nil {
			if err := s.persist(tok); err != nil {
				return nil, fmt.Errorf("persist refreshed token: %w", err)
			}
		}
	}
	return tok, nil
}

// EncodeState serialises s as unpadded base64url JSON.
func EncodeState(s State) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState parses a state produced by EncodeState.
func DecodeState(raw string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidState
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ErrInvalidState
	}
	if s.UserID == "" || s.Provider == "" || s.Nonce == "" {
		return nil, ErrInvalidState
	}
	return &s, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RedisNonces keeps nonces in Redis with a TTL.
type RedisNonces struct {
	client *redis.Client
}

func NewRedisNonces(client *redis.Client) *RedisNonces {
	return &RedisNonces{client: client}
}

func (r *RedisNonces) Save(ctx context.Context, nonce, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, "oauth:nonce:"+nonce, userID, ttl).Err()
}

func (r *RedisNonces) Consume(ctx context.Context, nonce string) (string, error) {
	userID, err := r.client.GetDel(ctx, "oauth:nonce:"+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return userID, err
}
