package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"github.com/osmedit/osmedit/pkg/core"
)

// OAuth2 endpoints for the production and sandbox servers.
const (
	ProductionAuthURL  = "https://www.openstreetmap.org/oauth2/authorize"
	ProductionTokenURL = "https://www.openstreetmap.org/oauth2/token"
	DevAuthURL         = "https://master.apis.dev.openstreetmap.org/oauth2/authorize"
	DevTokenURL        = "https://master.apis.dev.openstreetmap.org/oauth2/token"
)

// Scopes requested from the server. Editing needs map read and write;
// user details power the account display.
var Scopes = []string{"read_prefs", "write_api"}

// AuthConfig describes the registered OAuth2 application.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// AuthManager owns the OAuth2 authorization-code flow and persists the
// resulting token so authorization survives restarts. It implements
// TokenProvider.
type AuthManager struct {
	cfg       *oauth2.Config
	tokenPath string
	logger    *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewAuthManager creates a manager storing its token at tokenPath. A token
// already on disk is loaded eagerly; a corrupt or missing file just means
// the user must authorize again.
func NewAuthManager(cfg AuthConfig, tokenPath string, logger *slog.Logger) *AuthManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &AuthManager{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		tokenPath: tokenPath,
		logger:    logger,
	}
	m.loadToken()
	return m
}

func (m *AuthManager) loadToken() {
	data, err := os.ReadFile(m.tokenPath)
	if err != nil {
		return
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		m.logger.Warn("discarding unreadable stored token", "error", err)
		return
	}
	m.token = &tok
}

func (m *AuthManager) saveToken(tok *oauth2.Token) {
	data, err := json.Marshal(tok)
	if err != nil {
		m.logger.Error("marshaling token", "error", err)
		return
	}
	if err := os.WriteFile(m.tokenPath, data, 0o600); err != nil {
		m.logger.Error("persisting token", "path", m.tokenPath, "error", err)
	}
}

// AuthCodeURL returns the browser URL that starts the authorization flow.
func (m *AuthManager) AuthCodeURL(state string) string {
	return m.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems an authorization code for a token and persists it.
func (m *AuthManager) Exchange(ctx context.Context, code string) error {
	tok, err := m.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
	m.saveToken(tok)
	return nil
}

// Authorized reports whether a token is on hand.
func (m *AuthManager) Authorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil
}

// AccessToken returns a valid bearer token, refreshing through the token
// endpoint when the cached one has expired.
func (m *AuthManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return "", core.ErrAuthRequired
	}
	fresh, err := m.cfg.TokenSource(ctx, m.token).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	if fresh.AccessToken != m.token.AccessToken {
		m.token = fresh
		m.saveToken(fresh)
	}
	return fresh.AccessToken, nil
}

// Logout drops the token from memory and disk.
func (m *AuthManager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	if err := os.Remove(m.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stored token: %w", err)
	}
	return nil
}

// StaticTokenProvider serves a fixed token, useful for tests and personal
// access tokens.
type StaticTokenProvider string

// AccessToken implements TokenProvider.
func (s StaticTokenProvider) AccessToken(context.Context) (string, error) {
	if s == "" {
		return "", core.ErrAuthRequired
	}
	return string(s), nil
}
