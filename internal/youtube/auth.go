package youtube

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth scopes required for uploads and analytics reporting.
var Scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/yt-analytics.readonly",
}

// TokenStore persists the OAuth token pair on disk. Absence of the file
// means "not connected"; a corrupt file is treated the same way rather
// than failing startup.
type TokenStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewTokenStore(path string, logger *slog.Logger) *TokenStore {
	return &TokenStore{path: path, logger: logger}
}

// Load returns the stored token, or nil when not connected.
func (s *TokenStore) Load() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		if s.logger != nil {
			s.logger.Warn("stored credential is corrupt, treating as disconnected", "path", s.path, "error", err)
		}
		return nil
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil
	}
	return &tok
}

func (s *TokenStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the credential. Missing file is not an error.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Connected reports whether a credential is stored.
func (s *TokenStore) Connected() bool {
	return s.Load() != nil
}

// Auth drives the authorization-code handshake and hands out valid tokens,
// refreshing them transparently before expiry.
type Auth struct {
	cfg    *oauth2.Config
	store  *TokenStore
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]time.Time
}

func NewAuth(clientID, clientSecret, redirectURL string, store *TokenStore, logger *slog.Logger) *Auth {
	return &Auth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		store:  store,
		logger: logger,
		states: make(map[string]time.Time),
	}
}

// AuthURL returns the consent page URL and the state nonce to verify the
// callback against.
func (a *Auth) AuthURL() (string, string) {
	b := make([]byte, 16)
	rand.Read(b)
	state := hex.EncodeToString(b)

	a.mu.Lock()
	a.states[state] = time.Now().Add(10 * time.Minute)
	a.mu.Unlock()

	url := a.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return url, state
}

// Exchange validates the callback state, trades the code for a token pair
// and persists it. This is the moment the Credential comes into existence.
func (a *Auth) Exchange(ctx context.Context, code, state string) error {
	a.mu.Lock()
	expiry, ok := a.states[state]
	delete(a.states, state)
	for s, exp := range a.states {
		if time.Now().After(exp) {
			delete(a.states, s)
		}
	}
	a.mu.Unlock()

	if !ok || time.Now().After(expiry) {
		return fmt.Errorf("unknown or expired oauth state")
	}

	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	if err := a.store.Save(tok); err != nil {
		return err
	}

	if a.logger != nil {
		a.logger.Info("destination account connected")
	}
	return nil
}

// Token returns a valid access token, refreshing and re-persisting it when
// expired. Returns (nil, nil) when not connected.
func (a *Auth) Token(ctx context.Context) (*oauth2.Token, error) {
	stored := a.store.Load()
	if stored == nil {
		return nil, nil
	}
	if stored.Valid() {
		return stored, nil
	}
	if stored.RefreshToken == "" {
		return nil, ErrAuthExpired
	}

	fresh, err := a.cfg.TokenSource(ctx, stored).Token()
	if err != nil {
		// An explicit rejection (invalid_grant etc.) means the grant is
		// gone; anything else is a transient refresh failure.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode < 500 && retrieveErr.Response.StatusCode != 429 {
			return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return nil, &TransientError{Err: fmt.Errorf("token refresh: %w", err)}
	}

	// The provider may rotate the refresh token; keep the old one if not.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}
	if err := a.store.Save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Disconnect destroys the Credential.
func (a *Auth) Disconnect() error {
	if err := a.store.Clear(); err != nil {
		return err
	}
	if a.logger != nil {
		a.logger.Info("destination account disconnected")
	}
	return nil
}

// Connected reports the single fact gating the upload orchestrator and the
// dashboard's connected-state branch.
func (a *Auth) Connected() bool {
	return a.store.Connected()
}
