// Package client provides the authenticated HTTP client used by the lettings
// marketplace front ends. It attaches bearer tokens to outbound requests,
// coordinates a single in-flight token refresh when the API answers 401, queues
// the requests that fail while that refresh is outstanding and replays them with
// the refreshed token. Session credentials live in a pluggable key/value Storage.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Fixed storage keys for the persisted session state.
const (
	KeyAccessToken        = "accessToken"
	KeyRefreshToken       = "refreshToken"
	KeyTokenExpiresAt     = "tokenExpiresAt"
	KeyRedirectAfterLogin = "redirectAfterLogin"
)

// Session holds the credential pair for the signed-in user
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether both tokens are present. A session holding only one of
// the two is not authenticated.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// IsExpired returns true if the access token has a known expiry that has passed
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// IsExpiringSoon returns true if the token has a known expiry within the given duration
func (s *Session) IsExpiringSoon(within time.Duration) bool {
	return !s.ExpiresAt.IsZero() && time.Now().Add(within).After(s.ExpiresAt)
}

// ToOAuth2Token converts the session into an oauth2.Token
func (s *Session) ToOAuth2Token() *oauth2.Token {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    tokenType,
		Expiry:       s.ExpiresAt,
	}
}

// SessionFromOAuth2Token builds a Session from an oauth2.Token
func SessionFromOAuth2Token(tok *oauth2.Token) *Session {
	if tok == nil {
		return nil
	}
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

// Storage is the durable key/value store the session state is persisted in.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetMany writes all values together. Backends that support it apply the
	// writes atomically.
	SetMany(ctx context.Context, values map[string]string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// SessionStore reads and writes Session values over a Storage using the fixed keys
type SessionStore struct {
	storage Storage
}

// NewSessionStore wraps a Storage
func NewSessionStore(storage Storage) *SessionStore {
	return &SessionStore{storage: storage}
}

// Storage returns the underlying key/value storage
func (s *SessionStore) Storage() Storage {
	return s.storage
}

// Load returns the stored session, or nil if either token is missing
func (s *SessionStore) Load(ctx context.Context) (*Session, error) {
	access, okAccess, err := s.storage.Get(ctx, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	refresh, okRefresh, err := s.storage.Get(ctx, KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	if !okAccess || !okRefresh || access == "" || refresh == "" {
		return nil, nil
	}

	sess := &Session{AccessToken: access, RefreshToken: refresh}
	if exp, ok, err := s.storage.Get(ctx, KeyTokenExpiresAt); err == nil && ok && exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			sess.ExpiresAt = t
		}
	}
	return sess, nil
}

// AccessToken returns the stored access token if the stored session is complete
func (s *SessionStore) AccessToken(ctx context.Context) (string, error) {
	sess, err := s.Load(ctx)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// RefreshToken returns the stored refresh token, even when the access token is missing
func (s *SessionStore) RefreshToken(ctx context.Context) (string, error) {
	v, _, err := s.storage.Get(ctx, KeyRefreshToken)
	return v, err
}

// Save writes both tokens in a single SetMany call
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	if !sess.Valid() {
		return ErrIncompleteSession
	}
	values := map[string]string{
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
	}
	if !sess.ExpiresAt.IsZero() {
		values[KeyTokenExpiresAt] = sess.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := s.storage.SetMany(ctx, values); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if sess.ExpiresAt.IsZero() {
		// Drop a stale hint left by an earlier session
		return s.storage.Delete(ctx, KeyTokenExpiresAt)
	}
	return nil
}

// Clear removes both tokens and the expiry hint
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.storage.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyTokenExpiresAt)
}

// SetRedirect remembers where to send the user after the next login
func (s *SessionStore) SetRedirect(ctx context.Context, target string) error {
	return s.storage.SetMany(ctx, map[string]string{KeyRedirectAfterLogin: target})
}

// TakeRedirect returns the stored post-login target and forgets it
func (s *SessionStore) TakeRedirect(ctx context.Context) (string, error) {
	target, ok, err := s.storage.Get(ctx, KeyRedirectAfterLogin)
	if err != nil || !ok {
		return "", err
	}
	if err := s.storage.Delete(ctx, KeyRedirectAfterLogin); err != nil {
		return "", err
	}
	return target, nil
}

// MemoryStorage is an in-process Storage, handy for tests and short-lived tools.
// The zero value is ready to use.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string, len(values))
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
