package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const defaultBcryptCost = bcrypt.DefaultCost

var defaultScopes = []string{"read", "write", "offline"}

type user struct {
	email        string
	passwordHash []byte
	firstName    string
	lastName     string
}

type userStore struct {
	mu    sync.RWMutex
	cost  int
	users map[string]*user
}

func newUserStore(cost int) *userStore {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &userStore{cost: cost, users: map[string]*user{}}
}

func (s *userStore) add(email, password, first, last string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(email)] = &user{email: email, passwordHash: hash, firstName: first, lastName: last}
	return nil
}

func (s *userStore) get(email string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(email)]
	return u, ok
}

// verify returns the canonical user id when the password matches
func (s *userStore) verify(email, password string) (string, bool) {
	u, ok := s.get(email)
	if !ok {
		return "", false
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return "", false
	}
	return u.email, true
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken serves POST /auth/token for the password and refresh_token grants
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		tokenError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.GrantType {
	case "password":
		s.handlePasswordGrant(w, &req)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r, &req)
	default:
		tokenError(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
	}
}

func (s *Server) handlePasswordGrant(w http.ResponseWriter, req *tokenRequest) {
	userID, ok := s.users.verify(req.Username, req.Password)
	if !ok {
		tokenError(w, "invalid_grant", "Invalid credentials", http.StatusUnauthorized)
		return
	}

	scopes := defaultScopes
	if req.Scope != "" {
		scopes = strings.Fields(req.Scope)
	}
	refresh, err := s.refresh.create(userID, scopes)
	if err != nil {
		s.logger.Error("failed to create refresh token", "err", err)
		tokenError(w, "server_error", "Failed to create session", http.StatusInternalServerError)
		return
	}
	s.issuePair(w, userID, refresh, scopes)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	status, delay := s.refreshFault()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		tokenError(w, "invalid_grant", "Refresh disabled", status)
		return
	}
	if req.RefreshToken == "" {
		tokenError(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}

	next, old, err := s.refresh.rotate(req.RefreshToken)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		tokenError(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrTokenReused):
		s.logger.Warn("refresh token reuse, family revoked", "user", old.userID, "generation", old.generation)
		tokenError(w, "invalid_grant", "Token reuse detected, all sessions revoked", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrTokenExpired):
		tokenError(w, "invalid_grant", "Token has expired", http.StatusUnauthorized)
		return
	case err != nil:
		s.logger.Error("failed to rotate refresh token", "err", err)
		tokenError(w, "server_error", "Failed to refresh session", http.StatusInternalServerError)
		return
	}
	s.issuePair(w, old.userID, next, old.scopes)
}

func (s *Server) issuePair(w http.ResponseWriter, userID, refresh string, scopes []string) {
	access, expiresIn, err := s.createAccessToken(userID, scopes)
	if err != nil {
		s.logger.Error("failed to create access token", "err", err)
		tokenError(w, "server_error", "Failed to create token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refresh,
		Scope:        strings.Join(scopes, " "),
	})
}

// handleLogout revokes a refresh token. Unknown tokens are not reported.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		tokenError(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}
	s.refresh.revoke(req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// tokenError sends an OAuth 2.0 error response
func tokenError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
