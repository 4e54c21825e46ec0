package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default token endpoint paths on the lettings API
const (
	DefaultTokenPath  = "/auth/token"
	DefaultLogoutPath = "/auth/logout"
	DefaultClientID   = "lettings-web"
)

// TokenRefresher exchanges a refresh token for a fresh session
type TokenRefresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
}

// TokenRefresherFunc adapts a function to a TokenRefresher
type TokenRefresherFunc func(ctx context.Context, refreshToken string) (*Session, error)

func (f TokenRefresherFunc) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return f(ctx, refreshToken)
}

// OAuth2TokenRequest is the request body for token endpoint
type OAuth2TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// OAuth2TokenResponse is the response from token endpoint
type OAuth2TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// TokenError is a non-2xx answer from the token endpoint
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("authentication failed: %s", e.Description)
	case e.Code != "":
		return fmt.Sprintf("authentication failed: %s", e.Code)
	default:
		return fmt.Sprintf("authentication failed: HTTP %d", e.StatusCode)
	}
}

// TokenEndpoint talks to the API's token and logout endpoints. Its HTTPClient
// must not be an authenticated client, otherwise a refresh could recurse.
type TokenEndpoint struct {
	BaseURL    string
	TokenPath  string
	LogoutPath string
	ClientID   string
	HTTPClient *http.Client
}

// NewTokenEndpoint creates a TokenEndpoint with the default paths
func NewTokenEndpoint(baseURL string) *TokenEndpoint {
	return &TokenEndpoint{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		TokenPath:  DefaultTokenPath,
		LogoutPath: DefaultLogoutPath,
		ClientID:   DefaultClientID,
		HTTPClient: &http.Client{},
	}
}

// RefreshSession performs the refresh_token grant
func (e *TokenEndpoint) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return e.requestToken(ctx, OAuth2TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     e.ClientID,
	})
}

// PasswordGrant logs in with username and password
func (e *TokenEndpoint) PasswordGrant(ctx context.Context, username, password, scope string) (*Session, error) {
	return e.requestToken(ctx, OAuth2TokenRequest{
		GrantType: "password",
		Username:  username,
		Password:  password,
		Scope:     scope,
		ClientID:  e.ClientID,
	})
}

// Revoke asks the server to forget a refresh token
func (e *TokenEndpoint) Revoke(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+e.LogoutPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &TokenError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (e *TokenEndpoint) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

// requestToken makes a token request to the server
func (e *TokenEndpoint) requestToken(ctx context.Context, treq OAuth2TokenRequest) (*Session, error) {
	if e.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	path := e.TokenPath
	if path == "" {
		path = DefaultTokenPath
	}

	jsonBody, err := json.Marshal(treq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var tokenResp OAuth2TokenResponse
	decodeErr := json.Unmarshal(body, &tokenResp)

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenError{
			StatusCode:  resp.StatusCode,
			Code:        tokenResp.Error,
			Description: tokenResp.ErrorDesc,
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("invalid response from server: %w", decodeErr)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("invalid response from server: missing access token")
	}

	sess := &Session{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
	}
	if tokenResp.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return sess, nil
}
