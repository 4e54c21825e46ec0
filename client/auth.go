package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Defaults for the Authenticator
const (
	DefaultLoginPath      = "/login"
	DefaultRefreshTimeout = 30 * time.Second
)

// Termination reasons, also used as metric labels
const (
	ReasonRefreshFailed = "refresh_failed"
	ReasonRejected      = "rejected_after_retry"
)

// Authenticator owns the session credentials and the refresh coordination
// shared by every client built on it. All JSON and multipart clients of one
// application share a single Authenticator so only one refresh is ever in flight.
type Authenticator struct {
	sessions       *SessionStore
	endpoint       *TokenEndpoint
	refresher      TokenRefresher
	coord          coordinator
	notifier       Notifier
	navigator      Navigator
	logger         *slog.Logger
	metrics        *Metrics
	loginPath      string
	refreshTimeout time.Duration
	refreshAhead   time.Duration
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithTokenRefresher replaces the refresh call made against the token endpoint
func WithTokenRefresher(r TokenRefresher) Option {
	return func(a *Authenticator) {
		a.refresher = r
	}
}

// WithTokenEndpoint replaces the token endpoint used for login, logout and refresh
func WithTokenEndpoint(e *TokenEndpoint) Option {
	return func(a *Authenticator) {
		a.endpoint = e
		a.refresher = e
	}
}

// WithNotifier sets the notification surface
func WithNotifier(n Notifier) Option {
	return func(a *Authenticator) {
		if n != nil {
			a.notifier = n
		}
	}
}

// WithNavigator sets the redirect primitive used when a session ends
func WithNavigator(n Navigator) Option {
	return func(a *Authenticator) {
		if n != nil {
			a.navigator = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the prometheus collectors to update
func WithMetrics(m *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithLoginPath sets where the user is sent when the session cannot be recovered
func WithLoginPath(path string) Option {
	return func(a *Authenticator) {
		a.loginPath = path
	}
}

// WithRefreshTimeout bounds a refresh call. A timeout counts as a failed refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.refreshTimeout = d
		}
	}
}

// WithRefreshAhead refreshes before sending when the access token expires within d.
// Zero disables it.
func WithRefreshAhead(d time.Duration) Option {
	return func(a *Authenticator) {
		a.refreshAhead = d
	}
}

// NewAuthenticator creates an Authenticator for the API at baseURL, persisting
// session state in storage.
func NewAuthenticator(baseURL string, storage Storage, opts ...Option) *Authenticator {
	endpoint := NewTokenEndpoint(baseURL)
	a := &Authenticator{
		sessions:       NewSessionStore(storage),
		endpoint:       endpoint,
		refresher:      endpoint,
		notifier:       NopNotifier{},
		navigator:      NopNavigator{},
		logger:         slog.New(slog.DiscardHandler),
		loginPath:      DefaultLoginPath,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sessions returns the session store
func (a *Authenticator) Sessions() *SessionStore {
	return a.sessions
}

// Logger returns the authenticator's logger
func (a *Authenticator) Logger() *slog.Logger {
	return a.logger
}

// State returns the current refresh state
func (a *Authenticator) State() RefreshState {
	return a.coord.state()
}

// Session returns the stored session, or nil when not logged in
func (a *Authenticator) Session(ctx context.Context) (*Session, error) {
	return a.sessions.Load(ctx)
}

// IsLoggedIn reports whether a complete session is stored
func (a *Authenticator) IsLoggedIn(ctx context.Context) bool {
	sess, err := a.sessions.Load(ctx)
	return err == nil && sess.Valid()
}

// AccessToken returns the access token to attach to a request, read from
// storage at call time. It returns "" when not logged in.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	sess, err := a.sessions.Load(ctx)
	if err != nil || sess == nil {
		return "", err
	}
	if a.refreshAhead > 0 && a.expiringSoon(sess) {
		replay, err := a.Refresh(ctx)
		replay.Dispatch()
		if err != nil {
			return "", err
		}
		return replay.Token, nil
	}
	return sess.AccessToken, nil
}

// expiringSoon uses the stored expiry hint, falling back to the JWT exp claim
func (a *Authenticator) expiringSoon(sess *Session) bool {
	if !sess.ExpiresAt.IsZero() {
		return sess.IsExpiringSoon(a.refreshAhead)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().Add(a.refreshAhead).After(exp.Time)
}

// Replay is the token a failed request should be resubmitted with. Callers
// must call Dispatch right before resubmitting (or when giving up) so queued
// requests are replayed in the order they were queued.
type Replay struct {
	Token   string
	pending *pending
}

// Dispatch releases the next queued request. It is safe to call more than once.
func (r Replay) Dispatch() {
	if r.pending != nil {
		r.pending.dispatched()
	}
}

// Recover handles an authentication failure. A request that has not been
// retried yet is routed through the refresh coordinator; a request that was
// already retried ends the session. cause is the failure being recovered from.
// As with Refresh, the caller must call Dispatch on the returned Replay.
func (a *Authenticator) Recover(ctx context.Context, retried bool, cause error) (Replay, error) {
	if retried {
		a.Terminate(ctx, ReasonRejected)
		return Replay{}, &RejectedError{Err: cause}
	}
	return a.Refresh(ctx)
}

// Refresh obtains a refreshed access token. The first caller issues the
// refresh call; callers arriving while it is outstanding wait for its outcome.
// A failed refresh ends the session.
//
// Queued callers are settled one at a time: the next one is released only
// when the previous one calls Replay.Dispatch, or after a short handoff
// timeout. Always call Dispatch once the replayed request is sent or
// abandoned, otherwise the refresh leader and later waiters stall.
func (a *Authenticator) Refresh(ctx context.Context) (Replay, error) {
	leader, p := a.coord.join()
	if !leader {
		a.metrics.queued()
		a.logger.Debug("request queued behind token refresh")
		out, err := a.coord.wait(ctx, p)
		if err != nil {
			return Replay{}, err
		}
		if out.err != nil {
			return Replay{}, &RefreshError{Err: out.err}
		}
		a.metrics.replayed()
		return Replay{Token: out.session.AccessToken, pending: p}, nil
	}

	sess, err := a.coord.lead(ctx, a.runRefresh)
	if err != nil {
		a.logger.Warn("token refresh failed", "err", err)
		a.Terminate(ctx, ReasonRefreshFailed)
		return Replay{}, &RefreshError{Err: err}
	}
	a.metrics.replayed()
	return Replay{Token: sess.AccessToken}, nil
}

// runRefresh is the body of the single in-flight refresh. Tokens are persisted
// (or cleared) before the coordinator goes back to idle.
func (a *Authenticator) runRefresh(ctx context.Context) (*Session, error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.refreshTimeout)
	defer cancel()

	sess, err := a.exchange(rctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("refresh timed out after %s: %w", a.refreshTimeout, err)
		}
		// rctx may already be past its deadline
		if clearErr := a.sessions.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			a.logger.Error("failed to clear session", "err", clearErr)
		}
		result := "failure"
		if errors.Is(err, ErrNoRefreshToken) {
			result = "no_token"
		}
		a.metrics.refreshed(result, time.Since(start))
		return nil, err
	}

	a.metrics.refreshed("success", time.Since(start))
	a.logger.Debug("token refreshed", "took", time.Since(start))
	return sess, nil
}

func (a *Authenticator) exchange(ctx context.Context) (*Session, error) {
	refreshToken, err := a.sessions.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	if a.refresher == nil {
		return nil, ErrNotConfigured
	}

	sess, err := a.refresher.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.AccessToken == "" {
		return nil, fmt.Errorf("refresh returned no access token")
	}
	// Keep the old refresh token when the server does not rotate it
	if sess.RefreshToken == "" {
		sess.RefreshToken = refreshToken
	}
	if err := a.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Terminate ends the session: credentials are cleared, the user is told the
// session expired, the current location is remembered and the user is sent
// to the login page.
func (a *Authenticator) Terminate(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.sessions.Clear(ctx); err != nil {
		a.logger.Error("failed to clear session", "err", err)
	}
	a.metrics.terminated(reason)
	a.Notify(Notification{
		Kind:       KindSessionExpired,
		Message:    KindSessionExpired.Message(),
		StatusCode: http.StatusUnauthorized,
	})
	if loc := a.navigator.CurrentLocation(ctx); loc != "" {
		if err := a.sessions.SetRedirect(ctx, loc); err != nil {
			a.logger.Error("failed to store post-login redirect", "err", err)
		}
	}
	a.logger.Info("session terminated", "reason", reason)
	a.navigator.Redirect(ctx, a.loginPath)
}

// Notify emits n through the configured notifier and counts it
func (a *Authenticator) Notify(n Notification) {
	a.metrics.notified(n.Kind)
	a.notifier.Notify(n)
}

// Login authenticates with username/password and stores the session
func (a *Authenticator) Login(ctx context.Context, username, password, scope string) (*Session, error) {
	if a.endpoint == nil {
		return nil, ErrNotConfigured
	}
	sess, err := a.endpoint.PasswordGrant(ctx, username, password, scope)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	a.logger.Info("logged in", "user", username)
	return sess, nil
}

// Logout revokes the refresh token on the server (best effort) and clears the session
func (a *Authenticator) Logout(ctx context.Context) error {
	refreshToken, err := a.sessions.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refreshToken != "" && a.endpoint != nil {
		if err := a.endpoint.Revoke(ctx, refreshToken); err != nil {
			a.logger.Warn("failed to revoke refresh token", "err", err)
		}
	}
	return a.sessions.Clear(ctx)
}

// TakePostLoginRedirect returns the location remembered when the last session
// ended, and forgets it.
func (a *Authenticator) TakePostLoginRedirect(ctx context.Context) (string, error) {
	return a.sessions.TakeRedirect(ctx)
}

// TokenSource exposes the stored session as an oauth2.TokenSource
func (a *Authenticator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, auth: a}
}

type tokenSource struct {
	ctx  context.Context
	auth *Authenticator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.auth.AccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	sess, err := ts.auth.sessions.Load(ts.ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	return sess.ToOAuth2Token(), nil
}
