// Package mockapi is an in-process fake of the lettings marketplace API.
//
// It issues short-lived JWT access tokens and rotating refresh tokens, serves
// seeded properties, applications, viewing invites, conversations and inbox
// emails, and lets tests inject faults: expiring every access token, failing
// or delaying the refresh grant, and failing arbitrary paths.
//
//	srv := mockapi.New()
//	ts := httptest.NewServer(srv)
//	defer ts.Close()
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// Seeded account
const (
	DemoUser     = "tenant@example.com"
	DemoPassword = "correct-horse"
)

// Default token lifetimes
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Server is the fake API. It is an http.Handler.
type Server struct {
	router *mux.Router
	logger *slog.Logger

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	bcryptCost int

	epoch  atomic.Int64
	issued atomic.Int64

	refresh *refreshStore
	users   *userStore
	data    *dataStore

	faultsMu     sync.Mutex
	refreshFail  int
	refreshDelay time.Duration
	pathFail     map[string]int
	requests     map[string]int
	refreshCalls int
}

// Option configures a Server
type Option func(*Server)

// WithSecret sets the HS256 signing secret
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refresh.ttl = d
		}
	}
}

// WithBcryptCost sets the password hashing cost of seeded and added users
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server with the demo account and seeded data
func New(opts ...Option) *Server {
	s := &Server{
		logger:     slog.New(slog.DiscardHandler),
		secret:     []byte("lettings-mock-secret"),
		issuer:     "lettings-mock",
		accessTTL:  DefaultAccessTTL,
		bcryptCost: defaultBcryptCost,
		refresh:    newRefreshStore(DefaultRefreshTTL),
		data:       newDataStore(),
		pathFail:   map[string]int{},
		requests:   map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.users = newUserStore(s.bcryptCost)
	if err := s.users.add(DemoUser, DemoPassword, "Demo", "Tenant"); err != nil {
		panic(err)
	}
	s.data.seed(DemoUser)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countRequests, s.injectFaults)

	r.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/properties", s.handleSearchProperties).Methods(http.MethodGet)
	api.HandleFunc("/properties/{id}", s.handleGetProperty).Methods(http.MethodGet)
	api.HandleFunc("/applications", s.handleListApplications).Methods(http.MethodGet)
	api.HandleFunc("/applications", s.handleCreateApplication).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}", s.handleGetApplication).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", s.handlePatchApplication).Methods(http.MethodPatch)
	api.HandleFunc("/applications/{id}/submit", s.handleSubmitApplication).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/documents", s.handleUploadDocument).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/references", s.handleRequestReference).Methods(http.MethodPost)
	api.HandleFunc("/viewings", s.handleListViewings).Methods(http.MethodGet)
	api.HandleFunc("/viewings/{id}/respond", s.handleRespondViewing).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/inbox", s.handleInbox).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers another account
func (s *Server) AddUser(email, password string) error {
	return s.users.add(email, password, "", "")
}

// ListenAndServe serves on addr until ctx is done, then drains outstanding
// requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mock api listening", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return err
		}
		s.logger.Info("mock api stopped")
		return nil
	}
}

type ctxKey struct{}

func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requireAuth accepts only a valid Bearer access token of the current epoch
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lettings"`)
			apiError(w, http.StatusUnauthorized, "invalid_token", "authentication required")
			return
		}
		userID, err := s.validateAccessToken(token)
		if err != nil {
			s.logger.Debug("rejected access token", "path", r.URL.Path, "err", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="lettings", error="invalid_token"`)
			apiError(w, http.StatusUnauthorized, "invalid_token", "access token expired or invalid")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.users.get(userFromContext(r.Context()))
	if !ok {
		apiError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email":      u.email,
		"first_name": u.firstName,
		"last_name":  u.lastName,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// apiError sends {"error": code, "message": message}
func apiError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
