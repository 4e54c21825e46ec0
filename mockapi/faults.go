package mockapi

import (
	"net/http"
	"time"
)

// ExpireAccessTokens makes every access token issued so far invalid. Refresh
// tokens are unaffected.
func (s *Server) ExpireAccessTokens() {
	s.epoch.Add(1)
}

// FailRefresh makes the refresh_token grant answer with status. Zero restores it.
func (s *Server) FailRefresh(status int) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.refreshFail = status
}

// SetRefreshDelay delays every refresh_token grant by d
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.refreshDelay = d
}

// Fail makes requests to path answer with status. Zero restores the path.
func (s *Server) Fail(path string, status int) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	if status == 0 {
		delete(s.pathFail, path)
		return
	}
	s.pathFail[path] = status
}

// RefreshCalls counts refresh_token grants received
func (s *Server) RefreshCalls() int {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.refreshCalls
}

// Requests counts requests received for path
func (s *Server) Requests(path string) int {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.requests[path]
}

// ActiveRefreshTokens counts refresh tokens that can still be used
func (s *Server) ActiveRefreshTokens() int {
	return s.refresh.active()
}

func (s *Server) refreshFault() (int, time.Duration) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.refreshCalls++
	return s.refreshFail, s.refreshDelay
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.faultsMu.Lock()
		s.requests[r.URL.Path]++
		s.faultsMu.Unlock()
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.faultsMu.Lock()
		status := s.pathFail[r.URL.Path]
		s.faultsMu.Unlock()
		if status != 0 {
			apiError(w, status, "injected", http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}
