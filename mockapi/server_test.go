package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*Server
	ts *httptest.Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	srv := New(append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testServer{Server: srv, ts: ts}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func (s *testServer) login(t *testing.T) (string, string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"grant_type": "password",
		"username":   DemoUser,
		"password":   DemoPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	return body["access_token"].(string), body["refresh_token"].(string)
}

func (s *testServer) refreshWith(t *testing.T, refresh string) (*http.Response, map[string]any) {
	t.Helper()
	return s.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
	})
}

func TestPasswordGrant(t *testing.T) {
	s := newTestServer(t)
	access, refresh := s.login(t)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	resp, body := s.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"grant_type": "password", "username": DemoUser, "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", body["error"])

	resp, body = s.do(t, http.MethodPost, "/auth/token", "", map[string]string{"grant_type": "client_credentials"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported_grant_type", body["error"])
}

func TestProtectedEndpointsNeedBearer(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/properties", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	resp, _ = s.do(t, http.MethodGet, "/properties", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	access, _ := s.login(t)
	resp, _ = s.do(t, http.MethodGet, "/properties", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshRotation(t *testing.T) {
	s := newTestServer(t)
	_, refresh1 := s.login(t)

	resp, body := s.refreshWith(t, refresh1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refresh2 := body["refresh_token"].(string)
	assert.NotEqual(t, refresh1, refresh2)
	assert.Equal(t, 1, s.ActiveRefreshTokens())

	resp, body = s.refreshWith(t, refresh2)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refresh3 := body["refresh_token"].(string)
	assert.Equal(t, 2, s.RefreshCalls())

	// Presenting a rotated token revokes the whole family
	resp, body = s.refreshWith(t, refresh1)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, 0, s.ActiveRefreshTokens())

	resp, _ = s.refreshWith(t, refresh3)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.refreshWith(t, "never-issued")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshTokenExpiry(t *testing.T) {
	s := newTestServer(t, WithRefreshTTL(time.Millisecond))
	_, refresh := s.login(t)
	time.Sleep(5 * time.Millisecond)
	resp, body := s.refreshWith(t, refresh)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Token has expired", body["error_description"])
}

func TestExpireAccessTokens(t *testing.T) {
	s := newTestServer(t)
	access, refresh := s.login(t)

	s.ExpireAccessTokens()
	resp, _ := s.do(t, http.MethodGet, "/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.refreshWith(t, refresh)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, me := s.do(t, http.MethodGet, "/me", body["access_token"].(string), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DemoUser, me["email"])
}

func TestAccessTokenTTL(t *testing.T) {
	s := newTestServer(t, WithAccessTTL(time.Second))
	access, _ := s.login(t)
	resp, _ := s.do(t, http.MethodGet, "/me", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(2100 * time.Millisecond)
	resp, _ = s.do(t, http.MethodGet, "/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFaultInjection(t *testing.T) {
	s := newTestServer(t)
	access, refresh := s.login(t)

	s.FailRefresh(http.StatusServiceUnavailable)
	resp, _ := s.refreshWith(t, refresh)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	s.FailRefresh(0)
	resp, _ = s.refreshWith(t, refresh)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Fail("/inbox", http.StatusInternalServerError)
	resp, body := s.do(t, http.MethodGet, "/inbox", access, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "injected", body["error"])
	s.Fail("/inbox", 0)
	resp, _ = s.do(t, http.MethodGet, "/inbox", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, s.Requests("/inbox"))

	s.SetRefreshDelay(50 * time.Millisecond)
	_, refresh = s.login(t)
	start := time.Now()
	resp, _ = s.refreshWith(t, refresh)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLogoutRevokes(t *testing.T) {
	s := newTestServer(t)
	_, refresh := s.login(t)
	resp, _ := s.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = s.refreshWith(t, refresh)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": "unknown"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSearchProperties(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.login(t)

	resp, body := s.do(t, http.MethodGet, "/properties?location=leeds&min_bedrooms=3", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "prop-2", items[0].(map[string]any)["id"])

	resp, body = s.do(t, http.MethodGet, "/properties?page_size=3&page=2", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["total"])
	assert.Len(t, body["items"].([]any), 1)

	resp, _ = s.do(t, http.MethodGet, "/properties?min_rent=cheap", access, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/properties/prop-404", access, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplicationLifecycle(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.login(t)

	resp, app := s.do(t, http.MethodPost, "/applications", access, map[string]string{"property_id": "prop-3"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := app["id"].(string)
	assert.Equal(t, "draft", app["status"])

	// Incomplete applicant details cannot be submitted
	resp, _ = s.do(t, http.MethodPost, "/applications/"+id+"/submit", access, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, app = s.do(t, http.MethodPatch, "/applications/"+id, access, map[string]any{
		"step":      2,
		"applicant": map[string]any{"first_name": "Demo", "last_name": "Tenant", "annual_income": 38000},
		"guarantor": map[string]any{"name": "Parent", "email": "parent@example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, app["step"])
	applicant := app["applicant"].(map[string]any)
	assert.Equal(t, DemoUser, applicant["email"])
	assert.Equal(t, "Demo", applicant["first_name"])

	resp, app = s.do(t, http.MethodPost, "/applications/"+id+"/submit", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "submitted", app["status"])

	resp, _ = s.do(t, http.MethodPatch, "/applications/"+id, access, map[string]any{"step": 3})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, ref := s.do(t, http.MethodPost, "/applications/"+id+"/references", access, map[string]string{
		"kind": "employer", "name": "Boss", "email": "boss@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "requested", ref["status"])

	resp, app = s.do(t, http.MethodGet, "/applications/"+id, access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "referencing", app["status"])

	resp, _ = s.do(t, http.MethodPost, "/applications/"+id+"/references", access, map[string]string{
		"kind": "friend", "email": "f@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplicationsAreOwned(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.AddUser("other@example.com", "pw"))
	resp, body := s.do(t, http.MethodPost, "/auth/token", "", map[string]string{
		"grant_type": "password", "username": "other@example.com", "password": "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	other := body["access_token"].(string)

	resp, _ = s.do(t, http.MethodGet, "/applications/app-1", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body = s.do(t, http.MethodGet, "/applications", other, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])
}

func TestUploadDocument(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.login(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("category", "payslip"))
	part, err := w.CreateFormFile("file", "payslip.pdf")
	require.NoError(t, err)
	part.Write([]byte("%PDF-1.4 payslip"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/applications/app-1/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+access)
	resp, doc := s.send(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "payslip.pdf", doc["name"])
	assert.Equal(t, "payslip", doc["category"])
	assert.EqualValues(t, 16, doc["size"])

	resp, _ = s.do(t, http.MethodPost, "/applications/app-1/documents", access, map[string]string{"file": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestViewingsUseLegacyShape(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.login(t)

	req, err := http.NewRequest(http.MethodGet, s.ts.URL+"/viewings", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var invites []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&invites))
	require.Len(t, invites, 2)
	assert.EqualValues(t, 101, invites[0]["inviteId"])
	assert.Equal(t, "invited", invites[0]["state"])
	slots := invites[0]["availableSlots"].([]any)
	require.Len(t, slots, 2)

	start := seedTime.AddDate(0, 0, 20).Add(time.Hour)
	resp2, body := s.do(t, http.MethodPost, "/viewings/101/respond", access, map[string]any{
		"accept": true,
		"slot":   map[string]any{"start": start, "end": start.Add(30 * time.Minute)},
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "confirmed", body["state"])
	assert.Equal(t, slots[0], body["chosenSlot"])

	resp2, _ = s.do(t, http.MethodPost, "/viewings/101/respond", access, map[string]any{"accept": false})
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestMessagesAndInbox(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.login(t)

	resp, msg := s.do(t, http.MethodPost, "/conversations/conv-1/messages", access, map[string]string{"body": "Can I view on Friday?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, DemoUser, msg["sender"])

	resp, page := s.do(t, http.MethodGet, "/conversations/conv-1/messages", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, page["items"], 3)

	resp, _ = s.do(t, http.MethodPost, "/conversations/conv-1/messages", access, map[string]string{"body": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/conversations/conv-9/messages", access, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, page = s.do(t, http.MethodGet, "/inbox?unread=true", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := page["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "mail-2", items[0].(map[string]any)["id"])
}
