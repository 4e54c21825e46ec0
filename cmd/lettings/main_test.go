package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/lettings/client"
	"github.com/panyam/lettings/config"
	"github.com/panyam/lettings/mockapi"
)

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		edit func(*config.StoreConfig)
	}{
		{"memory", func(s *config.StoreConfig) { s.Kind = config.StoreMemory }},
		{"fs", func(s *config.StoreConfig) {
			s.Kind = config.StoreFS
			s.Path = filepath.Join(dir, "session.json")
		}},
		{"sqlite", func(s *config.StoreConfig) {
			s.Kind = config.StoreSQLite
			s.Path = filepath.Join(dir, "db", "session.db")
		}},
		{"redis", func(s *config.StoreConfig) {
			s.Kind = config.StoreRedis
			s.Addr = mr.Addr()
		}},
		{"scs", func(s *config.StoreConfig) { s.Kind = config.StoreSCS }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(&cfg.Store)

			storage, closer, err := OpenStorage(ctx, cfg)
			require.NoError(t, err)
			if closer != nil {
				defer closer.Close()
			}

			sessions := client.NewSessionStore(storage)
			require.NoError(t, sessions.Save(ctx, &client.Session{AccessToken: "a", RefreshToken: "r"}))
			sess, err := sessions.Load(ctx)
			require.NoError(t, err)
			require.NotNil(t, sess)
			assert.Equal(t, "a", sess.AccessToken)
			assert.Equal(t, "r", sess.RefreshToken)
		})
	}
}

func TestOpenStorage_UnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Kind = "floppy"
	_, _, err := OpenStorage(context.Background(), cfg)
	assert.ErrorContains(t, err, "floppy")
}

type cli struct {
	t      *testing.T
	srv    *mockapi.Server
	url    string
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	srv := mockapi.New(mockapi.WithBcryptCost(bcrypt.MinCost))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "lettings.yaml")
	yaml := "store:\n  kind: fs\n  path: " + filepath.Join(dir, "session.json") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return &cli{t: t, srv: srv, url: ts.URL, config: path}
}

// run executes one invocation, as a separate process would
func (c *cli) run(args ...string) (stdout, stderr string, err error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", c.config, "--api", c.url}, args...))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (c *cli) login() {
	c.t.Helper()
	out, _, err := c.run("login", "-u", mockapi.DemoUser, "-p", mockapi.DemoPassword)
	require.NoError(c.t, err)
	require.Contains(c.t, out, "Logged in as "+mockapi.DemoUser)
}

func TestCLI_SessionLifecycle(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: not logged in")

	_, _, err = c.run("applications", "list")
	assert.ErrorContains(t, err, "not logged in")

	c.login()

	out, _, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: logged in")
	assert.Contains(t, out, "Access:  expires in")

	out, _, err = c.run("applications", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "app-1")
	assert.Contains(t, out, "draft")

	out, _, err = c.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")
	assert.Equal(t, 0, c.srv.ActiveRefreshTokens())

	out, _, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: not logged in")
}

func TestCLI_WrongPassword(t *testing.T) {
	c := newCLI(t)
	_, _, err := c.run("login", "-u", mockapi.DemoUser, "-p", "nope")
	assert.Error(t, err)

	out, _, err := c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "not logged in")
}

func TestCLI_RefreshesAcrossInvocations(t *testing.T) {
	c := newCLI(t)
	c.login()
	c.srv.ExpireAccessTokens()

	out, _, err := c.run("properties", "search", "--location", "Leeds")
	require.NoError(t, err)
	assert.Contains(t, out, "Leeds")
	assert.Equal(t, 1, c.srv.RefreshCalls())

	// the rotated pair was persisted, so the next process needs no refresh
	_, _, err = c.run("applications", "show", "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.srv.RefreshCalls())
}

func TestCLI_SessionExpiredAsksForLogin(t *testing.T) {
	c := newCLI(t)
	c.login()
	c.srv.ExpireAccessTokens()
	c.srv.FailRefresh(http.StatusUnauthorized)

	_, stderr, err := c.run("applications", "list")
	require.Error(t, err)
	assert.Contains(t, stderr, "Your session has expired")

	out, _, err := c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "not logged in")

	out, _, err = c.run("login", "-u", mockapi.DemoUser, "-p", mockapi.DemoPassword)
	require.NoError(t, err)
	assert.Contains(t, out, "Your last session ended during: lettings applications list")
}

func TestCLI_Upload(t *testing.T) {
	c := newCLI(t)
	c.login()

	file := filepath.Join(t.TempDir(), "payslip.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF-1.4 fake"), 0600))

	out, _, err := c.run("upload", "app-1", file, "--category", "payslip")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded payslip.pdf")

	out, _, err = c.run("applications", "show", "app-1")
	require.NoError(t, err)
	assert.Contains(t, out, "payslip.pdf (payslip, 13 bytes)")
}

func TestCLI_InvalidConfig(t *testing.T) {
	c := newCLI(t)
	_, _, err := c.run("--store", "floppy", "status")
	assert.ErrorContains(t, err, "unknown store kind")
}
