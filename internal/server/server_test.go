package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/config"
	"github.com/sakif/todo-accounts/internal/mailer"
)

type fakeGitHub struct {
	profile *auth.GitHubProfile
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubProfile, error) {
	return f.profile, nil
}

func newTestServer(t *testing.T, github auth.OAuthProvider) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := &config.Config{
		Port:        8080,
		DBPath:      ":memory:",
		TemplateDir: "../../web/templates",
		StaticDir:   t.TempDir(),
		BaseURL:     "http://todo.test",
		SessionTTL:  time.Hour,
		ResetSecret: "server-test-secret-0123456789",
	}
	srv, err := newServer(cfg, logger, deps{
		passwords: auth.NewPasswordServiceForTest(bcrypt.MinCost),
		mail:      mailer.NewLogMailer(logger),
		github:    github,
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

// client drives the router like a browser: it keeps the cookies it is given
// and never follows redirects.
type client struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, srv *Server) *client {
	return &client{t: t, handler: srv.Handler(), cookies: map[string]*http.Cookie{}}
}

func (c *client) send(req *http.Request) *http.Response {
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	res := rr.Result()
	for _, ck := range res.Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return res
}

func (c *client) get(path string) *http.Response {
	return c.send(httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *client) post(path string, form url.Values) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req)
}

func body(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	res := newClient(t, srv).get("/healthz")

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok\n", body(t, res))
}

func TestServer_ProtectedPagesRedirectToSignin(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newClient(t, srv)

	for _, path := range []string{"/home", "/profile", "/createtodo", "/updatetodo/x", "/deletetodo/x", "/delete/x", "/reset/x"} {
		res := c.get(path)
		assert.Equal(t, http.StatusSeeOther, res.StatusCode, path)
		assert.Equal(t, auth.SignInPath, res.Header.Get("Location"), path)
	}
}

func TestServer_SignupSigninAndTodos(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newClient(t, srv)

	res := c.get("/signup")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body(t, res), `action="/signup"`)

	res = c.post("/signup", url.Values{"username": {"alice"}, "email": {"alice@example.com"}, "password": {"password123"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res = c.post("/signin", url.Values{"username": {"alice"}, "password": {"password123"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	require.Equal(t, "/home", res.Header.Get("Location"))
	require.Contains(t, c.cookies, auth.SessionCookieName)

	res = c.post("/createtodo", url.Values{"title": {"write <tests>"}, "status": {"open"}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res = c.get("/home")
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := body(t, res)
	assert.Contains(t, page, "write &lt;tests&gt;", "titles are HTML-escaped")
	assert.Contains(t, page, `href="/signout"`)
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))

	res = c.get("/profile")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body(t, res), "/static/avatars/default.jpg")

	res = c.get("/signout")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	res = c.get("/home")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode, "signed out")
}

func TestServer_ErrorPage(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newClient(t, srv)

	res := c.post("/get-email", url.Values{"email": {"nobody@example.com"}})

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	page := body(t, res)
	assert.Contains(t, page, "User not found.")
	assert.Contains(t, page, `href="/get-email"`)
}

func TestServer_GitHubRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)

		res := newClient(t, srv).get("/auth/github/login")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("login and callback", func(t *testing.T) {
		srv := newTestServer(t, &fakeGitHub{profile: &auth.GitHubProfile{ID: 42, Login: "octocat", Email: "octo@example.com"}})
		c := newClient(t, srv)

		res := c.get("/auth/github/login")
		require.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
		authURL, err := url.Parse(res.Header.Get("Location"))
		require.NoError(t, err)
		state := authURL.Query().Get("state")
		require.NotEmpty(t, state)

		res = c.get("/auth/github/callback?code=abc&state=" + url.QueryEscape(state))
		require.Equal(t, http.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/home", res.Header.Get("Location"))
		assert.Contains(t, c.cookies, auth.SessionCookieName)

		res = c.get("/profile")
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Contains(t, body(t, res), "octocat")
	})

	t.Run("state mismatch", func(t *testing.T) {
		srv := newTestServer(t, &fakeGitHub{profile: &auth.GitHubProfile{ID: 42, Login: "octocat", Email: "octo@example.com"}})
		c := newClient(t, srv)
		c.get("/auth/github/login")

		res := c.get("/auth/github/callback?code=abc&state=forged")
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.NotContains(t, c.cookies, auth.SessionCookieName)
	})

	t.Run("user denied", func(t *testing.T) {
		srv := newTestServer(t, &fakeGitHub{})
		c := newClient(t, srv)
		res := c.get("/auth/github/login")
		authURL, _ := url.Parse(res.Header.Get("Location"))

		res = c.get("/auth/github/callback?error=access_denied&state=" + url.QueryEscape(authURL.Query().Get("state")))
		assert.Equal(t, http.StatusSeeOther, res.StatusCode)
		assert.Equal(t, "/signin?auth=denied", res.Header.Get("Location"))
	})
}
