package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/service"
)

const oauthStateCookie = "oauth_state"

// OAuthHandler manages the GitHub sign-in flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → receive the code, find or create the account, start a session
//
// DEPENDENCY CHAIN:
//   - provider auth.OAuthProvider      → performs the OAuth code exchange
//   - accounts *service.AccountService → maps the GitHub profile to an account
//   - sessions *auth.SessionManager    → issues the session cookie
type OAuthHandler struct {
	pages
	provider auth.OAuthProvider
	accounts *service.AccountService
	sessions *auth.SessionManager
	secure   bool
}

// NewOAuthHandler creates an OAuthHandler. secure marks the state cookie
// Secure, matching the session cookie.
func NewOAuthHandler(
	provider auth.OAuthProvider,
	accounts *service.AccountService,
	sessions *auth.SessionManager,
	renderer Renderer,
	logger *slog.Logger,
	secure bool,
) *OAuthHandler {
	return &OAuthHandler{
		pages:    pages{renderer: renderer, logger: logger},
		provider: provider,
		accounts: accounts,
		sessions: sessions,
		secure:   secure,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived cookie and into the
// authorization URL. The callback only proceeds when both match, which proves
// this server started the flow.
func (h *OAuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Find, link or create the account
//  4. Start a session and send the user to their todos
func (h *OAuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		h.renderError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"), &retryLink{URL: "/signin", Text: "Sign in"})
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		h.renderError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"), &retryLink{URL: "/signin", Text: "Sign in"})
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		seeOther(w, r, "/signin?auth=denied")
		return
	}

	// --- Step 2: Exchange code for a GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		h.renderError(w, r, apperror.ValidationFailed("code", "missing OAuth code"), &retryLink{URL: "/signin", Text: "Sign in"})
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/signin", Text: "Sign in"})
		return
	}

	// --- Step 3: Find or create the account ---
	user, err := h.accounts.LoginWithGitHub(r.Context(), profile)
	if err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/signin", Text: "Sign in"})
		return
	}

	// --- Step 4: Session ---
	if err := h.sessions.Start(r.Context(), w, user.ID); err != nil {
		h.renderError(w, r, err, nil)
		return
	}

	h.logger.Info("user signed in via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", profile.Login),
	)
	seeOther(w, r, "/home")
}
