package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/service"
)

// AccountHandler serves sign-up, sign-in, sign-out and both password flows.
//
// HANDLER RESPONSIBILITIES:
//   - HandleIndex / HandleSignup* / HandleSignin*  → public pages
//   - HandleSignout                                → end the session
//   - HandleGetEmail* / HandleChangePassword*      → emailed reset link flow
//   - HandleReset*                                 → in-session password change
type AccountHandler struct {
	pages
	accounts *service.AccountService
	sessions *auth.SessionManager

	// githubEnabled shows the "Sign in with GitHub" button.
	githubEnabled bool
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(
	accounts *service.AccountService,
	sessions *auth.SessionManager,
	renderer Renderer,
	logger *slog.Logger,
	githubEnabled bool,
) *AccountHandler {
	return &AccountHandler{
		pages:         pages{renderer: renderer, logger: logger},
		accounts:      accounts,
		sessions:      sessions,
		githubEnabled: githubEnabled,
	}
}

// HandleIndex renders the landing page.
//
// HTTP: GET /
func (h *AccountHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index", map[string]any{"Title": "Homepage"})
}

// HandleSignupForm renders the registration form.
//
// HTTP: GET /signup
func (h *AccountHandler) HandleSignupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signup", map[string]any{
		"Title":    "Sign-Up",
		"Error":    "",
		"Username": "",
		"Email":    "",
	})
}

// HandleSignup registers a new account and sends the browser to sign in.
//
// HTTP: POST /signup (form: username, email, password)
//
// Validation and duplicate errors re-render the form with the message and
// the submitted username/email, so the user does not retype them.
func (h *AccountHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	username := r.PostFormValue("username")
	email := r.PostFormValue("email")

	_, err := h.accounts.Register(r.Context(), username, email, r.PostFormValue("password"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.renderError(w, r, err, nil)
			return
		}
		message := err.Error()
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		h.render(w, r, status, "signup", map[string]any{
			"Title":    "Sign-Up",
			"Error":    message,
			"Username": username,
			"Email":    email,
		})
		return
	}

	seeOther(w, r, "/signin")
}

// HandleSigninForm renders the sign-in form. ?error=1 shows a failure notice.
//
// HTTP: GET /signin
func (h *AccountHandler) HandleSigninForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signin", map[string]any{
		"Title":  "Sign-In",
		"Failed": r.URL.Query().Get("error") != "",
		"Reset":  r.URL.Query().Get("reset") != "",
		"Denied": r.URL.Query().Get("auth") == "denied",
		"GitHub": h.githubEnabled,
	})
}

// HandleSignin checks credentials and starts a session.
//
// HTTP: POST /signin (form: username, password)
//
// Wrong credentials redirect back to /signin?error=1 and start no session.
func (h *AccountHandler) HandleSignin(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			seeOther(w, r, "/signin?error=1")
			return
		}
		h.renderError(w, r, err, nil)
		return
	}

	if err := h.sessions.Start(r.Context(), w, user.ID); err != nil {
		h.renderError(w, r, err, nil)
		return
	}
	seeOther(w, r, "/home")
}

// HandleSignout ends the session.
//
// HTTP: GET /signout
func (h *AccountHandler) HandleSignout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(r.Context(), w, r); err != nil {
		h.logger.Error("failed to end session", slog.String("error", err.Error()))
	}
	seeOther(w, r, "/signin")
}

// HandleGetEmailForm renders the forgotten-password form.
//
// HTTP: GET /get-email
func (h *AccountHandler) HandleGetEmailForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "getemail", map[string]any{"Title": "Forget-Password"})
}

// HandleGetEmail emails a reset link to the account with that address.
//
// HTTP: POST /get-email (form: email)
func (h *AccountHandler) HandleGetEmail(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), r.PostFormValue("email")); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/get-email", Text: "Forget Password"})
		return
	}

	h.render(w, r, http.StatusOK, "checkmail", map[string]any{"Title": "Check your email"})
}

// HandleChangePasswordForm renders the reset form reached from the email.
//
// HTTP: GET /change-password/{id}?token=...
//
// Only the signed token is checked here. Whether the one-time grant is still
// unused is decided when the form is submitted.
func (h *AccountHandler) HandleChangePasswordForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")

	if err := h.accounts.CheckResetLink(id, token); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/get-email", Text: "Request a new link"})
		return
	}

	h.render(w, r, http.StatusOK, "changepassword", map[string]any{
		"Title": "Change Password",
		"ID":    id,
		"Token": token,
	})
}

// HandleChangePassword sets the new password through a reset link.
//
// HTTP: POST /change-password/{id} (form: token, password)
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	token := r.PostFormValue("token")

	err := h.accounts.CompletePasswordReset(r.Context(), id, token, r.PostFormValue("password"))
	if err != nil {
		retry := &retryLink{URL: "/get-email", Text: "Request a new link"}
		if errors.Is(err, apperror.ErrValidation) {
			retry = &retryLink{URL: h.accounts.ResetLink(id, token), Text: "Try again"}
		}
		h.renderError(w, r, err, retry)
		return
	}

	seeOther(w, r, "/signin?reset=1")
}

// HandleResetForm renders the in-session password change form.
//
// HTTP: GET /reset/{id}
func (h *AccountHandler) HandleResetForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != currentUser(r) {
		h.renderError(w, r, apperror.Forbidden("you can only change your own password"), nil)
		return
	}
	h.render(w, r, http.StatusOK, "reset", map[string]any{"Title": "Reset Password", "ID": id})
}

// HandleReset changes the password after re-checking the old one.
//
// HTTP: POST /reset/{id} (form: oldpassword, password)
func (h *AccountHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != currentUser(r) {
		h.renderError(w, r, apperror.Forbidden("you can only change your own password"), nil)
		return
	}
	if !h.parseForm(w, r) {
		return
	}

	err := h.accounts.ChangePassword(r.Context(), id, r.PostFormValue("oldpassword"), r.PostFormValue("password"))
	if err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/reset/" + id, Text: "Reset Again"})
		return
	}

	seeOther(w, r, "/profile")
}
