package handler

// RESPONSE HELPERS:
// Every handler finishes the same way: render a page with a status, render
// the error page, or redirect. These helpers keep that uniform.
//
// CONSISTENT ERROR PAGES:
// Every failure renders the "error" template with the same fields:
//   Status, Message and an optional Retry link.

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
)

// retryLink is the "try again" link shown under some error messages.
type retryLink struct {
	URL  string
	Text string
}

// pages is embedded by every handler.
type pages struct {
	renderer Renderer
	logger   *slog.Logger
}

// render executes a template with status. The page is rendered into a
// buffer first so the status line is only sent once rendering succeeded.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once the body
// starts, header changes are silently ignored.
func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	userID, signedIn := auth.UserIDFromContext(r.Context())
	data["SignedIn"] = signedIn
	data["CurrentUserID"] = userID

	var buf bytes.Buffer
	if err := p.renderer.Render(&buf, name, data); err != nil {
		p.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("requestID", chimiddleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError maps err to a status and renders the error page.
//
// ERROR MAPPING:
// This is the one place where domain errors become HTTP statuses. errors.Is
// walks the whole chain, so a service may wrap an AppError with fmt.Errorf
// and the mapping still works.
//
//	ErrValidation   → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	ErrExpired      → 410
//	ErrTooLarge     → 413
//	anything else   → 500, with a generic message
func (p *pages) renderError(w http.ResponseWriter, r *http.Request, err error, retry *retryLink) {
	status := statusFor(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if status != http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status == http.StatusInternalServerError {
		// NEVER expose internal error details to the client: the raw error may
		// contain SQL, file paths or other sensitive detail. Log it instead.
		p.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("requestID", chimiddleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	data := map[string]any{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Message": message,
	}
	if retry != nil {
		data["Retry"] = retry
	}
	p.render(w, r, status, "error", data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperror.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// seeOther redirects after a successful form post (Post/Redirect/Get), so a
// browser refresh does not resubmit the form.
func seeOther(w http.ResponseWriter, r *http.Request, url string) {
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// currentUser returns the signed-in user's id. Routes behind RequireAuth
// always have one.
func currentUser(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// formValue returns a pointer to the submitted value of key, or nil when
// the form did not include the field at all. Partial updates use this to
// leave unsubmitted fields alone.
func formValue(r *http.Request, key string) *string {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

// parseForm parses a urlencoded body, rendering a 400 on failure.
func (p *pages) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		p.renderError(w, r, apperror.ValidationFailed("form", "could not read the submitted form"), nil)
		return false
	}
	return true
}
