package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/todo-accounts/internal/middleware"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "userID", id), ANY package that knows the string "userID"
// can read or shadow your value. A package-private type prevents collisions.
type contextKey string

const userIDKey contextKey = "userID"

// SignInPath is where unauthenticated requests to protected pages are sent.
const SignInPath = "/signin"

// RequireAuth is the guard for routes that need a signed-in user.
//
// Unauthenticated requests are redirected to the sign-in page and the wrapped
// handler never runs. Authenticated requests pass through unchanged except that
// the user id is stored in the request context.
//
// This is a browser-facing site, so the answer to "not signed in" is a 303
// redirect rather than a bare 401.
func RequireAuth(sessions *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok, err := sessions.UserID(r)
			if err != nil {
				logger.Error("session lookup failed", slog.String("error", err.Error()))
			}
			if !ok {
				http.Redirect(w, r, SignInPath, http.StatusSeeOther)
				return
			}

			middleware.AnnotateUser(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth extracts the user identity if a live session is present, but
// does NOT block the request if it's missing. Used on public pages that greet
// signed-in users differently.
func OptionalAuth(sessions *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok, err := sessions.UserID(r)
			if err != nil {
				logger.Error("session lookup failed", slog.String("error", err.Error()))
			}
			if ok {
				middleware.AnnotateUser(r.Context(), userID)
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying userID. Exported so handler tests
// can build authenticated requests without a session store.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
