package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "session"

// DefaultSessionTTL is used when the configured TTL is zero.
const DefaultSessionTTL = 24 * time.Hour

// SessionManager ties the session store to the session cookie.
//
// WHY SERVER-SIDE SESSIONS (not a JWT cookie)?
// Sign-out has to actually end the session. With a stateless token the cookie
// can be deleted, but a copy stays valid until it expires. Here the cookie is
// just a random key; deleting the row ends the session for every copy of it.
//
// Expiry is owned by the store (SessionRepository.Get), not by handlers.
type SessionManager struct {
	store  repository.SessionRepository
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionManager creates a SessionManager. secure sets the cookie's Secure
// flag and should be true whenever the site is served over HTTPS.
func NewSessionManager(store repository.SessionRepository, ttl time.Duration, secure bool) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, secure: secure, now: time.Now}
}

// Start creates a session for userID and sets the cookie on w.
func (m *SessionManager) Start(ctx context.Context, w http.ResponseWriter, userID string) error {
	id, err := newSessionID()
	if err != nil {
		return err
	}

	now := m.now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, session); err != nil {
		return fmt.Errorf("auth: starting session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// End deletes the request's session (if any) and clears the cookie.
// Ending a request that has no session is not an error.
func (m *SessionManager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	if err := m.store.Delete(ctx, cookie.Value); err != nil {
		return fmt.Errorf("auth: ending session: %w", err)
	}
	return nil
}

// EndAllForUser signs userID out of every session, e.g. after a password reset.
func (m *SessionManager) EndAllForUser(ctx context.Context, userID string) error {
	if err := m.store.DeleteForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: ending sessions for user %s: %w", userID, err)
	}
	return nil
}

// UserID returns the signed-in user for r.
//
// The boolean is false for anonymous requests. A non-nil error means the store
// itself failed; callers treat that as "not signed in" but should log it.
func (m *SessionManager) UserID(r *http.Request) (string, bool, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		// http.ErrNoCookie means the cookie is not present, so the request is anonymous
		return "", false, nil
	}

	session, err := m.store.Get(r.Context(), cookie.Value, m.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return session.UserID, true, nil
}

// IsAuthenticated reports whether r carries a live session.
func (m *SessionManager) IsAuthenticated(r *http.Request) bool {
	_, ok, _ := m.UserID(r)
	return ok
}

// newSessionID returns 32 bytes from crypto/rand, base64url encoded.
//
// WHY NOT xid?
// xid values are sortable and partly predictable (timestamp + machine + counter).
// That is fine for row ids but a session id is a bearer credential and must be
// unguessable.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
