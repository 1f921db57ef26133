package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
)

var _ repository.SessionRepository = (*SessionDB)(nil)

// SessionDB stores server-side sessions. The TTL lives in expires_at and is
// enforced here, on lookup, so handlers never reason about expiry.
type SessionDB struct {
	conn *sqlx.DB
}

// Create inserts a session. The caller supplies the ID and both timestamps.
func (s *SessionDB) Create(ctx context.Context, session *model.Session) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.UserID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("sqlite: creating session for user %s: %w", session.UserID, err)
	}
	return nil
}

// Get returns a live session. An expired row is deleted and reported as not found.
func (s *SessionDB) Get(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := s.conn.GetContext(ctx, &session,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", "")
		}
		return nil, fmt.Errorf("sqlite: getting session: %w", err)
	}

	if session.Expired(now) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperror.NotFound("session", "")
	}
	return &session, nil
}

// Delete removes one session. Deleting an unknown session is not an error:
// signing out twice is harmless.
func (s *SessionDB) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

// DeleteForUser signs a user out everywhere.
func (s *SessionDB) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting sessions for user %s: %w", userID, err)
	}
	return nil
}
