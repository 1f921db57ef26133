// Package repository declares the storage interfaces the service layer depends on.
// The sqlite subpackage implements them; tests substitute in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/todo-accounts/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts a new user. Returns apperror.ErrConflict (DuplicateUser)
	// when the username, email or GitHub ID is taken.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, id string, patch model.UserPatch) error
	Delete(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, hash string) error
	LinkGitHub(ctx context.Context, id string, githubID int64) error

	// SetResetToken raises or clears the single-use reset grant.
	SetResetToken(ctx context.Context, id string, live bool) error
	// ConsumeResetToken replaces the password only while the reset grant is
	// live, clearing it in the same statement. Returns ErrExpired otherwise.
	ConsumeResetToken(ctx context.Context, id, hash string) error
	// SwapAvatar sets the avatar to next only if it currently equals prev.
	// Returns ErrConflict when another write got there first.
	SwapAvatar(ctx context.Context, id, prev, next string) error
}

// TodoRepository is the todo store.
type TodoRepository interface {
	// Create inserts the todo and appends its ID to the owner's list atomically.
	Create(ctx context.Context, todo *model.Todo) error
	GetByID(ctx context.Context, id string) (*model.Todo, error)
	Update(ctx context.Context, id string, patch model.TodoPatch) error
	// Delete removes the todo row. The owner's ID list is left untouched.
	Delete(ctx context.Context, id string) error
	// ListForOwner resolves the owner's ID list in order, skipping dangling IDs.
	ListForOwner(ctx context.Context, userID string) ([]model.Todo, error)
	// TodoIDs returns the owner's raw ID list, dangling entries included.
	TodoIDs(ctx context.Context, userID string) ([]string, error)
}

// SessionRepository stores server-side sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// Get returns ErrNotFound for unknown or expired sessions; expired rows
	// are deleted as they are seen.
	Get(ctx context.Context, id string, now time.Time) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
}
