package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the credential store backed by the users table.
type UserDB struct {
	conn *sqlx.DB
}

const userColumns = `id, username, email, password_hash, avatar, reset_token, github_id, created_at, updated_at`

// Create inserts a new user, generating its ID and timestamps.
//
// Uniqueness is enforced by the UNIQUE constraints, not by a SELECT-then-INSERT
// check: two concurrent signups for the same name cannot both pass the check.
// A constraint failure is translated to apperror.DuplicateUser.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Avatar == "" {
		user.Avatar = model.DefaultAvatar
	}

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Avatar,
		user.ResetToken,
		user.GitHubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if field := uniqueViolation(err); field != "" {
			return apperror.DuplicateUser(userField(field))
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID, including their todo-ID list.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getBy(ctx, "id", id, id)
}

// GetByUsername is the sign-in lookup.
func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return u.getBy(ctx, "username", username, username)
}

// GetByEmail is the password-reset lookup. Emails are compared case-insensitively.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getBy(ctx, "email", email, email)
}

// GetByGitHubID finds the account linked to a GitHub user, if any.
func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return u.getBy(ctx, "github_id", githubID, fmt.Sprintf("github:%d", githubID))
}

// getBy runs a single-row lookup on one column. column is always a constant
// from this file, never user input.
func (u *UserDB) getBy(ctx context.Context, column string, value any, label string) (*model.User, error) {
	var user model.User
	err := u.conn.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}

	ids, err := todoIDs(ctx, u.conn, user.ID)
	if err != nil {
		return nil, err
	}
	user.Todos = ids

	return &user, nil
}

// List returns every user ordered by username. Used by the profile listing;
// todo lists are not loaded.
func (u *UserDB) List(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := u.conn.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	return users, nil
}

// Update applies a partial profile update. Only non-nil patch fields are written.
func (u *UserDB) Update(ctx context.Context, id string, patch model.UserPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}
	if patch.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *patch.Username)
	}
	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *patch.Email)
	}
	args = append(args, id)

	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if field := uniqueViolation(err); field != "" {
			return apperror.DuplicateUser(userField(field))
		}
		return fmt.Errorf("sqlite: updating user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// Delete removes a user. Their todos, todo-ID list and sessions go with them
// through ON DELETE CASCADE.
func (u *UserDB) Delete(ctx context.Context, id string) error {
	result, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// SetPassword unconditionally replaces the password hash.
func (u *UserDB) SetPassword(ctx context.Context, id, hash string) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting password for user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// LinkGitHub attaches a GitHub account to an existing user.
func (u *UserDB) LinkGitHub(ctx context.Context, id string, githubID int64) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		githubID, time.Now(), id)
	if err != nil {
		if uniqueViolation(err) != "" {
			return apperror.Conflict("github account", fmt.Sprint(githubID))
		}
		return fmt.Errorf("sqlite: linking github account for user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// SetResetToken raises (live=true) or clears the single-use reset grant.
func (u *UserDB) SetResetToken(ctx context.Context, id string, live bool) error {
	flag := 0
	if live {
		flag = 1
	}
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET reset_token = ?, updated_at = ? WHERE id = ?`,
		flag, time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting reset token for user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// ConsumeResetToken is a compare-and-set: the WHERE clause only matches while
// reset_token = 1, and the same statement clears it. Two concurrent completions
// of one link cannot both succeed.
//
// When nothing matched we look the user up once more to tell "no such user"
// (NotFound) apart from "grant already used" (Expired).
func (u *UserDB) ConsumeResetToken(ctx context.Context, id, hash string) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = 0, updated_at = ?
		 WHERE id = ? AND reset_token = 1`,
		hash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: consuming reset token for user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if err := u.exists(ctx, id); err != nil {
		return err
	}
	return apperror.TokenExpiredOrAlreadyUsed()
}

// SwapAvatar is a compare-and-set on the avatar column.
func (u *UserDB) SwapAvatar(ctx context.Context, id, prev, next string) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET avatar = ?, updated_at = ? WHERE id = ? AND avatar = ?`,
		next, time.Now(), id, prev)
	if err != nil {
		return fmt.Errorf("sqlite: swapping avatar for user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if err := u.exists(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("avatar", id)
}

func (u *UserDB) exists(ctx context.Context, id string) error {
	var count int
	if err := u.conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: checking user %s: %w", id, err)
	}
	if count == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// userField maps a constraint column to the form field name shown to the user.
func userField(column string) string {
	switch column {
	case "username", "email":
		return column
	case "github_id":
		return "GitHub account"
	}
	return "name"
}

// expectOne turns "0 rows affected" into NotFound.
func expectOne(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
