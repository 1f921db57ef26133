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

var _ repository.TodoRepository = (*TodoDB)(nil)

// TodoDB is the todo store backed by the todos and user_todos tables.
type TodoDB struct {
	conn *sqlx.DB
}

const todoColumns = `id, user_id, title, description, status, created_at, updated_at`

// Create inserts a todo and appends its ID to the owner's list.
//
// TRANSACTIONS:
// These are two writes that must succeed or fail together. Without a transaction
// a crash between them would leave a todo nobody lists. sqlx.Tx has the same
// Exec/Query methods as the pool; Rollback after a successful Commit is a no-op,
// so the deferred Rollback is safe on every path.
func (t *TodoDB) Create(ctx context.Context, todo *model.Todo) error {
	todo.ID = xid.New().String()
	now := time.Now()
	todo.CreatedAt = now
	todo.UpdatedAt = now

	tx, err := t.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning todo transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		todo.ID,
		todo.UserID,
		todo.Title,
		todo.Description,
		todo.Status,
		todo.CreatedAt,
		todo.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", todo.UserID)
		}
		return fmt.Errorf("sqlite: creating todo: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_todos (user_id, position, todo_id)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM user_todos WHERE user_id = ?), ?)`,
		todo.UserID, todo.UserID, todo.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending todo %s to user %s: %w", todo.ID, todo.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing todo %s: %w", todo.ID, err)
	}
	return nil
}

// GetByID retrieves a single todo.
func (t *TodoDB) GetByID(ctx context.Context, id string) (*model.Todo, error) {
	var todo model.Todo
	err := t.conn.GetContext(ctx, &todo, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("todo", id)
		}
		return nil, fmt.Errorf("sqlite: getting todo %s: %w", id, err)
	}
	return &todo, nil
}

// Update writes only the fields present in the patch. user_id is never updated.
func (t *TodoDB) Update(ctx context.Context, id string, patch model.TodoPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	args = append(args, id)

	result, err := t.conn.ExecContext(ctx,
		`UPDATE todos SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating todo %s: %w", id, err)
	}
	return expectOne(result, "todo", id)
}

// Delete removes the todo row only. The entry in user_todos stays behind as a
// dangling reference; ListForOwner skips it.
func (t *TodoDB) Delete(ctx context.Context, id string) error {
	result, err := t.conn.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting todo %s: %w", id, err)
	}
	return expectOne(result, "todo", id)
}

// ListForOwner resolves the owner's ID list in list order.
//
// The INNER JOIN is what makes dangling IDs harmless: an entry whose todo row is
// gone simply produces no output row. The user_id check on todos guards against
// a list entry pointing at someone else's todo.
func (t *TodoDB) ListForOwner(ctx context.Context, userID string) ([]model.Todo, error) {
	todos := []model.Todo{}
	err := t.conn.SelectContext(ctx, &todos,
		`SELECT t.id, t.user_id, t.title, t.description, t.status, t.created_at, t.updated_at
		 FROM user_todos ut
		 JOIN todos t ON t.id = ut.todo_id AND t.user_id = ut.user_id
		 WHERE ut.user_id = ?
		 ORDER BY ut.position`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing todos for user %s: %w", userID, err)
	}
	return todos, nil
}

// TodoIDs returns the owner's raw ID list, dangling entries included.
func (t *TodoDB) TodoIDs(ctx context.Context, userID string) ([]string, error) {
	return todoIDs(ctx, t.conn, userID)
}

func todoIDs(ctx context.Context, q sqlx.QueryerContext, userID string) ([]string, error) {
	ids := []string{}
	if err := sqlx.SelectContext(ctx, q, &ids,
		`SELECT todo_id FROM user_todos WHERE user_id = ? ORDER BY position`, userID); err != nil {
		return nil, fmt.Errorf("sqlite: loading todo ids for user %s: %w", userID, err)
	}
	return ids, nil
}
