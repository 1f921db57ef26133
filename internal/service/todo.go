package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
)

// TodoService handles business logic for to-do items.
type TodoService struct {
	repo   repository.TodoRepository
	logger *slog.Logger
}

// NewTodoService creates a TodoService.
func NewTodoService(repo repository.TodoRepository, logger *slog.Logger) *TodoService {
	return &TodoService{repo: repo, logger: logger}
}

// Create validates and saves a new todo owned by ownerID.
func (s *TodoService) Create(ctx context.Context, ownerID, title, description, status string) (*model.Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if err := checkLength("title", &title, MaxTitleLength); err != nil {
		return nil, err
	}
	if err := checkLength("description", &description, MaxDescriptionLength); err != nil {
		return nil, err
	}
	if err := checkLength("status", &status, MaxStatusLength); err != nil {
		return nil, err
	}

	todo := &model.Todo{
		UserID:      ownerID,
		Title:       title,
		Description: description,
		Status:      status,
	}
	if err := s.repo.Create(ctx, todo); err != nil {
		s.logger.Error("failed to create todo",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating todo: %w", err)
	}

	s.logger.Info("todo created",
		slog.String("id", todo.ID),
		slog.String("userID", ownerID),
	)
	return todo, nil
}

// Get returns a todo the caller owns.
//
// OWNERSHIP:
// A todo that exists but belongs to someone else yields apperror.ErrForbidden,
// not ErrNotFound. ids are not secret here (they appear in URLs), so hiding
// existence buys nothing.
func (s *TodoService) Get(ctx context.Context, actorID, id string) (*model.Todo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "todo ID is required")
	}

	todo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if todo.UserID != actorID {
		return nil, apperror.Forbidden("you can only access your own todos")
	}
	return todo, nil
}

// Update applies a partial update to a todo the caller owns.
func (s *TodoService) Update(ctx context.Context, actorID, id string, patch model.TodoPatch) (*model.Todo, error) {
	todo, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, apperror.ValidationFailed("title", "title cannot be empty")
	}
	if err := checkLength("title", patch.Title, MaxTitleLength); err != nil {
		return nil, err
	}
	if err := checkLength("description", patch.Description, MaxDescriptionLength); err != nil {
		return nil, err
	}
	if err := checkLength("status", patch.Status, MaxStatusLength); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return todo, nil
	}

	if err := s.repo.Update(ctx, todo.ID, patch); err != nil {
		s.logger.Error("failed to update todo",
			slog.String("id", todo.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating todo: %w", err)
	}

	if patch.Title != nil {
		todo.Title = *patch.Title
	}
	if patch.Description != nil {
		todo.Description = *patch.Description
	}
	if patch.Status != nil {
		todo.Status = *patch.Status
	}

	s.logger.Info("todo updated", slog.String("id", todo.ID))
	return todo, nil
}

// Delete removes a todo the caller owns. The owner's id list keeps the
// dangling id; ListForOwner skips it.
func (s *TodoService) Delete(ctx context.Context, actorID, id string) error {
	todo, err := s.Get(ctx, actorID, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, todo.ID); err != nil {
		return err
	}

	s.logger.Info("todo deleted", slog.String("id", todo.ID))
	return nil
}

// ListForOwner returns the owner's todos in list order.
func (s *TodoService) ListForOwner(ctx context.Context, ownerID string) ([]model.Todo, error) {
	todos, err := s.repo.ListForOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to list todos",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	return todos, nil
}
