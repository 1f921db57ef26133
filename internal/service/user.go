package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
	"github.com/sakif/todo-accounts/internal/storage"
)

// MaxAvatarBytes is the largest accepted avatar upload.
const MaxAvatarBytes = 5 << 20

func avatarTooLarge() *apperror.AppError {
	return apperror.TooLarge("avatar", "avatar must be 5 MB or smaller")
}

// cappedReader reads at most limit bytes from r and records whether r held more.
type cappedReader struct {
	r        io.Reader
	left     int64
	overflow bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		var one [1]byte
		if n, _ := c.r.Read(one[:]); n > 0 {
			c.overflow = true
		}
		return 0, io.EOF
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}

var avatarExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// UserService covers the profile pages: viewing, editing and deleting an
// account, and avatar uploads.
type UserService struct {
	users  repository.UserRepository
	files  storage.FileStore
	logger *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(users repository.UserRepository, files storage.FileStore, logger *slog.Logger) *UserService {
	return &UserService{users: users, files: files, logger: logger}
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetByID(ctx, id)
}

// List returns every user, for the profile page's user listing.
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// requireSelf is the ownership rule for account routes: only the account
// holder may change or delete it.
func requireSelf(actorID, targetID string) error {
	if actorID == "" || actorID != targetID {
		return apperror.Forbidden("you can only change your own account")
	}
	return nil
}

// Update applies a partial username/email change. Nil fields are untouched.
func (s *UserService) Update(ctx context.Context, actorID, targetID string, patch model.UserPatch) error {
	if err := requireSelf(actorID, targetID); err != nil {
		return err
	}

	if patch.Username != nil {
		username, err := normalizeUsername(*patch.Username)
		if err != nil {
			return err
		}
		patch.Username = &username
	}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return err
		}
		patch.Email = &email
	}
	if patch.Username == nil && patch.Email == nil {
		return nil
	}

	if err := s.users.Update(ctx, targetID, patch); err != nil {
		return err
	}

	s.logger.Info("user updated", slog.String("userID", targetID))
	return nil
}

// Delete removes the account. Todos, the todo list and sessions go with it
// (database cascade); a custom avatar file is removed afterwards.
func (s *UserService) Delete(ctx context.Context, actorID, targetID string) error {
	if err := requireSelf(actorID, targetID); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, targetID); err != nil {
		return err
	}

	if user.HasCustomAvatar() {
		s.removeFile(ctx, user.Avatar)
	}

	s.logger.Info("user deleted", slog.String("userID", targetID))
	return nil
}

// UploadAvatar stores a new avatar and records it on the user.
//
// ORDER OF OPERATIONS:
//  1. write the new file
//  2. compare-and-set the user's avatar from the old name to the new one
//  3. delete the old file, unless it was the shared default
//
// If step 2 loses a race with another upload, the new file is removed and
// apperror.ErrConflict is returned. Neither outcome leaves an orphan file
// referenced by nobody, nor a user pointing at a missing file.
//
// More than MaxAvatarBytes of content is apperror.ErrTooLarge.
func (s *UserService) UploadAvatar(ctx context.Context, userID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !avatarExtensions[ext] {
		return "", apperror.ValidationFailed("avatar", "avatar must be a .jpg, .jpeg, .png or .gif image")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	prev := user.Avatar

	body := &cappedReader{r: r, left: MaxAvatarBytes}
	name, err := s.files.Save(ctx, ext, body)
	if err != nil {
		return "", fmt.Errorf("service/user: saving avatar: %w", err)
	}
	if body.overflow {
		s.removeFile(ctx, name)
		return "", avatarTooLarge()
	}

	if err := s.users.SwapAvatar(ctx, userID, prev, name); err != nil {
		s.removeFile(ctx, name)
		return "", err
	}

	if user.HasCustomAvatar() {
		s.removeFile(ctx, prev)
	}

	s.logger.Info("avatar updated",
		slog.String("userID", userID),
		slog.String("avatar", name),
	)
	return name, nil
}

// removeFile deletes a stored file. Failure only leaves an unreferenced file
// behind, so it is logged rather than returned.
func (s *UserService) removeFile(ctx context.Context, name string) {
	if err := s.files.Delete(ctx, name); err != nil {
		s.logger.Error("failed to delete avatar file",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}
