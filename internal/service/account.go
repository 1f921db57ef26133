// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses forms, renders pages, redirects
//	Service (business layer) → validates, enforces ownership, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services accept primitives and domain types, never *http.Request, and
// return apperror values that the handler maps to status codes.
//
// Services depend on repository interfaces, not on *sqlite.DB, so tests pass
// in-memory fakes (see fakes_test.go).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/mailer"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/repository"
)

// SessionRevoker ends every session a user has. *auth.SessionManager
// satisfies it.
type SessionRevoker interface {
	EndAllForUser(ctx context.Context, userID string) error
}

// AccountService handles registration, sign-in and both password flows.
//
// DEPENDENCIES (injected via NewAccountService):
//   - users      repository.UserRepository → credential store
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - resets     *auth.ResetTokenService   → signed reset-link tokens
//   - mail       mailer.Mailer             → delivers the reset link
//   - sessions   SessionRevoker            → sign-out everywhere after a reset
type AccountService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	resets    *auth.ResetTokenService
	mail      mailer.Mailer
	sessions  SessionRevoker
	baseURL   string
	logger    *slog.Logger
}

// NewAccountService creates an AccountService. baseURL is the externally
// visible site root, e.g. "https://todo.example.com", used in emailed links.
func NewAccountService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	resets *auth.ResetTokenService,
	mail mailer.Mailer,
	sessions SessionRevoker,
	baseURL string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		passwords: passwords,
		resets:    resets,
		mail:      mail,
		sessions:  sessions,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// Register creates a password account.
//
// Uniqueness is left to the store: a duplicate username or email comes back
// as apperror.DuplicateUser from UserRepository.Create.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword("password", password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       model.DefaultAvatar,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/account: registering %q: %w", username, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Authenticate checks a username/password pair.
//
// Unknown user, GitHub-only account and wrong password all return the same
// apperror.InvalidCredentials, so the sign-in form cannot be used to probe
// which usernames exist.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/account: looking up %q: %w", username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("sign-in rejected", slog.String("username", user.Username))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/account: verifying password: %w", err)
	}

	s.logger.Info("user signed in", slog.String("userID", user.ID))
	return user, nil
}

// ChangePassword is the in-session change: the old password must verify
// before the new one is stored. A mismatch changes nothing.
func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.passwords.Verify(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.IncorrectOldPassword()
		}
		return fmt.Errorf("service/account: verifying old password: %w", err)
	}
	if err := checkPassword("password", newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/account: hashing password: %w", err)
	}
	if err := s.users.SetPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/account: storing password for %s: %w", userID, err)
	}

	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

// RequestPasswordReset starts the out-of-session reset: it raises the user's
// single-use reset grant and emails a signed link.
//
// Returns apperror.UserNotFoundByEmail when no account has that address.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.UserNotFoundByEmail()
		}
		return fmt.Errorf("service/account: looking up email: %w", err)
	}

	if err := s.users.SetResetToken(ctx, user.ID, true); err != nil {
		return fmt.Errorf("service/account: raising reset grant for %s: %w", user.ID, err)
	}

	token, err := s.resets.Issue(user.ID)
	if err != nil {
		return fmt.Errorf("service/account: issuing reset token: %w", err)
	}

	if err := s.mail.SendPasswordReset(ctx, user.Email, s.ResetLink(user.ID, token)); err != nil {
		s.logger.Error("failed to send reset email",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("service/account: sending reset email: %w", err)
	}

	s.logger.Info("password reset requested", slog.String("userID", user.ID))
	return nil
}

// ResetLink builds the absolute URL emailed to the user.
func (s *AccountService) ResetLink(userID, token string) string {
	return s.baseURL + "/change-password/" + url.PathEscape(userID) + "?token=" + url.QueryEscape(token)
}

// CheckResetLink reports whether the signed part of a reset link is still
// good. It does not look at the database grant; that is checked atomically
// when the password is actually replaced.
func (s *AccountService) CheckResetLink(userID, token string) error {
	if err := s.resets.Verify(token, userID); err != nil {
		return apperror.TokenExpiredOrAlreadyUsed()
	}
	return nil
}

// CompletePasswordReset sets a new password through an emailed link.
//
// The grant is consumed by a single conditional UPDATE, so of two concurrent
// submissions of the same link exactly one succeeds. On success every
// session of the user is ended.
func (s *AccountService) CompletePasswordReset(ctx context.Context, userID, token, newPassword string) error {
	if err := s.CheckResetLink(userID, token); err != nil {
		return err
	}
	if err := checkPassword("password", newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/account: hashing password: %w", err)
	}

	if err := s.users.ConsumeResetToken(ctx, userID, hash); err != nil {
		if errors.Is(err, apperror.ErrExpired) || errors.Is(err, apperror.ErrNotFound) {
			return apperror.TokenExpiredOrAlreadyUsed()
		}
		return fmt.Errorf("service/account: consuming reset grant for %s: %w", userID, err)
	}

	if err := s.sessions.EndAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("service/account: signing %s out after reset: %w", userID, err)
	}

	s.logger.Info("password reset completed", slog.String("userID", userID))
	return nil
}

// maxUsernameAttempts bounds how many suffixed usernames GitHub sign-in
// tries before giving up.
const maxUsernameAttempts = 5

// LoginWithGitHub finds or creates the account for a GitHub profile.
//
// Lookup order:
//  1. an account already linked to this GitHub id
//  2. an account with the same email, which gets linked now
//  3. a new account with no password, named after the GitHub login
func (s *AccountService) LoginWithGitHub(ctx context.Context, profile *auth.GitHubProfile) (*model.User, error) {
	if profile == nil || profile.ID == 0 {
		return nil, fmt.Errorf("service/account: GitHub profile must not be empty")
	}

	user, err := s.users.GetByGitHubID(ctx, profile.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: looking up GitHub id %d: %w", profile.ID, err)
	}

	email, err := normalizeEmail(profile.Email)
	if err != nil {
		return nil, apperror.ValidationFailed("email", "your GitHub account has no usable email address")
	}

	user, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.LinkGitHub(ctx, user.ID, profile.ID); err != nil {
			return nil, fmt.Errorf("service/account: linking GitHub id %d: %w", profile.ID, err)
		}
		ghID := profile.ID
		user.GitHubID = &ghID
		s.logger.Info("GitHub account linked",
			slog.String("userID", user.ID),
			slog.Int64("githubID", profile.ID),
		)
		return user, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: looking up email: %w", err)
	}

	return s.createGitHubUser(ctx, profile, email)
}

func (s *AccountService) createGitHubUser(ctx context.Context, profile *auth.GitHubProfile, email string) (*model.User, error) {
	base, err := normalizeUsername(profile.Login)
	if err != nil {
		base = fmt.Sprintf("github-%d", profile.ID)
	}

	ghID := profile.ID
	for attempt := 1; attempt <= maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 1 {
			username = fmt.Sprintf("%s-%d", base, attempt)
		}

		user := &model.User{
			Username: username,
			Email:    email,
			Avatar:   model.DefaultAvatar,
			GitHubID: &ghID,
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.Info("user registered via GitHub",
				slog.String("userID", user.ID),
				slog.String("username", user.Username),
				slog.Int64("githubID", profile.ID),
			)
			return user, nil
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) && errors.Is(err, apperror.ErrConflict) && appErr.Field == "username" {
			continue
		}
		return nil, fmt.Errorf("service/account: creating GitHub user: %w", err)
	}
	return nil, apperror.DuplicateUser("username")
}
