package service

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
)

// Validation limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MaxEmailLength    = 254
	MinPasswordLength = 8

	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxStatusLength      = 50
)

// normalizeUsername trims and checks a username. Letters, digits and . _ -
// are allowed so usernames stay safe to print in URLs and links.
func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", apperror.ValidationFailed("username", "username is required")
	}
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return "", apperror.ValidationFailed("username",
				"username may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return username, nil
}

// normalizeEmail trims, lowercases and checks an email address. Display
// names ("Alice <a@example.com>") are rejected.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email address is not valid")
	}
	return email, nil
}

// checkPassword enforces the length rules. The upper bound is bcrypt's.
func checkPassword(field, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes))
	}
	return nil
}

// checkLength trims *s in place and enforces max. A nil pointer is fine.
func checkLength(field string, s *string, max int) error {
	if s == nil {
		return nil
	}
	*s = strings.TrimSpace(*s)
	if utf8.RuneCountInString(*s) > max {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, max))
	}
	return nil
}
