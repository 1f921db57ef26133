// Package apperror defines the application's error taxonomy.
//
// Each sentinel (ErrNotFound, ErrConflict, ...) is a category. Constructors
// return an *AppError that wraps one sentinel and carries a message that is
// safe to show to the user. HTTP handlers map categories to status codes with
// errors.Is; anything that is not an *AppError is treated as a store failure.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrExpired      = errors.New("expired")
	ErrTooLarge     = errors.New("too large")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// DuplicateUser is returned when a username or email is already registered.
// field is "username" or "email".
func DuplicateUser(field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("a user with that %s already exists", field),
		Field:   field,
	}
}

// InvalidCredentials is deliberately vague: it never says whether the username
// or the password was wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "invalid username or password",
	}
}

// UserNotFoundByEmail is the password-reset lookup miss. The email is not echoed back.
func UserNotFoundByEmail() *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: "User not found.",
	}
}

// TokenExpiredOrAlreadyUsed is returned when a reset link is completed without a
// live reset grant.
func TokenExpiredOrAlreadyUsed() *AppError {
	return &AppError{
		Err:     ErrExpired,
		Message: "This password reset link has expired or was already used.",
	}
}

// IncorrectOldPassword is returned by the in-session password change.
func IncorrectOldPassword() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "Incorrect Password.",
		Field:   "oldpassword",
	}
}

// TooLarge is returned when an upload is over its size limit.
func TooLarge(field, message string) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: message,
		Field:   field,
	}
}
