// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// DefaultAvatar is the sentinel filename meaning "no custom avatar uploaded".
// It is never deleted from file storage.
const DefaultAvatar = "default.jpg"

// User represents a registered user account.
//
// WHY PasswordHash HAS json:"-"?
// The bcrypt hash must never leave the server. The "-" tag makes encoding/json
// skip the field entirely, and templates only ever receive the fields they print.
//
// WHY GitHubID *int64?
// Most accounts sign up with a password and have no GitHub link. NULL in the DB
// maps to nil here; the UNIQUE constraint only applies to non-NULL values.
//
// Todos is the owner's ordered list of todo IDs. It is a list of weak references:
// deleting a todo leaves its ID behind, and readers must skip IDs that no longer
// resolve to a row.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Avatar       string    `json:"avatar"     db:"avatar"`
	ResetToken   int       `json:"-"          db:"reset_token"` // 1 = outstanding single-use reset grant
	GitHubID     *int64    `json:"githubId"   db:"github_id"`
	Todos        []string  `json:"todos"      db:"-"`
	CreatedAt    time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"  db:"updated_at"`
}

// HasCustomAvatar reports whether the user uploaded their own avatar file.
func (u *User) HasCustomAvatar() bool {
	return u.Avatar != "" && u.Avatar != DefaultAvatar
}

// HasPassword reports whether password sign-in is possible for this account.
// Accounts created through GitHub sign-in have no password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserPatch carries a partial update. Nil fields are left unchanged.
type UserPatch struct {
	Username *string
	Email    *string
}
