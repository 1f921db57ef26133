package model

import "time"

// Todo is a single to-do item owned by exactly one user.
//
// UserID is set at creation and never changes afterwards. Title, Description and
// Status are free-form text from the submitted form.
type Todo struct {
	ID          string    `json:"id"          db:"id"`
	UserID      string    `json:"userId"      db:"user_id"`
	Title       string    `json:"title"       db:"title"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status"      db:"status"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// TodoPatch carries a partial todo update. Nil fields keep their stored value.
type TodoPatch struct {
	Title       *string
	Description *string
	Status      *string
}

// IsEmpty reports whether the patch would change nothing.
func (p TodoPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil
}
