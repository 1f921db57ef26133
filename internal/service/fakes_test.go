package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory implementations of the repository, storage and
// mailer interfaces. Each keeps the same observable rules as the real one
// (unique constraints, compare-and-set updates, dangling todo ids) so the
// service logic is tested against realistic behaviour.

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	// set to a non-nil error to simulate a database failure
	listErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return apperror.DuplicateUser("username")
		}
		if strings.EqualFold(u.Email, user.Email) {
			return apperror.DuplicateUser("email")
		}
		if user.GitHubID != nil && u.GitHubID != nil && *u.GitHubID == *user.GitHubID {
			return apperror.DuplicateUser("GitHub account")
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	if user.Avatar == "" {
		user.Avatar = model.DefaultAvatar
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, label string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", label)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }, email)
}

func (f *fakeUserRepo) GetByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.GitHubID != nil && *u.GitHubID == githubID },
		fmt.Sprint(githubID))
}

func (f *fakeUserRepo) List(_ context.Context) ([]model.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUserRepo) mutate(id string, fn func(*model.User) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	return fn(u)
}

func (f *fakeUserRepo) Update(_ context.Context, id string, patch model.UserPatch) error {
	f.mu.Lock()
	for _, u := range f.users {
		if u.ID == id {
			continue
		}
		if patch.Username != nil && u.Username == *patch.Username {
			f.mu.Unlock()
			return apperror.DuplicateUser("username")
		}
		if patch.Email != nil && strings.EqualFold(u.Email, *patch.Email) {
			f.mu.Unlock()
			return apperror.DuplicateUser("email")
		}
	}
	f.mu.Unlock()

	return f.mutate(id, func(u *model.User) error {
		if patch.Username != nil {
			u.Username = *patch.Username
		}
		if patch.Email != nil {
			u.Email = *patch.Email
		}
		return nil
	})
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) SetPassword(_ context.Context, id, hash string) error {
	return f.mutate(id, func(u *model.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (f *fakeUserRepo) LinkGitHub(_ context.Context, id string, githubID int64) error {
	return f.mutate(id, func(u *model.User) error {
		u.GitHubID = &githubID
		return nil
	})
}

func (f *fakeUserRepo) SetResetToken(_ context.Context, id string, live bool) error {
	return f.mutate(id, func(u *model.User) error {
		u.ResetToken = 0
		if live {
			u.ResetToken = 1
		}
		return nil
	})
}

func (f *fakeUserRepo) ConsumeResetToken(_ context.Context, id, hash string) error {
	return f.mutate(id, func(u *model.User) error {
		if u.ResetToken != 1 {
			return apperror.TokenExpiredOrAlreadyUsed()
		}
		u.ResetToken = 0
		u.PasswordHash = hash
		return nil
	})
}

func (f *fakeUserRepo) SwapAvatar(_ context.Context, id, prev, next string) error {
	return f.mutate(id, func(u *model.User) error {
		if u.Avatar != prev {
			return apperror.Conflict("avatar", id)
		}
		u.Avatar = next
		return nil
	})
}

// raw returns the stored record without copying, for assertions.
func (f *fakeUserRepo) raw(id string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

// fakeTodoRepo keeps todos and per-owner id lists separately, like the
// todos and user_todos tables.
type fakeTodoRepo struct {
	mu     sync.Mutex
	todos  map[string]*model.Todo
	lists  map[string][]string
	nextID int

	createErr error
}

func newFakeTodoRepo() *fakeTodoRepo {
	return &fakeTodoRepo{todos: map[string]*model.Todo{}, lists: map[string][]string{}}
}

func (f *fakeTodoRepo) Create(_ context.Context, todo *model.Todo) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	todo.ID = fmt.Sprintf("todo-%d", f.nextID)
	stored := *todo
	f.todos[todo.ID] = &stored
	f.lists[todo.UserID] = append(f.lists[todo.UserID], todo.ID)
	return nil
}

func (f *fakeTodoRepo) GetByID(_ context.Context, id string) (*model.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	if !ok {
		return nil, apperror.NotFound("todo", id)
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTodoRepo) Update(_ context.Context, id string, patch model.TodoPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.todos[id]
	if !ok {
		return apperror.NotFound("todo", id)
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	return nil
}

func (f *fakeTodoRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.todos[id]; !ok {
		return apperror.NotFound("todo", id)
	}
	delete(f.todos, id)
	return nil
}

func (f *fakeTodoRepo) ListForOwner(_ context.Context, userID string) ([]model.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Todo{}
	for _, id := range f.lists[userID] {
		if t, ok := f.todos[id]; ok && t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTodoRepo) TodoIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[userID]...), nil
}

// fakeFileStore records saves and deletes.
type fakeFileStore struct {
	mu      sync.Mutex
	files   map[string]string
	deleted []string
	nextID  int
	saveErr error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: map[string]string{}}
}

func (f *fakeFileStore) Save(_ context.Context, ext string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	name := fmt.Sprintf("file-%d%s", f.nextID, ext)
	f.files[name] = string(data)
	return name, nil
}

func (f *fakeFileStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	delete(f.files, name)
	return nil
}

// fakeMailer captures sent links.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentReset
	fails error
}

type sentReset struct {
	to, link string
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, to, link string) error {
	if f.fails != nil {
		return f.fails
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentReset{to: to, link: link})
	return nil
}

// fakeRevoker records which users were signed out everywhere.
type fakeRevoker struct {
	ended []string
}

func (f *fakeRevoker) EndAllForUser(_ context.Context, userID string) error {
	f.ended = append(f.ended, userID)
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type accountFixture struct {
	svc     *AccountService
	users   *fakeUserRepo
	mail    *fakeMailer
	revoker *fakeRevoker
	resets  *auth.ResetTokenService
}

// newTestAccountService wires an AccountService to fakes. bcrypt cost 4
// keeps the tests fast.
func newTestAccountService(t *testing.T) *accountFixture {
	t.Helper()
	resets, err := auth.NewResetTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewResetTokenService: %v", err)
	}
	f := &accountFixture{
		users:   newFakeUserRepo(),
		mail:    &fakeMailer{},
		revoker: &fakeRevoker{},
		resets:  resets,
	}
	f.svc = NewAccountService(f.users, auth.NewPasswordServiceForTest(bcrypt.MinCost), resets, f.mail, f.revoker,
		"http://todo.test/", testLogger())
	return f
}

// register creates a password account or fails the test.
func (f *accountFixture) register(t *testing.T, username, email, password string) *model.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), username, email, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return user
}

func ptr(s string) *string { return &s }
