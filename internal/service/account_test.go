package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/model"
)

// =========================================================================
// REGISTER / AUTHENTICATE
// =========================================================================

func TestRegister_ThenAuthenticate(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()

	user := f.register(t, "alice", "alice@example.com", "correct-horse")
	if user.ID == "" {
		t.Fatal("Register() should set the user ID")
	}
	if user.Avatar != model.DefaultAvatar {
		t.Errorf("Avatar = %q, want %q", user.Avatar, model.DefaultAvatar)
	}
	if user.PasswordHash == "correct-horse" || user.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}

	got, err := f.svc.Authenticate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("Authenticate() user = %q, want %q", got.ID, user.ID)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newTestAccountService(t)
	f.register(t, "alice", "alice@example.com", "correct-horse")

	_, err := f.svc.Register(context.Background(), "alice", "other@example.com", "another-pass")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	// The first account is unaffected.
	if _, err := f.svc.Authenticate(context.Background(), "alice", "correct-horse"); err != nil {
		t.Errorf("first account should still sign in: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newTestAccountService(t)
	f.register(t, "alice", "alice@example.com", "correct-horse")

	_, err := f.svc.Register(context.Background(), "bob", "ALICE@example.com", "another-pass")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestRegister_EmailIsStoredLowercase(t *testing.T) {
	f := newTestAccountService(t)
	alice := f.register(t, "alice", "Alice@Example.com", "correct-horse")
	if alice.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", alice.Email, "alice@example.com")
	}

	_, err := f.svc.Register(context.Background(), "bobby", "alice@example.com", "another-pass")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	if err := f.svc.RequestPasswordReset(context.Background(), "ALICE@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(f.mail.sent) != 1 || f.mail.sent[0].to != "alice@example.com" {
		t.Fatalf("sent = %+v, want one email to alice@example.com", f.mail.sent)
	}
	if id, _ := tokenFromLink(t, f.mail.sent[0].link); id != alice.ID {
		t.Errorf("link is for %q, want %q", id, alice.ID)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		password string
		field    string
	}{
		{"empty username", "  ", "a@example.com", "long-enough", "username"},
		{"short username", "ab", "a@example.com", "long-enough", "username"},
		{"username with space", "al ice", "a@example.com", "long-enough", "username"},
		{"empty email", "alice", "", "long-enough", "email"},
		{"bad email", "alice", "not-an-email", "long-enough", "email"},
		{"display name email", "alice", "Alice <a@example.com>", "long-enough", "email"},
		{"short password", "alice", "a@example.com", "short", "password"},
		{"long password", "alice", "a@example.com", strings.Repeat("x", 73), "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestAccountService(t)
			_, err := f.svc.Register(context.Background(), tt.username, tt.email, tt.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestAuthenticate_WrongPasswordAndUnknownUserLookTheSame(t *testing.T) {
	f := newTestAccountService(t)
	f.register(t, "alice", "alice@example.com", "correct-horse")

	_, wrongPass := f.svc.Authenticate(context.Background(), "alice", "battery-staple")
	_, noUser := f.svc.Authenticate(context.Background(), "mallory", "battery-staple")

	for _, err := range []error{wrongPass, noUser} {
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Fatalf("error = %v, want ErrUnauthorized", err)
		}
	}
	if wrongPass.Error() != noUser.Error() {
		t.Errorf("messages differ: %q vs %q", wrongPass, noUser)
	}
}

// =========================================================================
// IN-SESSION PASSWORD CHANGE
// =========================================================================

func TestChangePassword_NewPasswordWorksOldDoesNot(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	user := f.register(t, "alice", "alice@example.com", "correct-horse")

	if err := f.svc.ChangePassword(ctx, user.ID, "correct-horse", "battery-staple"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, "alice", "battery-staple"); err != nil {
		t.Errorf("new password should sign in: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "alice", "correct-horse"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("old password should be rejected, got %v", err)
	}
}

func TestChangePassword_IncorrectOldPassword(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	user := f.register(t, "alice", "alice@example.com", "correct-horse")
	before := f.users.raw(user.ID).PasswordHash

	err := f.svc.ChangePassword(ctx, user.ID, "guess-guess", "battery-staple")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != "Incorrect Password." {
		t.Errorf("message = %q", err.Error())
	}
	if f.users.raw(user.ID).PasswordHash != before {
		t.Error("password hash changed after a failed check")
	}
}

// =========================================================================
// OUT-OF-SESSION RESET
// =========================================================================

// tokenFromLink pulls the JWT out of an emailed reset link.
func tokenFromLink(t *testing.T, link string) (userID, token string) {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	return strings.TrimPrefix(u.Path, "/change-password/"), u.Query().Get("token")
}

func TestRequestPasswordReset_SendsLinkAndRaisesGrant(t *testing.T) {
	f := newTestAccountService(t)
	user := f.register(t, "alice", "alice@example.com", "correct-horse")

	if err := f.svc.RequestPasswordReset(context.Background(), " alice@example.com "); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	if f.users.raw(user.ID).ResetToken != 1 {
		t.Error("reset grant should be raised")
	}
	if len(f.mail.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(f.mail.sent))
	}
	sent := f.mail.sent[0]
	if sent.to != "alice@example.com" {
		t.Errorf("to = %q", sent.to)
	}
	if !strings.HasPrefix(sent.link, "http://todo.test/change-password/"+user.ID+"?token=") {
		t.Errorf("link = %q", sent.link)
	}
	id, token := tokenFromLink(t, sent.link)
	if id != user.ID || f.svc.CheckResetLink(id, token) != nil {
		t.Error("emailed link should verify for the user")
	}
}

func TestRequestPasswordReset_UnknownEmail(t *testing.T) {
	f := newTestAccountService(t)

	err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err.Error() != "User not found." {
		t.Errorf("message = %q", err.Error())
	}
	if len(f.mail.sent) != 0 {
		t.Error("no email should be sent")
	}
}

func TestCompletePasswordReset_WithoutGrantFails(t *testing.T) {
	f := newTestAccountService(t)
	user := f.register(t, "alice", "alice@example.com", "correct-horse")

	// A validly signed link, but the database grant was never raised.
	token, _ := f.resets.Issue(user.ID)
	err := f.svc.CompletePasswordReset(context.Background(), user.ID, token, "battery-staple")
	if !errors.Is(err, apperror.ErrExpired) {
		t.Fatalf("error = %v, want ErrExpired", err)
	}
}

func TestCompletePasswordReset_SucceedsOnceThenFails(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	user := f.register(t, "alice", "alice@example.com", "correct-horse")

	if err := f.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	id, token := tokenFromLink(t, f.mail.sent[0].link)

	if err := f.svc.CompletePasswordReset(ctx, id, token, "battery-staple"); err != nil {
		t.Fatalf("first CompletePasswordReset() error = %v", err)
	}
	if f.users.raw(user.ID).ResetToken != 0 {
		t.Error("grant should be cleared after use")
	}
	if len(f.revoker.ended) != 1 || f.revoker.ended[0] != user.ID {
		t.Errorf("sessions ended for %v, want [%s]", f.revoker.ended, user.ID)
	}
	if _, err := f.svc.Authenticate(ctx, "alice", "battery-staple"); err != nil {
		t.Errorf("reset password should sign in: %v", err)
	}

	err := f.svc.CompletePasswordReset(ctx, id, token, "third-password")
	if !errors.Is(err, apperror.ErrExpired) {
		t.Fatalf("second CompletePasswordReset() error = %v, want ErrExpired", err)
	}
	if _, err := f.svc.Authenticate(ctx, "alice", "battery-staple"); err != nil {
		t.Error("failed second reset must not change the password")
	}
}

func TestCompletePasswordReset_LinkForOtherUser(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "correct-horse")
	bob := f.register(t, "bobby", "bob@example.com", "correct-horse")

	f.svc.RequestPasswordReset(ctx, "alice@example.com")
	f.users.SetResetToken(ctx, bob.ID, true)
	_, aliceToken := tokenFromLink(t, f.mail.sent[0].link)

	err := f.svc.CompletePasswordReset(ctx, bob.ID, aliceToken, "hijacked-pass")
	if !errors.Is(err, apperror.ErrExpired) {
		t.Fatalf("error = %v, want ErrExpired", err)
	}
	if f.users.raw(bob.ID).ResetToken != 1 {
		t.Error("bob's grant must survive a rejected link")
	}
}

func TestCompletePasswordReset_WeakPasswordKeepsGrant(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	user := f.register(t, "alice", "alice@example.com", "correct-horse")

	f.svc.RequestPasswordReset(ctx, "alice@example.com")
	id, token := tokenFromLink(t, f.mail.sent[0].link)

	if err := f.svc.CompletePasswordReset(ctx, id, token, "short"); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if f.users.raw(user.ID).ResetToken != 1 {
		t.Error("a rejected password must not use up the link")
	}
}

func TestRequestPasswordReset_MailFailure(t *testing.T) {
	f := newTestAccountService(t)
	f.register(t, "alice", "alice@example.com", "correct-horse")
	relayDown := errors.New("relay down")
	f.mail.fails = relayDown

	err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com")
	if !errors.Is(err, relayDown) {
		t.Fatalf("error = %v, want wrapped relay error", err)
	}
}

// =========================================================================
// GITHUB SIGN-IN
// =========================================================================

func TestLoginWithGitHub_CreatesThenReuses(t *testing.T) {
	f := newTestAccountService(t)
	ctx := context.Background()
	profile := &auth.GitHubProfile{ID: 42, Login: "octocat", Email: "octo@example.com"}

	first, err := f.svc.LoginWithGitHub(ctx, profile)
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if first.Username != "octocat" {
		t.Errorf("Username = %q, want octocat", first.Username)
	}
	if first.HasPassword() {
		t.Error("GitHub-created account should have no password")
	}

	second, err := f.svc.LoginWithGitHub(ctx, profile)
	if err != nil {
		t.Fatalf("second LoginWithGitHub() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second login created a new account: %q vs %q", second.ID, first.ID)
	}

	// No password means password sign-in is impossible.
	if _, err := f.svc.Authenticate(ctx, "octocat", ""); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Authenticate() error = %v, want ErrUnauthorized", err)
	}
}

func TestLoginWithGitHub_LinksByEmail(t *testing.T) {
	f := newTestAccountService(t)
	existing := f.register(t, "alice", "alice@example.com", "correct-horse")

	user, err := f.svc.LoginWithGitHub(context.Background(),
		&auth.GitHubProfile{ID: 7, Login: "alice-gh", Email: "Alice@Example.com"})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if user.ID != existing.ID {
		t.Errorf("should link the existing account, got new id %q", user.ID)
	}
	if gh := f.users.raw(existing.ID).GitHubID; gh == nil || *gh != 7 {
		t.Errorf("GitHubID = %v, want 7", gh)
	}
}

func TestLoginWithGitHub_UsernameTakenGetsSuffix(t *testing.T) {
	f := newTestAccountService(t)
	f.register(t, "octocat", "someone@example.com", "correct-horse")

	user, err := f.svc.LoginWithGitHub(context.Background(),
		&auth.GitHubProfile{ID: 42, Login: "octocat", Email: "octo@example.com"})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if user.Username != "octocat-2" {
		t.Errorf("Username = %q, want octocat-2", user.Username)
	}
}

func TestLoginWithGitHub_NoEmail(t *testing.T) {
	f := newTestAccountService(t)

	_, err := f.svc.LoginWithGitHub(context.Background(), &auth.GitHubProfile{ID: 42, Login: "octocat"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
