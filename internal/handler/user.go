package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/todo-accounts/internal/apperror"
	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/service"
)

// UserHandler serves the profile pages.
//
// HANDLER RESPONSIBILITIES:
//   - HandleProfile      → the signed-in user plus the user listing
//   - HandleAvatar       → avatar upload
//   - HandleUpdate*      → edit username/email
//   - HandleDelete       → delete the account
type UserHandler struct {
	pages
	users *service.UserService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *service.UserService, renderer Renderer, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		pages: pages{renderer: renderer, logger: logger},
		users: users,
	}
}

// HandleProfile renders the signed-in user's profile and every account.
//
// HTTP: GET /profile
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), currentUser(r))
	if err != nil {
		h.renderError(w, r, err, nil)
		return
	}
	all, err := h.users.List(r.Context())
	if err != nil {
		h.renderError(w, r, err, nil)
		return
	}

	h.render(w, r, http.StatusOK, "profile", map[string]any{
		"Title": "Profile",
		"User":  user,
		"Users": all,
	})
}

// HandleAvatar stores an uploaded avatar for the signed-in user.
//
// HTTP: POST /avatar (multipart field: avatar)
//
// MaxBytesReader caps the whole body, multipart framing included, so an
// oversized upload fails while it is being read instead of after it has
// filled the disk. The file itself may be at most service.MaxAvatarBytes.
func (h *UserHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	back := &retryLink{URL: "/profile", Text: "Back to profile"}
	tooLarge := apperror.TooLarge("avatar", "avatar must be 5 MB or smaller")

	r.Body = http.MaxBytesReader(w, r.Body, service.MaxAvatarBytes+1<<20)
	if err := r.ParseMultipartForm(service.MaxAvatarBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.renderError(w, r, tooLarge, back)
			return
		}
		h.renderError(w, r, apperror.ValidationFailed("avatar", "could not read the uploaded file"), back)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		h.renderError(w, r, apperror.ValidationFailed("avatar", "choose an image to upload"), back)
		return
	}
	defer file.Close()

	if header.Size > service.MaxAvatarBytes {
		h.renderError(w, r, tooLarge, back)
		return
	}

	if _, err := h.users.UploadAvatar(r.Context(), currentUser(r), header.Filename, file); err != nil {
		h.renderError(w, r, err, back)
		return
	}

	seeOther(w, r, "/profile")
}

// HandleUpdateForm renders the account edit form.
//
// HTTP: GET /update/{id}
func (h *UserHandler) HandleUpdateForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != currentUser(r) {
		h.renderError(w, r, apperror.Forbidden("you can only change your own account"), nil)
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err, nil)
		return
	}
	h.render(w, r, http.StatusOK, "update", map[string]any{
		"Title": "Update Profile",
		"User":  user,
	})
}

// HandleUpdate applies the submitted fields. Fields missing from the form
// are left unchanged.
//
// HTTP: POST /update/{id} (form: username, email)
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	patch := model.UserPatch{
		Username: formValue(r, "username"),
		Email:    formValue(r, "email"),
	}
	if err := h.users.Update(r.Context(), currentUser(r), id, patch); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/update/" + id, Text: "Try again"})
		return
	}

	seeOther(w, r, "/profile")
}

// HandleDelete deletes the account.
//
// HTTP: GET /delete/{id}
//
// The account's sessions go with it, so the redirect to /profile lands on
// the sign-in page.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.users.Delete(r.Context(), currentUser(r), id); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/profile", Text: "Back to profile"})
		return
	}

	seeOther(w, r, "/profile")
}
