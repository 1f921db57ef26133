package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/todo-accounts/internal/model"
	"github.com/sakif/todo-accounts/internal/service"
)

// TodoHandler serves the signed-in user's todo list.
//
// HANDLER RESPONSIBILITIES:
//   - HandleHome    → list the user's todos
//   - HandleCreate* → add a todo
//   - HandleUpdate* → edit a todo
//   - HandleDelete  → remove a todo
//
// Every write redirects back to /home with 303 See Other.
type TodoHandler struct {
	pages
	todos *service.TodoService
}

// NewTodoHandler creates a TodoHandler.
func NewTodoHandler(todos *service.TodoService, renderer Renderer, logger *slog.Logger) *TodoHandler {
	return &TodoHandler{
		pages: pages{renderer: renderer, logger: logger},
		todos: todos,
	}
}

// HandleHome lists the signed-in user's todos in the order they were added.
//
// HTTP: GET /home
func (h *TodoHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	todos, err := h.todos.ListForOwner(r.Context(), currentUser(r))
	if err != nil {
		h.renderError(w, r, err, nil)
		return
	}
	h.render(w, r, http.StatusOK, "home", map[string]any{
		"Title": "Home",
		"Todos": todos,
	})
}

// HandleCreateForm renders the new-todo form.
//
// HTTP: GET /createtodo
func (h *TodoHandler) HandleCreateForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "createtodo", map[string]any{"Title": "Create Todo"})
}

// HandleCreate adds a todo for the signed-in user.
//
// HTTP: POST /createtodo (form: title, description, status)
func (h *TodoHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	_, err := h.todos.Create(r.Context(), currentUser(r),
		r.PostFormValue("title"),
		r.PostFormValue("description"),
		r.PostFormValue("status"),
	)
	if err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/createtodo", Text: "Try again"})
		return
	}

	seeOther(w, r, "/home")
}

// HandleUpdateForm renders the edit form for a todo the user owns.
//
// HTTP: GET /updatetodo/{id}
func (h *TodoHandler) HandleUpdateForm(w http.ResponseWriter, r *http.Request) {
	todo, err := h.todos.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/home", Text: "Back to todos"})
		return
	}
	h.render(w, r, http.StatusOK, "updatetodo", map[string]any{
		"Title": "Update Todo",
		"Todo":  todo,
	})
}

// HandleUpdate applies the submitted fields to a todo the user owns.
// Fields missing from the form are left unchanged.
//
// HTTP: POST /updatetodo/{id} (form: title, description, status)
func (h *TodoHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	patch := model.TodoPatch{
		Title:       formValue(r, "title"),
		Description: formValue(r, "description"),
		Status:      formValue(r, "status"),
	}
	if _, err := h.todos.Update(r.Context(), currentUser(r), id, patch); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/updatetodo/" + id, Text: "Try again"})
		return
	}

	seeOther(w, r, "/home")
}

// HandleDelete removes a todo the user owns.
//
// HTTP: GET /deletetodo/{id}
func (h *TodoHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.todos.Delete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		h.renderError(w, r, err, &retryLink{URL: "/home", Text: "Back to todos"})
		return
	}

	seeOther(w, r, "/home")
}
