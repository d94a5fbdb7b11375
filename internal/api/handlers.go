/**
 * @description
 * This file contains the HTTP handlers for authentication and user
 * management. Handlers parse the request, call the application service, and
 * translate results or taxonomy errors into HTTP responses; no business
 * rule lives here.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"net/http"

	"github.com/kousaila502/e-social-assistance/internal/app"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service        *app.Service
	maxUploadBytes int64
}

// NewHandlers creates a new instance of Handlers. maxUploadBytes bounds
// document uploads.
func NewHandlers(service *app.Service, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handlers{service: service, maxUploadBytes: maxUploadBytes}
}

// RegisterHandler handles citizen self-registration and returns a session.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// LoginHandler handles credential authentication.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CreateStaffHandler lets an admin provision back-office accounts.
func (h *Handlers) CreateStaffHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateStaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.CreateStaff(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// MeHandler returns the authenticated user's own profile.
func (h *Handlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), actor, actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserHandler returns one user profile.
func (h *Handlers) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), actor, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUserHandler updates profile fields.
func (h *Handlers) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	var req domain.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.UpdateUser(r.Context(), actor, userID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SetUserActiveHandler activates or deactivates an account.
func (h *Handlers) SetUserActiveHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetUserActive(r.Context(), actor, userID, req.Active); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// ListUsersHandler lists accounts with role/wilaya/search filters.
func (h *Handlers) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.UserListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Role:   domain.Role(r.URL.Query().Get("role")),
		Wilaya: r.URL.Query().Get("wilaya"),
		Search: r.URL.Query().Get("search"),
	}

	users, total, err := h.service.ListUsers(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, paged(users, page, limit, total))
}
