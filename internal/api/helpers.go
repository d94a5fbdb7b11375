/**
 * @description
 * Response and request helpers shared by every handler: JSON writers, the
 * error-taxonomy-to-status mapping, pagination parsing, and the paged
 * response envelope.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/app"
	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// errorResponse is the body shape of every non-2xx response.
type errorResponse struct {
	Message    string            `json:"message"`
	StatusCode int               `json:"statusCode"`
	Details    map[string]string `json:"details,omitempty"`
}

// paginationMeta describes one page of a list response.
type paginationMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// pagedResponse is the envelope for every list endpoint.
type pagedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination paginationMeta `json:"pagination"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string, details map[string]string) {
	writeJSON(w, status, errorResponse{Message: message, StatusCode: status, Details: details})
}

// writeServiceError maps a service error onto the HTTP error taxonomy.
// Anything unrecognized is a 500 and gets logged; dependency failures are
// the only deliberate 5xx.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "Validation failed", validationErr.Fields)
		return
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
	case errors.Is(err, domain.ErrAuthorization):
		writeError(w, http.StatusForbidden, "You are not allowed to perform this operation", nil)
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrDemandeNotFound),
		errors.Is(err, store.ErrBudgetPoolNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrNotificationNotFound),
		errors.Is(err, store.ErrAnnouncementNotFound),
		errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateEmail),
		errors.Is(err, store.ErrDuplicatePool):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRetriesExhausted),
		errors.Is(err, store.ErrStatusConflict):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, domain.ErrPoolNotActive):
		writeError(w, http.StatusLocked, err.Error(), nil)
	case errors.Is(err, domain.ErrRetryNotDue):
		writeError(w, http.StatusTooManyRequests, err.Error(), nil)
	case errors.Is(err, domain.ErrDependency):
		writeError(w, http.StatusBadGateway, "An upstream dependency failed; please try again", nil)
	default:
		slog.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// decodeJSON parses the request body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return false
	}
	return true
}

// parseIDParam reads a UUID route parameter, answering 400 on failure.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" parameter", nil)
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination reads page/limit query parameters with sane bounds.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = app.DefaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > app.MaxPageLimit {
		limit = app.MaxPageLimit
	}
	return page, limit
}

// paged wraps a result slice in the pagination envelope.
func paged(data interface{}, page, limit int, total int64) pagedResponse {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return pagedResponse{
		Data: data,
		Pagination: paginationMeta{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	}
}

// requireActor fetches the actor set by the auth middleware; a missing
// actor means the route was wired outside the auth group.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return domain.Actor{}, false
	}
	return actor, true
}
