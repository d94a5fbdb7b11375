package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kousaila502/e-social-assistance/internal/app"
	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantPage  int
		wantLimit int
	}{
		{name: "defaults", query: "", wantPage: 1, wantLimit: app.DefaultPageLimit},
		{name: "explicit values", query: "page=3&limit=50", wantPage: 3, wantLimit: 50},
		{name: "limit capped", query: "limit=5000", wantPage: 1, wantLimit: app.MaxPageLimit},
		{name: "garbage ignored", query: "page=abc&limit=-2", wantPage: 1, wantLimit: app.DefaultPageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/demandes?"+tt.query, nil)
			page, limit := parsePagination(req)
			if page != tt.wantPage || limit != tt.wantLimit {
				t.Fatalf("expected page=%d limit=%d, got page=%d limit=%d", tt.wantPage, tt.wantLimit, page, limit)
			}
		})
	}
}

func TestPagedComputesPageCount(t *testing.T) {
	envelope := paged([]string{"a", "b"}, 2, 20, 41)
	if envelope.Pagination.Pages != 3 {
		t.Fatalf("expected 3 pages for 41 rows at 20 per page, got %d", envelope.Pagination.Pages)
	}
	if envelope.Pagination.Page != 2 || envelope.Pagination.Limit != 20 || envelope.Pagination.Total != 41 {
		t.Fatalf("unexpected pagination meta: %+v", envelope.Pagination)
	}
}

func TestWriteServiceErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "field validation", err: domain.NewValidationError("amount", "must be positive"), wantStatus: http.StatusBadRequest},
		{name: "authentication", err: domain.ErrAuthentication, wantStatus: http.StatusUnauthorized},
		{name: "authorization", err: fmt.Errorf("role user: %w", domain.ErrAuthorization), wantStatus: http.StatusForbidden},
		{name: "missing demande", err: store.ErrDemandeNotFound, wantStatus: http.StatusNotFound},
		{name: "duplicate email", err: store.ErrDuplicateEmail, wantStatus: http.StatusConflict},
		{name: "invalid state", err: fmt.Errorf("demande is paid: %w", domain.ErrInvalidState), wantStatus: http.StatusConflict},
		{name: "status conflict", err: store.ErrStatusConflict, wantStatus: http.StatusConflict},
		{name: "insufficient funds", err: fmt.Errorf("pool has 6000: %w", store.ErrInsufficientFunds), wantStatus: http.StatusUnprocessableEntity},
		{name: "pool not active", err: domain.ErrPoolNotActive, wantStatus: http.StatusLocked},
		{name: "retry not due", err: domain.ErrRetryNotDue, wantStatus: http.StatusTooManyRequests},
		{name: "retries exhausted", err: domain.ErrRetriesExhausted, wantStatus: http.StatusConflict},
		{name: "gateway outage", err: fmt.Errorf("disbursement failed: %w", domain.ErrDependency), wantStatus: http.StatusBadGateway},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}

			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("expected a JSON error body, got %v", err)
			}
			if body.StatusCode != tt.wantStatus {
				t.Fatalf("expected the body to echo %d, got %d", tt.wantStatus, body.StatusCode)
			}
			if body.Message == "" {
				t.Fatal("expected a message in the error body")
			}
		})
	}
}

func TestWriteServiceErrorExposesValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, &domain.ValidationError{Fields: map[string]string{
		"amount":     "must be positive",
		"demande_id": "is required",
	}})

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("expected a JSON error body, got %v", err)
	}
	if body.Details["amount"] != "must be positive" || body.Details["demande_id"] != "is required" {
		t.Fatalf("expected the field violations in details, got %v", body.Details)
	}
}
