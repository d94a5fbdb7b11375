/**
 * @description
 * This file contains the HTTP handlers for budget pool administration:
 * CRUD, lifecycle transitions, fund allocation, pool-to-pool transfers, and
 * utilization analytics. Allocation and transfer return compound bodies so
 * callers see every entity the transaction touched.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// CreateBudgetPoolHandler creates a draft budget pool.
func (h *Handlers) CreateBudgetPoolHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateBudgetPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pool, err := h.service.CreateBudgetPool(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetBudgetPoolHandler returns one budget pool.
func (h *Handlers) GetBudgetPoolHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}

	pool, err := h.service.GetBudgetPool(r.Context(), actor, poolID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// UpdateBudgetPoolHandler edits pool metadata.
func (h *Handlers) UpdateBudgetPoolHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}
	var req domain.UpdateBudgetPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pool, err := h.service.UpdateBudgetPool(r.Context(), actor, poolID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// ActivatePoolHandler opens a pool for allocations.
func (h *Handlers) ActivatePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionPool(w, r, h.service.ActivatePool)
}

// FreezePoolHandler suspends allocations from a pool.
func (h *Handlers) FreezePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionPool(w, r, h.service.FreezePool)
}

// UnfreezePoolHandler reopens a frozen pool.
func (h *Handlers) UnfreezePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionPool(w, r, h.service.UnfreezePool)
}

// ExpirePoolHandler retires a pool at the end of its fiscal year.
func (h *Handlers) ExpirePoolHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionPool(w, r, h.service.ExpirePool)
}

func (h *Handlers) transitionPool(w http.ResponseWriter, r *http.Request, transition func(context.Context, domain.Actor, uuid.UUID) (*domain.BudgetPool, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}

	pool, err := transition(r.Context(), actor, poolID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// AllocateFundsHandler reserves pool funds against an approved demande and
// creates the pending payment. The response carries both the payment and
// the debited pool.
func (h *Handlers) AllocateFundsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}
	var req domain.AllocateFundsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, pool, err := h.service.AllocateFunds(r.Context(), actor, poolID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment": payment,
		"pool":    pool,
	})
}

// TransferFundsHandler moves unallocated funds between two active pools.
// The response carries both sides of the transfer.
func (h *Handlers) TransferFundsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}
	var req domain.TransferFundsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	source, destination, err := h.service.TransferFunds(r.Context(), actor, poolID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":      source,
		"destination": destination,
	})
}

// ListBudgetPoolsHandler lists pools with filters.
func (h *Handlers) ListBudgetPoolsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.BudgetPoolListOptions{
		Limit:      limit,
		Offset:     (page - 1) * limit,
		Status:     domain.PoolStatus(r.URL.Query().Get("status")),
		Department: r.URL.Query().Get("department"),
		Wilaya:     r.URL.Query().Get("wilaya"),
		Search:     r.URL.Query().Get("search"),
	}
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fiscal_year filter", nil)
			return
		}
		opts.FiscalYear = year
	}

	pools, total, err := h.service.ListBudgetPools(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if pools == nil {
		pools = []domain.BudgetPool{}
	}
	writeJSON(w, http.StatusOK, paged(pools, page, limit, total))
}

// GetPoolAnalyticsHandler returns utilization figures for one pool.
func (h *Handlers) GetPoolAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	poolID, ok := parseIDParam(w, r, "poolID")
	if !ok {
		return
	}

	analytics, err := h.service.GetPoolAnalytics(r.Context(), actor, poolID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
