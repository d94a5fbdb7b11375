/**
 * @description
 * This file contains the HTTP handlers for payment disbursement: lookup,
 * listing, processing, retry, cancellation, and scheduling. Processing and
 * retry return both the payment and its demande because a completed
 * disbursement settles the demande in the same transaction.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// GetPaymentHandler returns one payment.
func (h *Handlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.service.GetPayment(r.Context(), actor, paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// ListPaymentsHandler lists payments with filters.
func (h *Handlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.PaymentListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Status: domain.PaymentStatus(r.URL.Query().Get("status")),
		Method: domain.PaymentMethod(r.URL.Query().Get("method")),
	}
	if raw := r.URL.Query().Get("demande_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid demande_id filter", nil)
			return
		}
		opts.DemandeID = id
	}
	if raw := r.URL.Query().Get("pool_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid pool_id filter", nil)
			return
		}
		opts.PoolID = id
	}

	payments, total, err := h.service.ListPayments(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	writeJSON(w, http.StatusOK, paged(payments, page, limit, total))
}

// ProcessPaymentHandler pushes a pending payment through the gateway. On
// success the demande is settled too, so both come back.
func (h *Handlers) ProcessPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, demande, err := h.service.ProcessPayment(r.Context(), actor, paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment": payment,
		"demande": demande,
	})
}

// RetryPaymentHandler re-attempts a failed payment once its backoff lapses.
func (h *Handlers) RetryPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, demande, err := h.service.RetryPayment(r.Context(), actor, paymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment": payment,
		"demande": demande,
	})
}

// CancelPaymentHandler cancels a pending or failed payment and returns its
// reserved funds to the pool.
func (h *Handlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "paymentID")
	if !ok {
		return
	}
	var req domain.CancelPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.service.CancelPayment(r.Context(), actor, paymentID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// SchedulePaymentHandler defers a pending payment to a future date.
func (h *Handlers) SchedulePaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "paymentID")
	if !ok {
		return
	}
	var req domain.SchedulePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.service.SchedulePayment(r.Context(), actor, paymentID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}
