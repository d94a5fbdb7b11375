/**
 * @description
 * Payment use cases: processing a disbursement through the gateway,
 * retrying failed payments (manually or via the sweeper), scheduling and
 * cancelling. Processing follows claim-then-settle: the repository's
 * guarded claim moves the payment to processing so exactly one caller
 * reaches the gateway, and the outcome is recorded in a second
 * transaction that the claim's row state protects.
 *
 * @notes
 * - A gateway failure arms the exponential backoff (2^retryCount minutes)
 *   and surfaces as a dependency error; the payment itself is left in
 *   failed with its retry window recorded.
 * - After max_retries failures the payment is permanently rejected: only
 *   cancellation (which frees the reserved funds) remains.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/metrics"
)

// GetPayment returns one payment. Staff see all; citizens only payments
// addressed to them.
func (s *Service) GetPayment(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		if payment.Destination.Kind != domain.PartyKindUser || payment.Destination.ID != actor.ID {
			return nil, fmt.Errorf("payment belongs to someone else: %w", domain.ErrAuthorization)
		}
	}
	return payment, nil
}

// ListPayments returns a page of payments. Staff only.
func (s *Service) ListPayments(ctx context.Context, actor domain.Actor, opts domain.PaymentListOptions) ([]domain.Payment, int64, error) {
	if err := requireStaff(actor); err != nil {
		return nil, 0, err
	}
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListPayments(ctx, opts)
}

// ProcessPayment claims a pending or due scheduled payment and runs it
// through the gateway. On success the payment, its demande and the pool
// reservation settle in one transaction.
func (s *Service) ProcessPayment(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, nil, err
	}

	processorID := actor.ID
	claimed, err := s.repo.ClaimPaymentForProcessing(ctx, paymentID, &processorID,
		[]domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusScheduled})
	if err != nil {
		return nil, nil, err
	}
	return s.disburseClaimed(ctx, claimed)
}

// RetryPayment re-runs a failed payment once its backoff window has
// passed. Staff can trigger it manually; the sweeper uses the same path.
func (s *Service) RetryPayment(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, nil, err
	}

	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if err := payment.CanRetry(time.Now().UTC()); err != nil {
		return nil, nil, err
	}

	processorID := actor.ID
	claimed, err := s.repo.ClaimPaymentForProcessing(ctx, paymentID, &processorID,
		[]domain.PaymentStatus{domain.PaymentStatusFailed})
	if err != nil {
		return nil, nil, err
	}
	return s.disburseClaimed(ctx, claimed)
}

// CancelPayment cancels a payment that has not reached the gateway and
// returns its reserved amount to the pool.
func (s *Service) CancelPayment(ctx context.Context, actor domain.Actor, paymentID uuid.UUID, req domain.CancelPaymentRequest) (*domain.Payment, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, err
	}
	cancelledBy := actor.ID
	payment, err := s.repo.CancelPaymentAndReleaseFunds(ctx, paymentID, &cancelledBy, req.Reason)
	if err != nil {
		return nil, err
	}
	metrics.RecordPaymentOutcome("cancelled")
	if err := s.analytics.Invalidate(ctx, payment.PoolID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "pool_id", payment.PoolID, "error", err)
	}
	s.logger.Info("payment cancelled", "payment_id", paymentID, "cancelled_by", actor.ID)
	return payment, nil
}

// SchedulePayment defers a pending payment to a future disbursement date.
func (s *Service) SchedulePayment(ctx context.Context, actor domain.Actor, paymentID uuid.UUID, req domain.SchedulePaymentRequest) (*domain.Payment, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, err
	}
	if !req.ScheduledFor.After(time.Now()) {
		return nil, domain.NewValidationError("scheduled_for", "must be in the future")
	}
	payment, err := s.repo.SchedulePayment(ctx, paymentID, req.ScheduledFor.UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment scheduled", "payment_id", paymentID, "scheduled_for", req.ScheduledFor, "scheduled_by", actor.ID)
	return payment, nil
}

// RunDuePaymentRetries is the sweeper entry point: it claims every failed
// payment whose backoff has elapsed and pushes it through the gateway.
// Returns how many payments completed.
func (s *Service) RunDuePaymentRetries(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.FindDuePaymentRetries(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	completed := 0
	for i := range due {
		payment := &due[i]
		claimed, err := s.repo.ClaimPaymentForProcessing(ctx, payment.ID, nil,
			[]domain.PaymentStatus{domain.PaymentStatusFailed})
		if err != nil {
			// Another worker or a manual retry got there first.
			s.logger.Debug("payment retry claim lost", "payment_id", payment.ID, "error", err)
			continue
		}
		if _, _, err := s.disburseClaimed(ctx, claimed); err != nil {
			s.logger.Warn("payment retry failed", "payment_id", payment.ID, "retry_count", claimed.RetryCount, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

// RunDueScheduledPayments is the sweeper entry point for scheduled
// payments whose date has arrived. Returns how many completed.
func (s *Service) RunDueScheduledPayments(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.FindDueScheduledPayments(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	completed := 0
	for i := range due {
		payment := &due[i]
		claimed, err := s.repo.ClaimPaymentForProcessing(ctx, payment.ID, nil,
			[]domain.PaymentStatus{domain.PaymentStatusScheduled})
		if err != nil {
			s.logger.Debug("scheduled payment claim lost", "payment_id", payment.ID, "error", err)
			continue
		}
		if _, _, err := s.disburseClaimed(ctx, claimed); err != nil {
			s.logger.Warn("scheduled payment failed", "payment_id", payment.ID, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

// disburseClaimed runs a claimed (processing) payment through the gateway
// and records the outcome.
func (s *Service) disburseClaimed(ctx context.Context, claimed *domain.Payment) (*domain.Payment, *domain.Demande, error) {
	if s.gateway == nil {
		reason := "payment gateway is not configured"
		if _, failErr := s.repo.FailPayment(ctx, claimed.ID, reason); failErr != nil {
			s.logger.Error("recording payment failure failed", "payment_id", claimed.ID, "error", failErr)
		}
		return nil, nil, fmt.Errorf("%s: %w", reason, domain.ErrDependency)
	}

	if err := s.gateway.Disburse(ctx, claimed); err != nil {
		metrics.RecordPaymentOutcome("failed")
		failed, failErr := s.repo.FailPayment(ctx, claimed.ID, err.Error())
		if failErr != nil {
			s.logger.Error("recording payment failure failed", "payment_id", claimed.ID, "error", failErr)
			return nil, nil, fmt.Errorf("disbursement failed: %v: %w", err, domain.ErrDependency)
		}
		s.logger.Warn("disbursement failed",
			"payment_id", claimed.ID, "retry_count", failed.RetryCount,
			"max_retries", failed.MaxRetries, "error", err)
		return failed, nil, fmt.Errorf("disbursement failed: %v: %w", err, domain.ErrDependency)
	}

	payment, demande, err := s.repo.CompletePaymentAndSettleDemande(ctx, claimed.ID)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordPaymentOutcome("completed")
	if err := s.analytics.Invalidate(ctx, payment.PoolID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "pool_id", payment.PoolID, "error", err)
	}
	s.logger.Info("payment completed",
		"payment_id", payment.ID, "demande_id", demande.ID,
		"amount", payment.Amount, "demande_status", demande.Status)
	return payment, demande, nil
}
