/**
 * @description
 * This file implements the data access layer for payments. The lifecycle
 * methods are written as guarded updates or single transactions so that a
 * payment can only move along its legal path even under concurrent
 * requests: claim (→ processing), complete (settles the demande and frees
 * the pool reservation), fail (arms the retry backoff) and cancel (returns
 * the reserved funds to the pool).
 *
 * @notes
 * - Completing a payment never leaves a half-settled demande: the payment,
 *   demande and pool rows change in the same transaction, and the outbox
 *   events ride the same commit.
 * - Failure keeps the pool reservation in place. Funds only return to
 *   `remaining` when staff cancel the payment.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// FindPaymentByID retrieves a payment by its ID.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// ListPayments returns a page of payments plus the unpaged total.
func (r *PostgresRepository) ListPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, int64, error) {
	query := `SELECT ` + paymentColumns + `, COUNT(*) OVER() AS total_count FROM payments WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, opts.Status)
		idx++
	}
	if opts.DemandeID != uuid.Nil {
		query += fmt.Sprintf(" AND demande_id = $%d", idx)
		args = append(args, opts.DemandeID)
		idx++
	}
	if opts.PoolID != uuid.Nil {
		query += fmt.Sprintf(" AND pool_id = $%d", idx)
		args = append(args, opts.PoolID)
		idx++
	}
	if opts.Method != "" {
		query += fmt.Sprintf(" AND method = $%d", idx)
		args = append(args, opts.Method)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		payments []domain.Payment
		total    int64
	)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID, &p.DemandeID, &p.PoolID, &p.Amount, &p.Method,
			&p.Source.Kind, &p.Source.ID, &p.Destination.Kind, &p.Destination.ID,
			&p.Status, &p.RetryCount, &p.MaxRetries, &p.RetryAfter, &p.FailureReason,
			&p.ScheduledFor, &p.ProcessedBy, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

// ClaimPaymentForProcessing atomically moves a payment into processing if
// its current status is one of the allowed starting points. The guarded
// update is the serialization point: two concurrent claims cannot both win.
func (r *PostgresRepository) ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, processorID *uuid.UUID, from []domain.PaymentStatus) (*domain.Payment, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	query := `
		UPDATE payments
		SET status = 'processing',
			processed_by = COALESCE($2, processed_by),
			retry_after = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + paymentColumns
	row := r.db.QueryRow(ctx, query, paymentID, processorID, statuses)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.paymentMissingOrConflict(ctx, paymentID)
		}
		return nil, err
	}
	return payment, nil
}

// CompletePaymentAndSettleDemande records a successful disbursement in one
// transaction: the payment becomes completed, the demande's paid amount
// grows (flipping it to paid or partially_paid) and the pool reservation
// is released. Returns the updated payment and demande.
func (r *PostgresRepository) CompletePaymentAndSettleDemande(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	// Read the payment first to learn which demande to lock, then lock the
	// demande before touching the payment row so the lock order matches the
	// other demande transactions.
	var (
		demandeID uuid.UUID
		current   domain.PaymentStatus
	)
	err = tx.QueryRow(ctx, `SELECT demande_id, status FROM payments WHERE id = $1`, paymentID).Scan(&demandeID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, err
	}
	if current != domain.PaymentStatusProcessing {
		return nil, nil, ErrStatusConflict
	}

	row := tx.QueryRow(ctx, `SELECT `+demandeColumns+` FROM demandes WHERE id = $1 FOR UPDATE`, demandeID)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrDemandeNotFound
		}
		return nil, nil, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'completed', completed_at = NOW(), retry_after = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+paymentColumns, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrStatusConflict
		}
		return nil, nil, err
	}

	newPaid := demande.PaidAmount + payment.Amount
	newStatus := domain.DemandeStatusPartiallyPaid
	if demande.ApprovedAmount != nil && newPaid >= *demande.ApprovedAmount {
		newStatus = domain.DemandeStatusPaid
	}
	row = tx.QueryRow(ctx, `
		UPDATE demandes
		SET paid_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('approved', 'partially_paid')
		RETURNING `+demandeColumns, demandeID, newPaid, newStatus)
	demande, err = scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrStatusConflict
		}
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE budget_pools
		SET reserved = reserved - $1, updated_at = NOW()
		WHERE id = $2
	`, payment.Amount, payment.PoolID); err != nil {
		return nil, nil, err
	}

	ev := domain.PaymentEvent{
		PaymentID:   payment.ID,
		DemandeID:   demande.ID,
		PoolID:      payment.PoolID,
		RecipientID: demande.ApplicantID,
		Amount:      payment.Amount,
		Status:      payment.Status,
		RetryCount:  payment.RetryCount,
		OccurredAt:  time.Now().UTC(),
	}
	if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPaymentCompleted, ev); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return payment, demande, nil
}

// FailPayment records a gateway failure: the retry count grows and, while
// retries remain, retry_after is armed with an exponential backoff
// (2^retryCount minutes). After the last allowed attempt retry_after stays
// NULL and the payment needs staff intervention.
func (r *PostgresRepository) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.Status != domain.PaymentStatusProcessing {
		return nil, ErrStatusConflict
	}

	newCount := payment.RetryCount + 1
	var retryAfter *time.Time
	if newCount < payment.MaxRetries {
		at := time.Now().UTC().Add(domain.RetryBackoff(newCount))
		retryAfter = &at
	}
	row = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'failed', retry_count = $2, failure_reason = $3, retry_after = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+paymentColumns, paymentID, newCount, reason, retryAfter)
	payment, err = scanPayment(row)
	if err != nil {
		return nil, err
	}

	ev := domain.PaymentEvent{
		PaymentID:     payment.ID,
		DemandeID:     payment.DemandeID,
		PoolID:        payment.PoolID,
		RecipientID:   payment.Destination.ID,
		Amount:        payment.Amount,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
		RetryCount:    payment.RetryCount,
		OccurredAt:    time.Now().UTC(),
	}
	if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPaymentFailed, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// CancelPaymentAndReleaseFunds cancels a payment that has not reached the
// gateway (pending, scheduled or failed) and returns its amount to the
// pool's remaining balance in the same transaction.
func (r *PostgresRepository) CancelPaymentAndReleaseFunds(ctx context.Context, paymentID uuid.UUID, cancelledBy *uuid.UUID, reason *string) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'cancelled',
			processed_by = COALESCE($2, processed_by),
			failure_reason = COALESCE($3, failure_reason),
			retry_after = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled', 'failed')
		RETURNING `+paymentColumns, paymentID, cancelledBy, reason)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.paymentMissingOrConflict(ctx, paymentID)
		}
		return nil, err
	}

	pool, err := lockPoolTx(ctx, tx, payment.PoolID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE budget_pools
		SET remaining = remaining + $1, reserved = reserved - $1, updated_at = NOW()
		WHERE id = $2
	`, payment.Amount, pool.ID); err != nil {
		return nil, err
	}
	pool.Remaining += payment.Amount
	pool.Reserved -= payment.Amount
	if err := syncPoolBalanceStatusTx(ctx, tx, pool); err != nil {
		return nil, err
	}

	ev := domain.PaymentEvent{
		PaymentID:     payment.ID,
		DemandeID:     payment.DemandeID,
		PoolID:        payment.PoolID,
		RecipientID:   payment.Destination.ID,
		Amount:        payment.Amount,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
		RetryCount:    payment.RetryCount,
		OccurredAt:    time.Now().UTC(),
	}
	if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPaymentCancelled, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// SchedulePayment moves a pending payment to scheduled with a future
// disbursement date. The sweeper picks it up once the date passes.
func (r *PostgresRepository) SchedulePayment(ctx context.Context, paymentID uuid.UUID, scheduledFor time.Time) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'scheduled', scheduled_for = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns
	row := r.db.QueryRow(ctx, query, paymentID, scheduledFor)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.paymentMissingOrConflict(ctx, paymentID)
		}
		return nil, err
	}
	return payment, nil
}

// FindDuePaymentRetries returns failed payments whose backoff window has
// passed and that still have retry attempts left.
func (r *PostgresRepository) FindDuePaymentRetries(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'failed' AND retry_count < max_retries
			AND retry_after IS NOT NULL AND retry_after <= $1
		ORDER BY retry_after ASC
		LIMIT $2
	`
	return r.queryPayments(ctx, query, now, limit)
}

// FindDueScheduledPayments returns scheduled payments whose disbursement
// date has arrived.
func (r *PostgresRepository) FindDueScheduledPayments(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'scheduled' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`
	return r.queryPayments(ctx, query, now, limit)
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID, &p.DemandeID, &p.PoolID, &p.Amount, &p.Method,
			&p.Source.Kind, &p.Source.ID, &p.Destination.Kind, &p.Destination.ID,
			&p.Status, &p.RetryCount, &p.MaxRetries, &p.RetryAfter, &p.FailureReason,
			&p.ScheduledFor, &p.ProcessedBy, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// paymentMissingOrConflict disambiguates a zero-row guarded update.
func (r *PostgresRepository) paymentMissingOrConflict(ctx context.Context, paymentID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, paymentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrPaymentNotFound
	}
	return ErrStatusConflict
}
