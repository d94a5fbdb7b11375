/**
 * @description
 * This file provides the shared pieces of the PostgreSQL implementation of the
 * `Repository` interface: the concrete type, the sentinel errors callers match
 * with errors.Is, and the transaction helpers reused by the per-entity files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrDemandeNotFound      = errors.New("demande not found")
	ErrBudgetPoolNotFound   = errors.New("budget pool not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrDuplicatePool        = errors.New("budget pool already exists for this department and fiscal year")
	ErrStatusConflict       = errors.New("entity status changed concurrently")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// enqueueEventTx inserts one outbox row inside the caller's transaction so
// the event only exists if the surrounding mutation commits.
func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(exchange), strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

// enqueueEventsTx inserts a batch of outbox rows, defaulting the exchange
// to the workflow topic exchange.
func enqueueEventsTx(ctx context.Context, tx pgx.Tx, events []OutboxEvent) error {
	for _, ev := range events {
		exchange := ev.Exchange
		if exchange == "" {
			exchange = domain.WorkflowExchange
		}
		if err := enqueueEventTx(ctx, tx, exchange, ev.RoutingKey, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

// lockPoolTx locks one budget pool row and returns its balance fields.
func lockPoolTx(ctx context.Context, tx pgx.Tx, poolID interface{}) (*domain.BudgetPool, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, name, description, department, fiscal_year, wilaya, total_amount,
		       remaining, reserved, max_per_demande, status, created_by, created_at, updated_at
		FROM budget_pools
		WHERE id = $1
		FOR UPDATE
	`, poolID)
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetPoolNotFound
		}
		return nil, err
	}
	return pool, nil
}

// syncPoolBalanceStatusTx flips a pool between active and depleted after a
// balance change. Frozen, draft and expired pools are left alone.
func syncPoolBalanceStatusTx(ctx context.Context, tx pgx.Tx, pool *domain.BudgetPool) error {
	var target domain.PoolStatus
	switch {
	case pool.Status == domain.PoolStatusActive && pool.Remaining == 0:
		target = domain.PoolStatusDepleted
	case pool.Status == domain.PoolStatusDepleted && pool.Remaining > 0:
		target = domain.PoolStatusActive
	default:
		return nil
	}

	_, err := tx.Exec(ctx, `UPDATE budget_pools SET status = $1, updated_at = NOW() WHERE id = $2`, target, pool.ID)
	if err != nil {
		return err
	}
	pool.Status = target
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row rowScanner) (*domain.BudgetPool, error) {
	var pool domain.BudgetPool
	err := row.Scan(
		&pool.ID,
		&pool.Name,
		&pool.Description,
		&pool.Department,
		&pool.FiscalYear,
		&pool.Wilaya,
		&pool.TotalAmount,
		&pool.Remaining,
		&pool.Reserved,
		&pool.MaxPerDemande,
		&pool.Status,
		&pool.CreatedBy,
		&pool.CreatedAt,
		&pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func scanDemande(row rowScanner) (*domain.Demande, error) {
	var d domain.Demande
	err := row.Scan(
		&d.ID,
		&d.Reference,
		&d.ApplicantID,
		&d.AssigneeID,
		&d.Title,
		&d.Description,
		&d.Program,
		&d.Wilaya,
		&d.RequestedAmount,
		&d.ApprovedAmount,
		&d.PaidAmount,
		&d.Status,
		&d.Motif,
		&d.SubmittedAt,
		&d.ReviewedAt,
		&d.ReviewedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.DemandeID,
		&p.PoolID,
		&p.Amount,
		&p.Method,
		&p.Source.Kind,
		&p.Source.ID,
		&p.Destination.Kind,
		&p.Destination.ID,
		&p.Status,
		&p.RetryCount,
		&p.MaxRetries,
		&p.RetryAfter,
		&p.FailureReason,
		&p.ScheduledFor,
		&p.ProcessedBy,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Kind,
		&n.Title,
		&n.Message,
		&n.Status,
		&n.DemandeID,
		&n.PaymentID,
		&n.PoolID,
		&n.AnnouncementID,
		&n.RetryCount,
		&n.MaxRetries,
		&n.RetryAfter,
		&n.ReadAt,
		&n.ClickedAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

const demandeColumns = `id, reference, applicant_id, assignee_id, title, description, program, wilaya,
	requested_amount, approved_amount, paid_amount, status, motif, submitted_at, reviewed_at, reviewed_by,
	created_at, updated_at`

const paymentColumns = `id, demande_id, pool_id, amount, method, source_kind, source_id,
	destination_kind, destination_id, status, retry_count, max_retries, retry_after,
	failure_reason, scheduled_for, processed_by, completed_at, created_at, updated_at`

const poolColumns = `id, name, description, department, fiscal_year, wilaya, total_amount,
	remaining, reserved, max_per_demande, status, created_by, created_at, updated_at`

const notificationColumns = `id, recipient_id, kind, title, message, status, demande_id, payment_id,
	pool_id, announcement_id, retry_count, max_retries, retry_after, read_at, clicked_at, created_at, updated_at`
