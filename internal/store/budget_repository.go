/**
 * @description
 * This file implements the data access layer for budget pools, including the
 * two money-movement transactions at the heart of the workflow: allocating
 * funds to an approved demande (which creates the pending payment) and
 * transferring budget between pools. Both run as single transactions with
 * row locks so concurrent mutations of `remaining` serialize.
 *
 * @notes
 * - Allocation decrements remaining and increments reserved in the same
 *   statement; the payment insert and outbox events ride the same commit.
 * - Transfers move total_amount along with remaining so a round trip
 *   restores both pools exactly.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// CreateBudgetPool inserts a new pool in draft with remaining equal to the
// total envelope.
func (r *PostgresRepository) CreateBudgetPool(ctx context.Context, pool *domain.BudgetPool) error {
	query := `
		INSERT INTO budget_pools (id, name, description, department, fiscal_year, wilaya, total_amount, remaining, max_per_demande, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $10)
		RETURNING remaining, reserved, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		pool.ID,
		pool.Name,
		pool.Description,
		pool.Department,
		pool.FiscalYear,
		pool.Wilaya,
		pool.TotalAmount,
		pool.MaxPerDemande,
		pool.Status,
		pool.CreatedBy,
	).Scan(&pool.Remaining, &pool.Reserved, &pool.CreatedAt, &pool.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicatePool
		}
		return err
	}
	return nil
}

// FindBudgetPoolByID retrieves a pool by its ID.
func (r *PostgresRepository) FindBudgetPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error) {
	row := r.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM budget_pools WHERE id = $1`, poolID)
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetPoolNotFound
		}
		return nil, err
	}
	return pool, nil
}

// UpdateBudgetPoolFields edits a pool that is still in draft. Changing the
// total also resets remaining, since a draft pool has no allocations yet.
func (r *PostgresRepository) UpdateBudgetPoolFields(ctx context.Context, poolID uuid.UUID, req domain.UpdateBudgetPoolRequest) (*domain.BudgetPool, error) {
	query := `
		UPDATE budget_pools
		SET name = COALESCE($2, name),
			description = COALESCE($3, description),
			department = COALESCE($4, department),
			wilaya = COALESCE($5, wilaya),
			total_amount = COALESCE($6, total_amount),
			remaining = COALESCE($6, remaining),
			max_per_demande = COALESCE($7, max_per_demande),
			updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING ` + poolColumns
	row := r.db.QueryRow(ctx, query, poolID, req.Name, req.Description, req.Department, req.Wilaya, req.TotalAmount, req.MaxPerDemande)
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.poolMissingOrConflict(ctx, poolID)
		}
		return nil, err
	}
	return pool, nil
}

// UpdateBudgetPoolStatus performs a guarded status transition
// (activate, freeze, unfreeze).
func (r *PostgresRepository) UpdateBudgetPoolStatus(ctx context.Context, poolID uuid.UUID, from, to domain.PoolStatus) (*domain.BudgetPool, error) {
	query := `
		UPDATE budget_pools
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + poolColumns
	row := r.db.QueryRow(ctx, query, poolID, from, to)
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.poolMissingOrConflict(ctx, poolID)
		}
		return nil, err
	}
	return pool, nil
}

// AllocateFunds commits pool money to an approved demande in one
// transaction: it locks the pool, checks the balance under the lock,
// decrements remaining, reserves the amount, inserts the pending payment
// and enqueues the workflow events. Nothing changes if any step fails.
func (r *PostgresRepository) AllocateFunds(ctx context.Context, payment *domain.Payment, events []OutboxEvent) (*domain.BudgetPool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	pool, err := lockPoolTx(ctx, tx, payment.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != domain.PoolStatusActive {
		return nil, fmt.Errorf("pool %s is %s: %w", pool.ID, pool.Status, domain.ErrPoolNotActive)
	}
	if pool.Remaining < payment.Amount {
		return nil, fmt.Errorf("pool %s has %d remaining, requested %d: %w", pool.ID, pool.Remaining, payment.Amount, ErrInsufficientFunds)
	}

	// Lock the demande too: its status and committed total must hold while
	// the payment is created.
	var (
		demandeStatus  domain.DemandeStatus
		approvedAmount *int64
		paidAmount     int64
	)
	err = tx.QueryRow(ctx,
		`SELECT status, approved_amount, paid_amount FROM demandes WHERE id = $1 FOR UPDATE`,
		payment.DemandeID,
	).Scan(&demandeStatus, &approvedAmount, &paidAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDemandeNotFound
		}
		return nil, err
	}
	if demandeStatus != domain.DemandeStatusApproved && demandeStatus != domain.DemandeStatusPartiallyPaid {
		return nil, fmt.Errorf("demande %s is %s, allocation requires an approved demande: %w", payment.DemandeID, demandeStatus, domain.ErrInvalidState)
	}
	if approvedAmount != nil {
		var committed int64
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0)
			FROM payments
			WHERE demande_id = $1 AND status IN ('pending', 'scheduled', 'processing', 'failed')
		`, payment.DemandeID).Scan(&committed); err != nil {
			return nil, err
		}
		if paidAmount+committed+payment.Amount > *approvedAmount {
			return nil, fmt.Errorf("allocation of %d exceeds the approved amount %d (paid %d, committed %d): %w",
				payment.Amount, *approvedAmount, paidAmount, committed, domain.ErrValidation)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE budget_pools
		SET remaining = remaining - $1, reserved = reserved + $1, updated_at = NOW()
		WHERE id = $2
	`, payment.Amount, pool.ID); err != nil {
		return nil, err
	}
	pool.Remaining -= payment.Amount
	pool.Reserved += payment.Amount
	if err := syncPoolBalanceStatusTx(ctx, tx, pool); err != nil {
		return nil, err
	}

	insertQuery := `
		INSERT INTO payments (id, demande_id, pool_id, amount, method, source_kind, source_id,
			destination_kind, destination_id, status, max_retries, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING retry_count, created_at, updated_at
	`
	if err := tx.QueryRow(ctx, insertQuery,
		payment.ID,
		payment.DemandeID,
		payment.PoolID,
		payment.Amount,
		payment.Method,
		payment.Source.Kind,
		payment.Source.ID,
		payment.Destination.Kind,
		payment.Destination.ID,
		payment.Status,
		payment.MaxRetries,
		payment.ScheduledFor,
	).Scan(&payment.RetryCount, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return nil, err
	}

	if pool.Remaining == 0 {
		ev := domain.PoolEvent{
			PoolID:     pool.ID,
			Amount:     payment.Amount,
			Remaining:  pool.Remaining,
			OccurredAt: time.Now().UTC(),
		}
		if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPoolDepleted, ev); err != nil {
			return nil, err
		}
	}
	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// TransferFunds moves budget from one active pool to another in a single
// transaction, always locking the two rows in the same order.
func (r *PostgresRepository) TransferFunds(ctx context.Context, params TransferFundsParams, events []OutboxEvent) (*domain.BudgetPool, *domain.BudgetPool, error) {
	if params.SourcePoolID == params.DestinationPoolID {
		return nil, nil, fmt.Errorf("source and destination pools are the same: %w", domain.ErrValidation)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	lockOrder := []uuid.UUID{params.SourcePoolID, params.DestinationPoolID}
	sortUUIDs(lockOrder)
	locked := make(map[uuid.UUID]*domain.BudgetPool, 2)
	for _, id := range lockOrder {
		pool, err := lockPoolTx(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = pool
	}
	source := locked[params.SourcePoolID]
	destination := locked[params.DestinationPoolID]

	if source.Status != domain.PoolStatusActive {
		return nil, nil, fmt.Errorf("source pool %s is %s: %w", source.ID, source.Status, domain.ErrPoolNotActive)
	}
	if destination.Status != domain.PoolStatusActive {
		return nil, nil, fmt.Errorf("destination pool %s is %s: %w", destination.ID, destination.Status, domain.ErrPoolNotActive)
	}
	if source.Remaining < params.Amount {
		return nil, nil, fmt.Errorf("pool %s has %d remaining, transfer of %d: %w", source.ID, source.Remaining, params.Amount, ErrInsufficientFunds)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE budget_pools
		SET total_amount = total_amount - $1, remaining = remaining - $1, updated_at = NOW()
		WHERE id = $2
	`, params.Amount, source.ID); err != nil {
		return nil, nil, err
	}
	source.TotalAmount -= params.Amount
	source.Remaining -= params.Amount
	if err := syncPoolBalanceStatusTx(ctx, tx, source); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE budget_pools
		SET total_amount = total_amount + $1, remaining = remaining + $1, updated_at = NOW()
		WHERE id = $2
	`, params.Amount, destination.ID); err != nil {
		return nil, nil, err
	}
	destination.TotalAmount += params.Amount
	destination.Remaining += params.Amount
	if err := syncPoolBalanceStatusTx(ctx, tx, destination); err != nil {
		return nil, nil, err
	}

	ev := domain.PoolEvent{
		PoolID:            source.ID,
		DestinationPoolID: &destination.ID,
		Amount:            params.Amount,
		Remaining:         source.Remaining,
		OccurredAt:        time.Now().UTC(),
	}
	if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPoolTransferred, ev); err != nil {
		return nil, nil, err
	}
	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return source, destination, nil
}

// ExpirePoolsBeforeFiscalYear expires every non-terminal pool whose fiscal
// year ended before the given one. Returns how many rows changed.
func (r *PostgresRepository) ExpirePoolsBeforeFiscalYear(ctx context.Context, fiscalYear int) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE budget_pools
		SET status = 'expired', updated_at = NOW()
		WHERE fiscal_year < $1 AND status IN ('draft', 'active', 'frozen', 'depleted')
	`, fiscalYear)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ListBudgetPools returns a page of pools plus the unpaged total.
func (r *PostgresRepository) ListBudgetPools(ctx context.Context, opts domain.BudgetPoolListOptions) ([]domain.BudgetPool, int64, error) {
	query := `SELECT ` + poolColumns + `, COUNT(*) OVER() AS total_count FROM budget_pools WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, opts.Status)
		idx++
	}
	if opts.Department != "" {
		query += fmt.Sprintf(" AND department = $%d", idx)
		args = append(args, opts.Department)
		idx++
	}
	if opts.FiscalYear != 0 {
		query += fmt.Sprintf(" AND fiscal_year = $%d", idx)
		args = append(args, opts.FiscalYear)
		idx++
	}
	if opts.Wilaya != "" {
		query += fmt.Sprintf(" AND wilaya = $%d", idx)
		args = append(args, opts.Wilaya)
		idx++
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		query += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+s+"%")
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
		pools []domain.BudgetPool
		total int64
	)
	for rows.Next() {
		var p domain.BudgetPool
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.Department, &p.FiscalYear, &p.Wilaya,
			&p.TotalAmount, &p.Remaining, &p.Reserved, &p.MaxPerDemande, &p.Status,
			&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		pools = append(pools, p)
	}
	return pools, total, rows.Err()
}

// ComputePoolAnalytics aggregates payment activity for one pool.
func (r *PostgresRepository) ComputePoolAnalytics(ctx context.Context, poolID uuid.UUID) (*domain.PoolAnalytics, error) {
	var a domain.PoolAnalytics
	query := `
		SELECT p.id, p.name, p.status, p.total_amount, p.remaining, p.reserved,
			COUNT(pay.id) AS payment_count,
			COUNT(pay.id) FILTER (WHERE pay.status = 'completed') AS completed_count,
			COUNT(pay.id) FILTER (WHERE pay.status = 'failed') AS failed_count,
			COUNT(DISTINCT pay.demande_id) FILTER (WHERE pay.status = 'completed') AS demandes_assisted
		FROM budget_pools p
		LEFT JOIN payments pay ON pay.pool_id = p.id
		WHERE p.id = $1
		GROUP BY p.id
	`
	err := r.db.QueryRow(ctx, query, poolID).Scan(
		&a.PoolID, &a.Name, &a.Status, &a.TotalAmount, &a.Remaining, &a.Reserved,
		&a.PaymentCount, &a.CompletedCount, &a.FailedCount, &a.DemandesAssisted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetPoolNotFound
		}
		return nil, err
	}
	a.Disbursed = a.TotalAmount - a.Remaining - a.Reserved
	if a.TotalAmount > 0 {
		a.Utilization = float64(a.TotalAmount-a.Remaining) / float64(a.TotalAmount)
	}
	a.ComputedAt = time.Now().UTC()
	return &a, nil
}

// poolMissingOrConflict disambiguates a zero-row guarded update.
func (r *PostgresRepository) poolMissingOrConflict(ctx context.Context, poolID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budget_pools WHERE id = $1)`, poolID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrBudgetPoolNotFound
	}
	return ErrStatusConflict
}
