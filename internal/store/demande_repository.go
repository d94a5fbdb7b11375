/**
 * @description
 * This file implements the data access layer for demandes: CRUD, the guarded
 * status transitions of the review workflow, the expiry sweep and document
 * metadata. Every transition that other services react to enqueues its
 * outbox event inside the same transaction as the status change.
 *
 * @notes
 * - Guarded updates filter on the status the caller observed; zero affected
 *   rows then disambiguate into not-found versus concurrent-change.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// CreateDemande inserts a new draft demande.
func (r *PostgresRepository) CreateDemande(ctx context.Context, demande *domain.Demande) error {
	query := `
		INSERT INTO demandes (id, reference, applicant_id, title, description, program, wilaya, requested_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		demande.ID,
		demande.Reference,
		demande.ApplicantID,
		demande.Title,
		demande.Description,
		demande.Program,
		demande.Wilaya,
		demande.RequestedAmount,
		demande.Status,
	).Scan(&demande.CreatedAt, &demande.UpdatedAt)
}

// FindDemandeByID retrieves a demande by its ID.
func (r *PostgresRepository) FindDemandeByID(ctx context.Context, demandeID uuid.UUID) (*domain.Demande, error) {
	row := r.db.QueryRow(ctx, `SELECT `+demandeColumns+` FROM demandes WHERE id = $1`, demandeID)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDemandeNotFound
		}
		return nil, err
	}
	return demande, nil
}

// UpdateDemandeFields applies the non-nil fields of req to a demande that
// is still editable (draft or pending_docs).
func (r *PostgresRepository) UpdateDemandeFields(ctx context.Context, demandeID uuid.UUID, req domain.UpdateDemandeRequest) (*domain.Demande, error) {
	query := `
		UPDATE demandes
		SET title = COALESCE($2, title),
			description = COALESCE($3, description),
			program = COALESCE($4, program),
			wilaya = COALESCE($5, wilaya),
			requested_amount = COALESCE($6, requested_amount),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'pending_docs')
		RETURNING ` + demandeColumns
	row := r.db.QueryRow(ctx, query, demandeID, req.Title, req.Description, req.Program, req.Wilaya, req.RequestedAmount)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.demandeMissingOrConflict(ctx, demandeID)
		}
		return nil, err
	}
	return demande, nil
}

// DeleteDraftDemande hard-deletes a demande that never left draft.
func (r *PostgresRepository) DeleteDraftDemande(ctx context.Context, demandeID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM demandes WHERE id = $1 AND status = 'draft'`, demandeID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.demandeMissingOrConflict(ctx, demandeID)
	}
	return nil
}

// SubmitDemande moves a demande into submitted and stamps submitted_at,
// enqueueing the workflow events in the same transaction.
func (r *PostgresRepository) SubmitDemande(ctx context.Context, demandeID uuid.UUID, from domain.DemandeStatus, events []OutboxEvent) (*domain.Demande, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE demandes
		SET status = 'submitted', submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + demandeColumns
	row := tx.QueryRow(ctx, query, demandeID, from)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.demandeMissingOrConflict(ctx, demandeID)
		}
		return nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return demande, nil
}

// ReviewDemande records a review decision: the new status, the approved
// amount or rejection motif, and the reviewer audit fields.
func (r *PostgresRepository) ReviewDemande(ctx context.Context, params ReviewDemandeParams, events []OutboxEvent) (*domain.Demande, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE demandes
		SET status = $3,
			approved_amount = COALESCE($4, approved_amount),
			motif = COALESCE($5, motif),
			reviewed_at = NOW(),
			reviewed_by = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + demandeColumns
	row := tx.QueryRow(ctx, query,
		params.DemandeID,
		params.From,
		params.To,
		params.ApprovedAmount,
		params.Motif,
		params.ReviewerID,
	)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.demandeMissingOrConflict(ctx, params.DemandeID)
		}
		return nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return demande, nil
}

// AssignDemande attaches a case worker and optionally advances the status
// (submitted demandes move to under_review on first assignment).
func (r *PostgresRepository) AssignDemande(ctx context.Context, params AssignDemandeParams, events []OutboxEvent) (*domain.Demande, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE demandes
		SET assignee_id = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + demandeColumns
	row := tx.QueryRow(ctx, query, params.DemandeID, params.From, params.AssigneeID, params.To)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.demandeMissingOrConflict(ctx, params.DemandeID)
		}
		return nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return demande, nil
}

// CancelDemandeAndReleaseFunds cancels a demande and, in the same
// transaction, cancels its not-yet-completed payments and returns their
// amounts to the owning pools. A payment currently processing blocks the
// cancellation.
func (r *PostgresRepository) CancelDemandeAndReleaseFunds(ctx context.Context, demandeID uuid.UUID, from domain.DemandeStatus, motif *string, events []OutboxEvent) (*domain.Demande, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the demande first so concurrent workflow calls serialize here.
	row := tx.QueryRow(ctx, `SELECT `+demandeColumns+` FROM demandes WHERE id = $1 FOR UPDATE`, demandeID)
	demande, err := scanDemande(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDemandeNotFound
		}
		return nil, err
	}
	if demande.Status != from {
		return nil, ErrStatusConflict
	}

	var processingCount int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE demande_id = $1 AND status = 'processing'`, demandeID,
	).Scan(&processingCount); err != nil {
		return nil, err
	}
	if processingCount > 0 {
		return nil, fmt.Errorf("demande %s has a payment in processing: %w", demandeID, domain.ErrInvalidState)
	}

	// Cancel open payments and tally how much each pool gets back.
	rows, err := tx.Query(ctx, `
		UPDATE payments
		SET status = 'cancelled', updated_at = NOW()
		WHERE demande_id = $1 AND status IN ('pending', 'scheduled', 'failed')
		RETURNING id, pool_id, amount, destination_id
	`, demandeID)
	if err != nil {
		return nil, err
	}
	type cancelled struct {
		paymentID   uuid.UUID
		poolID      uuid.UUID
		amount      int64
		recipientID uuid.UUID
	}
	var cancelledPayments []cancelled
	releasedByPool := make(map[uuid.UUID]int64)
	for rows.Next() {
		var c cancelled
		if err := rows.Scan(&c.paymentID, &c.poolID, &c.amount, &c.recipientID); err != nil {
			rows.Close()
			return nil, err
		}
		cancelledPayments = append(cancelledPayments, c)
		releasedByPool[c.poolID] += c.amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return funds pool by pool, locking in a stable order to avoid deadlocks.
	poolIDs := make([]uuid.UUID, 0, len(releasedByPool))
	for id := range releasedByPool {
		poolIDs = append(poolIDs, id)
	}
	sortUUIDs(poolIDs)
	for _, poolID := range poolIDs {
		pool, err := lockPoolTx(ctx, tx, poolID)
		if err != nil {
			return nil, err
		}
		released := releasedByPool[poolID]
		if _, err := tx.Exec(ctx, `
			UPDATE budget_pools
			SET remaining = remaining + $1, reserved = reserved - $1, updated_at = NOW()
			WHERE id = $2
		`, released, poolID); err != nil {
			return nil, err
		}
		pool.Remaining += released
		pool.Reserved -= released
		if err := syncPoolBalanceStatusTx(ctx, tx, pool); err != nil {
			return nil, err
		}
	}

	query := `
		UPDATE demandes
		SET status = 'cancelled', motif = COALESCE($2, motif), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + demandeColumns
	updated, err := scanDemande(tx.QueryRow(ctx, query, demandeID, motif))
	if err != nil {
		return nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, c := range cancelledPayments {
		ev := domain.PaymentEvent{
			PaymentID:   c.paymentID,
			DemandeID:   demandeID,
			PoolID:      c.poolID,
			RecipientID: c.recipientID,
			Amount:      c.amount,
			Status:      domain.PaymentStatusCancelled,
			OccurredAt:  now,
		}
		if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKPaymentCancelled, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// ExpireStaleDemandes moves demandes stuck in submitted or pending_docs
// past the deadline into expired, enqueueing one event per row.
func (r *PostgresRepository) ExpireStaleDemandes(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Demande, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE demandes
		SET status = 'expired', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM demandes
			WHERE status IN ('submitted', 'pending_docs') AND submitted_at < $1
			ORDER BY submitted_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+demandeColumns, submittedBefore, limit)
	if err != nil {
		return nil, err
	}
	var expired []domain.Demande
	for rows.Next() {
		d, err := scanDemande(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range expired {
		ev := domain.DemandeEvent{
			DemandeID:   expired[i].ID,
			Reference:   expired[i].Reference,
			ApplicantID: expired[i].ApplicantID,
			AssigneeID:  expired[i].AssigneeID,
			Status:      domain.DemandeStatusExpired,
			OccurredAt:  now,
		}
		if err := enqueueEventTx(ctx, tx, domain.WorkflowExchange, domain.RKDemandeExpired, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// ListDemandes returns a page of demandes plus the unpaged total.
func (r *PostgresRepository) ListDemandes(ctx context.Context, opts domain.DemandeListOptions) ([]domain.Demande, int64, error) {
	query := `SELECT ` + demandeColumns + `, COUNT(*) OVER() AS total_count FROM demandes WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, opts.Status)
		idx++
	}
	if opts.ApplicantID != uuid.Nil {
		query += fmt.Sprintf(" AND applicant_id = $%d", idx)
		args = append(args, opts.ApplicantID)
		idx++
	}
	if opts.AssigneeID != uuid.Nil {
		query += fmt.Sprintf(" AND assignee_id = $%d", idx)
		args = append(args, opts.AssigneeID)
		idx++
	}
	if opts.Wilaya != "" {
		query += fmt.Sprintf(" AND wilaya = $%d", idx)
		args = append(args, opts.Wilaya)
		idx++
	}
	if opts.Program != "" {
		query += fmt.Sprintf(" AND program = $%d", idx)
		args = append(args, opts.Program)
		idx++
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		query += fmt.Sprintf(" AND (title ILIKE $%d OR reference ILIKE $%d)", idx, idx)
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
		demandes []domain.Demande
		total    int64
	)
	for rows.Next() {
		var d domain.Demande
		if err := rows.Scan(
			&d.ID, &d.Reference, &d.ApplicantID, &d.AssigneeID, &d.Title, &d.Description,
			&d.Program, &d.Wilaya, &d.RequestedAmount, &d.ApprovedAmount, &d.PaidAmount,
			&d.Status, &d.Motif, &d.SubmittedAt, &d.ReviewedAt, &d.ReviewedBy,
			&d.CreatedAt, &d.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		demandes = append(demandes, d)
	}
	return demandes, total, rows.Err()
}

// CreateDemandeDocument records uploaded file metadata for a demande.
func (r *PostgresRepository) CreateDemandeDocument(ctx context.Context, doc *domain.DemandeDocument) error {
	query := `
		INSERT INTO demande_documents (id, demande_id, file_name, mime_type, size_bytes, digest, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		doc.ID,
		doc.DemandeID,
		doc.FileName,
		doc.MimeType,
		doc.SizeBytes,
		doc.Digest,
		doc.UploadedBy,
	).Scan(&doc.CreatedAt)
}

// FindDemandeDocumentByID retrieves one document metadata row.
func (r *PostgresRepository) FindDemandeDocumentByID(ctx context.Context, docID uuid.UUID) (*domain.DemandeDocument, error) {
	var doc domain.DemandeDocument
	query := `
		SELECT id, demande_id, file_name, mime_type, size_bytes, digest, uploaded_by, created_at
		FROM demande_documents
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, docID).Scan(
		&doc.ID, &doc.DemandeID, &doc.FileName, &doc.MimeType, &doc.SizeBytes, &doc.Digest, &doc.UploadedBy, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListDemandeDocuments returns every document attached to a demande.
func (r *PostgresRepository) ListDemandeDocuments(ctx context.Context, demandeID uuid.UUID) ([]domain.DemandeDocument, error) {
	query := `
		SELECT id, demande_id, file_name, mime_type, size_bytes, digest, uploaded_by, created_at
		FROM demande_documents
		WHERE demande_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, demandeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.DemandeDocument
	for rows.Next() {
		var doc domain.DemandeDocument
		if err := rows.Scan(
			&doc.ID, &doc.DemandeID, &doc.FileName, &doc.MimeType, &doc.SizeBytes, &doc.Digest, &doc.UploadedBy, &doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// demandeMissingOrConflict disambiguates a zero-row guarded update.
func (r *PostgresRepository) demandeMissingOrConflict(ctx context.Context, demandeID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM demandes WHERE id = $1)`, demandeID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrDemandeNotFound
	}
	return ErrStatusConflict
}

// sortUUIDs orders ids lexicographically so multi-row locks always take the
// same order.
func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}
