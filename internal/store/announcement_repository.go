/**
 * @description
 * This file implements the data access layer for announcements. Publishing
 * is the interesting path: the guarded draft-to-published update and the
 * fan-out event ride the same transaction, so the consumer only ever sees
 * announcements that really went out.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

const announcementColumns = `id, title, body, audience, audience_wilaya, audience_role, status,
	published_at, created_by, created_at, updated_at`

func scanAnnouncement(row rowScanner) (*domain.Announcement, error) {
	var a domain.Announcement
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.Body,
		&a.Audience,
		&a.AudienceWilaya,
		&a.AudienceRole,
		&a.Status,
		&a.PublishedAt,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAnnouncement inserts a new announcement in draft.
func (r *PostgresRepository) CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error {
	query := `
		INSERT INTO announcements (id, title, body, audience, audience_wilaya, audience_role, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		announcement.ID,
		announcement.Title,
		announcement.Body,
		announcement.Audience,
		announcement.AudienceWilaya,
		announcement.AudienceRole,
		announcement.Status,
		announcement.CreatedBy,
	).Scan(&announcement.CreatedAt, &announcement.UpdatedAt)
}

// FindAnnouncementByID retrieves an announcement by its ID.
func (r *PostgresRepository) FindAnnouncementByID(ctx context.Context, announcementID uuid.UUID) (*domain.Announcement, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE id = $1 AND deleted_at IS NULL`,
		announcementID)
	announcement, err := scanAnnouncement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAnnouncementNotFound
		}
		return nil, err
	}
	return announcement, nil
}

// UpdateAnnouncementFields edits an announcement that is still in draft.
func (r *PostgresRepository) UpdateAnnouncementFields(ctx context.Context, announcementID uuid.UUID, req domain.UpdateAnnouncementRequest) (*domain.Announcement, error) {
	query := `
		UPDATE announcements
		SET title = COALESCE($2, title),
			body = COALESCE($3, body),
			audience = COALESCE($4, audience),
			audience_wilaya = COALESCE($5, audience_wilaya),
			audience_role = COALESCE($6, audience_role),
			updated_at = NOW()
		WHERE id = $1 AND status = 'draft' AND deleted_at IS NULL
		RETURNING ` + announcementColumns
	row := r.db.QueryRow(ctx, query, announcementID, req.Title, req.Body, req.Audience, req.AudienceWilaya, req.AudienceRole)
	announcement, err := scanAnnouncement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.announcementMissingOrConflict(ctx, announcementID)
		}
		return nil, err
	}
	return announcement, nil
}

// PublishAnnouncement flips a draft to published and enqueues the fan-out
// event in the same transaction.
func (r *PostgresRepository) PublishAnnouncement(ctx context.Context, announcementID uuid.UUID, events []OutboxEvent) (*domain.Announcement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE announcements
		SET status = 'published', published_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'draft' AND deleted_at IS NULL
		RETURNING `+announcementColumns, announcementID)
	announcement, err := scanAnnouncement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.announcementMissingOrConflict(ctx, announcementID)
		}
		return nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return announcement, nil
}

// ListAnnouncements returns a page of announcements plus the unpaged total.
func (r *PostgresRepository) ListAnnouncements(ctx context.Context, opts domain.AnnouncementListOptions) ([]domain.Announcement, int64, error) {
	query := `SELECT ` + announcementColumns + `, COUNT(*) OVER() AS total_count
		FROM announcements WHERE deleted_at IS NULL`
	args := []interface{}{}
	idx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, opts.Status)
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
		announcements []domain.Announcement
		total         int64
	)
	for rows.Next() {
		var a domain.Announcement
		if err := rows.Scan(
			&a.ID, &a.Title, &a.Body, &a.Audience, &a.AudienceWilaya, &a.AudienceRole,
			&a.Status, &a.PublishedAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		announcements = append(announcements, a)
	}
	return announcements, total, rows.Err()
}

// SoftDeleteAnnouncement archives an announcement out of every listing.
func (r *PostgresRepository) SoftDeleteAnnouncement(ctx context.Context, announcementID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE announcements
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, announcementID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAnnouncementNotFound
	}
	return nil
}

// announcementMissingOrConflict disambiguates a zero-row guarded update.
func (r *PostgresRepository) announcementMissingOrConflict(ctx context.Context, announcementID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM announcements WHERE id = $1 AND deleted_at IS NULL)`,
		announcementID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAnnouncementNotFound
	}
	return ErrStatusConflict
}
