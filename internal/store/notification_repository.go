/**
 * @description
 * This file implements the data access layer for notifications and their
 * per-channel delivery state. Read/click marking is idempotent: timestamps
 * are set once with COALESCE and the status only ever moves forward, so
 * repeating the call returns the same row unchanged.
 *
 * @notes
 * - recipient_id is part of every user-facing WHERE clause. A notification
 *   that belongs to someone else looks exactly like a missing one.
 * - Soft deletes hide rows from the feed but keep them for audit.
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

// CreateNotificationWithChannels inserts a notification and its channel
// rows in one transaction.
func (r *PostgresRepository) CreateNotificationWithChannels(ctx context.Context, notification *domain.Notification, channels []domain.NotificationChannel) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO notifications (id, recipient_id, kind, title, message, status,
			demande_id, payment_id, pool_id, announcement_id, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING retry_count, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		notification.ID,
		notification.RecipientID,
		notification.Kind,
		notification.Title,
		notification.Message,
		notification.Status,
		notification.DemandeID,
		notification.PaymentID,
		notification.PoolID,
		notification.AnnouncementID,
		notification.MaxRetries,
	).Scan(&notification.RetryCount, &notification.CreatedAt, &notification.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range channels {
		ch := &channels[i]
		ch.NotificationID = notification.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO notification_channels (notification_id, channel, enabled, delivered, delivered_at, attempts)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ch.NotificationID, ch.Channel, ch.Enabled, ch.Delivered, ch.DeliveredAt, ch.Attempts); err != nil {
			return err
		}
	}
	notification.Channels = channels

	return tx.Commit(ctx)
}

// FindNotificationByID retrieves a notification with its channel rows.
func (r *PostgresRepository) FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 AND deleted_at IS NULL`,
		notificationID)
	notification, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT notification_id, channel, enabled, delivered, delivered_at, attempts, last_error
		FROM notification_channels
		WHERE notification_id = $1
		ORDER BY channel
	`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ch domain.NotificationChannel
		if err := rows.Scan(&ch.NotificationID, &ch.Channel, &ch.Enabled, &ch.Delivered, &ch.DeliveredAt, &ch.Attempts, &ch.LastError); err != nil {
			return nil, err
		}
		notification.Channels = append(notification.Channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notification, nil
}

// ListNotifications returns a page of a recipient's feed, newest first,
// plus the unpaged total.
func (r *PostgresRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, int64, error) {
	query := `SELECT ` + notificationColumns + `, COUNT(*) OVER() AS total_count
		FROM notifications WHERE recipient_id = $1 AND deleted_at IS NULL`
	args := []interface{}{recipientID}
	idx := 2

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, opts.Status)
		idx++
	}
	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", idx)
		args = append(args, opts.Kind)
		idx++
	}
	if opts.UnreadOnly {
		query += " AND read_at IS NULL"
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		notifications []domain.Notification
		total         int64
	)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Message, &n.Status,
			&n.DemandeID, &n.PaymentID, &n.PoolID, &n.AnnouncementID,
			&n.RetryCount, &n.MaxRetries, &n.RetryAfter, &n.ReadAt, &n.ClickedAt,
			&n.CreatedAt, &n.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// MarkNotificationRead stamps read_at once and moves the status forward.
// Calling it again is a no-op that returns the same row.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error) {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW()),
			status = CASE WHEN status IN ('sent', 'delivered') THEN 'read' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2 AND deleted_at IS NULL
		RETURNING ` + notificationColumns
	row := r.db.QueryRow(ctx, query, notificationID, recipientID)
	notification, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notification, nil
}

// MarkNotificationClicked stamps clicked_at (and read_at, a click implies a
// read) once. Idempotent like MarkNotificationRead.
func (r *PostgresRepository) MarkNotificationClicked(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error) {
	query := `
		UPDATE notifications
		SET clicked_at = COALESCE(clicked_at, NOW()),
			read_at = COALESCE(read_at, NOW()),
			status = CASE WHEN status IN ('sent', 'delivered', 'read') THEN 'clicked' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2 AND deleted_at IS NULL
		RETURNING ` + notificationColumns
	row := r.db.QueryRow(ctx, query, notificationID, recipientID)
	notification, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notification, nil
}

// GetNotificationUnreadCounts aggregates the unread badge counts in one
// query. A notification tied to several entities counts in each bucket.
func (r *PostgresRepository) GetNotificationUnreadCounts(ctx context.Context, recipientID uuid.UUID) (*domain.NotificationUnreadCounts, error) {
	var counts domain.NotificationUnreadCounts
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE demande_id IS NOT NULL),
			COUNT(*) FILTER (WHERE payment_id IS NOT NULL),
			COUNT(*) FILTER (WHERE announcement_id IS NOT NULL),
			COUNT(*) FILTER (WHERE kind = 'system')
		FROM notifications
		WHERE recipient_id = $1 AND read_at IS NULL AND deleted_at IS NULL
	`, recipientID).Scan(&counts.Total, &counts.Demande, &counts.Payment, &counts.Announcement, &counts.System)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// RecordChannelAttempt updates one channel row after a delivery attempt.
func (r *PostgresRepository) RecordChannelAttempt(ctx context.Context, notificationID uuid.UUID, channel domain.Channel, delivered bool, attemptErr *string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE notification_channels
		SET attempts = attempts + 1,
			delivered = $3,
			delivered_at = CASE WHEN $3 THEN NOW() ELSE delivered_at END,
			last_error = $4
		WHERE notification_id = $1 AND channel = $2
	`, notificationID, channel, delivered, attemptErr)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// FinalizeNotificationDispatch records the overall outcome of a dispatch
// round. A failed round bumps the retry counter and arms retry_after.
func (r *PostgresRepository) FinalizeNotificationDispatch(ctx context.Context, notificationID uuid.UUID, status domain.NotificationStatus, retryAfter *time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = $2,
			retry_count = CASE WHEN $2 = 'failed' THEN retry_count + 1 ELSE retry_count END,
			retry_after = $3,
			updated_at = NOW()
		WHERE id = $1
	`, notificationID, status, retryAfter)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// FindDueNotificationRetries returns failed notifications whose backoff
// window has passed and that still have delivery attempts left.
func (r *PostgresRepository) FindDueNotificationRetries(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = 'failed' AND retry_count < max_retries
			AND (retry_after IS NULL OR retry_after <= $1)
			AND deleted_at IS NULL
		ORDER BY retry_after ASC NULLS FIRST
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Message, &n.Status,
			&n.DemandeID, &n.PaymentID, &n.PoolID, &n.AnnouncementID,
			&n.RetryCount, &n.MaxRetries, &n.RetryAfter, &n.ReadAt, &n.ClickedAt,
			&n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// SoftDeleteNotification hides a notification from its recipient's feed.
func (r *PostgresRepository) SoftDeleteNotification(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND recipient_id = $2 AND deleted_at IS NULL
	`, notificationID, recipientID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
