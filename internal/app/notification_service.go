/**
 * @description
 * Notification feed use cases. Everything here is scoped to the calling
 * recipient; there is no staff override for reading someone else's feed.
 * Read and click marking are idempotent all the way down (the repository
 * stamps timestamps with COALESCE), so clients can fire-and-forget.
 */

package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// ListNotifications returns a page of the actor's feed, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor domain.Actor, opts domain.NotificationListOptions) ([]domain.Notification, int64, error) {
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListNotifications(ctx, actor.ID, opts)
}

// GetNotification returns one of the actor's notifications with its
// channel delivery detail.
func (s *Service) GetNotification(ctx context.Context, actor domain.Actor, notificationID uuid.UUID) (*domain.Notification, error) {
	notification, err := s.repo.FindNotificationByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if notification.RecipientID != actor.ID {
		return nil, store.ErrNotificationNotFound
	}
	return notification, nil
}

// MarkNotificationRead marks a notification as read. Safe to repeat.
func (s *Service) MarkNotificationRead(ctx context.Context, actor domain.Actor, notificationID uuid.UUID) (*domain.Notification, error) {
	return s.repo.MarkNotificationRead(ctx, actor.ID, notificationID)
}

// MarkNotificationClicked marks a notification as clicked (and therefore
// read). Safe to repeat.
func (s *Service) MarkNotificationClicked(ctx context.Context, actor domain.Actor, notificationID uuid.UUID) (*domain.Notification, error) {
	return s.repo.MarkNotificationClicked(ctx, actor.ID, notificationID)
}

// GetUnreadCounts returns the actor's unread badge counts.
func (s *Service) GetUnreadCounts(ctx context.Context, actor domain.Actor) (*domain.NotificationUnreadCounts, error) {
	return s.repo.GetNotificationUnreadCounts(ctx, actor.ID)
}

// DeleteNotification hides a notification from the actor's feed.
func (s *Service) DeleteNotification(ctx context.Context, actor domain.Actor, notificationID uuid.UUID) error {
	return s.repo.SoftDeleteNotification(ctx, actor.ID, notificationID)
}
