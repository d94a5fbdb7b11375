package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// notificationRepoStub mirrors the COALESCE stamping the Postgres queries
// use, so repeat calls can be asserted against the first timestamps.
type notificationRepoStub struct {
	store.Repository

	notification *domain.Notification
}

func (s *notificationRepoStub) FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error) {
	if s.notification == nil || s.notification.ID != notificationID {
		return nil, store.ErrNotificationNotFound
	}
	n := *s.notification
	return &n, nil
}

func (s *notificationRepoStub) MarkNotificationRead(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error) {
	if s.notification == nil || s.notification.ID != notificationID || s.notification.RecipientID != recipientID {
		return nil, store.ErrNotificationNotFound
	}
	if s.notification.ReadAt == nil {
		now := time.Now().UTC()
		s.notification.ReadAt = &now
	}
	switch s.notification.Status {
	case domain.NotificationStatusSent, domain.NotificationStatusDelivered:
		s.notification.Status = domain.NotificationStatusRead
	}
	n := *s.notification
	return &n, nil
}

func (s *notificationRepoStub) MarkNotificationClicked(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error) {
	if s.notification == nil || s.notification.ID != notificationID || s.notification.RecipientID != recipientID {
		return nil, store.ErrNotificationNotFound
	}
	now := time.Now().UTC()
	if s.notification.ClickedAt == nil {
		s.notification.ClickedAt = &now
	}
	if s.notification.ReadAt == nil {
		s.notification.ReadAt = &now
	}
	switch s.notification.Status {
	case domain.NotificationStatusSent, domain.NotificationStatusDelivered, domain.NotificationStatusRead:
		s.notification.Status = domain.NotificationStatusClicked
	}
	n := *s.notification
	return &n, nil
}

func deliveredNotification(recipientID uuid.UUID) *domain.Notification {
	return &domain.Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Kind:        domain.KindDemandeReviewed,
		Title:       "Demande approved",
		Message:     "Your demande has been approved.",
		Status:      domain.NotificationStatusDelivered,
		MaxRetries:  domain.NotificationMaxRetries,
	}
}

func TestMarkNotificationReadIsIdempotent(t *testing.T) {
	recipient := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	repo := &notificationRepoStub{notification: deliveredNotification(recipient.ID)}
	svc := newTestService(repo)

	first, err := svc.MarkNotificationRead(context.Background(), recipient, repo.notification.ID)
	if err != nil {
		t.Fatalf("expected the first read to succeed, got %v", err)
	}
	if first.Status != domain.NotificationStatusRead {
		t.Fatalf("expected read, got %s", first.Status)
	}
	if first.ReadAt == nil {
		t.Fatal("expected a read timestamp")
	}

	second, err := svc.MarkNotificationRead(context.Background(), recipient, repo.notification.ID)
	if err != nil {
		t.Fatalf("expected the repeat read to succeed, got %v", err)
	}
	if second.Status != domain.NotificationStatusRead {
		t.Fatalf("expected the status to stay read, got %s", second.Status)
	}
	if second.ReadAt == nil || !second.ReadAt.Equal(*first.ReadAt) {
		t.Fatalf("expected the first read timestamp to be preserved, got %v then %v", first.ReadAt, second.ReadAt)
	}
}

func TestMarkNotificationReadScopedToRecipient(t *testing.T) {
	owner := uuid.New()
	repo := &notificationRepoStub{notification: deliveredNotification(owner)}
	svc := newTestService(repo)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	_, err := svc.MarkNotificationRead(context.Background(), stranger, repo.notification.ID)
	if !errors.Is(err, store.ErrNotificationNotFound) {
		t.Fatalf("expected not-found for someone else's notification, got %v", err)
	}
	if repo.notification.ReadAt != nil {
		t.Fatal("expected the owner's notification to stay unread")
	}
}

func TestMarkNotificationClickedImpliesRead(t *testing.T) {
	recipient := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	repo := &notificationRepoStub{notification: deliveredNotification(recipient.ID)}
	svc := newTestService(repo)

	clicked, err := svc.MarkNotificationClicked(context.Background(), recipient, repo.notification.ID)
	if err != nil {
		t.Fatalf("expected the click to succeed, got %v", err)
	}
	if clicked.Status != domain.NotificationStatusClicked {
		t.Fatalf("expected clicked, got %s", clicked.Status)
	}
	if clicked.ClickedAt == nil || clicked.ReadAt == nil {
		t.Fatal("expected both click and read timestamps")
	}
}

func TestGetNotificationHidesOtherRecipients(t *testing.T) {
	owner := uuid.New()
	repo := &notificationRepoStub{notification: deliveredNotification(owner)}
	svc := newTestService(repo)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	_, err := svc.GetNotification(context.Background(), stranger, repo.notification.ID)
	if !errors.Is(err, store.ErrNotificationNotFound) {
		t.Fatalf("expected not-found for a non-recipient, got %v", err)
	}

	recipient := domain.Actor{ID: owner, Role: domain.RoleUser}
	got, err := svc.GetNotification(context.Background(), recipient, repo.notification.ID)
	if err != nil {
		t.Fatalf("expected the recipient to read their notification, got %v", err)
	}
	if got.ID != repo.notification.ID {
		t.Fatalf("expected notification %s, got %s", repo.notification.ID, got.ID)
	}
}
