/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the workflow services. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUserProfile(ctx context.Context, userID uuid.UUID, req domain.UpdateUserRequest) (*domain.User, error)
	SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error
	RecordUserLogin(ctx context.Context, userID uuid.UUID) error
	ListUsers(ctx context.Context, opts domain.UserListOptions) ([]domain.User, int64, error)
	FindAudienceRecipientIDs(ctx context.Context, audience domain.Audience, wilaya *string, role *domain.Role) ([]uuid.UUID, error)

	// Demande methods
	CreateDemande(ctx context.Context, demande *domain.Demande) error
	FindDemandeByID(ctx context.Context, demandeID uuid.UUID) (*domain.Demande, error)
	UpdateDemandeFields(ctx context.Context, demandeID uuid.UUID, req domain.UpdateDemandeRequest) (*domain.Demande, error)
	DeleteDraftDemande(ctx context.Context, demandeID uuid.UUID) error
	SubmitDemande(ctx context.Context, demandeID uuid.UUID, from domain.DemandeStatus, events []OutboxEvent) (*domain.Demande, error)
	ReviewDemande(ctx context.Context, params ReviewDemandeParams, events []OutboxEvent) (*domain.Demande, error)
	AssignDemande(ctx context.Context, params AssignDemandeParams, events []OutboxEvent) (*domain.Demande, error)
	CancelDemandeAndReleaseFunds(ctx context.Context, demandeID uuid.UUID, from domain.DemandeStatus, motif *string, events []OutboxEvent) (*domain.Demande, error)
	ExpireStaleDemandes(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Demande, error)
	ListDemandes(ctx context.Context, opts domain.DemandeListOptions) ([]domain.Demande, int64, error)
	CreateDemandeDocument(ctx context.Context, doc *domain.DemandeDocument) error
	FindDemandeDocumentByID(ctx context.Context, docID uuid.UUID) (*domain.DemandeDocument, error)
	ListDemandeDocuments(ctx context.Context, demandeID uuid.UUID) ([]domain.DemandeDocument, error)

	// Budget pool methods
	CreateBudgetPool(ctx context.Context, pool *domain.BudgetPool) error
	FindBudgetPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error)
	UpdateBudgetPoolFields(ctx context.Context, poolID uuid.UUID, req domain.UpdateBudgetPoolRequest) (*domain.BudgetPool, error)
	UpdateBudgetPoolStatus(ctx context.Context, poolID uuid.UUID, from, to domain.PoolStatus) (*domain.BudgetPool, error)
	AllocateFunds(ctx context.Context, payment *domain.Payment, events []OutboxEvent) (*domain.BudgetPool, error)
	TransferFunds(ctx context.Context, params TransferFundsParams, events []OutboxEvent) (*domain.BudgetPool, *domain.BudgetPool, error)
	ExpirePoolsBeforeFiscalYear(ctx context.Context, fiscalYear int) (int64, error)
	ListBudgetPools(ctx context.Context, opts domain.BudgetPoolListOptions) ([]domain.BudgetPool, int64, error)
	ComputePoolAnalytics(ctx context.Context, poolID uuid.UUID) (*domain.PoolAnalytics, error)

	// Payment methods
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, int64, error)
	ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, processorID *uuid.UUID, from []domain.PaymentStatus) (*domain.Payment, error)
	CompletePaymentAndSettleDemande(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error)
	FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error)
	CancelPaymentAndReleaseFunds(ctx context.Context, paymentID uuid.UUID, cancelledBy *uuid.UUID, reason *string) (*domain.Payment, error)
	SchedulePayment(ctx context.Context, paymentID uuid.UUID, scheduledFor time.Time) (*domain.Payment, error)
	FindDuePaymentRetries(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)
	FindDueScheduledPayments(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)

	// Notification methods
	CreateNotificationWithChannels(ctx context.Context, notification *domain.Notification, channels []domain.NotificationChannel) error
	FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error)
	ListNotifications(ctx context.Context, recipientID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, int64, error)
	MarkNotificationRead(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error)
	MarkNotificationClicked(ctx context.Context, recipientID, notificationID uuid.UUID) (*domain.Notification, error)
	GetNotificationUnreadCounts(ctx context.Context, recipientID uuid.UUID) (*domain.NotificationUnreadCounts, error)
	RecordChannelAttempt(ctx context.Context, notificationID uuid.UUID, channel domain.Channel, delivered bool, attemptErr *string) error
	FinalizeNotificationDispatch(ctx context.Context, notificationID uuid.UUID, status domain.NotificationStatus, retryAfter *time.Time) error
	FindDueNotificationRetries(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	SoftDeleteNotification(ctx context.Context, recipientID, notificationID uuid.UUID) error

	// Announcement methods
	CreateAnnouncement(ctx context.Context, announcement *domain.Announcement) error
	FindAnnouncementByID(ctx context.Context, announcementID uuid.UUID) (*domain.Announcement, error)
	UpdateAnnouncementFields(ctx context.Context, announcementID uuid.UUID, req domain.UpdateAnnouncementRequest) (*domain.Announcement, error)
	PublishAnnouncement(ctx context.Context, announcementID uuid.UUID, events []OutboxEvent) (*domain.Announcement, error)
	ListAnnouncements(ctx context.Context, opts domain.AnnouncementListOptions) ([]domain.Announcement, int64, error)
	SoftDeleteAnnouncement(ctx context.Context, announcementID uuid.UUID) error

	// Outbox methods
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// OutboxEvent is a message to enqueue alongside an entity mutation in the
// same transaction. An empty Exchange defaults to domain.WorkflowExchange.
type OutboxEvent struct {
	Exchange   string
	RoutingKey string
	Payload    interface{}
}

// OutboxMessage is a claimed outbox row ready for publishing.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// ReviewDemandeParams captures a review decision for persistence.
type ReviewDemandeParams struct {
	DemandeID      uuid.UUID
	From           domain.DemandeStatus
	To             domain.DemandeStatus
	ApprovedAmount *int64
	Motif          *string
	ReviewerID     uuid.UUID
}

// AssignDemandeParams captures a case-worker assignment for persistence.
type AssignDemandeParams struct {
	DemandeID  uuid.UUID
	From       domain.DemandeStatus
	To         domain.DemandeStatus
	AssigneeID uuid.UUID
}

// TransferFundsParams captures a pool-to-pool transfer for persistence.
type TransferFundsParams struct {
	SourcePoolID      uuid.UUID
	DestinationPoolID uuid.UUID
	Amount            int64
}
