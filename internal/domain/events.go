/**
 * @description
 * This file defines the event payloads the workflow publishes through the
 * transactional outbox to RabbitMQ, plus the exchange and routing keys
 * consumers bind to. The notification consumer turns most of these into
 * Notification rows.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowExchange is the topic exchange every workflow event goes through.
const WorkflowExchange = "assistance.events"

// Routing keys for workflow events.
const (
	RKDemandeSubmitted      = "demande.submitted"
	RKDemandeAssigned       = "demande.assigned"
	RKDemandeReviewed       = "demande.reviewed"
	RKDemandeDocsRequested  = "demande.docs_requested"
	RKDemandeCancelled      = "demande.cancelled"
	RKDemandeExpired        = "demande.expired"
	RKPaymentCreated        = "payment.created"
	RKPaymentCompleted      = "payment.completed"
	RKPaymentFailed         = "payment.failed"
	RKPaymentCancelled      = "payment.cancelled"
	RKPoolDepleted          = "pool.depleted"
	RKPoolTransferred       = "pool.transferred"
	RKAnnouncementPublished = "announcement.published"
)

// DemandeEvent is the payload for demande lifecycle routing keys.
type DemandeEvent struct {
	DemandeID   uuid.UUID     `json:"demande_id"`
	Reference   string        `json:"reference"`
	ApplicantID uuid.UUID     `json:"applicant_id"`
	AssigneeID  *uuid.UUID    `json:"assignee_id,omitempty"`
	Status      DemandeStatus `json:"status"`
	Decision    *string       `json:"decision,omitempty"`
	Motif       *string       `json:"motif,omitempty"`
	Amount      *int64        `json:"amount,omitempty"` // in centimes
	OccurredAt  time.Time     `json:"occurred_at"`
}

// PaymentEvent is the payload for payment lifecycle routing keys.
type PaymentEvent struct {
	PaymentID     uuid.UUID     `json:"payment_id"`
	DemandeID     uuid.UUID     `json:"demande_id"`
	PoolID        uuid.UUID     `json:"pool_id"`
	RecipientID   uuid.UUID     `json:"recipient_id"`
	Amount        int64         `json:"amount"` // in centimes
	Status        PaymentStatus `json:"status"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	RetryCount    int           `json:"retry_count"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// PoolEvent is the payload for budget pool routing keys.
type PoolEvent struct {
	PoolID            uuid.UUID  `json:"pool_id"`
	DestinationPoolID *uuid.UUID `json:"destination_pool_id,omitempty"`
	Amount            int64      `json:"amount"` // in centimes
	Remaining         int64      `json:"remaining"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// AnnouncementEvent is the payload for announcement.published.
type AnnouncementEvent struct {
	AnnouncementID uuid.UUID `json:"announcement_id"`
	Title          string    `json:"title"`
	Audience       Audience  `json:"audience"`
	AudienceWilaya *string   `json:"audience_wilaya,omitempty"`
	AudienceRole   *Role     `json:"audience_role,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
