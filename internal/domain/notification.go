/**
 * @description
 * This file defines the Notification domain model and its per-channel
 * delivery bookkeeping. A notification row is the canonical record; each
 * enabled channel (in_app, email, sms, push) tracks its own delivery
 * attempts underneath it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationMaxRetries bounds delivery retries for a failed notification.
const NotificationMaxRetries = 3

// NotificationStatus represents the aggregate delivery state.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusRead      NotificationStatus = "read"
	NotificationStatusClicked   NotificationStatus = "clicked"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// notificationTransitions enumerates the legal status edges. Read and
// clicked only apply once at least one channel reached the recipient;
// failed notifications re-enter pending on retry. Clicked and cancelled
// are terminal.
var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending:   {NotificationStatusSent, NotificationStatusDelivered, NotificationStatusFailed, NotificationStatusCancelled},
	NotificationStatusSent:      {NotificationStatusDelivered, NotificationStatusRead, NotificationStatusClicked, NotificationStatusFailed},
	NotificationStatusDelivered: {NotificationStatusRead, NotificationStatusClicked},
	NotificationStatusRead:      {NotificationStatusClicked},
	NotificationStatusFailed:    {NotificationStatusPending, NotificationStatusSent, NotificationStatusCancelled},
}

// Valid reports whether the status is a known value.
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusDelivered,
		NotificationStatusRead, NotificationStatusClicked, NotificationStatusFailed,
		NotificationStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s NotificationStatus) CanTransitionTo(target NotificationStatus) bool {
	for _, t := range notificationTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Channel identifies one delivery medium.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Valid reports whether the channel is a known value.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// NotificationKind classifies what the notification is about.
type NotificationKind string

const (
	KindDemandeSubmitted  NotificationKind = "demande_submitted"
	KindDemandeAssigned   NotificationKind = "demande_assigned"
	KindDemandeReviewed   NotificationKind = "demande_reviewed"
	KindDemandeDocsNeeded NotificationKind = "demande_docs_needed"
	KindDemandeCancelled  NotificationKind = "demande_cancelled"
	KindDemandeExpired    NotificationKind = "demande_expired"
	KindPaymentCreated    NotificationKind = "payment_created"
	KindPaymentCompleted  NotificationKind = "payment_completed"
	KindPaymentFailed     NotificationKind = "payment_failed"
	KindPaymentCancelled  NotificationKind = "payment_cancelled"
	KindPoolDepleted      NotificationKind = "pool_depleted"
	KindPoolTransferred   NotificationKind = "pool_transferred"
	KindAnnouncement      NotificationKind = "announcement"
	KindSystem            NotificationKind = "system"
)

// Notification represents one message addressed to a recipient.
// Maps to the `notifications` table.
type Notification struct {
	ID             uuid.UUID             `json:"id" db:"id"`
	RecipientID    uuid.UUID             `json:"recipient_id" db:"recipient_id"`
	Kind           NotificationKind      `json:"kind" db:"kind"`
	Title          string                `json:"title" db:"title"`
	Message        string                `json:"message" db:"message"`
	Status         NotificationStatus    `json:"status" db:"status"`
	DemandeID      *uuid.UUID            `json:"demande_id,omitempty" db:"demande_id"`
	PaymentID      *uuid.UUID            `json:"payment_id,omitempty" db:"payment_id"`
	PoolID         *uuid.UUID            `json:"pool_id,omitempty" db:"pool_id"`
	AnnouncementID *uuid.UUID            `json:"announcement_id,omitempty" db:"announcement_id"`
	RetryCount     int                   `json:"retry_count" db:"retry_count"`
	MaxRetries     int                   `json:"max_retries" db:"max_retries"`
	RetryAfter     *time.Time            `json:"retry_after,omitempty" db:"retry_after"`
	ReadAt         *time.Time            `json:"read_at,omitempty" db:"read_at"`
	ClickedAt      *time.Time            `json:"clicked_at,omitempty" db:"clicked_at"`
	DeletedAt      *time.Time            `json:"-" db:"deleted_at"`
	Channels       []NotificationChannel `json:"channels,omitempty"`
	CreatedAt      time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at" db:"updated_at"`
}

// CanRetryDelivery reports whether a failed notification is eligible for
// another delivery sweep at `now`.
func (n *Notification) CanRetryDelivery(now time.Time) bool {
	if n.Status != NotificationStatusFailed {
		return false
	}
	if n.RetryCount >= n.MaxRetries {
		return false
	}
	if n.RetryAfter != nil && now.Before(*n.RetryAfter) {
		return false
	}
	return true
}

// NotificationChannel tracks delivery of one notification over one medium.
// Maps to the `notification_channels` table.
type NotificationChannel struct {
	NotificationID uuid.UUID  `json:"-" db:"notification_id"`
	Channel        Channel    `json:"channel" db:"channel"`
	Enabled        bool       `json:"enabled" db:"enabled"`
	Delivered      bool       `json:"delivered" db:"delivered"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	Attempts       int        `json:"attempts" db:"attempts"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
}

// NotificationListOptions controls pagination and filtering for a
// recipient's notification feed.
type NotificationListOptions struct {
	Limit      int
	Offset     int
	Status     NotificationStatus
	Kind       NotificationKind
	UnreadOnly bool
}

// NotificationUnreadCounts aggregates unread totals for the feed badge.
type NotificationUnreadCounts struct {
	Total        int64 `json:"total"`
	Demande      int64 `json:"demande"`
	Payment      int64 `json:"payment"`
	Announcement int64 `json:"announcement"`
	System       int64 `json:"system"`
}
