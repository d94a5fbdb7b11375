/**
 * @description
 * This file defines the Payment domain model: a single disbursement of
 * allocated funds from a budget pool toward a demande's applicant, with
 * bounded exponential retry on failure.
 *
 * @notes
 * - Source and destination are tagged PartyRef unions so a payment can
 *   reference either a user or a budget pool without loose string pairs.
 * - A completed payment is immutable; only audit metadata may change.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries bounds how many times a failed payment may be retried.
const DefaultMaxRetries = 3

// PaymentStatus represents the lifecycle state of a disbursement.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusScheduled  PaymentStatus = "scheduled"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// paymentTransitions enumerates the legal status edges. Completed and
// cancelled are terminal; failed may re-enter processing via retry.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusScheduled, PaymentStatusProcessing, PaymentStatusCancelled},
	PaymentStatusScheduled:  {PaymentStatusProcessing, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing, PaymentStatusCancelled},
}

// Valid reports whether the status is a known value.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusScheduled, PaymentStatusProcessing,
		PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusCancelled
}

// PaymentMethod is how the money physically reaches the applicant.
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
)

// Valid reports whether the method is a known value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCheck, PaymentMethodCash, PaymentMethodCard:
		return true
	}
	return false
}

// PartyKind tags which entity family a PartyRef points at.
type PartyKind string

const (
	PartyKindUser       PartyKind = "user"
	PartyKindBudgetPool PartyKind = "budget_pool"
)

// PartyRef identifies one side of a payment: either a user or a budget
// pool, never a bare ID with out-of-band meaning.
type PartyRef struct {
	Kind PartyKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Valid reports whether the reference carries a known kind and a non-nil ID.
func (p PartyRef) Valid() bool {
	if p.ID == uuid.Nil {
		return false
	}
	return p.Kind == PartyKindUser || p.Kind == PartyKindBudgetPool
}

// Equal reports whether two references point at the same entity.
func (p PartyRef) Equal(o PartyRef) bool {
	return p.Kind == o.Kind && p.ID == o.ID
}

func (p PartyRef) String() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.ID)
}

// Payment represents one disbursement attempt chain.
// Maps to the `payments` table.
type Payment struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	DemandeID     uuid.UUID     `json:"demande_id" db:"demande_id"`
	PoolID        uuid.UUID     `json:"pool_id" db:"pool_id"`
	Amount        int64         `json:"amount" db:"amount"` // in centimes
	Method        PaymentMethod `json:"method" db:"method"`
	Source        PartyRef      `json:"source"`
	Destination   PartyRef      `json:"destination"`
	Status        PaymentStatus `json:"status" db:"status"`
	RetryCount    int           `json:"retry_count" db:"retry_count"`
	MaxRetries    int           `json:"max_retries" db:"max_retries"`
	RetryAfter    *time.Time    `json:"retry_after,omitempty" db:"retry_after"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ScheduledFor  *time.Time    `json:"scheduled_for,omitempty" db:"scheduled_for"`
	ProcessedBy   *uuid.UUID    `json:"processed_by,omitempty" db:"processed_by"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// RetryBackoff returns how long a payment must wait after its n-th
// failure: 2^n minutes, counted with the just-incremented retry count.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 10 {
		retryCount = 10 // caps the shift, not a business limit
	}
	return time.Duration(1<<uint(retryCount)) * time.Minute
}

// CanRetry reports whether a retry is admissible at `now`. It returns nil
// when the payment is failed, under the retry limit and past its backoff
// window, and the matching sentinel otherwise.
func (p *Payment) CanRetry(now time.Time) error {
	if p.Status != PaymentStatusFailed {
		return fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrInvalidState)
	}
	if p.RetryCount >= p.MaxRetries {
		return fmt.Errorf("payment %s used %d of %d attempts: %w", p.ID, p.RetryCount, p.MaxRetries, ErrRetriesExhausted)
	}
	if p.RetryAfter != nil && now.Before(*p.RetryAfter) {
		return fmt.Errorf("payment %s retryable at %s: %w", p.ID, p.RetryAfter.Format(time.RFC3339), ErrRetryNotDue)
	}
	return nil
}

// CancelPaymentRequest is the DTO for cancelling a non-terminal payment.
type CancelPaymentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// SchedulePaymentRequest is the DTO for deferring a pending payment to a
// future processing date.
type SchedulePaymentRequest struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// PaymentListOptions controls pagination and filtering for payment listings.
type PaymentListOptions struct {
	Limit     int
	Offset    int
	Status    PaymentStatus
	DemandeID uuid.UUID
	PoolID    uuid.UUID
	Method    PaymentMethod
}
