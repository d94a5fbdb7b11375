/**
 * @description
 * This file defines the Demande domain model: the assistance request a
 * citizen submits and the staff review workflow moves through its status
 * graph until funds are disbursed.
 *
 * @notes
 * - Amounts are stored as `int64` centimes to avoid floating-point
 *   inaccuracies with monetary data.
 * - The status graph is the single source of truth for legal moves; the
 *   workflow service refuses anything CanTransitionTo rejects.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DemandeStatus represents the lifecycle state of an assistance request.
type DemandeStatus string

const (
	DemandeStatusDraft         DemandeStatus = "draft"
	DemandeStatusSubmitted     DemandeStatus = "submitted"
	DemandeStatusUnderReview   DemandeStatus = "under_review"
	DemandeStatusPendingDocs   DemandeStatus = "pending_docs"
	DemandeStatusApproved      DemandeStatus = "approved"
	DemandeStatusRejected      DemandeStatus = "rejected"
	DemandeStatusCancelled     DemandeStatus = "cancelled"
	DemandeStatusExpired       DemandeStatus = "expired"
	DemandeStatusPartiallyPaid DemandeStatus = "partially_paid"
	DemandeStatusPaid          DemandeStatus = "paid"
)

// demandeTransitions enumerates every legal edge of the status graph.
// Paid, rejected, cancelled and expired are terminal.
var demandeTransitions = map[DemandeStatus][]DemandeStatus{
	DemandeStatusDraft:         {DemandeStatusSubmitted, DemandeStatusCancelled},
	DemandeStatusSubmitted:     {DemandeStatusUnderReview, DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected, DemandeStatusCancelled, DemandeStatusExpired},
	DemandeStatusUnderReview:   {DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected, DemandeStatusCancelled},
	DemandeStatusPendingDocs:   {DemandeStatusSubmitted, DemandeStatusUnderReview, DemandeStatusApproved, DemandeStatusRejected, DemandeStatusCancelled, DemandeStatusExpired},
	DemandeStatusApproved:      {DemandeStatusPartiallyPaid, DemandeStatusPaid, DemandeStatusCancelled},
	DemandeStatusPartiallyPaid: {DemandeStatusPaid, DemandeStatusCancelled},
}

// Valid reports whether the status is a known value.
func (s DemandeStatus) Valid() bool {
	switch s {
	case DemandeStatusDraft, DemandeStatusSubmitted, DemandeStatusUnderReview,
		DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected,
		DemandeStatusCancelled, DemandeStatusExpired, DemandeStatusPartiallyPaid,
		DemandeStatusPaid:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s DemandeStatus) CanTransitionTo(target DemandeStatus) bool {
	for _, t := range demandeTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s DemandeStatus) IsTerminal() bool {
	return len(demandeTransitions[s]) == 0 && s.Valid()
}

// Reviewable reports whether a review decision may be recorded in s.
func (s DemandeStatus) Reviewable() bool {
	return s == DemandeStatusSubmitted || s == DemandeStatusUnderReview || s == DemandeStatusPendingDocs
}

// ReviewDecision is the outcome a reviewer records on a demande.
type ReviewDecision string

const (
	ReviewDecisionApprove     ReviewDecision = "approve"
	ReviewDecisionReject      ReviewDecision = "reject"
	ReviewDecisionRequestDocs ReviewDecision = "request_docs"
)

// Demande represents an assistance request.
// Maps to the `demandes` table.
type Demande struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	Reference       string        `json:"reference" db:"reference"`
	ApplicantID     uuid.UUID     `json:"applicant_id" db:"applicant_id"`
	AssigneeID      *uuid.UUID    `json:"assignee_id,omitempty" db:"assignee_id"`
	Title           string        `json:"title" db:"title"`
	Description     string        `json:"description" db:"description"`
	Program         *string       `json:"program,omitempty" db:"program"`
	Wilaya          *string       `json:"wilaya,omitempty" db:"wilaya"`
	RequestedAmount int64         `json:"requested_amount" db:"requested_amount"` // in centimes
	ApprovedAmount  *int64        `json:"approved_amount,omitempty" db:"approved_amount"`
	PaidAmount      int64         `json:"paid_amount" db:"paid_amount"`
	Status          DemandeStatus `json:"status" db:"status"`
	Motif           *string       `json:"motif,omitempty" db:"motif"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty" db:"submitted_at"`
	ReviewedAt      *time.Time    `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy      *uuid.UUID    `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// RemainingDue returns how much of the approved amount is still unpaid.
func (d *Demande) RemainingDue() int64 {
	if d.ApprovedAmount == nil {
		return 0
	}
	due := *d.ApprovedAmount - d.PaidAmount
	if due < 0 {
		return 0
	}
	return due
}

// NewDemandeReference derives a human-readable reference from the row ID,
// e.g. "DEM-2025-1A2B3C4D". Uniqueness follows from the UUID.
func NewDemandeReference(id uuid.UUID, createdAt time.Time) string {
	compact := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "DEM-" + createdAt.Format("2006") + "-" + compact[:8]
}

// DemandeDocument represents a supporting file attached to a demande.
// The content lives in the file store; the row records the digest address.
type DemandeDocument struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DemandeID  uuid.UUID `json:"demande_id" db:"demande_id"`
	FileName   string    `json:"file_name" db:"file_name"`
	MimeType   string    `json:"mime_type" db:"mime_type"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	Digest     string    `json:"digest" db:"digest"`
	UploadedBy uuid.UUID `json:"uploaded_by" db:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CreateDemandeRequest is the DTO for opening a new draft demande.
type CreateDemandeRequest struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Program         *string `json:"program,omitempty"`
	Wilaya          *string `json:"wilaya,omitempty"`
	RequestedAmount int64   `json:"requested_amount"` // in centimes
}

// UpdateDemandeRequest is the DTO for editing a draft or pending_docs
// demande. Nil fields are left untouched.
type UpdateDemandeRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Program         *string `json:"program,omitempty"`
	Wilaya          *string `json:"wilaya,omitempty"`
	RequestedAmount *int64  `json:"requested_amount,omitempty"` // in centimes
}

// ReviewDemandeRequest is the DTO for recording a review decision.
type ReviewDemandeRequest struct {
	Decision       ReviewDecision `json:"decision"`
	ApprovedAmount *int64         `json:"approved_amount,omitempty"` // in centimes, approve only
	Motif          *string        `json:"motif,omitempty"`           // required for reject
}

// AssignDemandeRequest is the DTO for attaching a case worker.
type AssignDemandeRequest struct {
	AssigneeID uuid.UUID `json:"assignee_id"`
}

// CancelDemandeRequest is the DTO for cancelling a demande.
type CancelDemandeRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// DemandeListOptions controls pagination and filtering for demande listings.
type DemandeListOptions struct {
	Limit       int
	Offset      int
	Status      DemandeStatus
	ApplicantID uuid.UUID
	AssigneeID  uuid.UUID
	Wilaya      string
	Program     string
	Search      string
}
