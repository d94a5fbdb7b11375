/**
 * @description
 * This file defines the BudgetPool domain model: a pot of public funds
 * scoped to a department, fiscal year and optionally a wilaya, from which
 * approved demandes are paid.
 *
 * @notes
 * - `remaining` is decremented at allocation time, not at disbursement
 *   time, so the invariant 0 <= remaining <= total_amount always holds.
 * - `reserved` tracks money committed to payments that have not completed
 *   yet; disbursed funds are total - remaining - reserved.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PoolStatus represents the lifecycle state of a budget pool.
type PoolStatus string

const (
	PoolStatusDraft    PoolStatus = "draft"
	PoolStatusActive   PoolStatus = "active"
	PoolStatusFrozen   PoolStatus = "frozen"
	PoolStatusDepleted PoolStatus = "depleted"
	PoolStatusExpired  PoolStatus = "expired"
)

// poolTransitions enumerates the legal status edges. A depleted pool
// returns to active when a cancellation or an inbound transfer restores
// funds. Expired is terminal.
var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolStatusDraft:    {PoolStatusActive, PoolStatusExpired},
	PoolStatusActive:   {PoolStatusFrozen, PoolStatusDepleted, PoolStatusExpired},
	PoolStatusFrozen:   {PoolStatusActive, PoolStatusExpired},
	PoolStatusDepleted: {PoolStatusActive, PoolStatusExpired},
}

// Valid reports whether the status is a known value.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolStatusDraft, PoolStatusActive, PoolStatusFrozen, PoolStatusDepleted, PoolStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s PoolStatus) CanTransitionTo(target PoolStatus) bool {
	for _, t := range poolTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// BudgetPool represents a funding envelope.
// Maps to the `budget_pools` table.
type BudgetPool struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Department    string     `json:"department" db:"department"`
	FiscalYear    int        `json:"fiscal_year" db:"fiscal_year"`
	Wilaya        *string    `json:"wilaya,omitempty" db:"wilaya"`
	TotalAmount   int64      `json:"total_amount" db:"total_amount"` // in centimes
	Remaining     int64      `json:"remaining" db:"remaining"`       // in centimes
	Reserved      int64      `json:"reserved" db:"reserved"`         // in centimes
	MaxPerDemande *int64     `json:"max_per_demande,omitempty" db:"max_per_demande"`
	Status        PoolStatus `json:"status" db:"status"`
	CreatedBy     uuid.UUID  `json:"created_by" db:"created_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Disbursed returns the amount paid out of the pool so far.
func (p *BudgetPool) Disbursed() int64 {
	return p.TotalAmount - p.Remaining - p.Reserved
}

// Utilization returns the committed share of the pool in [0, 1].
func (p *BudgetPool) Utilization() float64 {
	if p.TotalAmount == 0 {
		return 0
	}
	return float64(p.TotalAmount-p.Remaining) / float64(p.TotalAmount)
}

// PoolAnalytics is the aggregate view served by the analytics endpoint.
type PoolAnalytics struct {
	PoolID           uuid.UUID  `json:"pool_id"`
	Name             string     `json:"name"`
	Status           PoolStatus `json:"status"`
	TotalAmount      int64      `json:"total_amount"`
	Remaining        int64      `json:"remaining"`
	Reserved         int64      `json:"reserved"`
	Disbursed        int64      `json:"disbursed"`
	Utilization      float64    `json:"utilization"`
	PaymentCount     int64      `json:"payment_count"`
	CompletedCount   int64      `json:"completed_count"`
	FailedCount      int64      `json:"failed_count"`
	DemandesAssisted int64      `json:"demandes_assisted"`
	ComputedAt       time.Time  `json:"computed_at"`
}

// CreateBudgetPoolRequest is the DTO for opening a new pool in draft.
type CreateBudgetPoolRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Department    string  `json:"department"`
	FiscalYear    int     `json:"fiscal_year"`
	Wilaya        *string `json:"wilaya,omitempty"`
	TotalAmount   int64   `json:"total_amount"` // in centimes
	MaxPerDemande *int64  `json:"max_per_demande,omitempty"`
}

// UpdateBudgetPoolRequest is the DTO for editing a draft pool. Nil fields
// are left untouched.
type UpdateBudgetPoolRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Department    *string `json:"department,omitempty"`
	Wilaya        *string `json:"wilaya,omitempty"`
	TotalAmount   *int64  `json:"total_amount,omitempty"` // in centimes
	MaxPerDemande *int64  `json:"max_per_demande,omitempty"`
}

// AllocateFundsRequest is the DTO for committing pool money to an
// approved demande. The allocation creates a pending payment.
type AllocateFundsRequest struct {
	DemandeID uuid.UUID     `json:"demande_id"`
	Amount    int64         `json:"amount"` // in centimes
	Method    PaymentMethod `json:"method,omitempty"`
}

// TransferFundsRequest is the DTO for moving money between two pools.
type TransferFundsRequest struct {
	DestinationPoolID uuid.UUID `json:"destination_pool_id"`
	Amount            int64     `json:"amount"` // in centimes
	Reason            *string   `json:"reason,omitempty"`
}

// BudgetPoolListOptions controls pagination and filtering for pool listings.
type BudgetPoolListOptions struct {
	Limit      int
	Offset     int
	Status     PoolStatus
	Department string
	FiscalYear int
	Wilaya     string
	Search     string
}
