/**
 * @description
 * This file defines the User domain model and the role taxonomy used for
 * authorization decisions across the workflow services.
 *
 * @notes
 * - Role capability checks live here so that every service enforces the same
 *   rules; HTTP handlers never inspect roles themselves.
 * - Password hashes never serialize to JSON.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies what a user is allowed to do in the workflow.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleCaseWorker     Role = "case_worker"
	RoleFinanceManager Role = "finance_manager"
	RoleUser           Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCaseWorker, RoleFinanceManager, RoleUser:
		return true
	}
	return false
}

// CanReviewDemandes reports whether the role may review, assign or
// request documents on submitted demandes.
func (r Role) CanReviewDemandes() bool {
	return r == RoleAdmin || r == RoleCaseWorker
}

// CanManageBudget reports whether the role may create pools, allocate
// funds and move money between pools.
func (r Role) CanManageBudget() bool {
	return r == RoleAdmin || r == RoleFinanceManager
}

// CanProcessPayments reports whether the role may process, retry or
// cancel payments.
func (r Role) CanProcessPayments() bool {
	return r == RoleAdmin || r == RoleFinanceManager
}

// CanManageUsers reports whether the role may create staff accounts and
// deactivate users.
func (r Role) CanManageUsers() bool {
	return r == RoleAdmin
}

// CanPublishAnnouncements reports whether the role may create and publish
// announcements.
func (r Role) CanPublishAnnouncements() bool {
	return r == RoleAdmin || r == RoleCaseWorker
}

// User represents an account in the system: either a citizen applying for
// assistance or a staff member operating the workflow.
// Maps to the `users` table.
type User struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	FullName      string     `json:"full_name" db:"full_name"`
	Phone         *string    `json:"phone,omitempty" db:"phone"`
	Role          Role       `json:"role" db:"role"`
	Wilaya        *string    `json:"wilaya,omitempty" db:"wilaya"`
	HouseholdSize *int       `json:"household_size,omitempty" db:"household_size"`
	MonthlyIncome *int64     `json:"monthly_income,omitempty" db:"monthly_income"` // in centimes
	IsActive      bool       `json:"is_active" db:"is_active"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Actor identifies the authenticated caller of a service operation.
// Services use it for every authorization and ownership decision.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsStaff reports whether the actor holds any back-office role.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleCaseWorker || a.Role == RoleFinanceManager
}

// RegisterUserRequest is the DTO for citizen self-registration.
type RegisterUserRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	FullName      string  `json:"full_name"`
	Phone         *string `json:"phone,omitempty"`
	Wilaya        *string `json:"wilaya,omitempty"`
	HouseholdSize *int    `json:"household_size,omitempty"`
	MonthlyIncome *int64  `json:"monthly_income,omitempty"` // in centimes
}

// CreateStaffRequest is the DTO for admin-created staff accounts.
type CreateStaffRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest is the DTO for credential authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the signed token and the authenticated profile.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// UpdateUserRequest is the DTO for profile updates. Nil fields are left
// untouched.
type UpdateUserRequest struct {
	FullName      *string `json:"full_name,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	Wilaya        *string `json:"wilaya,omitempty"`
	HouseholdSize *int    `json:"household_size,omitempty"`
	MonthlyIncome *int64  `json:"monthly_income,omitempty"` // in centimes
}

// UserListOptions controls pagination and filtering for user listings.
type UserListOptions struct {
	Limit  int
	Offset int
	Role   Role
	Wilaya string
	Search string
}
