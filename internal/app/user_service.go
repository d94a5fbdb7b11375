/**
 * @description
 * User profile use cases. Citizens see and edit only their own profile;
 * staff can look anyone up, and only admins flip accounts on and off.
 */

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// GetUser returns a user profile. Citizens can only fetch themselves.
func (s *Service) GetUser(ctx context.Context, actor domain.Actor, userID uuid.UUID) (*domain.User, error) {
	if actor.ID != userID {
		if err := requireStaff(actor); err != nil {
			return nil, err
		}
	}
	return s.repo.FindUserByID(ctx, userID)
}

// UpdateUser edits profile fields. Citizens can only edit themselves;
// admins can edit anyone.
func (s *Service) UpdateUser(ctx context.Context, actor domain.Actor, userID uuid.UUID, req domain.UpdateUserRequest) (*domain.User, error) {
	if actor.ID != userID {
		if err := requireRole(actor, domain.RoleAdmin); err != nil {
			return nil, err
		}
	}

	fields := map[string]string{}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		fields["full_name"] = "cannot be empty"
	}
	if req.HouseholdSize != nil && *req.HouseholdSize < 1 {
		fields["household_size"] = "must be at least 1"
	}
	if req.MonthlyIncome != nil && *req.MonthlyIncome < 0 {
		fields["monthly_income"] = "cannot be negative"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	return s.repo.UpdateUserProfile(ctx, userID, req)
}

// SetUserActive enables or disables an account. Admin only, and admins
// cannot lock themselves out.
func (s *Service) SetUserActive(ctx context.Context, actor domain.Actor, userID uuid.UUID, active bool) error {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return err
	}
	if actor.ID == userID && !active {
		return fmt.Errorf("cannot deactivate your own account: %w", domain.ErrValidation)
	}
	if err := s.repo.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	s.logger.Info("user active flag changed", "user_id", userID, "active", active, "changed_by", actor.ID)
	return nil
}

// ListUsers returns a page of users. Staff only.
func (s *Service) ListUsers(ctx context.Context, actor domain.Actor, opts domain.UserListOptions) ([]domain.User, int64, error) {
	if err := requireStaff(actor); err != nil {
		return nil, 0, err
	}
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListUsers(ctx, opts)
}
