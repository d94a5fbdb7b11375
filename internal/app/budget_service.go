/**
 * @description
 * Budget pool use cases: pool lifecycle (draft, activate, freeze, expire),
 * the allocation of funds to approved demandes and transfers between
 * pools. Allocation is the operation the whole workflow hinges on: it
 * creates the pending payment, debits the pool's remaining balance and
 * reserves the amount, all in one repository transaction.
 *
 * @notes
 * - Only admin and finance_manager roles touch money.
 * - Pool analytics are served from the Redis cache when warm; every
 *   balance mutation invalidates the affected pools.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/metrics"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// CreateBudgetPool opens a new pool in draft.
func (s *Service) CreateBudgetPool(ctx context.Context, actor domain.Actor, req domain.CreateBudgetPoolRequest) (*domain.BudgetPool, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "is required"
	}
	if strings.TrimSpace(req.Department) == "" {
		fields["department"] = "is required"
	}
	if req.FiscalYear < 2000 || req.FiscalYear > 2100 {
		fields["fiscal_year"] = "is out of range"
	}
	if req.TotalAmount <= 0 {
		fields["total_amount"] = "must be positive"
	}
	if req.MaxPerDemande != nil && (*req.MaxPerDemande <= 0 || *req.MaxPerDemande > req.TotalAmount) {
		fields["max_per_demande"] = "must be positive and not exceed the total"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	pool := &domain.BudgetPool{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Department:    strings.TrimSpace(req.Department),
		FiscalYear:    req.FiscalYear,
		Wilaya:        req.Wilaya,
		TotalAmount:   req.TotalAmount,
		MaxPerDemande: req.MaxPerDemande,
		Status:        domain.PoolStatusDraft,
		CreatedBy:     actor.ID,
	}
	if err := s.repo.CreateBudgetPool(ctx, pool); err != nil {
		if errors.Is(err, store.ErrDuplicatePool) {
			return nil, domain.NewValidationError("name", "a pool with this name already exists for this department and fiscal year")
		}
		return nil, err
	}
	s.logger.Info("budget pool created", "pool_id", pool.ID, "total_amount", pool.TotalAmount, "created_by", actor.ID)
	return pool, nil
}

// GetBudgetPool returns one pool. Staff only.
func (s *Service) GetBudgetPool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.BudgetPool, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.repo.FindBudgetPoolByID(ctx, poolID)
}

// UpdateBudgetPool edits a pool that is still in draft.
func (s *Service) UpdateBudgetPool(ctx context.Context, actor domain.Actor, poolID uuid.UUID, req domain.UpdateBudgetPoolRequest) (*domain.BudgetPool, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		fields["name"] = "cannot be empty"
	}
	if req.TotalAmount != nil && *req.TotalAmount <= 0 {
		fields["total_amount"] = "must be positive"
	}
	if req.MaxPerDemande != nil && *req.MaxPerDemande <= 0 {
		fields["max_per_demande"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	pool, err := s.repo.UpdateBudgetPoolFields(ctx, poolID, req)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("only draft pools can be edited: %w", domain.ErrInvalidState)
		}
		return nil, err
	}
	return pool, nil
}

// ActivatePool opens a draft pool for allocations.
func (s *Service) ActivatePool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.transitionPool(ctx, actor, poolID, domain.PoolStatusActive, domain.PoolStatusDraft)
}

// FreezePool suspends allocations from an active pool.
func (s *Service) FreezePool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.transitionPool(ctx, actor, poolID, domain.PoolStatusFrozen, domain.PoolStatusActive)
}

// UnfreezePool reopens a frozen pool.
func (s *Service) UnfreezePool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.transitionPool(ctx, actor, poolID, domain.PoolStatusActive, domain.PoolStatusFrozen)
}

// ExpirePool closes a pool permanently.
func (s *Service) ExpirePool(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.transitionPool(ctx, actor, poolID, domain.PoolStatusExpired)
}

// transitionPool performs a guarded status move. With no explicit allowed
// starting statuses, any status that the graph permits is accepted.
func (s *Service) transitionPool(ctx context.Context, actor domain.Actor, poolID uuid.UUID, to domain.PoolStatus, allowedFrom ...domain.PoolStatus) (*domain.BudgetPool, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, err
	}

	pool, err := s.repo.FindBudgetPoolByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if len(allowedFrom) > 0 {
		permitted := false
		for _, from := range allowedFrom {
			if pool.Status == from {
				permitted = true
				break
			}
		}
		if !permitted {
			return nil, fmt.Errorf("pool is %s, expected %v: %w", pool.Status, allowedFrom, domain.ErrInvalidState)
		}
	}
	if !pool.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("cannot move a %s pool to %s: %w", pool.Status, to, domain.ErrInvalidTransition)
	}

	updated, err := s.repo.UpdateBudgetPoolStatus(ctx, poolID, pool.Status, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("budget pool status changed", "pool_id", poolID, "from", pool.Status, "to", to, "changed_by", actor.ID)
	return updated, nil
}

// AllocateFunds commits pool money to an approved demande, creating the
// pending payment in the same transaction. Returns the payment and the
// pool's post-allocation state.
func (s *Service) AllocateFunds(ctx context.Context, actor domain.Actor, poolID uuid.UUID, req domain.AllocateFundsRequest) (*domain.Payment, *domain.BudgetPool, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, nil, err
	}

	// 1. Validate the request shape.
	fields := map[string]string{}
	if req.DemandeID == uuid.Nil {
		fields["demande_id"] = "is required"
	}
	if req.Amount <= 0 {
		fields["amount"] = "must be positive"
	}
	method := req.Method
	if method == "" {
		method = domain.PaymentMethodBankTransfer
	}
	if !method.Valid() {
		fields["method"] = "must be bank_transfer, check, cash or card"
	}
	if len(fields) > 0 {
		return nil, nil, &domain.ValidationError{Fields: fields}
	}

	// 2. Pre-check the pool cap and the demande status for clear errors.
	// The repository re-checks balances and statuses under row locks.
	pool, err := s.repo.FindBudgetPoolByID(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	if pool.MaxPerDemande != nil && req.Amount > *pool.MaxPerDemande {
		return nil, nil, domain.NewValidationError("amount", fmt.Sprintf("exceeds this pool's per-demande cap of %d", *pool.MaxPerDemande))
	}
	demande, err := s.repo.FindDemandeByID(ctx, req.DemandeID)
	if err != nil {
		return nil, nil, err
	}
	if demande.Status != domain.DemandeStatusApproved && demande.Status != domain.DemandeStatusPartiallyPaid {
		return nil, nil, fmt.Errorf("demande is %s, allocation requires an approved demande: %w", demande.Status, domain.ErrInvalidState)
	}

	// 3. Build the payment: money flows from the pool to the applicant.
	payment := &domain.Payment{
		ID:          uuid.New(),
		DemandeID:   demande.ID,
		PoolID:      poolID,
		Amount:      req.Amount,
		Method:      method,
		Source:      domain.PartyRef{Kind: domain.PartyKindBudgetPool, ID: poolID},
		Destination: domain.PartyRef{Kind: domain.PartyKindUser, ID: demande.ApplicantID},
		Status:      domain.PaymentStatusPending,
		MaxRetries:  domain.DefaultMaxRetries,
	}
	events := []store.OutboxEvent{{
		RoutingKey: domain.RKPaymentCreated,
		Payload: domain.PaymentEvent{
			PaymentID:   payment.ID,
			DemandeID:   demande.ID,
			PoolID:      poolID,
			RecipientID: demande.ApplicantID,
			Amount:      payment.Amount,
			Status:      domain.PaymentStatusPending,
			OccurredAt:  time.Now().UTC(),
		},
	}}

	// 4. Run the allocation transaction.
	updatedPool, err := s.repo.AllocateFunds(ctx, payment, events)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordPaymentOutcome("created")
	if err := s.analytics.Invalidate(ctx, poolID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "pool_id", poolID, "error", err)
	}
	s.logger.Info("funds allocated",
		"pool_id", poolID, "demande_id", demande.ID, "payment_id", payment.ID,
		"amount", req.Amount, "remaining", updatedPool.Remaining, "allocated_by", actor.ID)
	return payment, updatedPool, nil
}

// TransferFunds moves budget between two active pools.
func (s *Service) TransferFunds(ctx context.Context, actor domain.Actor, sourcePoolID uuid.UUID, req domain.TransferFundsRequest) (*domain.BudgetPool, *domain.BudgetPool, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleFinanceManager); err != nil {
		return nil, nil, err
	}

	fields := map[string]string{}
	if req.DestinationPoolID == uuid.Nil {
		fields["destination_pool_id"] = "is required"
	}
	if req.DestinationPoolID == sourcePoolID {
		fields["destination_pool_id"] = "cannot equal the source pool"
	}
	if req.Amount <= 0 {
		fields["amount"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, nil, &domain.ValidationError{Fields: fields}
	}

	source, destination, err := s.repo.TransferFunds(ctx, store.TransferFundsParams{
		SourcePoolID:      sourcePoolID,
		DestinationPoolID: req.DestinationPoolID,
		Amount:            req.Amount,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := s.analytics.Invalidate(ctx, sourcePoolID, req.DestinationPoolID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "pool_id", sourcePoolID, "error", err)
	}
	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	s.logger.Info("funds transferred",
		"source_pool_id", sourcePoolID, "destination_pool_id", req.DestinationPoolID,
		"amount", req.Amount, "reason", reason, "transferred_by", actor.ID)
	return source, destination, nil
}

// ListBudgetPools returns a page of pools. Staff only.
func (s *Service) ListBudgetPools(ctx context.Context, actor domain.Actor, opts domain.BudgetPoolListOptions) ([]domain.BudgetPool, int64, error) {
	if err := requireStaff(actor); err != nil {
		return nil, 0, err
	}
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListBudgetPools(ctx, opts)
}

// GetPoolAnalytics returns payment aggregates for a pool, served from the
// Redis cache when warm.
func (s *Service) GetPoolAnalytics(ctx context.Context, actor domain.Actor, poolID uuid.UUID) (*domain.PoolAnalytics, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if cached, ok := s.analytics.Get(ctx, poolID); ok {
		return cached, nil
	}
	analytics, err := s.repo.ComputePoolAnalytics(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if err := s.analytics.Set(ctx, poolID, analytics); err != nil {
		s.logger.Warn("analytics cache write failed", "pool_id", poolID, "error", err)
	}
	return analytics, nil
}
