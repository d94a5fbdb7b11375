package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// budgetRepoStub keeps pools, demandes and payments in memory and applies
// the same balance arithmetic and guards as the Postgres transactions, so
// the allocation lifecycle can be driven end to end without a database.
type budgetRepoStub struct {
	store.Repository

	pools    map[uuid.UUID]*domain.BudgetPool
	demandes map[uuid.UUID]*domain.Demande
	payments map[uuid.UUID]*domain.Payment

	allocateCalled bool
	allocateEvents []store.OutboxEvent
}

func newBudgetRepoStub() *budgetRepoStub {
	return &budgetRepoStub{
		pools:    make(map[uuid.UUID]*domain.BudgetPool),
		demandes: make(map[uuid.UUID]*domain.Demande),
		payments: make(map[uuid.UUID]*domain.Payment),
	}
}

func (s *budgetRepoStub) FindBudgetPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error) {
	pool, ok := s.pools[poolID]
	if !ok {
		return nil, store.ErrBudgetPoolNotFound
	}
	p := *pool
	return &p, nil
}

func (s *budgetRepoStub) FindDemandeByID(ctx context.Context, demandeID uuid.UUID) (*domain.Demande, error) {
	demande, ok := s.demandes[demandeID]
	if !ok {
		return nil, store.ErrDemandeNotFound
	}
	d := *demande
	return &d, nil
}

func (s *budgetRepoStub) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	p := *payment
	return &p, nil
}

func (s *budgetRepoStub) AllocateFunds(ctx context.Context, payment *domain.Payment, events []store.OutboxEvent) (*domain.BudgetPool, error) {
	s.allocateCalled = true
	s.allocateEvents = events

	pool, ok := s.pools[payment.PoolID]
	if !ok {
		return nil, store.ErrBudgetPoolNotFound
	}
	if pool.Status != domain.PoolStatusActive {
		return nil, fmt.Errorf("pool is %s: %w", pool.Status, domain.ErrPoolNotActive)
	}
	if pool.Remaining < payment.Amount {
		return nil, fmt.Errorf("pool has %d remaining, requested %d: %w", pool.Remaining, payment.Amount, store.ErrInsufficientFunds)
	}
	demande, ok := s.demandes[payment.DemandeID]
	if !ok {
		return nil, store.ErrDemandeNotFound
	}
	if demande.Status != domain.DemandeStatusApproved && demande.Status != domain.DemandeStatusPartiallyPaid {
		return nil, fmt.Errorf("demande is %s: %w", demande.Status, domain.ErrInvalidState)
	}
	if demande.ApprovedAmount != nil {
		var committed int64
		for _, p := range s.payments {
			if p.DemandeID != demande.ID {
				continue
			}
			switch p.Status {
			case domain.PaymentStatusPending, domain.PaymentStatusScheduled, domain.PaymentStatusProcessing, domain.PaymentStatusFailed:
				committed += p.Amount
			}
		}
		if demande.PaidAmount+committed+payment.Amount > *demande.ApprovedAmount {
			return nil, fmt.Errorf("allocation exceeds the approved amount: %w", domain.ErrValidation)
		}
	}

	pool.Remaining -= payment.Amount
	pool.Reserved += payment.Amount
	if pool.Remaining == 0 {
		pool.Status = domain.PoolStatusDepleted
	}
	stored := *payment
	s.payments[payment.ID] = &stored

	p := *pool
	return &p, nil
}

func (s *budgetRepoStub) ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, processorID *uuid.UUID, from []domain.PaymentStatus) (*domain.Payment, error) {
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	claimable := false
	for _, status := range from {
		if payment.Status == status {
			claimable = true
			break
		}
	}
	if !claimable {
		return nil, store.ErrStatusConflict
	}
	payment.Status = domain.PaymentStatusProcessing
	payment.ProcessedBy = processorID
	p := *payment
	return &p, nil
}

func (s *budgetRepoStub) CompletePaymentAndSettleDemande(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error) {
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, nil, store.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentStatusProcessing {
		return nil, nil, store.ErrStatusConflict
	}
	demande, ok := s.demandes[payment.DemandeID]
	if !ok {
		return nil, nil, store.ErrDemandeNotFound
	}

	now := time.Now().UTC()
	payment.Status = domain.PaymentStatusCompleted
	payment.CompletedAt = &now

	demande.PaidAmount += payment.Amount
	demande.Status = domain.DemandeStatusPartiallyPaid
	if demande.ApprovedAmount != nil && demande.PaidAmount >= *demande.ApprovedAmount {
		demande.Status = domain.DemandeStatusPaid
	}

	if pool, ok := s.pools[payment.PoolID]; ok {
		pool.Reserved -= payment.Amount
	}

	p := *payment
	d := *demande
	return &p, &d, nil
}

func (s *budgetRepoStub) TransferFunds(ctx context.Context, params store.TransferFundsParams, events []store.OutboxEvent) (*domain.BudgetPool, *domain.BudgetPool, error) {
	source, ok := s.pools[params.SourcePoolID]
	if !ok {
		return nil, nil, store.ErrBudgetPoolNotFound
	}
	destination, ok := s.pools[params.DestinationPoolID]
	if !ok {
		return nil, nil, store.ErrBudgetPoolNotFound
	}
	if source.Status != domain.PoolStatusActive {
		return nil, nil, fmt.Errorf("source pool is %s: %w", source.Status, domain.ErrPoolNotActive)
	}
	if destination.Status != domain.PoolStatusActive {
		return nil, nil, fmt.Errorf("destination pool is %s: %w", destination.Status, domain.ErrPoolNotActive)
	}
	if source.Remaining < params.Amount {
		return nil, nil, fmt.Errorf("source has %d remaining, requested %d: %w", source.Remaining, params.Amount, store.ErrInsufficientFunds)
	}

	source.TotalAmount -= params.Amount
	source.Remaining -= params.Amount
	destination.TotalAmount += params.Amount
	destination.Remaining += params.Amount

	src := *source
	dst := *destination
	return &src, &dst, nil
}

func activePool(total int64) *domain.BudgetPool {
	return &domain.BudgetPool{
		ID:          uuid.New(),
		Name:        "Housing aid",
		Department:  "social_services",
		FiscalYear:  2026,
		TotalAmount: total,
		Remaining:   total,
		Status:      domain.PoolStatusActive,
		CreatedBy:   uuid.New(),
	}
}

func approvedDemande(amount int64) *domain.Demande {
	approved := amount
	return &domain.Demande{
		ID:              uuid.New(),
		Reference:       "DEM-2026-0000000A",
		ApplicantID:     uuid.New(),
		Title:           "Rent support",
		RequestedAmount: amount,
		ApprovedAmount:  &approved,
		Status:          domain.DemandeStatusApproved,
	}
}

func TestAllocateFundsRequiresBudgetRole(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(10000)
	demande := approvedDemande(4000)
	repo.pools[pool.ID] = pool
	repo.demandes[demande.ID] = demande
	svc := newTestService(repo)

	caseWorker := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	_, _, err := svc.AllocateFunds(context.Background(), caseWorker, pool.ID, domain.AllocateFundsRequest{
		DemandeID: demande.ID,
		Amount:    4000,
	})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if repo.allocateCalled {
		t.Fatal("expected no allocation to be attempted")
	}
}

func TestAllocateFundsHonorsPerDemandeCap(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(10000)
	perDemande := int64(2000)
	pool.MaxPerDemande = &perDemande
	demande := approvedDemande(4000)
	repo.pools[pool.ID] = pool
	repo.demandes[demande.ID] = demande
	svc := newTestService(repo)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.AllocateFunds(context.Background(), finance, pool.ID, domain.AllocateFundsRequest{
		DemandeID: demande.ID,
		Amount:    4000,
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if repo.allocateCalled {
		t.Fatal("expected the cap to stop the allocation before the transaction")
	}
	if pool.Remaining != 10000 || pool.Reserved != 0 {
		t.Fatalf("expected the pool to be untouched, got remaining=%d reserved=%d", pool.Remaining, pool.Reserved)
	}
}

func TestAllocateFundsRefusesUnapprovedDemande(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(10000)
	demande := approvedDemande(4000)
	demande.Status = domain.DemandeStatusSubmitted
	demande.ApprovedAmount = nil
	repo.pools[pool.ID] = pool
	repo.demandes[demande.ID] = demande
	svc := newTestService(repo)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.AllocateFunds(context.Background(), finance, pool.ID, domain.AllocateFundsRequest{
		DemandeID: demande.ID,
		Amount:    4000,
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if len(repo.payments) != 0 {
		t.Fatal("expected no payment to be created")
	}
}

func TestAllocationLifecycleSettlesDemandeAndPool(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(10000)
	first := approvedDemande(4000)
	repo.pools[pool.ID] = pool
	repo.demandes[first.ID] = first
	svc := newTestServiceWithGateway(repo, &stubGateway{})

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}

	// Allocation reserves the funds and opens a pending payment.
	payment, updatedPool, err := svc.AllocateFunds(context.Background(), finance, pool.ID, domain.AllocateFundsRequest{
		DemandeID: first.ID,
		Amount:    4000,
	})
	if err != nil {
		t.Fatalf("expected the allocation to succeed, got %v", err)
	}
	if payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected a pending payment, got %s", payment.Status)
	}
	if payment.Amount != 4000 {
		t.Fatalf("expected a 4000 payment, got %d", payment.Amount)
	}
	if updatedPool.Remaining != 6000 || updatedPool.Reserved != 4000 {
		t.Fatalf("expected remaining=6000 reserved=4000, got remaining=%d reserved=%d", updatedPool.Remaining, updatedPool.Reserved)
	}
	if payment.Destination.Kind != domain.PartyKindUser || payment.Destination.ID != first.ApplicantID {
		t.Fatal("expected the payment to target the applicant")
	}
	if len(repo.allocateEvents) != 1 || repo.allocateEvents[0].RoutingKey != domain.RKPaymentCreated {
		t.Fatalf("expected one %s event, got %+v", domain.RKPaymentCreated, repo.allocateEvents)
	}

	// Processing disburses and settles payment, demande and reservation.
	processed, settled, err := svc.ProcessPayment(context.Background(), finance, payment.ID)
	if err != nil {
		t.Fatalf("expected processing to succeed, got %v", err)
	}
	if processed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected a completed payment, got %s", processed.Status)
	}
	if settled.Status != domain.DemandeStatusPaid {
		t.Fatalf("expected the demande to be paid in full, got %s", settled.Status)
	}
	if settled.PaidAmount != 4000 {
		t.Fatalf("expected paid_amount=4000, got %d", settled.PaidAmount)
	}
	if pool.Remaining != 6000 || pool.Reserved != 0 {
		t.Fatalf("expected remaining=6000 reserved=0 after settlement, got remaining=%d reserved=%d", pool.Remaining, pool.Reserved)
	}

	// A second allocation beyond the remaining balance must fail cleanly.
	second := approvedDemande(7000)
	repo.demandes[second.ID] = second

	_, _, err = svc.AllocateFunds(context.Background(), finance, pool.ID, domain.AllocateFundsRequest{
		DemandeID: second.ID,
		Amount:    7000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if pool.Remaining != 6000 || pool.Reserved != 0 {
		t.Fatalf("expected the failed allocation to leave balances alone, got remaining=%d reserved=%d", pool.Remaining, pool.Reserved)
	}
	if len(repo.payments) != 1 {
		t.Fatalf("expected exactly one payment, got %d", len(repo.payments))
	}
}

func TestAllocateFundsDepletesPoolAtZero(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(4000)
	demande := approvedDemande(4000)
	repo.pools[pool.ID] = pool
	repo.demandes[demande.ID] = demande
	svc := newTestService(repo)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, updatedPool, err := svc.AllocateFunds(context.Background(), finance, pool.ID, domain.AllocateFundsRequest{
		DemandeID: demande.ID,
		Amount:    4000,
	})
	if err != nil {
		t.Fatalf("expected the allocation to succeed, got %v", err)
	}
	if updatedPool.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", updatedPool.Remaining)
	}
	if updatedPool.Status != domain.PoolStatusDepleted {
		t.Fatalf("expected the pool to be depleted, got %s", updatedPool.Status)
	}
}

func TestTransferFundsRoundTripRestoresBalances(t *testing.T) {
	repo := newBudgetRepoStub()
	source := activePool(10000)
	source.Remaining = 8000
	source.Reserved = 1000
	destination := activePool(5000)
	destination.Remaining = 2500
	destination.Reserved = 500
	repo.pools[source.ID] = source
	repo.pools[destination.ID] = destination
	svc := newTestService(repo)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	src, dst, err := svc.TransferFunds(context.Background(), admin, source.ID, domain.TransferFundsRequest{
		DestinationPoolID: destination.ID,
		Amount:            3000,
	})
	if err != nil {
		t.Fatalf("expected the transfer to succeed, got %v", err)
	}
	if src.TotalAmount != 7000 || src.Remaining != 5000 {
		t.Fatalf("expected source total=7000 remaining=5000, got total=%d remaining=%d", src.TotalAmount, src.Remaining)
	}
	if dst.TotalAmount != 8000 || dst.Remaining != 5500 {
		t.Fatalf("expected destination total=8000 remaining=5500, got total=%d remaining=%d", dst.TotalAmount, dst.Remaining)
	}

	// Transferring the same amount back restores both pools exactly.
	src, dst, err = svc.TransferFunds(context.Background(), admin, destination.ID, domain.TransferFundsRequest{
		DestinationPoolID: source.ID,
		Amount:            3000,
	})
	if err != nil {
		t.Fatalf("expected the return transfer to succeed, got %v", err)
	}
	if dst.TotalAmount != 10000 || dst.Remaining != 8000 || dst.Reserved != 1000 {
		t.Fatalf("expected the source pool to be restored, got total=%d remaining=%d reserved=%d", dst.TotalAmount, dst.Remaining, dst.Reserved)
	}
	if src.TotalAmount != 5000 || src.Remaining != 2500 || src.Reserved != 500 {
		t.Fatalf("expected the destination pool to be restored, got total=%d remaining=%d reserved=%d", src.TotalAmount, src.Remaining, src.Reserved)
	}
}

func TestTransferFundsRejectsSelfTransfer(t *testing.T) {
	repo := newBudgetRepoStub()
	pool := activePool(10000)
	repo.pools[pool.ID] = pool
	svc := newTestService(repo)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	_, _, err := svc.TransferFunds(context.Background(), admin, pool.ID, domain.TransferFundsRequest{
		DestinationPoolID: pool.ID,
		Amount:            1000,
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestTransferFundsInsufficientSourceLeavesBalances(t *testing.T) {
	repo := newBudgetRepoStub()
	source := activePool(5000)
	source.Remaining = 2000
	destination := activePool(5000)
	repo.pools[source.ID] = source
	repo.pools[destination.ID] = destination
	svc := newTestService(repo)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	_, _, err := svc.TransferFunds(context.Background(), admin, source.ID, domain.TransferFundsRequest{
		DestinationPoolID: destination.ID,
		Amount:            3000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if source.Remaining != 2000 || source.TotalAmount != 5000 {
		t.Fatalf("expected the source to be untouched, got total=%d remaining=%d", source.TotalAmount, source.Remaining)
	}
	if destination.Remaining != 5000 || destination.TotalAmount != 5000 {
		t.Fatalf("expected the destination to be untouched, got total=%d remaining=%d", destination.TotalAmount, destination.Remaining)
	}
}
