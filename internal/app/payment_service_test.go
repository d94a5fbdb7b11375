package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

type stubGateway struct {
	err   error
	calls int
}

func (g *stubGateway) Disburse(ctx context.Context, payment *domain.Payment) error {
	g.calls++
	return g.err
}

type paymentRepoStub struct {
	store.Repository

	payment *domain.Payment
	demande *domain.Demande

	claimCalled bool
	claimFrom   []domain.PaymentStatus

	failCalled bool
	failReason string

	completeCalled bool
}

func (s *paymentRepoStub) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	if s.payment == nil || s.payment.ID != paymentID {
		return nil, store.ErrPaymentNotFound
	}
	p := *s.payment
	return &p, nil
}

func (s *paymentRepoStub) ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, processorID *uuid.UUID, from []domain.PaymentStatus) (*domain.Payment, error) {
	s.claimCalled = true
	s.claimFrom = from

	if s.payment == nil || s.payment.ID != paymentID {
		return nil, store.ErrPaymentNotFound
	}
	claimable := false
	for _, status := range from {
		if s.payment.Status == status {
			claimable = true
			break
		}
	}
	if !claimable {
		return nil, store.ErrStatusConflict
	}
	s.payment.Status = domain.PaymentStatusProcessing
	s.payment.ProcessedBy = processorID
	p := *s.payment
	return &p, nil
}

func (s *paymentRepoStub) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	s.failCalled = true
	s.failReason = reason

	if s.payment == nil || s.payment.ID != paymentID {
		return nil, store.ErrPaymentNotFound
	}
	if s.payment.Status != domain.PaymentStatusProcessing {
		return nil, store.ErrStatusConflict
	}
	s.payment.Status = domain.PaymentStatusFailed
	s.payment.RetryCount++
	s.payment.FailureReason = &reason
	s.payment.RetryAfter = nil
	if s.payment.RetryCount < s.payment.MaxRetries {
		at := time.Now().UTC().Add(domain.RetryBackoff(s.payment.RetryCount))
		s.payment.RetryAfter = &at
	}
	p := *s.payment
	return &p, nil
}

func (s *paymentRepoStub) CompletePaymentAndSettleDemande(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, *domain.Demande, error) {
	s.completeCalled = true

	if s.payment == nil || s.payment.ID != paymentID {
		return nil, nil, store.ErrPaymentNotFound
	}
	if s.payment.Status != domain.PaymentStatusProcessing {
		return nil, nil, store.ErrStatusConflict
	}
	now := time.Now().UTC()
	s.payment.Status = domain.PaymentStatusCompleted
	s.payment.CompletedAt = &now

	s.demande.PaidAmount += s.payment.Amount
	s.demande.Status = domain.DemandeStatusPartiallyPaid
	if s.demande.ApprovedAmount != nil && s.demande.PaidAmount >= *s.demande.ApprovedAmount {
		s.demande.Status = domain.DemandeStatusPaid
	}

	p := *s.payment
	d := *s.demande
	return &p, &d, nil
}

func newPaymentFixture(status domain.PaymentStatus) (*domain.Payment, *domain.Demande) {
	approved := int64(4000)
	demande := &domain.Demande{
		ID:              uuid.New(),
		Reference:       "DEM-2026-0000000B",
		ApplicantID:     uuid.New(),
		RequestedAmount: 4000,
		ApprovedAmount:  &approved,
		Status:          domain.DemandeStatusApproved,
	}
	payment := &domain.Payment{
		ID:          uuid.New(),
		DemandeID:   demande.ID,
		PoolID:      uuid.New(),
		Amount:      4000,
		Method:      domain.PaymentMethodBankTransfer,
		Source:      domain.PartyRef{Kind: domain.PartyKindBudgetPool},
		Destination: domain.PartyRef{Kind: domain.PartyKindUser, ID: demande.ApplicantID},
		Status:      status,
		MaxRetries:  domain.DefaultMaxRetries,
	}
	return payment, demande
}

func TestProcessPaymentCompletesThroughGateway(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusPending)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	gateway := &stubGateway{}
	svc := newTestServiceWithGateway(repo, gateway)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	completed, settled, err := svc.ProcessPayment(context.Background(), finance, payment.ID)
	if err != nil {
		t.Fatalf("expected processing to succeed, got %v", err)
	}
	if gateway.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", gateway.calls)
	}
	if completed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected a completed payment, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Fatal("expected a completion timestamp")
	}
	if settled.Status != domain.DemandeStatusPaid {
		t.Fatalf("expected the demande to settle as paid, got %s", settled.Status)
	}
	if !repo.completeCalled {
		t.Fatal("expected the settlement transaction to run")
	}
	if repo.failCalled {
		t.Fatal("did not expect a failure to be recorded")
	}
}

func TestProcessPaymentRecordsGatewayFailure(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusPending)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	gateway := &stubGateway{err: errors.New("rail unavailable")}
	svc := newTestServiceWithGateway(repo, gateway)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	before := time.Now().UTC()
	failed, _, err := svc.ProcessPayment(context.Background(), finance, payment.ID)
	if !errors.Is(err, domain.ErrDependency) {
		t.Fatalf("expected a dependency error, got %v", err)
	}
	if !repo.failCalled {
		t.Fatal("expected the failure to be recorded")
	}
	if repo.failReason != "rail unavailable" {
		t.Fatalf("expected the gateway reason to be stored, got %q", repo.failReason)
	}
	if failed == nil || failed.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected the failed payment back, got %+v", failed)
	}
	if failed.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", failed.RetryCount)
	}
	if failed.RetryAfter == nil {
		t.Fatal("expected a backoff window to be armed")
	}
	window := failed.RetryAfter.Sub(before)
	if window < time.Minute || window > 3*time.Minute {
		t.Fatalf("expected a window around two minutes, got %s", window)
	}
	if repo.completeCalled {
		t.Fatal("did not expect the settlement transaction to run")
	}
	if demande.PaidAmount != 0 {
		t.Fatalf("expected the demande to remain unpaid, got %d", demande.PaidAmount)
	}
}

func TestProcessPaymentWithoutGatewayRecordsFailure(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusPending)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestService(repo)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.ProcessPayment(context.Background(), finance, payment.ID)
	if !errors.Is(err, domain.ErrDependency) {
		t.Fatalf("expected a dependency error, got %v", err)
	}
	if !repo.failCalled {
		t.Fatal("expected the failure to be recorded")
	}
}

func TestProcessPaymentRequiresFinanceRole(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusPending)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestServiceWithGateway(repo, &stubGateway{})

	caseWorker := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	_, _, err := svc.ProcessPayment(context.Background(), caseWorker, payment.ID)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if repo.claimCalled {
		t.Fatal("expected no claim to be attempted")
	}
}

func TestRetryPaymentEnforcesBackoffWindow(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusFailed)
	payment.RetryCount = 1
	future := time.Now().UTC().Add(time.Minute)
	payment.RetryAfter = &future
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestServiceWithGateway(repo, &stubGateway{})

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.RetryPayment(context.Background(), finance, payment.ID)
	if !errors.Is(err, domain.ErrRetryNotDue) {
		t.Fatalf("expected retry-not-due, got %v", err)
	}
	if repo.claimCalled {
		t.Fatal("expected no claim while the window is open")
	}
}

func TestRetryPaymentStopsAtRetryLimit(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusFailed)
	payment.RetryCount = payment.MaxRetries
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestServiceWithGateway(repo, &stubGateway{})

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.RetryPayment(context.Background(), finance, payment.ID)
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("expected retries-exhausted, got %v", err)
	}
	if repo.claimCalled {
		t.Fatal("expected no claim once attempts are used up")
	}
}

func TestRetryPaymentReprocessesWhenDue(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusFailed)
	payment.RetryCount = 1
	past := time.Now().UTC().Add(-time.Minute)
	payment.RetryAfter = &past
	repo := &paymentRepoStub{payment: payment, demande: demande}
	gateway := &stubGateway{}
	svc := newTestServiceWithGateway(repo, gateway)

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	completed, settled, err := svc.RetryPayment(context.Background(), finance, payment.ID)
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if len(repo.claimFrom) != 1 || repo.claimFrom[0] != domain.PaymentStatusFailed {
		t.Fatalf("expected the claim to target failed payments only, got %v", repo.claimFrom)
	}
	if completed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected a completed payment, got %s", completed.Status)
	}
	if settled.Status != domain.DemandeStatusPaid {
		t.Fatalf("expected the demande to settle, got %s", settled.Status)
	}
}

func TestRetryPaymentRejectsNonFailedPayment(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusCompleted)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestServiceWithGateway(repo, &stubGateway{})

	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	_, _, err := svc.RetryPayment(context.Background(), finance, payment.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if repo.claimCalled {
		t.Fatal("expected no claim on a completed payment")
	}
}

func TestGetPaymentHidesOtherCitizensPayments(t *testing.T) {
	payment, demande := newPaymentFixture(domain.PaymentStatusPending)
	repo := &paymentRepoStub{payment: payment, demande: demande}
	svc := newTestService(repo)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	_, err := svc.GetPayment(context.Background(), stranger, payment.ID)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	recipient := domain.Actor{ID: payment.Destination.ID, Role: domain.RoleUser}
	got, err := svc.GetPayment(context.Background(), recipient, payment.ID)
	if err != nil {
		t.Fatalf("expected the recipient to read their payment, got %v", err)
	}
	if got.ID != payment.ID {
		t.Fatalf("expected payment %s, got %s", payment.ID, got.ID)
	}
}
