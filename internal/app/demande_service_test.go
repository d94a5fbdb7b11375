package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

type demandeRepoStub struct {
	store.Repository

	demande *domain.Demande

	reviewCalled bool
	reviewParams store.ReviewDemandeParams
	reviewEvents []store.OutboxEvent

	submitCalled bool
	submitFrom   domain.DemandeStatus
}

func (s *demandeRepoStub) FindDemandeByID(ctx context.Context, demandeID uuid.UUID) (*domain.Demande, error) {
	if s.demande == nil || s.demande.ID != demandeID {
		return nil, store.ErrDemandeNotFound
	}
	d := *s.demande
	return &d, nil
}

func (s *demandeRepoStub) ReviewDemande(ctx context.Context, params store.ReviewDemandeParams, events []store.OutboxEvent) (*domain.Demande, error) {
	s.reviewCalled = true
	s.reviewParams = params
	s.reviewEvents = events

	updated := *s.demande
	updated.Status = params.To
	updated.ApprovedAmount = params.ApprovedAmount
	updated.Motif = params.Motif
	reviewer := params.ReviewerID
	updated.ReviewedBy = &reviewer
	return &updated, nil
}

func (s *demandeRepoStub) SubmitDemande(ctx context.Context, demandeID uuid.UUID, from domain.DemandeStatus, events []store.OutboxEvent) (*domain.Demande, error) {
	s.submitCalled = true
	s.submitFrom = from

	updated := *s.demande
	updated.Status = domain.DemandeStatusSubmitted
	return &updated, nil
}

func newReviewableDemande(status domain.DemandeStatus) *domain.Demande {
	return &domain.Demande{
		ID:              uuid.New(),
		Reference:       "DEM-2026-00000001",
		ApplicantID:     uuid.New(),
		Title:           "Medical assistance",
		RequestedAmount: 500000,
		Status:          status,
	}
}

func TestReviewDemandeRejectsTerminalStatuses(t *testing.T) {
	reviewer := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}

	for _, status := range []domain.DemandeStatus{
		domain.DemandeStatusPaid,
		domain.DemandeStatusRejected,
		domain.DemandeStatusCancelled,
		domain.DemandeStatusExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			repo := &demandeRepoStub{demande: newReviewableDemande(status)}
			svc := newTestService(repo)

			_, err := svc.ReviewDemande(context.Background(), reviewer, repo.demande.ID, domain.ReviewDemandeRequest{
				Decision: domain.ReviewDecisionApprove,
			})
			if !errors.Is(err, domain.ErrInvalidState) {
				t.Fatalf("expected invalid state error for %s, got %v", status, err)
			}
			if repo.reviewCalled {
				t.Fatal("expected no review to be persisted on a terminal demande")
			}
		})
	}
}

func TestReviewDemandeApproveDefaultsToRequestedAmount(t *testing.T) {
	reviewer := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusUnderReview)}
	svc := newTestService(repo)

	updated, err := svc.ReviewDemande(context.Background(), reviewer, repo.demande.ID, domain.ReviewDemandeRequest{
		Decision: domain.ReviewDecisionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval to succeed, got %v", err)
	}
	if !repo.reviewCalled {
		t.Fatal("expected the review to be persisted")
	}
	if repo.reviewParams.To != domain.DemandeStatusApproved {
		t.Fatalf("expected target status approved, got %s", repo.reviewParams.To)
	}
	if repo.reviewParams.ApprovedAmount == nil || *repo.reviewParams.ApprovedAmount != repo.demande.RequestedAmount {
		t.Fatalf("expected the approved amount to default to the requested %d", repo.demande.RequestedAmount)
	}
	if repo.reviewParams.ReviewerID != reviewer.ID {
		t.Fatal("expected the reviewer to be recorded")
	}
	if updated.Status != domain.DemandeStatusApproved {
		t.Fatalf("expected the returned demande to be approved, got %s", updated.Status)
	}
	if len(repo.reviewEvents) != 1 || repo.reviewEvents[0].RoutingKey != domain.RKDemandeReviewed {
		t.Fatalf("expected one %s event, got %+v", domain.RKDemandeReviewed, repo.reviewEvents)
	}
}

func TestReviewDemandeApproveCannotExceedRequestedAmount(t *testing.T) {
	reviewer := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusSubmitted)}
	svc := newTestService(repo)

	excessive := repo.demande.RequestedAmount + 1
	_, err := svc.ReviewDemande(context.Background(), reviewer, repo.demande.ID, domain.ReviewDemandeRequest{
		Decision:       domain.ReviewDecisionApprove,
		ApprovedAmount: &excessive,
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if repo.reviewCalled {
		t.Fatal("expected no review to be persisted")
	}
}

func TestReviewDemandeRejectRequiresMotif(t *testing.T) {
	reviewer := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	empty := "   "

	tests := []struct {
		name  string
		motif *string
	}{
		{name: "missing motif"},
		{name: "blank motif", motif: &empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusSubmitted)}
			svc := newTestService(repo)

			_, err := svc.ReviewDemande(context.Background(), reviewer, repo.demande.ID, domain.ReviewDemandeRequest{
				Decision: domain.ReviewDecisionReject,
				Motif:    tt.motif,
			})
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected a validation error, got %v", err)
			}
			if repo.reviewCalled {
				t.Fatal("expected no review to be persisted without a motif")
			}
		})
	}
}

func TestReviewDemandeRequestDocsMovesToPendingDocs(t *testing.T) {
	reviewer := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusUnderReview)}
	svc := newTestService(repo)

	motif := "Provide a residence certificate"
	updated, err := svc.ReviewDemande(context.Background(), reviewer, repo.demande.ID, domain.ReviewDemandeRequest{
		Decision: domain.ReviewDecisionRequestDocs,
		Motif:    &motif,
	})
	if err != nil {
		t.Fatalf("expected the docs request to succeed, got %v", err)
	}
	if updated.Status != domain.DemandeStatusPendingDocs {
		t.Fatalf("expected pending_docs, got %s", updated.Status)
	}
	if len(repo.reviewEvents) != 1 || repo.reviewEvents[0].RoutingKey != domain.RKDemandeDocsRequested {
		t.Fatalf("expected one %s event, got %+v", domain.RKDemandeDocsRequested, repo.reviewEvents)
	}
}

func TestReviewDemandeRequiresReviewRole(t *testing.T) {
	finance := domain.Actor{ID: uuid.New(), Role: domain.RoleFinanceManager}
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusSubmitted)}
	svc := newTestService(repo)

	_, err := svc.ReviewDemande(context.Background(), finance, repo.demande.ID, domain.ReviewDemandeRequest{
		Decision: domain.ReviewDecisionApprove,
	})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if repo.reviewCalled {
		t.Fatal("expected no review to be persisted")
	}
}

func TestSubmitDemandeOnlyByApplicant(t *testing.T) {
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusDraft)}
	svc := newTestService(repo)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	_, err := svc.SubmitDemande(context.Background(), stranger, repo.demande.ID)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if repo.submitCalled {
		t.Fatal("expected no submission to be persisted")
	}

	applicant := domain.Actor{ID: repo.demande.ApplicantID, Role: domain.RoleUser}
	updated, err := svc.SubmitDemande(context.Background(), applicant, repo.demande.ID)
	if err != nil {
		t.Fatalf("expected the applicant to submit, got %v", err)
	}
	if updated.Status != domain.DemandeStatusSubmitted {
		t.Fatalf("expected submitted, got %s", updated.Status)
	}
	if repo.submitFrom != domain.DemandeStatusDraft {
		t.Fatalf("expected the compare-and-swap source to be draft, got %s", repo.submitFrom)
	}
}

func TestSubmitDemandeRefusesResubmission(t *testing.T) {
	repo := &demandeRepoStub{demande: newReviewableDemande(domain.DemandeStatusSubmitted)}
	svc := newTestService(repo)

	applicant := domain.Actor{ID: repo.demande.ApplicantID, Role: domain.RoleUser}
	_, err := svc.SubmitDemande(context.Background(), applicant, repo.demande.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
	if repo.submitCalled {
		t.Fatal("expected no submission to be persisted")
	}
}
