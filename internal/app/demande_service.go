/**
 * @description
 * Demande use cases: the citizen side (draft, submit, cancel, documents)
 * and the staff side (assign, review). Status legality is checked against
 * the domain transition graph before any write, and the repository's
 * guarded updates re-check it under the row lock, so a demande can never
 * skip a step even when two staff act at once.
 *
 * @notes
 * - Review decisions on a terminal demande (paid, rejected, cancelled,
 *   expired) fail with ErrInvalidState, never with a silent overwrite.
 * - Cancelling an approved demande returns every pending allocation to
 *   its pool; the repository does that in one transaction.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// CreateDemande opens a new draft for the calling citizen.
func (s *Service) CreateDemande(ctx context.Context, actor domain.Actor, req domain.CreateDemandeRequest) (*domain.Demande, error) {
	// 1. Validate input.
	fields := map[string]string{}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "is required"
	}
	if strings.TrimSpace(req.Description) == "" {
		fields["description"] = "is required"
	}
	if req.RequestedAmount <= 0 {
		fields["requested_amount"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	// 2. Build and persist the draft. The reference is derived from the id
	// so it is unique without a counter table.
	now := time.Now().UTC()
	demande := &domain.Demande{
		ID:              uuid.New(),
		ApplicantID:     actor.ID,
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		Program:         req.Program,
		Wilaya:          req.Wilaya,
		RequestedAmount: req.RequestedAmount,
		Status:          domain.DemandeStatusDraft,
	}
	demande.Reference = domain.NewDemandeReference(demande.ID, now)
	if err := s.repo.CreateDemande(ctx, demande); err != nil {
		return nil, err
	}
	s.logger.Info("demande created", "demande_id", demande.ID, "reference", demande.Reference, "applicant_id", actor.ID)
	return demande, nil
}

// GetDemande returns one demande. Citizens only see their own.
func (s *Service) GetDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID) (*domain.Demande, error) {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDemandeAccess(actor, demande); err != nil {
		return nil, err
	}
	return demande, nil
}

// UpdateDemande edits a draft or pending_docs demande. Owner only.
func (s *Service) UpdateDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID, req domain.UpdateDemandeRequest) (*domain.Demande, error) {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if demande.ApplicantID != actor.ID {
		if err := requireRole(actor, domain.RoleAdmin); err != nil {
			return nil, err
		}
	}
	if demande.Status != domain.DemandeStatusDraft && demande.Status != domain.DemandeStatusPendingDocs {
		return nil, fmt.Errorf("demande is %s, only drafts and pending_docs can be edited: %w", demande.Status, domain.ErrInvalidState)
	}

	fields := map[string]string{}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		fields["title"] = "cannot be empty"
	}
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		fields["description"] = "cannot be empty"
	}
	if req.RequestedAmount != nil && *req.RequestedAmount <= 0 {
		fields["requested_amount"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	return s.repo.UpdateDemandeFields(ctx, demandeID, req)
}

// DeleteDemande hard-deletes a demande that never left draft. Anything
// that entered the workflow is preserved for audit.
func (s *Service) DeleteDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID) error {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return err
	}
	if demande.ApplicantID != actor.ID {
		if err := requireRole(actor, domain.RoleAdmin); err != nil {
			return err
		}
	}
	if demande.Status != domain.DemandeStatusDraft {
		return fmt.Errorf("demande is %s, only drafts can be deleted: %w", demande.Status, domain.ErrInvalidState)
	}
	return s.repo.DeleteDraftDemande(ctx, demandeID)
}

// SubmitDemande moves a draft (or a pending_docs demande after the
// applicant added documents) into the review queue.
func (s *Service) SubmitDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID) (*domain.Demande, error) {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if demande.ApplicantID != actor.ID {
		return nil, fmt.Errorf("only the applicant can submit: %w", domain.ErrAuthorization)
	}
	if !demande.Status.CanTransitionTo(domain.DemandeStatusSubmitted) {
		return nil, fmt.Errorf("cannot submit a %s demande: %w", demande.Status, domain.ErrInvalidTransition)
	}

	events := []store.OutboxEvent{{
		RoutingKey: domain.RKDemandeSubmitted,
		Payload: domain.DemandeEvent{
			DemandeID:   demande.ID,
			Reference:   demande.Reference,
			ApplicantID: demande.ApplicantID,
			Status:      domain.DemandeStatusSubmitted,
			Amount:      &demande.RequestedAmount,
			OccurredAt:  time.Now().UTC(),
		},
	}}
	updated, err := s.repo.SubmitDemande(ctx, demandeID, demande.Status, events)
	if err != nil {
		return nil, err
	}
	s.logger.Info("demande submitted", "demande_id", updated.ID, "reference", updated.Reference)
	return updated, nil
}

// AssignDemande attaches a case worker. A first assignment moves the
// demande from submitted to under_review; reassignment keeps the status.
func (s *Service) AssignDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID, req domain.AssignDemandeRequest) (*domain.Demande, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return nil, err
	}
	if req.AssigneeID == uuid.Nil {
		return nil, domain.NewValidationError("assignee_id", "is required")
	}

	// 1. The assignee must be an active case worker (or admin covering).
	assignee, err := s.repo.FindUserByID(ctx, req.AssigneeID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, domain.NewValidationError("assignee_id", "unknown user")
		}
		return nil, err
	}
	if !assignee.Role.CanReviewDemandes() {
		return nil, domain.NewValidationError("assignee_id", "must be a case worker")
	}
	if !assignee.IsActive {
		return nil, domain.NewValidationError("assignee_id", "account is disabled")
	}

	// 2. Determine the target status.
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	var to domain.DemandeStatus
	switch demande.Status {
	case domain.DemandeStatusSubmitted:
		to = domain.DemandeStatusUnderReview
	case domain.DemandeStatusUnderReview, domain.DemandeStatusPendingDocs:
		to = demande.Status
	default:
		return nil, fmt.Errorf("cannot assign a %s demande: %w", demande.Status, domain.ErrInvalidState)
	}

	events := []store.OutboxEvent{{
		RoutingKey: domain.RKDemandeAssigned,
		Payload: domain.DemandeEvent{
			DemandeID:   demande.ID,
			Reference:   demande.Reference,
			ApplicantID: demande.ApplicantID,
			AssigneeID:  &req.AssigneeID,
			Status:      to,
			OccurredAt:  time.Now().UTC(),
		},
	}}
	updated, err := s.repo.AssignDemande(ctx, store.AssignDemandeParams{
		DemandeID:  demandeID,
		From:       demande.Status,
		To:         to,
		AssigneeID: req.AssigneeID,
	}, events)
	if err != nil {
		return nil, err
	}
	s.logger.Info("demande assigned", "demande_id", updated.ID, "assignee_id", req.AssigneeID, "assigned_by", actor.ID)
	return updated, nil
}

// ReviewDemande records a review decision: approve, reject or send back
// for more documents.
func (s *Service) ReviewDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID, req domain.ReviewDemandeRequest) (*domain.Demande, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return nil, err
	}

	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if !demande.Status.Reviewable() {
		return nil, fmt.Errorf("demande is %s, review requires a submitted demande: %w", demande.Status, domain.ErrInvalidState)
	}

	// Map the decision to its target status and validate its payload.
	var (
		to             domain.DemandeStatus
		approvedAmount *int64
		routingKey     string
	)
	switch req.Decision {
	case domain.ReviewDecisionApprove:
		to = domain.DemandeStatusApproved
		routingKey = domain.RKDemandeReviewed
		amount := demande.RequestedAmount
		if req.ApprovedAmount != nil {
			amount = *req.ApprovedAmount
		}
		if amount <= 0 {
			return nil, domain.NewValidationError("approved_amount", "must be positive")
		}
		if amount > demande.RequestedAmount {
			return nil, domain.NewValidationError("approved_amount", "cannot exceed the requested amount")
		}
		approvedAmount = &amount
	case domain.ReviewDecisionReject:
		to = domain.DemandeStatusRejected
		routingKey = domain.RKDemandeReviewed
		if req.Motif == nil || strings.TrimSpace(*req.Motif) == "" {
			return nil, domain.NewValidationError("motif", "a rejection motif is required")
		}
	case domain.ReviewDecisionRequestDocs:
		to = domain.DemandeStatusPendingDocs
		routingKey = domain.RKDemandeDocsRequested
		if req.Motif == nil || strings.TrimSpace(*req.Motif) == "" {
			return nil, domain.NewValidationError("motif", "list the documents you need")
		}
	default:
		return nil, domain.NewValidationError("decision", "must be approve, reject or request_docs")
	}
	if !demande.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("cannot move a %s demande to %s: %w", demande.Status, to, domain.ErrInvalidTransition)
	}

	decision := string(req.Decision)
	events := []store.OutboxEvent{{
		RoutingKey: routingKey,
		Payload: domain.DemandeEvent{
			DemandeID:   demande.ID,
			Reference:   demande.Reference,
			ApplicantID: demande.ApplicantID,
			Status:      to,
			Decision:    &decision,
			Motif:       req.Motif,
			Amount:      approvedAmount,
			OccurredAt:  time.Now().UTC(),
		},
	}}
	updated, err := s.repo.ReviewDemande(ctx, store.ReviewDemandeParams{
		DemandeID:      demandeID,
		From:           demande.Status,
		To:             to,
		ApprovedAmount: approvedAmount,
		Motif:          req.Motif,
		ReviewerID:     actor.ID,
	}, events)
	if err != nil {
		return nil, err
	}
	s.logger.Info("demande reviewed", "demande_id", updated.ID, "decision", req.Decision, "reviewer_id", actor.ID)
	return updated, nil
}

// CancelDemande cancels a demande. Citizens cancel their own; staff can
// cancel any non-terminal demande. Pending allocations return to their
// pools atomically.
func (s *Service) CancelDemande(ctx context.Context, actor domain.Actor, demandeID uuid.UUID, req domain.CancelDemandeRequest) (*domain.Demande, error) {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if demande.ApplicantID != actor.ID {
		if err := requireStaff(actor); err != nil {
			return nil, err
		}
	}
	if !demande.Status.CanTransitionTo(domain.DemandeStatusCancelled) {
		return nil, fmt.Errorf("cannot cancel a %s demande: %w", demande.Status, domain.ErrInvalidTransition)
	}

	events := []store.OutboxEvent{{
		RoutingKey: domain.RKDemandeCancelled,
		Payload: domain.DemandeEvent{
			DemandeID:   demande.ID,
			Reference:   demande.Reference,
			ApplicantID: demande.ApplicantID,
			Status:      domain.DemandeStatusCancelled,
			Motif:       req.Reason,
			OccurredAt:  time.Now().UTC(),
		},
	}}
	updated, err := s.repo.CancelDemandeAndReleaseFunds(ctx, demandeID, demande.Status, req.Reason, events)
	if err != nil {
		return nil, err
	}
	s.logger.Info("demande cancelled", "demande_id", updated.ID, "cancelled_by", actor.ID)
	return updated, nil
}

// ListDemandes returns a page of demandes. Citizens are always scoped to
// their own; staff can filter freely.
func (s *Service) ListDemandes(ctx context.Context, actor domain.Actor, opts domain.DemandeListOptions) ([]domain.Demande, int64, error) {
	if !actor.IsStaff() {
		opts.ApplicantID = actor.ID
	}
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListDemandes(ctx, opts)
}

// UploadDemandeDocument stores a supporting file and records its metadata.
// The file content is content-addressed, so re-uploading the same bytes
// costs nothing extra.
func (s *Service) UploadDemandeDocument(ctx context.Context, actor domain.Actor, demandeID uuid.UUID, fileName, mimeType string, content io.Reader) (*domain.DemandeDocument, error) {
	if s.files == nil {
		return nil, fmt.Errorf("document storage is not configured: %w", domain.ErrDependency)
	}
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if demande.ApplicantID != actor.ID {
		if err := requireStaff(actor); err != nil {
			return nil, err
		}
	}
	if demande.Status.IsTerminal() {
		return nil, fmt.Errorf("demande is %s, documents can no longer be added: %w", demande.Status, domain.ErrInvalidState)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, domain.NewValidationError("file_name", "is required")
	}

	digest, size, err := s.files.Save(content)
	if err != nil {
		return nil, fmt.Errorf("storing document: %w", err)
	}

	doc := &domain.DemandeDocument{
		ID:         uuid.New(),
		DemandeID:  demandeID,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		Digest:     digest,
		UploadedBy: actor.ID,
	}
	if err := s.repo.CreateDemandeDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("demande document stored", "demande_id", demandeID, "document_id", doc.ID, "size_bytes", size)
	return doc, nil
}

// OpenDemandeDocument returns a document's metadata and an open reader on
// its content. The caller must close the reader.
func (s *Service) OpenDemandeDocument(ctx context.Context, actor domain.Actor, demandeID, documentID uuid.UUID) (*domain.DemandeDocument, io.ReadCloser, error) {
	if s.files == nil {
		return nil, nil, fmt.Errorf("document storage is not configured: %w", domain.ErrDependency)
	}
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, nil, err
	}
	if demande.ApplicantID != actor.ID {
		if err := requireStaff(actor); err != nil {
			return nil, nil, err
		}
	}
	doc, err := s.repo.FindDemandeDocumentByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.DemandeID != demandeID {
		return nil, nil, store.ErrDocumentNotFound
	}
	reader, err := s.files.Open(doc.Digest)
	if err != nil {
		return nil, nil, fmt.Errorf("opening document content: %w", err)
	}
	return doc, reader, nil
}

// ListDemandeDocuments returns the documents attached to a demande.
func (s *Service) ListDemandeDocuments(ctx context.Context, actor domain.Actor, demandeID uuid.UUID) ([]domain.DemandeDocument, error) {
	demande, err := s.repo.FindDemandeByID(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDemandeAccess(actor, demande); err != nil {
		return nil, err
	}
	return s.repo.ListDemandeDocuments(ctx, demandeID)
}

// authorizeDemandeAccess allows the applicant and any staff member.
func (s *Service) authorizeDemandeAccess(actor domain.Actor, demande *domain.Demande) error {
	if demande.ApplicantID == actor.ID {
		return nil
	}
	return requireStaff(actor)
}
