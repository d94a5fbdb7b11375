/**
 * @description
 * Announcement use cases: drafting, publishing and archiving broadcast
 * messages. Publishing enqueues the fan-out event in the same transaction
 * as the status flip; the notifier expands it into one notification per
 * audience member when the event comes back through the queue.
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
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// CreateAnnouncement drafts a new announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, actor domain.Actor, req domain.CreateAnnouncementRequest) (*domain.Announcement, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "is required"
	}
	if strings.TrimSpace(req.Body) == "" {
		fields["body"] = "is required"
	}
	audience := req.Audience
	if audience == "" {
		audience = domain.AudienceAll
	}
	switch audience {
	case domain.AudienceAll:
	case domain.AudienceWilaya:
		if req.AudienceWilaya == nil || strings.TrimSpace(*req.AudienceWilaya) == "" {
			fields["audience_wilaya"] = "is required for a wilaya audience"
		}
	case domain.AudienceRole:
		if req.AudienceRole == nil || !req.AudienceRole.Valid() {
			fields["audience_role"] = "is required for a role audience"
		}
	default:
		fields["audience"] = "must be all, wilaya or role"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	announcement := &domain.Announcement{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(req.Title),
		Body:           req.Body,
		Audience:       audience,
		AudienceWilaya: req.AudienceWilaya,
		AudienceRole:   req.AudienceRole,
		Status:         domain.AnnouncementStatusDraft,
		CreatedBy:      actor.ID,
	}
	if err := s.repo.CreateAnnouncement(ctx, announcement); err != nil {
		return nil, err
	}
	s.logger.Info("announcement drafted", "announcement_id", announcement.ID, "audience", audience, "created_by", actor.ID)
	return announcement, nil
}

// GetAnnouncement returns one announcement. Published ones are public to
// any authenticated user; drafts only to staff.
func (s *Service) GetAnnouncement(ctx context.Context, actor domain.Actor, announcementID uuid.UUID) (*domain.Announcement, error) {
	announcement, err := s.repo.FindAnnouncementByID(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if announcement.Status != domain.AnnouncementStatusPublished {
		if err := requireStaff(actor); err != nil {
			return nil, store.ErrAnnouncementNotFound
		}
	}
	return announcement, nil
}

// UpdateAnnouncement edits a draft.
func (s *Service) UpdateAnnouncement(ctx context.Context, actor domain.Actor, announcementID uuid.UUID, req domain.UpdateAnnouncementRequest) (*domain.Announcement, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return nil, err
	}
	announcement, err := s.repo.UpdateAnnouncementFields(ctx, announcementID, req)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("only draft announcements can be edited: %w", domain.ErrInvalidState)
		}
		return nil, err
	}
	return announcement, nil
}

// PublishAnnouncement flips a draft to published and triggers the
// audience fan-out.
func (s *Service) PublishAnnouncement(ctx context.Context, actor domain.Actor, announcementID uuid.UUID) (*domain.Announcement, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return nil, err
	}

	announcement, err := s.repo.FindAnnouncementByID(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if announcement.Status != domain.AnnouncementStatusDraft {
		return nil, fmt.Errorf("announcement is %s, only drafts can be published: %w", announcement.Status, domain.ErrInvalidState)
	}

	events := []store.OutboxEvent{{
		RoutingKey: domain.RKAnnouncementPublished,
		Payload: domain.AnnouncementEvent{
			AnnouncementID: announcement.ID,
			Title:          announcement.Title,
			Audience:       announcement.Audience,
			AudienceWilaya: announcement.AudienceWilaya,
			AudienceRole:   announcement.AudienceRole,
			OccurredAt:     time.Now().UTC(),
		},
	}}
	published, err := s.repo.PublishAnnouncement(ctx, announcementID, events)
	if err != nil {
		return nil, err
	}
	s.logger.Info("announcement published", "announcement_id", announcementID, "audience", published.Audience, "published_by", actor.ID)
	return published, nil
}

// ListAnnouncements returns a page of announcements. Citizens only see
// published ones; staff can filter by status.
func (s *Service) ListAnnouncements(ctx context.Context, actor domain.Actor, opts domain.AnnouncementListOptions) ([]domain.Announcement, int64, error) {
	if !actor.IsStaff() {
		opts.Status = domain.AnnouncementStatusPublished
	}
	opts.Limit = clampLimit(opts.Limit)
	opts.Offset = clampOffset(opts.Offset)
	return s.repo.ListAnnouncements(ctx, opts)
}

// ArchiveAnnouncement soft-deletes an announcement.
func (s *Service) ArchiveAnnouncement(ctx context.Context, actor domain.Actor, announcementID uuid.UUID) error {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCaseWorker); err != nil {
		return err
	}
	if err := s.repo.SoftDeleteAnnouncement(ctx, announcementID); err != nil {
		return err
	}
	s.logger.Info("announcement archived", "announcement_id", announcementID, "archived_by", actor.ID)
	return nil
}
