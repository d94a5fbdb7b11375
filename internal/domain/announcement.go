/**
 * @description
 * This file defines the Announcement domain model: staff-authored notices
 * that fan out as notifications to a chosen audience when published.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audience selects who receives a published announcement.
type Audience string

const (
	AudienceAll    Audience = "all"
	AudienceWilaya Audience = "wilaya"
	AudienceRole   Audience = "role"
)

// Valid reports whether the audience is a known value.
func (a Audience) Valid() bool {
	return a == AudienceAll || a == AudienceWilaya || a == AudienceRole
}

// AnnouncementStatus is the publication state of an announcement.
type AnnouncementStatus string

const (
	AnnouncementStatusDraft     AnnouncementStatus = "draft"
	AnnouncementStatusPublished AnnouncementStatus = "published"
	AnnouncementStatusArchived  AnnouncementStatus = "archived"
)

// Announcement represents a staff notice.
// Maps to the `announcements` table; rows are soft-deleted.
type Announcement struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	Title          string             `json:"title" db:"title"`
	Body           string             `json:"body" db:"body"`
	Audience       Audience           `json:"audience" db:"audience"`
	AudienceWilaya *string            `json:"audience_wilaya,omitempty" db:"audience_wilaya"`
	AudienceRole   *Role              `json:"audience_role,omitempty" db:"audience_role"`
	Status         AnnouncementStatus `json:"status" db:"status"`
	PublishedAt    *time.Time         `json:"published_at,omitempty" db:"published_at"`
	CreatedBy      uuid.UUID          `json:"created_by" db:"created_by"`
	DeletedAt      *time.Time         `json:"-" db:"deleted_at"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// CreateAnnouncementRequest is the DTO for drafting an announcement.
type CreateAnnouncementRequest struct {
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Audience       Audience `json:"audience"`
	AudienceWilaya *string  `json:"audience_wilaya,omitempty"`
	AudienceRole   *Role    `json:"audience_role,omitempty"`
}

// UpdateAnnouncementRequest is the DTO for editing a draft announcement.
type UpdateAnnouncementRequest struct {
	Title          *string   `json:"title,omitempty"`
	Body           *string   `json:"body,omitempty"`
	Audience       *Audience `json:"audience,omitempty"`
	AudienceWilaya *string   `json:"audience_wilaya,omitempty"`
	AudienceRole   *Role     `json:"audience_role,omitempty"`
}

// AnnouncementListOptions controls pagination and filtering for
// announcement listings.
type AnnouncementListOptions struct {
	Limit  int
	Offset int
	Status AnnouncementStatus
}
