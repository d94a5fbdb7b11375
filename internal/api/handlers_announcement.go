/**
 * @description
 * This file contains the HTTP handlers for programme announcements: staff
 * authoring and publication plus the public listing citizens browse.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"net/http"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// CreateAnnouncementHandler drafts a new announcement.
func (h *Handlers) CreateAnnouncementHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateAnnouncementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	announcement, err := h.service.CreateAnnouncement(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, announcement)
}

// GetAnnouncementHandler returns one announcement.
func (h *Handlers) GetAnnouncementHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	announcementID, ok := parseIDParam(w, r, "announcementID")
	if !ok {
		return
	}

	announcement, err := h.service.GetAnnouncement(r.Context(), actor, announcementID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, announcement)
}

// UpdateAnnouncementHandler edits a draft announcement.
func (h *Handlers) UpdateAnnouncementHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	announcementID, ok := parseIDParam(w, r, "announcementID")
	if !ok {
		return
	}
	var req domain.UpdateAnnouncementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	announcement, err := h.service.UpdateAnnouncement(r.Context(), actor, announcementID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, announcement)
}

// PublishAnnouncementHandler publishes a draft, which fans it out to its
// audience as notifications.
func (h *Handlers) PublishAnnouncementHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	announcementID, ok := parseIDParam(w, r, "announcementID")
	if !ok {
		return
	}

	announcement, err := h.service.PublishAnnouncement(r.Context(), actor, announcementID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, announcement)
}

// ListAnnouncementsHandler lists announcements. The service limits citizens
// to published entries.
func (h *Handlers) ListAnnouncementsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.AnnouncementListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Status: domain.AnnouncementStatus(r.URL.Query().Get("status")),
	}

	announcements, total, err := h.service.ListAnnouncements(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if announcements == nil {
		announcements = []domain.Announcement{}
	}
	writeJSON(w, http.StatusOK, paged(announcements, page, limit, total))
}

// ArchiveAnnouncementHandler retires an announcement from the public feed.
func (h *Handlers) ArchiveAnnouncementHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	announcementID, ok := parseIDParam(w, r, "announcementID")
	if !ok {
		return
	}

	if err := h.service.ArchiveAnnouncement(r.Context(), actor, announcementID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.AnnouncementStatusArchived)})
}
