/**
 * @description
 * This file contains the HTTP handlers for the recipient-facing
 * notification feed: listing, read/click acknowledgement, unread badge
 * counts, and deletion. Every endpoint is scoped to the authenticated
 * recipient by the service.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"net/http"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// ListNotificationsHandler lists the caller's notifications.
func (h *Handlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.NotificationListOptions{
		Limit:      limit,
		Offset:     (page - 1) * limit,
		Status:     domain.NotificationStatus(r.URL.Query().Get("status")),
		Kind:       domain.NotificationKind(r.URL.Query().Get("kind")),
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	}

	notifications, total, err := h.service.ListNotifications(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, paged(notifications, page, limit, total))
}

// GetNotificationHandler returns one of the caller's notifications.
func (h *Handlers) GetNotificationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	notificationID, ok := parseIDParam(w, r, "notificationID")
	if !ok {
		return
	}

	notification, err := h.service.GetNotification(r.Context(), actor, notificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

// MarkNotificationReadHandler marks a notification as read. Repeated calls
// leave the original read timestamp untouched.
func (h *Handlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	notificationID, ok := parseIDParam(w, r, "notificationID")
	if !ok {
		return
	}

	notification, err := h.service.MarkNotificationRead(r.Context(), actor, notificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

// MarkNotificationClickedHandler records that the recipient followed the
// notification, which also marks it read.
func (h *Handlers) MarkNotificationClickedHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	notificationID, ok := parseIDParam(w, r, "notificationID")
	if !ok {
		return
	}

	notification, err := h.service.MarkNotificationClicked(r.Context(), actor, notificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

// UnreadCountsHandler returns unread totals per entity bucket for the feed
// badge.
func (h *Handlers) UnreadCountsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	counts, err := h.service.GetUnreadCounts(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// DeleteNotificationHandler removes a notification from the caller's feed.
func (h *Handlers) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	notificationID, ok := parseIDParam(w, r, "notificationID")
	if !ok {
		return
	}

	if err := h.service.DeleteNotification(r.Context(), actor, notificationID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
