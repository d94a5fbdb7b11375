/**
 * @description
 * This file sets up the HTTP router for the assistance service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, timeouts, CORS, request
 * metrics, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kousaila502/e-social-assistance/internal/metrics"
)

// NewRouter creates and returns the router for the assistance service.
func NewRouter(h *Handlers, jwtSecret []byte) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))
	r.Use(metrics.InstrumentHandler)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Prometheus scrape endpoint.
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints: registration and login issue the session token.
		r.Post("/auth/register", h.RegisterHandler)
		r.Post("/auth/login", h.LoginHandler)

		// Group routes that require authentication.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtSecret))

			r.Post("/auth/staff", h.CreateStaffHandler)

			// User management endpoints
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsersHandler)
				r.Get("/me", h.MeHandler)
				r.Get("/{userID}", h.GetUserHandler)
				r.Patch("/{userID}", h.UpdateUserHandler)
				r.Post("/{userID}/active", h.SetUserActiveHandler)
			})

			// Demande lifecycle endpoints
			r.Route("/demandes", func(r chi.Router) {
				r.Post("/", h.CreateDemandeHandler)
				r.Get("/", h.ListDemandesHandler)
				r.Get("/{demandeID}", h.GetDemandeHandler)
				r.Patch("/{demandeID}", h.UpdateDemandeHandler)
				r.Delete("/{demandeID}", h.DeleteDemandeHandler)
				r.Post("/{demandeID}/submit", h.SubmitDemandeHandler)
				r.Post("/{demandeID}/assign", h.AssignDemandeHandler)
				r.Post("/{demandeID}/review", h.ReviewDemandeHandler)
				r.Post("/{demandeID}/cancel", h.CancelDemandeHandler)
				r.Post("/{demandeID}/documents", h.UploadDemandeDocumentHandler)
				r.Get("/{demandeID}/documents", h.ListDemandeDocumentsHandler)
				r.Get("/{demandeID}/documents/{documentID}", h.DownloadDemandeDocumentHandler)
			})

			// Budget pool endpoints
			r.Route("/budget-pools", func(r chi.Router) {
				r.Post("/", h.CreateBudgetPoolHandler)
				r.Get("/", h.ListBudgetPoolsHandler)
				r.Get("/{poolID}", h.GetBudgetPoolHandler)
				r.Patch("/{poolID}", h.UpdateBudgetPoolHandler)
				r.Post("/{poolID}/activate", h.ActivatePoolHandler)
				r.Post("/{poolID}/freeze", h.FreezePoolHandler)
				r.Post("/{poolID}/unfreeze", h.UnfreezePoolHandler)
				r.Post("/{poolID}/expire", h.ExpirePoolHandler)
				r.Post("/{poolID}/allocate", h.AllocateFundsHandler)
				r.Post("/{poolID}/transfer", h.TransferFundsHandler)
				r.Get("/{poolID}/analytics", h.GetPoolAnalyticsHandler)
			})

			// Payment endpoints
			r.Route("/payments", func(r chi.Router) {
				r.Get("/", h.ListPaymentsHandler)
				r.Get("/{paymentID}", h.GetPaymentHandler)
				r.Post("/{paymentID}/process", h.ProcessPaymentHandler)
				r.Post("/{paymentID}/retry", h.RetryPaymentHandler)
				r.Post("/{paymentID}/cancel", h.CancelPaymentHandler)
				r.Post("/{paymentID}/schedule", h.SchedulePaymentHandler)
			})

			// Notification feed endpoints
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotificationsHandler)
				r.Get("/unread-counts", h.UnreadCountsHandler)
				r.Get("/{notificationID}", h.GetNotificationHandler)
				r.Delete("/{notificationID}", h.DeleteNotificationHandler)
				r.Post("/{notificationID}/read", h.MarkNotificationReadHandler)
				r.Post("/{notificationID}/click", h.MarkNotificationClickedHandler)
			})

			// Announcement endpoints
			r.Route("/announcements", func(r chi.Router) {
				r.Post("/", h.CreateAnnouncementHandler)
				r.Get("/", h.ListAnnouncementsHandler)
				r.Get("/{announcementID}", h.GetAnnouncementHandler)
				r.Patch("/{announcementID}", h.UpdateAnnouncementHandler)
				r.Post("/{announcementID}/publish", h.PublishAnnouncementHandler)
				r.Post("/{announcementID}/archive", h.ArchiveAnnouncementHandler)
			})
		})
	})

	return r
}
