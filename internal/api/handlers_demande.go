/**
 * @description
 * This file contains the HTTP handlers for the demande lifecycle: draft
 * creation, submission, assignment, review, cancellation, and the supporting
 * document endpoints. Uploads are read as multipart form data and streamed
 * into the document store; downloads stream back out of it.
 *
 * @dependencies
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// CreateDemandeHandler opens a new draft demande for the caller.
func (h *Handlers) CreateDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateDemandeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	demande, err := h.service.CreateDemande(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, demande)
}

// GetDemandeHandler returns one demande.
func (h *Handlers) GetDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}

	demande, err := h.service.GetDemande(r.Context(), actor, demandeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// UpdateDemandeHandler edits an editable demande.
func (h *Handlers) UpdateDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}
	var req domain.UpdateDemandeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	demande, err := h.service.UpdateDemande(r.Context(), actor, demandeID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// DeleteDemandeHandler removes a draft demande.
func (h *Handlers) DeleteDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}

	if err := h.service.DeleteDemande(r.Context(), actor, demandeID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDemandeHandler moves a draft into the review queue.
func (h *Handlers) SubmitDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}

	demande, err := h.service.SubmitDemande(r.Context(), actor, demandeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// AssignDemandeHandler assigns a submitted demande to a case worker.
func (h *Handlers) AssignDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}
	var req domain.AssignDemandeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	demande, err := h.service.AssignDemande(r.Context(), actor, demandeID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// ReviewDemandeHandler records a review decision on a demande.
func (h *Handlers) ReviewDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}
	var req domain.ReviewDemandeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	demande, err := h.service.ReviewDemande(r.Context(), actor, demandeID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// CancelDemandeHandler cancels a live demande.
func (h *Handlers) CancelDemandeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}
	var req domain.CancelDemandeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	demande, err := h.service.CancelDemande(r.Context(), actor, demandeID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, demande)
}

// ListDemandesHandler lists demandes with filters. Citizens only ever see
// their own; the service forces the applicant scope.
func (h *Handlers) ListDemandesHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	opts := domain.DemandeListOptions{
		Limit:   limit,
		Offset:  (page - 1) * limit,
		Status:  domain.DemandeStatus(r.URL.Query().Get("status")),
		Wilaya:  r.URL.Query().Get("wilaya"),
		Program: r.URL.Query().Get("program"),
		Search:  r.URL.Query().Get("search"),
	}
	if raw := r.URL.Query().Get("applicant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid applicant_id filter", nil)
			return
		}
		opts.ApplicantID = id
	}
	if raw := r.URL.Query().Get("assignee_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid assignee_id filter", nil)
			return
		}
		opts.AssigneeID = id
	}

	demandes, total, err := h.service.ListDemandes(r.Context(), actor, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if demandes == nil {
		demandes = []domain.Demande{}
	}
	writeJSON(w, http.StatusOK, paged(demandes, page, limit, total))
}

// UploadDemandeDocumentHandler attaches a supporting document to a demande.
// The file arrives as the "file" part of a multipart form.
func (h *Handlers) UploadDemandeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Document exceeds the %d byte upload limit", h.maxUploadBytes), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart form with a 'file' part", nil)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	doc, err := h.service.UploadDemandeDocument(r.Context(), actor, demandeID, header.Filename, mimeType, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListDemandeDocumentsHandler lists a demande's documents.
func (h *Handlers) ListDemandeDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}

	docs, err := h.service.ListDemandeDocuments(r.Context(), actor, demandeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if docs == nil {
		docs = []domain.DemandeDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": docs})
}

// DownloadDemandeDocumentHandler streams a stored document back to the caller.
func (h *Handlers) DownloadDemandeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	demandeID, ok := parseIDParam(w, r, "demandeID")
	if !ok {
		return
	}
	documentID, ok := parseIDParam(w, r, "documentID")
	if !ok {
		return
	}

	doc, content, err := h.service.OpenDemandeDocument(r.Context(), actor, demandeID, documentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content); err != nil {
		slog.Warn("document download interrupted", "document_id", doc.ID, "error", err)
	}
}
