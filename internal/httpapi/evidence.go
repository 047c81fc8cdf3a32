package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/agentrelay/relay/internal/evidence"
)

type evidenceResponse struct {
	ID          string `json:"id"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	EventID     string `json:"event_id,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
}

// handleEvidenceUpload accepts a multipart form (repo, issue_number,
// event_id?, file) and stores the file as an evidence asset.
func (s *Server) handleEvidenceUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}

	repo := r.FormValue("repo")
	if repo == "" {
		respondError(w, http.StatusBadRequest, "repo is required", nil)
		return
	}
	issueNumber, err := strconv.Atoi(r.FormValue("issue_number"))
	if err != nil || issueNumber <= 0 {
		respondError(w, http.StatusBadRequest, "issue_number must be a positive integer", nil)
		return
	}
	eventID := r.FormValue("event_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required", nil)
		return
	}
	defer file.Close()

	filename := header.Filename
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	asset, err := s.Evidence.Upload(r.Context(), repo, issueNumber, eventID, filename, contentType, file, header.Size)
	if err != nil {
		s.Logger.Error().Err(err).Msg("evidence upload failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	respondJSON(w, http.StatusCreated, evidenceResponse{
		ID:          asset.ID,
		Repo:        asset.Repo,
		IssueNumber: asset.IssueNumber,
		EventID:     asset.EventID,
		Filename:    asset.Filename,
		ContentType: asset.ContentType,
		SizeBytes:   asset.SizeBytes,
		URL:         fmt.Sprintf("/v2/evidence/%s", asset.ID),
	})
}

// handleEvidenceRetrieve streams a stored asset back with its original
// content type.
func (s *Server) handleEvidenceRetrieve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	asset, rc, err := s.Evidence.Retrieve(r.Context(), id)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			respondError(w, http.StatusNotFound, "evidence not found", nil)
			return
		}
		s.Logger.Error().Err(err).Str("evidence_id", id).Msg("evidence retrieve failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", sanitizeFilename(asset.Filename)))
	_, _ = io.Copy(w, rc)
}

// sanitizeFilename strips quotes from the stored filename so it can be
// embedded in a Content-Disposition header value without escaping.
func sanitizeFilename(name string) string {
	return strings.ReplaceAll(name, `"`, "")
}
