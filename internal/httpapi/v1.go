package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// v1 implements the thin PAT-authenticated convenience wrappers over the
// forge. They carry
// none of the v2 surface's validation, idempotency, rendering, or
// label-engine machinery -- each handler parses its path/body and makes a
// single forge call through a request-scoped client built the same way the
// v2 pipeline builds one.
func (s *Server) v1Params(r *http.Request) (repo string, issue int, ok bool) {
	vars := mux.Vars(r)
	issue, err := strconv.Atoi(vars["issue"])
	if err != nil || issue <= 0 {
		return "", 0, false
	}
	return vars["owner"] + "/" + vars["repo"], issue, true
}

type v1CommentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleV1Comment(w http.ResponseWriter, r *http.Request) {
	repo, issue, ok := s.v1Params(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid issue number", nil)
		return
	}
	var req v1CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		respondError(w, http.StatusBadRequest, "body is required", nil)
		return
	}

	client := s.NewForgeClient()
	created, err := client.CreateComment(r.Context(), repo, issue, req.Body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(err))
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// handleV1Directive posts a comment prefixed to read as an imperative
// instruction to the issue's assignees, the one piece of behavior the v1
// surface adds on top of a bare comment post.
func (s *Server) handleV1Directive(w http.ResponseWriter, r *http.Request) {
	repo, issue, ok := s.v1Params(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid issue number", nil)
		return
	}
	var req v1CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		respondError(w, http.StatusBadRequest, "body is required", nil)
		return
	}

	client := s.NewForgeClient()
	created, err := client.CreateComment(r.Context(), repo, issue, fmt.Sprintf("**Directive:** %s", req.Body))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(err))
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

type v1LabelsRequest struct {
	Labels []string `json:"labels"`
}

func (s *Server) handleV1Labels(w http.ResponseWriter, r *http.Request) {
	repo, issue, ok := s.v1Params(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid issue number", nil)
		return
	}
	var req v1LabelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	client := s.NewForgeClient()
	if err := client.PutLabels(r.Context(), repo, issue, req.Labels); err != nil {
		respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "labels": req.Labels})
}

func (s *Server) handleV1Close(w http.ResponseWriter, r *http.Request) {
	repo, issue, ok := s.v1Params(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid issue number", nil)
		return
	}

	client := s.NewForgeClient()
	if err := client.CloseIssue(r.Context(), repo, issue); err != nil {
		respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
