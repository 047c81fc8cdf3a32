package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/go-github/v68/github"

	"github.com/agentrelay/relay/internal/comment"
	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/labels"
	"github.com/agentrelay/relay/internal/model"
	"github.com/agentrelay/relay/internal/provenance"
	"github.com/agentrelay/relay/internal/render"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/validate"
)

// devEventType and qaEventType are the conventional event_type values the
// renderer pulls "latest dev update" / "latest QA result" from. The schema
// leaves event_type free-form; these two values are the ones the
// rolling-comment sections are defined against.
const (
	devEventType = "dev.update"
	qaEventType  = "qa.result_submitted"
)

type ingestResponse struct {
	OK                 bool   `json:"ok"`
	EventID            string `json:"event_id"`
	Stored             bool   `json:"stored,omitempty"`
	Idempotent         bool   `json:"idempotent,omitempty"`
	RollingCommentID   int64  `json:"rolling_comment_id,omitempty"`
	Verdict            string `json:"verdict,omitempty"`
	ProvenanceVerified *bool  `json:"provenance_verified,omitempty"`
}

// handleIngestEvent implements the central event path: auth (already
// enforced by middleware) -> parse -> validate -> hash -> idempotency check
// -> mint forge token -> provenance check -> downgrade -> insert -> render
// -> upsert comment -> label transitions -> respond.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}
	if len(body) > maxEventBodyBytes {
		respondError(w, http.StatusBadRequest, "request body too large", nil)
		return
	}

	ev, verr := validate.Validate(body)
	if verr != nil {
		respondError(w, http.StatusBadRequest, verr.Error(), nil)
		return
	}

	log := s.Logger.With().Str("event_id", ev.EventID).Str("repo", ev.Repo).Int("issue_number", ev.IssueNumber).Logger()

	// Idempotency lookup happens before any forge call: an
	// idempotent replay or a conflicting resubmission must never mint a
	// token or touch the forge.
	_, idempotent, err := s.Store.CheckIdempotency(ev)
	var conflict *store.ErrConflict
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, "event_id already stored with a different payload", map[string]string{
			"existing_hash": conflict.Existing.PayloadHash,
			"new_hash":      conflict.NewHash,
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("idempotency check failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	if idempotent {
		respondJSON(w, http.StatusOK, ingestResponse{OK: true, EventID: ev.EventID, Idempotent: true})
		return
	}

	ctx := r.Context()
	client := s.NewForgeClient()

	var result provenance.Result
	if ev.Build != nil && ev.Build.PR > 0 {
		prHead, perr := client.PRHeadSHA(ctx, ev.Repo, ev.Build.PR)
		if perr != nil {
			log.Error().Err(perr).Msg("provenance lookup failed")
			respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(perr))
			return
		}
		result = provenance.Verify(ev.Build, prHead)
	}
	effective := provenance.EffectiveVerdict(ev.OverallVerdict, result)

	stored, idempotent, err := s.Store.Insert(ev, effective, s.clock())
	if err != nil {
		if errors.As(err, &conflict) {
			respondError(w, http.StatusConflict, "event_id already stored with a different payload", map[string]string{
				"existing_hash": conflict.Existing.PayloadHash,
				"new_hash":      conflict.NewHash,
			})
			return
		}
		log.Error().Err(err).Msg("event insert failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	if idempotent {
		// Lost a race against a concurrent identical insert; converges to
		// the same idempotent response as the pre-check above.
		respondJSON(w, http.StatusOK, ingestResponse{OK: true, EventID: ev.EventID, Idempotent: true})
		return
	}

	issue, err := client.GetIssue(ctx, ev.Repo, ev.IssueNumber)
	if err != nil {
		log.Error().Err(err).Msg("issue fetch failed")
		respondError(w, http.StatusInternalServerError, "forge error", forgeErrorDetails(err))
		return
	}

	devEvent, err := s.Store.LatestByType(ev.Repo, ev.IssueNumber, devEventType)
	if err != nil {
		log.Error().Err(err).Msg("latest dev event query failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	qaEvent, err := s.Store.LatestByType(ev.Repo, ev.IssueNumber, qaEventType)
	if err != nil {
		log.Error().Err(err).Msg("latest qa event query failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	recent, err := s.Store.RecentActivity(ev.Repo, ev.IssueNumber)
	if err != nil {
		log.Error().Err(err).Msg("recent activity query failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	commentBody := render.Render(buildRenderInput(ev, issue, result, devEvent, qaEvent, recent))

	commentID, err := comment.Upsert(ctx, client, s.Store, ev.Repo, ev.IssueNumber, commentBody, s.clock())
	if err != nil {
		log.Error().Err(err).Msg("comment upsert failed")
		respondError(w, http.StatusInternalServerError, "internal error", map[string]string{"stage": "comment_upsert"})
		return
	}

	rule := s.Rules.Resolve(stored.EventType, string(effective))
	if len(rule.Add) > 0 || len(rule.Remove) > 0 {
		next := labels.Apply(issueLabelNames(issue), rule)
		if err := client.PutLabels(ctx, ev.Repo, ev.IssueNumber, next); err != nil {
			log.Error().Err(err).Msg("label transition failed")
			respondError(w, http.StatusInternalServerError, "internal error", map[string]string{"stage": "labels"})
			return
		}
	}

	resp := ingestResponse{
		OK:               true,
		EventID:          ev.EventID,
		Stored:           true,
		RollingCommentID: commentID,
		Verdict:          string(effective),
	}
	if result.Verified != nil {
		resp.ProvenanceVerified = result.Verified
	}
	respondJSON(w, http.StatusCreated, resp)
}

// forgeErrorDetails extracts the status/body from a *forge.ForgeError when
// present, so the 500 response's details field aids diagnosis without
// leaking a stack trace.
func forgeErrorDetails(err error) any {
	var fe *forge.ForgeError
	if errors.As(err, &fe) {
		return map[string]any{"status": fe.Status, "body": fe.Body}
	}
	return map[string]string{"error": err.Error()}
}

func issueLabelNames(issue *github.Issue) []string {
	names := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		names = append(names, l.GetName())
	}
	return names
}

func issueAssigneeLogins(issue *github.Issue) []string {
	logins := make([]string, 0, len(issue.Assignees))
	for _, a := range issue.Assignees {
		logins = append(logins, a.GetLogin())
	}
	return logins
}

// buildRenderInput assembles the renderer's Input. The Build Provenance
// section always reflects the event just processed by this request --
// environment, PR, commit, and the provenance result computed for it. The
// dev/qa sections, by contrast, are keyed off
// whichever stored row is currently latest for their conventional
// event_type (which may be the event this very request just inserted).
func buildRenderInput(ev *model.Event, issue *github.Issue, result provenance.Result, devEvent, qaEvent *model.StoredEvent, recent []*model.StoredEvent) render.Input {
	in := render.Input{
		IssueNumber: ev.IssueNumber,
		Labels:      issueLabelNames(issue),
		Assignees:   issueAssigneeLogins(issue),
		Environment: ev.Environment,
		PRHeadSHA:   result.PRHeadSHA,
		Verified:    result.Verified,
	}
	if ev.Build != nil {
		in.PR = ev.Build.PR
		in.CommitSHA = ev.Build.CommitSHA
	}

	if devEvent != nil {
		in.DevSummary = devEvent.Summary
	}

	if qaEvent != nil {
		in.HasQAEvent = true
		in.QAVerdict = qaEvent.EffectiveVerdict
		in.QAScopeResults = qaEvent.ScopeResults
		in.QAEvidenceURLs = qaEvent.EvidenceURLs
	}

	for _, e := range recent {
		in.RecentActivity = append(in.RecentActivity, render.RecentEvent{
			CreatedAt: e.CreatedAt,
			EventType: e.EventType,
			Agent:     e.Agent,
		})
	}

	return in
}
