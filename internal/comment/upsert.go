// Package comment implements the rolling-comment upsert protocol: a
// three-tier fallback (mapping hit -> marker scan -> create) in which any
// comment-update failure falls through to the next tier rather than
// aborting the pipeline.
package comment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/render"
	"github.com/agentrelay/relay/internal/store"
)

// maxScanPages bounds the marker scan to 3 pages of 100 comments each. A
// marker buried deeper than that is missed and a duplicate gets created; a
// later upsert's scan converges on whichever marker comment it finds first.
const maxScanPages = 3

// mappingStore is the subset of *store.Store the upsert needs, so tests can
// supply a fake without touching SQLite.
type mappingStore interface {
	GetCommentMapping(repo string, issue int) (*store.CommentMapping, error)
	UpsertCommentMapping(repo string, issue int, commentID int64, now time.Time) error
}

// Upsert updates the issue's marker-tagged comment if it finds one and
// creates one otherwise. It returns the id of the comment that now carries
// the body. It never deletes comments: when a scanned marker comment fails to
// update, or the marker sits beyond the scanned pages, a new marker comment
// is created next to the old one.
func Upsert(ctx context.Context, client forge.Client, st mappingStore, repo string, issue int, body string, now time.Time) (int64, error) {
	// Tier 1: mapping table hit.
	mapping, err := st.GetCommentMapping(repo, issue)
	if err != nil {
		return 0, fmt.Errorf("read comment mapping: %w", err)
	}
	if mapping != nil {
		if err := client.UpdateComment(ctx, repo, mapping.CommentID, body); err == nil {
			if err := st.UpsertCommentMapping(repo, issue, mapping.CommentID, now); err != nil {
				return 0, fmt.Errorf("bump comment mapping: %w", err)
			}
			return mapping.CommentID, nil
		}
		// Any failure here -- including a 404 for a deleted comment -- is a
		// cue to fall through to the marker scan, not a pipeline failure.
	}

	// Tier 2: marker scan, up to 3 pages of 100.
scan:
	for page := 1; page <= maxScanPages; page++ {
		comments, err := client.ListComments(ctx, repo, issue, page)
		if err != nil {
			return 0, fmt.Errorf("list comments page %d: %w", page, err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), render.Marker) {
				id := c.GetID()
				if err := client.UpdateComment(ctx, repo, id, body); err != nil {
					// The marker comment is unique; a failed update here is
					// a cue to fall through to create, not to keep scanning.
					break scan
				}
				if err := st.UpsertCommentMapping(repo, issue, id, now); err != nil {
					return 0, fmt.Errorf("upsert comment mapping: %w", err)
				}
				return id, nil
			}
		}
		if len(comments) < 100 {
			break // last page
		}
	}

	// Tier 3: create.
	created, err := client.CreateComment(ctx, repo, issue, body)
	if err != nil {
		return 0, fmt.Errorf("create comment: %w", err)
	}
	if err := st.UpsertCommentMapping(repo, issue, created.GetID(), now); err != nil {
		return 0, fmt.Errorf("upsert comment mapping after create: %w", err)
	}
	return created.GetID(), nil
}
