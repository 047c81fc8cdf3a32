package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func fullInput() Input {
	return Input{
		IssueNumber: 42,
		Labels:      []string{"status:qa", "prio:P1"},
		Assignees:   []string{"octocat", "hubot"},
		Environment: model.EnvPreview,
		PR:          7,
		CommitSHA:   "abc1234def",
		PRHeadSHA:   "abc1234def",
		Verified:    boolPtr(true),
		DevSummary:  "implemented retry logic",
		QAVerdict:   model.VerdictPass,
		QAScopeResults: []model.ScopeResult{
			{ID: "login", Status: model.ScopePass},
			{ID: "checkout", Status: model.ScopeFail, Notes: "timeout"},
		},
		QAEvidenceURLs: []string{"https://relay/v2/evidence/aaa"},
		HasQAEvent:     true,
		RecentActivity: []RecentEvent{
			{CreatedAt: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC), EventType: "qa.result_submitted", Agent: "qa-bot"},
			{CreatedAt: time.Date(2026, 3, 1, 13, 5, 0, 0, time.UTC), EventType: "dev.update", Agent: "dev-bot"},
		},
	}
}

func TestRender_BeginsWithMarker(t *testing.T) {
	body := Render(fullInput())
	require.True(t, strings.HasPrefix(body, Marker+"\n"), "marker must be the first line, byte-exact")
}

func TestRender_IsPure(t *testing.T) {
	a := Render(fullInput())
	b := Render(fullInput())
	assert.Equal(t, a, b, "same inputs must produce byte-identical output")
}

func TestRender_FullBody(t *testing.T) {
	body := Render(fullInput())

	assert.Contains(t, body, "## Relay Status — ISSUE #42")
	assert.Contains(t, body, "- Status: qa")
	assert.Contains(t, body, "- Labels: status:qa, prio:P1")
	assert.Contains(t, body, "- Owner: @octocat")
	assert.Contains(t, body, "- Environment: preview")
	assert.Contains(t, body, "- PR: #7")
	assert.Contains(t, body, "- Commit: `abc1234`")
	assert.Contains(t, body, "- Provenance: VERIFIED (matches PR head)")
	assert.Contains(t, body, "implemented retry logic")
	assert.Contains(t, body, "- Verdict: `PASS`")
	assert.Contains(t, body, "  - login: PASS")
	assert.Contains(t, body, "  - checkout: FAIL (timeout)")
	assert.Contains(t, body, "- Evidence: https://relay/v2/evidence/aaa")
	assert.Contains(t, body, "- 14:30Z — qa.result_submitted — qa-bot")
	assert.Contains(t, body, "- 13:05Z — dev.update — dev-bot")
}

// The UNVERIFIED line names the short PR head, not the reported
// commit.
func TestRender_UnverifiedShowsPRHead(t *testing.T) {
	in := fullInput()
	in.Verified = boolPtr(false)
	in.PRHeadSHA = "ffffffffff"

	body := Render(in)
	assert.Contains(t, body, "UNVERIFIED (PR head: `fffffff`)")
	assert.NotContains(t, body, "UNVERIFIED (PR head: `abc1234`)")
}

func TestRender_EmptyState(t *testing.T) {
	body := Render(Input{IssueNumber: 9})

	assert.Contains(t, body, "- Status: n/a")
	assert.Contains(t, body, "- Labels: n/a")
	assert.Contains(t, body, "- Owner: unassigned")
	assert.Contains(t, body, "- Environment: n/a")
	assert.Contains(t, body, "- PR: n/a")
	assert.Contains(t, body, "- Commit: n/a")
	assert.Contains(t, body, "- Provenance: n/a")
	assert.Contains(t, body, "### Latest Dev Update\nn/a")
	assert.Contains(t, body, "### Latest QA Result\nn/a")
	assert.Contains(t, body, "### Recent Activity\nn/a")
}

func TestRender_QAEventWithoutScopeResults(t *testing.T) {
	in := Input{IssueNumber: 1, HasQAEvent: true, QAVerdict: model.VerdictFail}
	body := Render(in)

	assert.Contains(t, body, "- Verdict: `FAIL`")
	assert.Contains(t, body, "- Scope Results:\n  - n/a")
	assert.Contains(t, body, "- Evidence: n/a")
}

func TestRender_RecentActivityTimesAreUTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	in := Input{IssueNumber: 1, RecentActivity: []RecentEvent{
		{CreatedAt: time.Date(2026, 3, 1, 6, 30, 0, 0, loc), EventType: "dev.update", Agent: "dev-bot"},
	}}
	body := Render(in)
	assert.Contains(t, body, "- 14:30Z — dev.update — dev-bot")
}
