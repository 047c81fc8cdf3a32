// Package render deterministically renders the rolling-status comment body
// from the latest dev/qa events, recent activity, issue metadata, and
// provenance. Render is a pure function: identical Input values MUST
// produce byte-identical Markdown.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentrelay/relay/internal/model"
)

// Marker is the literal string that must be the first line of every rolling
// comment body. It is the sole identity signal for marker scans
// and MUST be preserved byte-exact across updates.
const Marker = "<!-- RELAY_STATUS v2 -->"

// RecentEvent is one row of the recent-activity section.
type RecentEvent struct {
	CreatedAt time.Time
	EventType string
	Agent     string
}

// Input bundles every value the template needs. Render never reaches back
// into a store or forge client; all data is resolved by the caller first.
type Input struct {
	IssueNumber int
	Labels      []string
	Assignees   []string // logins, in forge-reported order

	Environment model.Environment
	PR          int
	CommitSHA   string // the reported commit, lowercase hex
	PRHeadSHA   string // the PR head the verifier fetched, lowercase hex
	Verified    *bool  // nil == not applicable

	DevSummary string // "" means no dev event yet

	QAVerdict      model.Verdict
	QAScopeResults []model.ScopeResult
	QAEvidenceURLs []string
	HasQAEvent     bool

	RecentActivity []RecentEvent
}

// Render produces the full comment body, marker included.
func Render(in Input) string {
	var b strings.Builder

	b.WriteString(Marker)
	b.WriteString("\n")
	fmt.Fprintf(&b, "## Relay Status — ISSUE #%d\n\n", in.IssueNumber)

	renderCurrentState(&b, in)
	renderBuildProvenance(&b, in)
	renderLatestDev(&b, in)
	renderLatestQA(&b, in)
	renderRecentActivity(&b, in)

	return b.String()
}

func renderCurrentState(b *strings.Builder, in Input) {
	b.WriteString("### Current State\n")

	status := "n/a"
	for _, l := range in.Labels {
		if strings.HasPrefix(l, "status:") {
			status = strings.TrimPrefix(l, "status:")
			break
		}
	}
	fmt.Fprintf(b, "- Status: %s\n", status)

	if len(in.Labels) == 0 {
		b.WriteString("- Labels: n/a\n")
	} else {
		fmt.Fprintf(b, "- Labels: %s\n", strings.Join(in.Labels, ", "))
	}

	owner := "unassigned"
	if len(in.Assignees) > 0 && in.Assignees[0] != "" {
		owner = "@" + in.Assignees[0]
	}
	fmt.Fprintf(b, "- Owner: %s\n\n", owner)
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

func renderBuildProvenance(b *strings.Builder, in Input) {
	b.WriteString("### Build Provenance\n")

	env := "n/a"
	if in.Environment != "" {
		env = string(in.Environment)
	}
	fmt.Fprintf(b, "- Environment: %s\n", env)

	pr := "n/a"
	if in.PR > 0 {
		pr = fmt.Sprintf("#%d", in.PR)
	}
	fmt.Fprintf(b, "- PR: %s\n", pr)

	commit := "n/a"
	if in.CommitSHA != "" {
		commit = "`" + shortSHA(in.CommitSHA) + "`"
	}
	fmt.Fprintf(b, "- Commit: %s\n", commit)

	var provenance string
	switch {
	case in.Verified == nil:
		provenance = "n/a"
	case *in.Verified:
		provenance = "VERIFIED (matches PR head)"
	default:
		provenance = fmt.Sprintf("UNVERIFIED (PR head: `%s`)", shortSHA(in.PRHeadSHA))
	}
	fmt.Fprintf(b, "- Provenance: %s\n\n", provenance)
}

func renderLatestDev(b *strings.Builder, in Input) {
	b.WriteString("### Latest Dev Update\n")
	if in.DevSummary == "" {
		b.WriteString("n/a\n\n")
		return
	}
	fmt.Fprintf(b, "%s\n\n", in.DevSummary)
}

func renderLatestQA(b *strings.Builder, in Input) {
	b.WriteString("### Latest QA Result\n")
	if !in.HasQAEvent {
		b.WriteString("n/a\n\n")
		return
	}

	verdict := "n/a"
	if in.QAVerdict != "" {
		verdict = "`" + string(in.QAVerdict) + "`"
	}
	fmt.Fprintf(b, "- Verdict: %s\n", verdict)

	b.WriteString("- Scope Results:\n")
	if len(in.QAScopeResults) == 0 {
		b.WriteString("  - n/a\n")
	} else {
		for _, sr := range in.QAScopeResults {
			if sr.Notes != "" {
				fmt.Fprintf(b, "  - %s: %s (%s)\n", sr.ID, sr.Status, sr.Notes)
			} else {
				fmt.Fprintf(b, "  - %s: %s\n", sr.ID, sr.Status)
			}
		}
	}

	if len(in.QAEvidenceURLs) == 0 {
		b.WriteString("- Evidence: n/a\n\n")
	} else {
		fmt.Fprintf(b, "- Evidence: %s\n\n", strings.Join(in.QAEvidenceURLs, ", "))
	}
}

func renderRecentActivity(b *strings.Builder, in Input) {
	b.WriteString("### Recent Activity\n")
	if len(in.RecentActivity) == 0 {
		b.WriteString("n/a\n")
		return
	}
	for _, e := range in.RecentActivity {
		fmt.Fprintf(b, "- %s — %s — %s\n", e.CreatedAt.UTC().Format("15:04")+"Z", e.EventType, e.Agent)
	}
}
