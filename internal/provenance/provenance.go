// Package provenance compares a reported build commit against the head SHA
// of the pull request it claims to belong to.
package provenance

import (
	"strings"

	"github.com/agentrelay/relay/internal/model"
)

// Result is the outcome of a provenance check. Verified is nil when
// verification is not applicable (no PR or commit reported).
type Result struct {
	Verified    *bool
	PRHeadSHA   string
	ReportedSHA string
}

// Verify compares the build's reported commit against prHeadSHA,
// case-insensitively. When build is nil or lacks a PR or a commit, Verify
// returns a Result with Verified == nil (the "not applicable" case) without
// looking at prHeadSHA; otherwise an empty prHeadSHA compares as a mismatch.
func Verify(build *model.Build, prHeadSHA string) Result {
	if build == nil || build.PR == 0 || build.CommitSHA == "" {
		return Result{}
	}
	verified := strings.EqualFold(build.CommitSHA, prHeadSHA)
	return Result{
		Verified:    &verified,
		PRHeadSHA:   strings.ToLower(prHeadSHA),
		ReportedSHA: strings.ToLower(build.CommitSHA),
	}
}

// EffectiveVerdict applies the downgrade rule: a reported PASS
// becomes PASS_UNVERIFIED when verification explicitly fails. Every other
// verdict, including an absent one, passes through unchanged.
func EffectiveVerdict(reported model.Verdict, r Result) model.Verdict {
	if r.Verified != nil && !*r.Verified && reported == model.VerdictPass {
		return model.VerdictPassUnverified
	}
	return reported
}
