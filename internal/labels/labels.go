// Package labels implements the declarative label transition engine: a
// two-level rules table keyed by (event_type, verdict) that computes the
// next full label set for an issue.
package labels

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Rule is the add/remove set applied when a rule key matches.
type Rule struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// Rules is the full two-level table: Rules[event_type][verdict_key]. The
// literal key "_" matches when no more specific verdict key applies, and
// also matches when the event carries no verdict at all.
type Rules map[string]map[string]Rule

// ParseRules parses the label-rules JSON blob configured at startup.
// Invalid JSON must never be fatal -- it degrades to an empty, no-op rule
// set, and the caller is expected to log that degradation.
func ParseRules(raw []byte) (Rules, error) {
	if len(raw) == 0 {
		return Rules{}, nil
	}
	var r Rules
	if err := json.Unmarshal(raw, &r); err != nil {
		return Rules{}, fmt.Errorf("parse label rules: %w", err)
	}
	return r, nil
}

// noVerdict is the empty string used to mean "no verdict reported", kept
// distinct from the wildcard key so lookup order is explicit below.
const noVerdict = ""
const wildcard = "_"

// Resolve looks up the rule for (eventType, verdict): exact verdict key
// first, then the wildcard. A missing event_type
// or missing rule is a no-op, returned as the zero Rule.
func (r Rules) Resolve(eventType string, verdict string) Rule {
	byVerdict, ok := r[eventType]
	if !ok {
		return Rule{}
	}
	if verdict != noVerdict {
		if rule, ok := byVerdict[verdict]; ok {
			return rule
		}
	}
	if rule, ok := byVerdict[wildcard]; ok {
		return rule
	}
	return Rule{}
}

// Apply computes next = (current ∪ add) \ remove, preserving every label not
// named by the rule and never duplicating an already-present label. Output
// is sorted so tests and logs are byte-stable.
func Apply(current []string, rule Rule) []string {
	set := make(map[string]bool, len(current)+len(rule.Add))
	for _, l := range current {
		set[l] = true
	}
	for _, l := range rule.Add {
		set[l] = true
	}
	for _, l := range rule.Remove {
		delete(set, l)
	}

	next := make([]string, 0, len(set))
	for l := range set {
		next = append(next, l)
	}
	sort.Strings(next)
	return next
}
