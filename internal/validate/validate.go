// Package validate implements schema and semantic validation of inbound v2
// event payloads, including the conditional-required fields on FAIL/BLOCKED
// verdicts and the permitted field coercions (string to int for numeric
// fields, SHA lowercased).
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentrelay/relay/internal/model"
)

// Error is a single validation failure. The Validator stops at the first
// violation and returns it verbatim as the 400 response message.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func fail(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

var repoRe = regexp.MustCompile(`^[^/]+/[^/]+$`)
var shaRe = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// knownTopLevelFields lists every key the schema recognizes. Anything else in
// the request body is an unvalidated caller extension folded into
// Event.Details rather than rejected, so payload_json retains it.
var knownTopLevelFields = map[string]bool{
	"event_id": true, "repo": true, "issue_number": true, "event_type": true,
	"role": true, "agent": true, "environment": true, "overall_verdict": true,
	"build": true, "scope_results": true, "severity": true, "repro_steps": true,
	"expected": true, "actual": true, "summary": true, "evidence_urls": true,
	"artifacts": true, "details": true,
}

// Validate parses and validates a raw JSON request body into a canonical
// Event. It returns a *Error on the first rule violation.
func Validate(body []byte) (*model.Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fail("request body is not valid JSON: %v", err)
	}

	ev := &model.Event{}

	eventID, err := requireString(raw, "event_id")
	if err != nil {
		return nil, err
	}
	if len(eventID) < 8 {
		return nil, fail("event_id must be at least 8 characters")
	}
	ev.EventID = eventID

	repo, err := requireString(raw, "repo")
	if err != nil {
		return nil, err
	}
	if !repoRe.MatchString(repo) {
		return nil, fail(`repo must match "<owner>/<name>"`)
	}
	ev.Repo = repo

	issueNumber, err := requireInt(raw, "issue_number")
	if err != nil {
		return nil, err
	}
	if issueNumber <= 0 {
		return nil, fail("issue_number must be a positive integer")
	}
	ev.IssueNumber = issueNumber

	eventType, err := requireString(raw, "event_type")
	if err != nil {
		return nil, err
	}
	ev.EventType = eventType

	roleStr, err := requireString(raw, "role")
	if err != nil {
		return nil, err
	}
	role := model.Role(strings.ToUpper(roleStr))
	if !role.Valid() || role == "" {
		return nil, fail("role must be one of QA, DEV, PM, MENTOR")
	}
	ev.Role = role

	agent, err := requireString(raw, "agent")
	if err != nil {
		return nil, err
	}
	if len(agent) < 2 {
		return nil, fail("agent must be at least 2 characters")
	}
	ev.Agent = agent

	if v, ok := raw["environment"]; ok && v != nil {
		envStr, ok := v.(string)
		if !ok {
			return nil, fail("environment must be a string")
		}
		env := model.Environment(envStr)
		if !env.Valid() {
			return nil, fail("environment must be one of preview, production, dev")
		}
		ev.Environment = env
	}

	var verdict model.Verdict
	if v, ok := raw["overall_verdict"]; ok && v != nil {
		verdictStr, ok := v.(string)
		if !ok {
			return nil, fail("overall_verdict must be a string")
		}
		verdict = model.Verdict(verdictStr)
		if !verdict.Valid() {
			return nil, fail("overall_verdict must be one of PASS, FAIL, BLOCKED, PASS_UNVERIFIED, FAIL_UNCONFIRMED")
		}
		ev.OverallVerdict = verdict
	}

	if v, ok := raw["build"]; ok && v != nil {
		buildMap, ok := v.(map[string]any)
		if !ok {
			return nil, fail("build must be an object")
		}
		build := &model.Build{}
		shaStr, err := requireString(buildMap, "commit_sha")
		if err != nil {
			return nil, fail("build.commit_sha is required when build is present")
		}
		if !shaRe.MatchString(shaStr) {
			return nil, fail("build.commit_sha must be 7-40 hex characters")
		}
		build.CommitSHA = strings.ToLower(shaStr)
		if prRaw, ok := buildMap["pr"]; ok && prRaw != nil {
			pr, err := coerceInt(prRaw)
			if err != nil || pr <= 0 {
				return nil, fail("build.pr must be a positive integer")
			}
			build.PR = pr
		}
		ev.Build = build
	}

	if v, ok := raw["scope_results"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fail("scope_results must be an array")
		}
		if len(list) == 0 {
			return nil, fail("scope_results must be non-empty when present")
		}
		results := make([]model.ScopeResult, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fail("scope_results[%d] must be an object", i)
			}
			id, err := requireString(m, "id")
			if err != nil || id == "" {
				return nil, fail("scope_results[%d].id is required and must be non-empty", i)
			}
			statusStr, err := requireString(m, "status")
			if err != nil {
				return nil, fail("scope_results[%d].status is required", i)
			}
			status := model.ScopeStatus(statusStr)
			if !status.Valid() {
				return nil, fail("scope_results[%d].status must be one of PASS, FAIL, SKIPPED", i)
			}
			notes, _ := m["notes"].(string)
			results = append(results, model.ScopeResult{ID: id, Status: status, Notes: notes})
		}
		ev.ScopeResults = results
	}

	if verdict.RequiresSeverity() {
		sevStr, err := requireString(raw, "severity")
		if err != nil {
			return nil, fail("severity is required when overall_verdict is FAIL or BLOCKED")
		}
		sev := model.Severity(sevStr)
		if !sev.Valid() {
			return nil, fail("severity must be one of P0, P1, P2, P3")
		}
		ev.Severity = sev

		for _, field := range []struct {
			key string
			dst *string
		}{
			{"repro_steps", &ev.ReproSteps},
			{"expected", &ev.Expected},
			{"actual", &ev.Actual},
		} {
			val, err := requireString(raw, field.key)
			if err != nil {
				return nil, fail("%s is required when overall_verdict is FAIL or BLOCKED", field.key)
			}
			if len(val) < 3 {
				return nil, fail("%s must be at least 3 characters when overall_verdict is FAIL or BLOCKED", field.key)
			}
			*field.dst = val
		}
	} else {
		if s, ok := raw["severity"].(string); ok {
			sev := model.Severity(s)
			if s != "" && !sev.Valid() {
				return nil, fail("severity must be one of P0, P1, P2, P3")
			}
			ev.Severity = sev
		}
		ev.ReproSteps, _ = raw["repro_steps"].(string)
		ev.Expected, _ = raw["expected"].(string)
		ev.Actual, _ = raw["actual"].(string)
	}

	ev.Summary, _ = raw["summary"].(string)

	if v, ok := raw["evidence_urls"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fail("evidence_urls must be an array of strings")
		}
		urls := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fail("evidence_urls[%d] must be a string", i)
			}
			urls = append(urls, s)
		}
		ev.EvidenceURLs = urls
	}

	if v, ok := raw["artifacts"]; ok && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fail("artifacts must be valid JSON")
		}
		ev.Artifacts = b
	}

	ev.Details = buildDetails(raw)

	return ev, nil
}

// buildDetails folds the caller-supplied "details" value together with any
// top-level keys the schema does not recognize into a single opaque map.
// Per the design notes, these extensions are part of the canonical
// serialization (and so participate in payload_hash) but never influence
// validation or routing.
func buildDetails(raw map[string]any) json.RawMessage {
	extra := map[string]any{}
	for k, v := range raw {
		if k == "details" || !knownTopLevelFields[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil
	}
	return b
}

func requireString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fail("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fail("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fail("%s is required", key)
	}
	return s, nil
}

func requireInt(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fail("%s is required", key)
	}
	n, err := coerceInt(v)
	if err != nil {
		return 0, fail("%s must be an integer", key)
	}
	return n, nil
}

// coerceInt accepts numeric fields sent as JSON strings (e.g. issue_number
// or build.pr quoted by a shell-script caller).
func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
