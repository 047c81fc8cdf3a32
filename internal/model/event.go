// Package model defines the canonical, storage-ready shape of a relay event.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the agent role emitting an event.
type Role string

const (
	RoleQA     Role = "QA"
	RoleDev    Role = "DEV"
	RolePM     Role = "PM"
	RoleMentor Role = "MENTOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleQA, RoleDev, RolePM, RoleMentor:
		return true
	}
	return false
}

// Environment is the optional deployment target an event pertains to.
type Environment string

const (
	EnvPreview    Environment = "preview"
	EnvProduction Environment = "production"
	EnvDev        Environment = "dev"
)

func (e Environment) Valid() bool {
	switch e {
	case "", EnvPreview, EnvProduction, EnvDev:
		return true
	}
	return false
}

// Verdict is the closed tagged enum of overall outcomes. FAIL_UNCONFIRMED is
// accepted from callers verbatim but is never produced by the downgrade rule
// in package provenance.
type Verdict string

const (
	VerdictPass            Verdict = "PASS"
	VerdictFail            Verdict = "FAIL"
	VerdictBlocked         Verdict = "BLOCKED"
	VerdictPassUnverified  Verdict = "PASS_UNVERIFIED"
	VerdictFailUnconfirmed Verdict = "FAIL_UNCONFIRMED"
)

func (v Verdict) Valid() bool {
	switch v {
	case "", VerdictPass, VerdictFail, VerdictBlocked, VerdictPassUnverified, VerdictFailUnconfirmed:
		return true
	}
	return false
}

// RequiresSeverity reports whether this verdict carries the FAIL/BLOCKED
// conditional-required fields (severity, repro_steps, expected, actual).
func (v Verdict) RequiresSeverity() bool {
	return v == VerdictFail || v == VerdictBlocked
}

// Severity is required iff the verdict is FAIL or BLOCKED.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityP0, SeverityP1, SeverityP2, SeverityP3:
		return true
	}
	return false
}

// ScopeStatus is the per-scope-result outcome.
type ScopeStatus string

const (
	ScopePass    ScopeStatus = "PASS"
	ScopeFail    ScopeStatus = "FAIL"
	ScopeSkipped ScopeStatus = "SKIPPED"
)

func (s ScopeStatus) Valid() bool {
	switch s {
	case ScopePass, ScopeFail, ScopeSkipped:
		return true
	}
	return false
}

// Build carries the reported commit and, optionally, the PR it belongs to.
// Provenance verification is only applicable when both fields are present.
type Build struct {
	CommitSHA string `json:"commit_sha,omitempty"`
	PR        int    `json:"pr,omitempty"`
}

// ScopeResult is a single named check within a larger event.
type ScopeResult struct {
	ID     string      `json:"id"`
	Status ScopeStatus `json:"status"`
	Notes  string      `json:"notes,omitempty"`
}

// Event is the canonical, normalized, append-only event record. Field order
// here IS the canonicalization order: json.Marshal on this struct always
// serializes fields in declaration order, which is what makes payload_hash
// deterministic and byte-for-byte stable across resubmission of the same
// logical event. The raw JSON fields (Details, Artifacts) are emitted as
// stored; package validate builds them with json.Marshal from decoded maps,
// and encoding/json emits map keys in sorted order.
type Event struct {
	EventID        string          `json:"event_id"`
	Repo           string          `json:"repo"`
	IssueNumber    int             `json:"issue_number"`
	EventType      string          `json:"event_type"`
	Role           Role            `json:"role"`
	Agent          string          `json:"agent"`
	Environment    Environment     `json:"environment,omitempty"`
	OverallVerdict Verdict         `json:"overall_verdict,omitempty"`
	Build          *Build          `json:"build,omitempty"`
	ScopeResults   []ScopeResult   `json:"scope_results,omitempty"`
	Severity       Severity        `json:"severity,omitempty"`
	ReproSteps     string          `json:"repro_steps,omitempty"`
	Expected       string          `json:"expected,omitempty"`
	Actual         string          `json:"actual,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	EvidenceURLs   []string        `json:"evidence_urls,omitempty"`
	Artifacts      json.RawMessage `json:"artifacts,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// Canonicalize serializes the event to its canonical JSON form. The caller
// must have already run the event through package validate so that field
// coercions (string->int, SHA lowercasing) are applied before hashing.
func (e *Event) Canonicalize() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event %s: %w", e.EventID, err)
	}
	return b, nil
}

// PayloadHash computes the SHA-256 hex digest of the canonical payload.
func PayloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// StoredEvent wraps an Event with the bookkeeping columns the store attaches
// at insert time. CreatedAt and PayloadHash/PayloadJSON are never part of the
// canonical serialization used for hashing -- CreatedAt because it is
// server-assigned and would make hashing non-deterministic across replays,
// PayloadHash/PayloadJSON because they are derived from it.
//
// EffectiveVerdict is tracked separately from Event.OverallVerdict: the hash
// and PayloadJSON are derived from the validated, normalized event as the
// caller submitted it, so a later provenance downgrade must never change
// payload_hash or break the guarantee that resubmitting the same logical
// event produces the same hash.
// EffectiveVerdict is what the rolling comment, label engine, and response
// actually use; it equals Event.OverallVerdict whenever no downgrade fired.
type StoredEvent struct {
	Event
	CreatedAt        time.Time
	PayloadHash      string
	PayloadJSON      []byte
	EffectiveVerdict Verdict
}
