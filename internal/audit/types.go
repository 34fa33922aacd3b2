// Package audit implements the hash-chained, append-only, per-session
// audit log. Every tool call produces exactly one AuditRecord, linked to
// the previous record by a hash of its exact serialized bytes and
// optionally signed with the session's Ed25519 key.
package audit

import "time"

// ResultStatus is the outcome of a tool call as recorded in an
// AuditRecord.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusBlocked ResultStatus = "blocked"
)

// Result carries the outcome of a tool call.
type Result struct {
	Status       ResultStatus `json:"status"`
	OutputHash   string       `json:"outputHash,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	DurationMs   int64        `json:"durationMs,omitempty"`
}

// Provenance ties a record to its session, position, and chain link.
type Provenance struct {
	SessionID      string `json:"sessionId"`
	ActionIndex    uint64 `json:"actionIndex"`
	PrevRecordHash string `json:"prevRecordHash"`
}

// Record is a single line of a session's audit log. Field order here is
// the field order written to disk — the wire format is part of the
// contract, not an implementation detail, since prevRecordHash is
// computed over these exact bytes.
type Record struct {
	RecordID     string     `json:"recordId"`
	R6RequestID  string     `json:"r6RequestId"`
	Timestamp    time.Time  `json:"timestamp"`
	Tool         string     `json:"tool"`
	Category     string     `json:"category"`
	Target       string     `json:"target,omitempty"`
	Targets      []string   `json:"targets,omitempty"`
	Result       Result     `json:"result"`
	Provenance   Provenance `json:"provenance"`
	Signature    string     `json:"signature,omitempty"`
	SigningKeyID string     `json:"signingKeyId,omitempty"`
}

// Genesis is the literal prevRecordHash of a session's first record.
const Genesis = "genesis"

// SignatureStats summarizes signature coverage across a verified log.
type SignatureStats struct {
	Signed     int `json:"signed"`
	Verified   int `json:"verified"`
	Invalid    int `json:"invalid"`
	Unverified int `json:"unverified"`
}

// VerifyResult is the outcome of walking a session's chain end to end.
type VerifyResult struct {
	Valid          bool           `json:"valid"`
	RecordCount    int            `json:"recordCount"`
	Errors         []string       `json:"errors"`
	SignatureStats SignatureStats `json:"signatureStats"`
}

// FilterCriteria selects a subset of one session's records.
type FilterCriteria struct {
	Tool     string
	Category string
	Status   ResultStatus
	Target   string // glob pattern, matched against Target/Targets.
	Since    string // ISO-8601 or relative "N(s|m|h|d)".
	Limit    int
}
