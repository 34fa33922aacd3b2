// Package r6 assembles the request envelope that precedes every audit
// record: Rules, Role, Request, Reference, Resource. An R6Request is
// immutable once built and carries everything the AuditChain needs to
// describe a tool call without re-deriving it from the original params.
package r6

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opengovern/sentinel/internal/classify"
	"github.com/opengovern/sentinel/internal/hashutil"
)

// AuditLevel controls how much detail a downstream consumer should expect
// alongside the audit record.
type AuditLevel string

const (
	AuditMinimal  AuditLevel = "minimal"
	AuditStandard AuditLevel = "standard"
	AuditVerbose  AuditLevel = "verbose"
)

// BindingType identifies how the acting role is bound to its session.
// Sentinel only ever produces soft-lct bindings — a session-scoped
// keypair with no hardware backing.
const BindingType = "soft-lct"

// Rules carries the audit level, any constraint strings produced during
// policy evaluation, and the policy bundle under which this request was
// decided.
type Rules struct {
	AuditLevel     AuditLevel `json:"auditLevel"`
	Constraints    []string   `json:"constraints,omitempty"`
	PolicyEntityID string     `json:"policyEntityId"`
}

// Role identifies who is acting: the session, an optional upstream agent
// identifier, the position of this call within the session, and how the
// role is bound to its credentials.
type Role struct {
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId,omitempty"`
	ActionIndex uint64 `json:"actionIndex"`
	BindingType string `json:"bindingType"`
}

// Request describes the tool call itself.
type Request struct {
	ToolName  string            `json:"toolName"`
	Category  classify.Category `json:"category"`
	Target    string            `json:"target,omitempty"`
	Targets   []string          `json:"targets,omitempty"`
	InputHash string            `json:"inputHash"`
}

// Reference links this request to the previous one in the session's
// chain, and records its position.
type Reference struct {
	SessionID     string `json:"sessionId"`
	PreviousR6ID  string `json:"previousR6Id,omitempty"`
	ChainPosition uint64 `json:"chainPosition"`
}

// Resource estimates the cost/impact of the call and whether it needs
// human approval before proceeding.
type Resource struct {
	EstimatedTokens  int  `json:"estimatedTokens,omitempty"`
	ApprovalRequired bool `json:"approvalRequired"`
}

// R6Request is the immutable envelope built once per tool call, before
// the AuditChain records its result.
type R6Request struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Rules     Rules     `json:"rules"`
	Role      Role      `json:"role"`
	Request   Request   `json:"request"`
	Reference Reference `json:"reference"`
	Resource  Resource  `json:"resource"`
}

// BuildParams carries everything needed to assemble an R6Request. It
// exists because the constructor has more fields than is comfortable as
// positional arguments.
type BuildParams struct {
	SessionID        string
	AgentID          string
	ActionIndex      uint64
	PreviousR6ID     string
	ToolName         string
	Category         classify.Category
	Target           string
	Targets          []string
	Params           map[string]any
	PolicyEntityID   string
	Constraints      []string
	AuditLevel       AuditLevel
	EstimatedTokens  int
	ApprovalRequired bool
}

// New assembles an R6Request from the given parameters, generating a
// fresh id and computing the input hash over the tool call's params.
func New(p BuildParams) (R6Request, error) {
	id := NewID()

	inputHash, err := InputHash(p.Params)
	if err != nil {
		return R6Request{}, fmt.Errorf("hashing r6 input: %w", err)
	}

	auditLevel := p.AuditLevel
	if auditLevel == "" {
		auditLevel = AuditStandard
	}

	return R6Request{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Rules: Rules{
			AuditLevel:     auditLevel,
			Constraints:    p.Constraints,
			PolicyEntityID: p.PolicyEntityID,
		},
		Role: Role{
			SessionID:   p.SessionID,
			AgentID:     p.AgentID,
			ActionIndex: p.ActionIndex,
			BindingType: BindingType,
		},
		Request: Request{
			ToolName:  p.ToolName,
			Category:  p.Category,
			Target:    p.Target,
			Targets:   p.Targets,
			InputHash: inputHash,
		},
		Reference: Reference{
			SessionID:     p.SessionID,
			PreviousR6ID:  p.PreviousR6ID,
			ChainPosition: p.ActionIndex,
		},
		Resource: Resource{
			EstimatedTokens:  p.EstimatedTokens,
			ApprovalRequired: p.ApprovalRequired,
		},
	}, nil
}

// NewID generates a random 8-char identifier prefixed "r6:". A fresh
// UUIDv4 supplies the entropy; its first 8 hex digits (with hyphens
// stripped) become the suffix.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "r6:" + raw[:8]
}

// InputHash computes the first 16 hex chars of SHA-256 over the
// canonical JSON encoding of params. A nil params map hashes the same
// as an empty object, so callers don't need to special-case it.
func InputHash(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return hashutil.Short(data), nil
}

// AuditRecordID derives the audit record id from this request's id: the
// "r6:" prefix is replaced with "audit:".
func (r R6Request) AuditRecordID() string {
	return "audit:" + r.ID[len("r6:"):]
}
