// SPDX-License-Identifier: Apache-2.0

package models

import (
	"math"
	"time"
)

// Recommendation is the inbound unit from the upstream analysis engine: one
// proposed remedial action, not yet validated or authorized.
type Recommendation struct {
	ActionID      string                 `json:"action_id" yaml:"action_id"`
	Parameters    map[string]interface{} `json:"parameters" yaml:"parameters"`
	RiskLevel     RiskLevel              `json:"risk_level" yaml:"risk_level"`
	ExecutionMode ExecutionMode          `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty"`
}

// Linkage ties a proposal back to the upstream analysis that produced it.
type Linkage struct {
	TraceID       string `json:"trace_id" yaml:"trace_id"`
	ObservationID string `json:"observation_id" yaml:"observation_id"`
	CauseID       string `json:"cause_id,omitempty" yaml:"cause_id,omitempty"`
	RuleVersion   string `json:"rule_version" yaml:"rule_version"`
}

// EvidenceRef points at one evidence snapshot that justified a proposal.
type EvidenceRef struct {
	Name string `json:"name" yaml:"name"`
	Ref  string `json:"ref" yaml:"ref"`
}

// ActionProposal is the unit of work carried through the pipeline. It is
// created once by the proposal builder and passed by value through every
// later stage; nothing downstream mutates it.
type ActionProposal struct {
	ProposalID    string                 `json:"proposal_id" yaml:"proposal_id"`
	TraceID       string                 `json:"trace_id" yaml:"trace_id"`
	ObservationID string                 `json:"observation_id" yaml:"observation_id"`
	CauseID       string                 `json:"cause_id,omitempty" yaml:"cause_id,omitempty"`
	ActionID      string                 `json:"action_id" yaml:"action_id"`
	RuleVersion   string                 `json:"rule_version" yaml:"rule_version"`
	ExecutionMode ExecutionMode          `json:"execution_mode" yaml:"execution_mode"`
	RiskLevel     RiskLevel              `json:"risk_level" yaml:"risk_level"`
	Params        map[string]interface{} `json:"params" yaml:"params"`
	EvidenceRefs  []EvidenceRef          `json:"evidence_refs,omitempty" yaml:"evidence_refs,omitempty"`
	DryRun        bool                   `json:"dry_run" yaml:"dry_run"`

	// Fingerprint is deterministic over (trace_id, action_id, params) so a
	// re-run of the same recommendation resolves to the same approval record.
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// EligibilityResult reports whether live signal values justify the action
// under the named risk profile. Computed fresh per check, never persisted on
// its own.
type EligibilityResult struct {
	Eligible bool     `json:"eligible" yaml:"eligible"`
	Reasons  []string `json:"reasons" yaml:"reasons"`
	Profile  string   `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// SafetyCheckResult carries every safety-limit violation, not just the first.
type SafetyCheckResult struct {
	Safe       bool     `json:"safe" yaml:"safe"`
	Violations []string `json:"violations" yaml:"violations"`
}

// LayerCheck is one write-gate layer's verdict.
type LayerCheck struct {
	Passed bool   `json:"passed" yaml:"passed"`
	Reason string `json:"reason" yaml:"reason"`
}

// WriteGateResult is the full four-layer authorization report. BlockedAt is
// the first failing layer in gate order; Checks always holds all four layers
// so a denial is auditable without re-running the gate.
type WriteGateResult struct {
	Allowed   bool                     `json:"allowed" yaml:"allowed"`
	BlockedAt GateLayer                `json:"blocked_at,omitempty" yaml:"blocked_at,omitempty"`
	Reason    string                   `json:"reason" yaml:"reason"`
	Checks    map[GateLayer]LayerCheck `json:"checks" yaml:"checks"`
}

// ApprovalRecord tracks human (or system auto-policy) sign-off for one
// proposal. Terminal records are immutable; re-submission after rejection
// creates a new record with Supersedes set to the rejected one.
type ApprovalRecord struct {
	ID          string         `json:"id" yaml:"id"`
	ProposalID  string         `json:"proposal_id" yaml:"proposal_id"`
	Fingerprint string         `json:"fingerprint" yaml:"fingerprint"`
	TraceID     string         `json:"trace_id" yaml:"trace_id"`
	ActionID    string         `json:"action_id" yaml:"action_id"`
	Status      ApprovalStatus `json:"status" yaml:"status"`
	Reviewer    string         `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Comment     string         `json:"comment,omitempty" yaml:"comment,omitempty"`
	Supersedes  string         `json:"supersedes,omitempty" yaml:"supersedes,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
	ExecutedAt  *time.Time     `json:"executed_at,omitempty" yaml:"executed_at,omitempty"`
}

// ScopeRef names the ad-platform entities an action touches. Empty fields
// mean the action does not target that level.
type ScopeRef struct {
	TenantID   string `json:"tenant_id" yaml:"tenant_id"`
	ProfileID  string `json:"profile_id,omitempty" yaml:"profile_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	AdGroupID  string `json:"adgroup_id,omitempty" yaml:"adgroup_id,omitempty"`
}

// BidDelta describes a proposed bid change for threshold checks.
type BidDelta struct {
	Old float64 `json:"old" yaml:"old"`
	New float64 `json:"new" yaml:"new"`
}

// Absolute returns the absolute size of the change in currency units.
func (d BidDelta) Absolute() float64 {
	return math.Abs(d.New - d.Old)
}

// Relative returns the change as a fraction of the old bid. A zero old bid
// counts as an unbounded relative change.
func (d BidDelta) Relative() float64 {
	if d.Old == 0 {
		return math.Inf(1)
	}
	return math.Abs(d.New-d.Old) / math.Abs(d.Old)
}

// PlannedAction is one concrete step of an execution plan, fully resolved:
// the remote tool to invoke, its arguments, and the bookkeeping the engines
// need (scope for gating, counter binding, content hash).
type PlannedAction struct {
	ID         string                 `json:"id" yaml:"id"`
	Tool       string                 `json:"tool" yaml:"tool"`
	Kind       ActionKind             `json:"kind" yaml:"kind"`
	Arguments  map[string]interface{} `json:"arguments" yaml:"arguments"`
	Scope      ScopeRef               `json:"scope" yaml:"scope"`
	ActionHash string                 `json:"action_hash" yaml:"action_hash"`

	// CounterKey and CounterCost bind the step to a per-day safety counter.
	// A zero cost means the step does not consume counter budget.
	CounterKey  string `json:"counter_key,omitempty" yaml:"counter_key,omitempty"`
	CounterCost int    `json:"counter_cost,omitempty" yaml:"counter_cost,omitempty"`

	// BidDelta is set only for magnitude-bearing steps.
	BidDelta *BidDelta `json:"bid_delta,omitempty" yaml:"bid_delta,omitempty"`
}

// ExecutionPlan is the ordered list of steps derived from one proposal.
// Engines process it strictly in order.
type ExecutionPlan struct {
	RunID          string          `json:"run_id" yaml:"run_id"`
	ProposalID     string          `json:"proposal_id" yaml:"proposal_id"`
	TraceID        string          `json:"trace_id" yaml:"trace_id"`
	ActionID       string          `json:"action_id" yaml:"action_id"`
	RiskLevel      RiskLevel       `json:"risk_level" yaml:"risk_level"`
	IdempotencyKey string          `json:"idempotency_key" yaml:"idempotency_key"`
	Actions        []PlannedAction `json:"actions" yaml:"actions"`
}

// PerActionResult is one step's outcome inside an ExecutionResult.
type PerActionResult struct {
	ActionID string                 `json:"action_id" yaml:"action_id"`
	Tool     string                 `json:"tool" yaml:"tool"`
	Kind     ActionKind             `json:"kind" yaml:"kind"`
	Status   ActionStatus           `json:"status" yaml:"status"`
	Reason   string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
	Gate     *WriteGateResult       `json:"gate,omitempty" yaml:"gate,omitempty"`
	Response map[string]interface{} `json:"response,omitempty" yaml:"response,omitempty"`
	Error    string                 `json:"error,omitempty" yaml:"error,omitempty"`

	// Replayed marks an idempotent short-circuit: a prior successful attempt
	// with the same key and hash was reported instead of calling again.
	Replayed bool `json:"replayed,omitempty" yaml:"replayed,omitempty"`
}

// ExecutionSummary counts step outcomes for one plan.
type ExecutionSummary struct {
	Total     int `json:"total" yaml:"total"`
	Executed  int `json:"executed" yaml:"executed"`
	Simulated int `json:"simulated" yaml:"simulated"`
	Blocked   int `json:"blocked" yaml:"blocked"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Guarantee is the engine's own attestation of what it did on the wire.
// Dry-run engines must report NoRealWrite=true and zero attempts for every
// input, including plans made only of write steps.
type Guarantee struct {
	NoRealWrite         bool `json:"no_real_write" yaml:"no_real_write"`
	WriteCallsAttempted int  `json:"write_calls_attempted" yaml:"write_calls_attempted"`
	WriteCallsSucceeded int  `json:"write_calls_succeeded" yaml:"write_calls_succeeded"`
}

// RollbackAction is the derived inverse of one successful write, valid until
// ExpiresAt. Expired rollbacks must be rejected, never attempted.
type RollbackAction struct {
	RollbackFor      string                 `json:"rollback_for" yaml:"rollback_for"`
	OriginalActionID string                 `json:"original_action_id" yaml:"original_action_id"`
	Tool             string                 `json:"tool" yaml:"tool"`
	Arguments        map[string]interface{} `json:"arguments" yaml:"arguments"`
	ExpiresAt        time.Time              `json:"expires_at" yaml:"expires_at"`
}

// ExecutionResult is the single result shape both engines produce.
type ExecutionResult struct {
	Mode            RunMode           `json:"mode" yaml:"mode"`
	RunID           string            `json:"run_id" yaml:"run_id"`
	ProposalID      string            `json:"proposal_id" yaml:"proposal_id"`
	Summary         ExecutionSummary  `json:"summary" yaml:"summary"`
	Actions         []PerActionResult `json:"actions" yaml:"actions"`
	RollbackActions []RollbackAction  `json:"rollback_actions,omitempty" yaml:"rollback_actions,omitempty"`
	Guarantee       Guarantee         `json:"guarantee" yaml:"guarantee"`
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time         `json:"finished_at" yaml:"finished_at"`
}

// Receipt is one line of the append-only attempt log.
type Receipt struct {
	Timestamp  time.Time     `json:"timestamp" yaml:"timestamp"`
	RunID      string        `json:"run_id" yaml:"run_id"`
	ActionHash string        `json:"action_hash" yaml:"action_hash"`
	ActionType string        `json:"action_type" yaml:"action_type"`
	Status     ReceiptStatus `json:"status" yaml:"status"`
	Reason     string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Tier       string        `json:"tier" yaml:"tier"`
	PolicyID   string        `json:"policy_id" yaml:"policy_id"`
}
