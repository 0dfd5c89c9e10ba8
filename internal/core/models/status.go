// SPDX-License-Identifier: Apache-2.0

package models

import "fmt"

// ExecutionMode is how a proposal may be carried out.
type ExecutionMode string

const (
	ModeSuggestOnly      ExecutionMode = "suggest_only"
	ModeAutoIfSafe       ExecutionMode = "auto_if_safe"
	ModeRequiresApproval ExecutionMode = "requires_approval"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSuggestOnly, ModeAutoIfSafe, ModeRequiresApproval:
		return true
	}
	return false
}

// RiskLevel is the upstream engine's risk classification of a recommendation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// GateLayer names one of the four write-gate authorization layers.
type GateLayer string

const (
	LayerGlobalEnabled  GateLayer = "global_enabled"
	LayerToolAllowlist  GateLayer = "tool_allowlist"
	LayerScopeAllowlist GateLayer = "scope_allowlist"
	LayerThreshold      GateLayer = "threshold"
)

// GateLayerOrder is the fixed evaluation order. BlockedAt always names the
// first failing layer in this order.
var GateLayerOrder = []GateLayer{
	LayerGlobalEnabled,
	LayerToolAllowlist,
	LayerScopeAllowlist,
	LayerThreshold,
}

// ApprovalStatus is the lifecycle state of an ApprovalRecord.
type ApprovalStatus string

const (
	ApprovalDraft     ApprovalStatus = "DRAFT"
	ApprovalSubmitted ApprovalStatus = "SUBMITTED"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalExecuted  ApprovalStatus = "EXECUTED"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalDraft, ApprovalSubmitted, ApprovalApproved, ApprovalRejected, ApprovalExecuted:
		return true
	}
	return false
}

var terminalApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalRejected: true,
	ApprovalExecuted: true,
}

var validApprovalTransitions = map[ApprovalStatus]map[ApprovalStatus]bool{
	ApprovalDraft: {
		ApprovalSubmitted: true,
	},
	ApprovalSubmitted: {
		ApprovalApproved: true,
		ApprovalRejected: true,
	},
	ApprovalApproved: {
		ApprovalExecuted: true,
	},
}

// IsApprovalTerminal reports whether a record in status s is immutable.
func IsApprovalTerminal(s ApprovalStatus) bool {
	return terminalApprovalStatuses[s]
}

// ValidateApprovalTransition checks one lifecycle step. Illegal transitions
// are hard errors, never silent no-ops.
func ValidateApprovalTransition(from, to ApprovalStatus) error {
	if IsApprovalTerminal(from) {
		return fmt.Errorf("cannot transition from terminal approval status %q", from)
	}
	allowed, ok := validApprovalTransitions[from]
	if !ok {
		return fmt.Errorf("unknown approval status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid approval transition: %q -> %q", from, to)
	}
	return nil
}

// ActionKind separates read/analyze steps from side-effecting write steps.
type ActionKind string

const (
	KindRead  ActionKind = "read"
	KindWrite ActionKind = "write"
)

// ActionStatus is one planned step's outcome.
type ActionStatus string

const (
	ActionExecuted  ActionStatus = "EXECUTED"
	ActionSimulated ActionStatus = "SIMULATED"
	ActionBlocked   ActionStatus = "BLOCKED"
	ActionFailed    ActionStatus = "FAILED"
)

// RunMode is the execution strategy that produced a result.
type RunMode string

const (
	RunModeDryRun    RunMode = "dry_run"
	RunModeRealWrite RunMode = "real_write"
)

// ReceiptStatus is the per-attempt status recorded in the receipt log.
type ReceiptStatus string

const (
	ReceiptDenied        ReceiptStatus = "DENIED"
	ReceiptDryRunApplied ReceiptStatus = "DRY_RUN_APPLIED"
	ReceiptApplied       ReceiptStatus = "APPLIED"
	ReceiptError         ReceiptStatus = "ERROR"
)
