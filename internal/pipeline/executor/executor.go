// SPDX-License-Identifier: Apache-2.0

// Package executor holds the two execution strategies behind one interface:
// a dry-run engine that never touches the network and a real-write engine
// that calls the ads platform through the write gate. Both produce the same
// ExecutionResult shape so callers and tests stay strategy-agnostic.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// Request carries one compiled plan and the approval context it runs under.
// The dry-run engine ignores the approval; the real-write engine refuses to
// start without an APPROVED record.
type Request struct {
	Plan     models.ExecutionPlan
	Approval models.ApprovalRecord
}

// Engine executes one plan strictly in order: action i+1 only begins after
// action i resolves. A blocked or failed action never aborts the plan.
type Engine interface {
	Execute(ctx context.Context, req Request) (models.ExecutionResult, error)
}

// ReceiptAppender receives one audit line per attempt. The receipt logger
// implements it; tests substitute an in-memory collector.
type ReceiptAppender interface {
	Append(rec models.Receipt) error
}

// RiskTier maps a proposal risk level onto the receipt tier label.
func RiskTier(risk models.RiskLevel) string {
	return strings.ToLower(string(risk))
}

// ReceiptFor renders the audit line for one attempt outcome.
func ReceiptFor(plan models.ExecutionPlan, action models.PlannedAction, status models.ReceiptStatus, reason, policyID string, ts time.Time) models.Receipt {
	return models.Receipt{
		Timestamp:  ts,
		RunID:      plan.RunID,
		ActionHash: action.ActionHash,
		ActionType: plan.ActionID,
		Status:     status,
		Reason:     reason,
		Tier:       RiskTier(plan.RiskLevel),
		PolicyID:   policyID,
	}
}

func tally(sum *models.ExecutionSummary, status models.ActionStatus) {
	sum.Total++
	switch status {
	case models.ActionExecuted:
		sum.Executed++
	case models.ActionSimulated:
		sum.Simulated++
	case models.ActionBlocked:
		sum.Blocked++
	case models.ActionFailed:
		sum.Failed++
	}
}
