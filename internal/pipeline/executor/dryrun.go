// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// DryRunEngine simulates a plan without any remote calls. Write actions are
// reported BLOCKED and never invoked; read actions get a synthetic response
// that is labeled as simulated. The guarantee holds for every input plan,
// including plans made only of writes.
type DryRunEngine struct {
	policyID string
	receipts ReceiptAppender
	logger   *slog.Logger
	now      func() time.Time
}

// NewDryRunEngine creates a dry-run engine. The receipt appender may be nil
// when no audit stream is wanted (tests).
func NewDryRunEngine(policyID string, receipts ReceiptAppender, logger *slog.Logger) *DryRunEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunEngine{
		policyID: policyID,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute walks the plan in order and simulates every action. It performs no
// network I/O of any kind and always returns a nil error.
func (e *DryRunEngine) Execute(ctx context.Context, req Request) (models.ExecutionResult, error) {
	plan := req.Plan
	result := models.ExecutionResult{
		Mode:       models.RunModeDryRun,
		RunID:      plan.RunID,
		ProposalID: plan.ProposalID,
		Guarantee: models.Guarantee{
			NoRealWrite:         true,
			WriteCallsAttempted: 0,
			WriteCallsSucceeded: 0,
		},
		StartedAt: e.now().UTC(),
	}

	for _, action := range plan.Actions {
		res := models.PerActionResult{
			ActionID: action.ID,
			Tool:     action.Tool,
			Kind:     action.Kind,
		}
		switch action.Kind {
		case models.KindWrite:
			res.Status = models.ActionBlocked
			res.Reason = "write withheld: dry-run performs no remote calls"
		default:
			res.Status = models.ActionSimulated
			res.Response = map[string]interface{}{
				"simulated": true,
				"tool":      action.Tool,
			}
		}
		result.Actions = append(result.Actions, res)
		tally(&result.Summary, res.Status)
		e.appendReceipt(plan, action, res.Reason)
	}

	result.FinishedAt = e.now().UTC()
	return result, nil
}

// appendReceipt logs one DRY_RUN_APPLIED line. Every dry-run attempt gets the
// same status; what would have happened lives in the reason and the result.
func (e *DryRunEngine) appendReceipt(plan models.ExecutionPlan, action models.PlannedAction, reason string) {
	if e.receipts == nil {
		return
	}
	rec := ReceiptFor(plan, action, models.ReceiptDryRunApplied, reason, e.policyID, e.now().UTC())
	if err := e.receipts.Append(rec); err != nil {
		e.logger.Error("error appending dry-run receipt",
			"run_id", plan.RunID, "action_id", action.ID, "error", err)
	}
}
