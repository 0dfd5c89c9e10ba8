// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/liyecom/liye-ai-sub006/internal/core/canon"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/gate"
	"github.com/liyecom/liye-ai-sub006/internal/pipeline/executor"
	"github.com/liyecom/liye-ai-sub006/internal/rollback"
)

// RollbackOutcome is one inverse action's result.
type RollbackOutcome struct {
	OriginalActionID string                  `json:"original_action_id" yaml:"original_action_id"`
	Tool             string                  `json:"tool" yaml:"tool"`
	Status           models.ActionStatus     `json:"status" yaml:"status"`
	Reason           string                  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Gate             *models.WriteGateResult `json:"gate,omitempty" yaml:"gate,omitempty"`
	Response         map[string]interface{}  `json:"response,omitempty" yaml:"response,omitempty"`
	Error            string                  `json:"error,omitempty" yaml:"error,omitempty"`
}

// RollbackReport summarizes one rollback plan execution.
type RollbackReport struct {
	RunID      string            `json:"run_id" yaml:"run_id"`
	ProposalID string            `json:"proposal_id" yaml:"proposal_id"`
	Mode       models.RunMode    `json:"mode" yaml:"mode"`
	Reverted   int               `json:"reverted" yaml:"reverted"`
	Blocked    int               `json:"blocked" yaml:"blocked"`
	Failed     int               `json:"failed" yaml:"failed"`
	Outcomes   []RollbackOutcome `json:"outcomes" yaml:"outcomes"`
}

// ExecuteRollback runs a persisted rollback plan. An inverse write faces the
// same gate as a forward write, and an action past its expiry window is
// rejected without a remote call: remote state may have drifted, and a stale
// inverse is worse than none.
func (p *Pipeline) ExecuteRollback(ctx context.Context, plan rollback.Plan, realWrite bool) (RollbackReport, error) {
	if realWrite && p.caller == nil {
		return RollbackReport{}, fmt.Errorf("real-write rollback requires a remote endpoint; none is configured")
	}

	mode := models.RunModeDryRun
	if realWrite {
		mode = models.RunModeRealWrite
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.rollback",
		trace.WithAttributes(
			attribute.String("run.id", plan.RunID),
			attribute.String("run.mode", string(mode)),
			attribute.Int("rollback.actions", len(plan.Actions)),
		))
	defer span.End()

	report := RollbackReport{RunID: plan.RunID, ProposalID: plan.ProposalID, Mode: mode}
	for _, action := range plan.Actions {
		out := p.rollbackOne(ctx, plan, action, realWrite)
		switch out.Status {
		case models.ActionExecuted:
			report.Reverted++
		case models.ActionBlocked:
			report.Blocked++
		case models.ActionFailed:
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report, nil
}

func (p *Pipeline) rollbackOne(ctx context.Context, plan rollback.Plan, action models.RollbackAction, realWrite bool) RollbackOutcome {
	out := RollbackOutcome{OriginalActionID: action.OriginalActionID, Tool: action.Tool}
	actionType := "rollback:" + action.RollbackFor

	hash, err := canon.Hash(map[string]interface{}{
		"tool":      action.Tool,
		"arguments": action.Arguments,
	})
	if err != nil {
		out.Status = models.ActionFailed
		out.Error = fmt.Sprintf("error hashing rollback action: %v", err)
		return out
	}
	planned := models.PlannedAction{
		ID:         action.OriginalActionID + "-rollback",
		Tool:       action.Tool,
		Kind:       models.KindWrite,
		Arguments:  action.Arguments,
		Scope:      plan.Scope,
		ActionHash: hash,
	}

	if err := rollback.ValidateExecutable(action, p.now().UTC()); err != nil {
		out.Status = models.ActionBlocked
		out.Reason = err.Error()
		status := models.ReceiptDenied
		if !realWrite {
			status = models.ReceiptDryRunApplied
		}
		p.rollbackReceipt(plan, planned, actionType, status, out.Reason)
		return out
	}

	if !realWrite {
		out.Status = models.ActionSimulated
		out.Reason = "dry-run: rollback previewed, no remote call"
		p.rollbackReceipt(plan, planned, actionType, models.ReceiptDryRunApplied, out.Reason)
		return out
	}

	g := gate.Evaluate(p.pol, planned)
	out.Gate = &g
	if !g.Allowed {
		out.Status = models.ActionBlocked
		out.Reason = g.Reason
		p.rollbackReceipt(plan, planned, actionType, models.ReceiptDenied, g.Reason)
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, p.pol.Remote.Timeout())
	defer cancel()
	resp, err := p.caller.Call(callCtx, planned.Tool, planned.Arguments)
	if err != nil {
		out.Status = models.ActionFailed
		out.Error = err.Error()
		p.rollbackReceipt(plan, planned, actionType, models.ReceiptError, out.Error)
		return out
	}

	out.Status = models.ActionExecuted
	out.Response = resp
	p.rollbackReceipt(plan, planned, actionType, models.ReceiptApplied, "")
	return out
}

func (p *Pipeline) rollbackReceipt(plan rollback.Plan, planned models.PlannedAction, actionType string, status models.ReceiptStatus, reason string) {
	if p.receipts == nil {
		return
	}
	rec := models.Receipt{
		Timestamp:  p.now().UTC(),
		RunID:      plan.RunID,
		ActionHash: planned.ActionHash,
		ActionType: actionType,
		Status:     status,
		Reason:     reason,
		Tier:       executor.RiskTier(plan.RiskLevel),
		PolicyID:   p.pol.ID(),
	}
	if err := p.receipts.Append(rec); err != nil {
		p.logger.Error("error appending rollback receipt", "run_id", plan.RunID, "action_id", planned.ID, "error", err)
	}
}
