// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/canon"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/safety"
)

// BuildPlan expands a validated proposal into the concrete per-step action
// list the execution engines consume. Step IDs, action hashes and counter
// keys are deterministic over the proposal, so re-running the same
// recommendation yields an identical plan.
func BuildPlan(runID string, prop models.ActionProposal, spec actionspec.Spec, pol *policy.Policy, idempotencyKey string, now time.Time) (models.ExecutionPlan, error) {
	scope := actionspec.ScopeFromParams(prop.Params)
	plan := models.ExecutionPlan{
		RunID:          runID,
		ProposalID:     prop.ProposalID,
		TraceID:        prop.TraceID,
		ActionID:       prop.ActionID,
		RiskLevel:      prop.RiskLevel,
		IdempotencyKey: idempotencyKey,
	}

	for i, step := range spec.Steps {
		args, err := step.BuildArgs(prop.Params)
		if err != nil {
			return models.ExecutionPlan{}, fmt.Errorf("error building arguments for step %d (%s): %w", i+1, step.Tool, err)
		}

		hash, err := canon.Hash(map[string]interface{}{
			"tool":      step.Tool,
			"arguments": args,
		})
		if err != nil {
			return models.ExecutionPlan{}, fmt.Errorf("error hashing step %d (%s): %w", i+1, step.Tool, err)
		}

		action := models.PlannedAction{
			ID:         fmt.Sprintf("%s-step-%d", prop.ProposalID, i+1),
			Tool:       step.Tool,
			Kind:       step.Kind,
			Arguments:  args,
			Scope:      scope,
			ActionHash: hash,
		}
		if cost := step.CostOf(spec, prop.Params); cost > 0 {
			action.CounterKey = safety.DayKey(pol.Counters.KeyPrefix, step.CounterName, scope.TenantID, now)
			action.CounterCost = cost
		}
		if step.BidDelta != nil {
			action.BidDelta = step.BidDelta(prop.Params)
		}
		plan.Actions = append(plan.Actions, action)
	}
	return plan, nil
}
