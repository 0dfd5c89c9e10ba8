// SPDX-License-Identifier: Apache-2.0

// Package rollback derives inverse actions from executed writes and guards
// their validity window. A write whose response cannot be inverted is a
// risk-acceptance event: it is logged loudly and carried without a rollback,
// never silently dropped.
package rollback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// Plan is the persisted rollback document for one run. Scope and risk level
// travel with the plan because the inverse arguments alone do not identify
// the tenant, and a later rollback execution still has to pass the gate.
type Plan struct {
	RunID      string                  `json:"run_id" yaml:"run_id"`
	ProposalID string                  `json:"proposal_id" yaml:"proposal_id"`
	RiskLevel  models.RiskLevel        `json:"risk_level" yaml:"risk_level"`
	Scope      models.ScopeRef         `json:"scope" yaml:"scope"`
	CreatedAt  time.Time               `json:"created_at" yaml:"created_at"`
	Actions    []models.RollbackAction `json:"actions" yaml:"actions"`
}

// Builder maps executed writes back to their semantic inverses.
type Builder struct {
	registry *actionspec.Registry
	window   time.Duration
	logger   *slog.Logger
}

// NewBuilder creates a builder. The window bounds how long derived rollbacks
// stay executable.
func NewBuilder(registry *actionspec.Registry, window time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		registry: registry,
		window:   window,
		logger:   logger,
	}
}

// Build derives one rollback action per successfully executed write. The
// expiry window starts at executedAt, not at build time, so replayed results
// do not extend their own rollback lifetime.
func (b *Builder) Build(plan models.ExecutionPlan, results []models.PerActionResult, executedAt time.Time) []models.RollbackAction {
	spec, ok := b.registry.Get(plan.ActionID)
	if !ok {
		b.logger.Error("no action spec for rollback synthesis", "action_id", plan.ActionID)
		return nil
	}

	planned := make(map[string]models.PlannedAction, len(plan.Actions))
	for _, action := range plan.Actions {
		planned[action.ID] = action
	}

	expiresAt := executedAt.UTC().Add(b.window)
	var out []models.RollbackAction
	for _, res := range results {
		if res.Status != models.ActionExecuted || res.Kind != models.KindWrite {
			continue
		}
		// A replayed result already produced its rollback in the original
		// run; minting another here would extend the expiry window.
		if res.Replayed {
			continue
		}
		action, ok := planned[res.ActionID]
		if !ok {
			continue
		}
		step, ok := stepForTool(spec, action.Tool)
		if !ok || step.Inverse == nil {
			b.logger.Warn("write has no inverse mapping, rollback skipped",
				"run_id", plan.RunID, "action_id", res.ActionID, "tool", action.Tool)
			continue
		}
		tool, args, ok := step.Inverse(action.Arguments, res.Response)
		if !ok {
			b.logger.Warn("response lacks rollback identifier, write accepted without rollback",
				"run_id", plan.RunID, "action_id", res.ActionID, "tool", action.Tool)
			continue
		}
		out = append(out, models.RollbackAction{
			RollbackFor:      plan.ActionID,
			OriginalActionID: res.ActionID,
			Tool:             tool,
			Arguments:        args,
			ExpiresAt:        expiresAt,
		})
	}
	return out
}

// ValidateExecutable rejects expired rollback actions. Remote state may have
// drifted past the window; a stale inverse is worse than none.
func ValidateExecutable(action models.RollbackAction, now time.Time) error {
	if now.After(action.ExpiresAt) {
		return fmt.Errorf("rollback for action %q expired at %s",
			action.OriginalActionID, action.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func stepForTool(spec actionspec.Spec, tool string) (actionspec.StepSpec, bool) {
	for _, step := range spec.Steps {
		if step.Tool == tool {
			return step, true
		}
	}
	return actionspec.StepSpec{}, false
}
