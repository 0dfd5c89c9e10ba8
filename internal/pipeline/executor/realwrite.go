// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/gate"
	"github.com/liyecom/liye-ai-sub006/internal/rollback"
	"github.com/liyecom/liye-ai-sub006/internal/safety"
)

// RealWriteConfig wires the real-write engine's collaborators.
type RealWriteConfig struct {
	Policy    *policy.Policy
	Caller    adsapi.Caller
	Attempts  approval.AttemptStore
	Counters  safety.CounterStore
	Rollbacks *rollback.Builder
	Receipts  ReceiptAppender
	Logger    *slog.Logger
}

// RealWriteEngine performs actual remote calls. Every write action passes
// through the write gate immediately before its call, reserves counter budget
// atomically, and runs under the policy's per-call deadline. At most one
// remote attempt is made per action; retries belong to the caller.
type RealWriteEngine struct {
	pol       *policy.Policy
	caller    adsapi.Caller
	attempts  approval.AttemptStore
	counters  safety.CounterStore
	rollbacks *rollback.Builder
	receipts  ReceiptAppender
	logger    *slog.Logger
	now       func() time.Time
}

// NewRealWriteEngine creates the engine. A missing caller is a configuration
// error: there is no safe way to run real writes without a remote endpoint.
func NewRealWriteEngine(cfg RealWriteConfig) (*RealWriteEngine, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("real-write engine requires a policy snapshot")
	}
	if cfg.Caller == nil {
		return nil, fmt.Errorf("real-write engine requires a remote caller")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RealWriteEngine{
		pol:       cfg.Policy,
		caller:    cfg.Caller,
		attempts:  cfg.Attempts,
		counters:  cfg.Counters,
		rollbacks: cfg.Rollbacks,
		receipts:  cfg.Receipts,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Execute runs the plan for real. The approval precondition is checked before
// anything else; a plan without an APPROVED record never reaches the network.
// Blocked and failed actions are recorded and the plan continues.
func (e *RealWriteEngine) Execute(ctx context.Context, req Request) (models.ExecutionResult, error) {
	plan := req.Plan
	if req.Approval.Status != models.ApprovalApproved {
		return models.ExecutionResult{}, fmt.Errorf(
			"approval precondition failed for plan %q: record %q is %q, need %q",
			plan.ProposalID, req.Approval.ID, req.Approval.Status, models.ApprovalApproved)
	}

	result := models.ExecutionResult{
		Mode:       models.RunModeRealWrite,
		RunID:      plan.RunID,
		ProposalID: plan.ProposalID,
		StartedAt:  e.now().UTC(),
	}

	var attempted, succeeded int
	for _, action := range plan.Actions {
		var res models.PerActionResult
		switch action.Kind {
		case models.KindWrite:
			var called, ok bool
			res, called, ok = e.runWrite(ctx, plan, action)
			if called {
				attempted++
			}
			if ok {
				succeeded++
			}
		default:
			res = e.runRead(ctx, plan, action)
		}
		result.Actions = append(result.Actions, res)
		tally(&result.Summary, res.Status)
		e.appendReceipt(plan, action, res)
	}

	result.FinishedAt = e.now().UTC()
	if e.rollbacks != nil {
		result.RollbackActions = e.rollbacks.Build(plan, result.Actions, result.FinishedAt)
	}
	result.Guarantee = models.Guarantee{
		NoRealWrite:         attempted == 0,
		WriteCallsAttempted: attempted,
		WriteCallsSucceeded: succeeded,
	}
	return result, nil
}

// runWrite carries one write action through gate, replay, budget, and the
// remote call. The returned flags report whether a remote call was made and
// whether it succeeded.
func (e *RealWriteEngine) runWrite(ctx context.Context, plan models.ExecutionPlan, action models.PlannedAction) (models.PerActionResult, bool, bool) {
	res := models.PerActionResult{
		ActionID: action.ID,
		Tool:     action.Tool,
		Kind:     action.Kind,
	}

	// Defense in depth: the gate runs here, immediately before the call,
	// regardless of what earlier stages already checked.
	g := gate.Evaluate(e.pol, action)
	res.Gate = &g
	if !g.Allowed {
		res.Status = models.ActionBlocked
		res.Reason = g.Reason
		return res, false, false
	}

	if e.attempts != nil {
		prior, ok, err := approval.Replay(ctx, e.attempts, plan.IdempotencyKey, action.ActionHash)
		if err != nil {
			// Without a readable attempt record, calling again could
			// duplicate a side effect.
			res.Status = models.ActionFailed
			res.Error = fmt.Sprintf("error reading idempotency store: %v", err)
			return res, false, false
		}
		if ok && prior.Status == models.ActionExecuted {
			prior.Replayed = true
			prior.Reason = "idempotent replay of a prior successful attempt"
			return prior, false, false
		}
	}

	reserved := false
	if action.CounterKey != "" && action.CounterCost > 0 && e.counters != nil {
		var limit int64
		if limits, ok := e.pol.LimitsFor(plan.ActionID); ok {
			limit = int64(limits.MaxPerDay)
		}
		granted, err := e.counters.Reserve(ctx, action.CounterKey, int64(action.CounterCost), limit)
		if err != nil {
			res.Status = models.ActionFailed
			res.Error = fmt.Sprintf("error reserving counter budget: %v", err)
			return res, false, false
		}
		if !granted {
			res.Status = models.ActionBlocked
			res.Reason = fmt.Sprintf("per-day budget exhausted for counter %q", action.CounterKey)
			return res, false, false
		}
		reserved = true
	}

	data, err := e.call(ctx, action)
	if err != nil {
		unknownOutcome := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		if reserved && !unknownOutcome {
			// A definite failure gives the budget back. A timed-out or
			// cancelled call may still have reached the platform, so its
			// reservation stays consumed.
			if relErr := e.counters.Release(ctx, action.CounterKey, int64(action.CounterCost)); relErr != nil {
				e.logger.Warn("error releasing counter reservation",
					"counter_key", action.CounterKey, "error", relErr)
			}
		}
		res.Status = models.ActionFailed
		res.Error = err.Error()
		return res, true, false
	}

	res.Status = models.ActionExecuted
	res.Response = data
	if e.attempts != nil {
		if err := approval.Save(ctx, e.attempts, plan.IdempotencyKey, action.ActionHash, res); err != nil {
			e.logger.Warn("error saving idempotency attempt",
				"action_id", action.ID, "error", err)
		}
	}
	return res, true, true
}

// runRead executes a read-only step. Reads skip the write gate and consume no
// counter budget, but they are still deadline-bounded and receipt-logged.
func (e *RealWriteEngine) runRead(ctx context.Context, plan models.ExecutionPlan, action models.PlannedAction) models.PerActionResult {
	res := models.PerActionResult{
		ActionID: action.ID,
		Tool:     action.Tool,
		Kind:     action.Kind,
	}
	data, err := e.call(ctx, action)
	if err != nil {
		res.Status = models.ActionFailed
		res.Error = err.Error()
		return res
	}
	res.Status = models.ActionExecuted
	res.Response = data
	return res
}

func (e *RealWriteEngine) call(ctx context.Context, action models.PlannedAction) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.pol.Remote.Timeout())
	defer cancel()
	return e.caller.Call(callCtx, action.Tool, action.Arguments)
}

func (e *RealWriteEngine) appendReceipt(plan models.ExecutionPlan, action models.PlannedAction, res models.PerActionResult) {
	if e.receipts == nil {
		return
	}
	reason := res.Reason
	if reason == "" {
		reason = res.Error
	}
	rec := ReceiptFor(plan, action, receiptStatusFor(res.Status), reason, e.pol.ID(), e.now().UTC())
	if err := e.receipts.Append(rec); err != nil {
		// The write already happened; a broken audit stream is an incident,
		// not a reason to abort the remaining plan.
		e.logger.Error("error appending receipt",
			"run_id", plan.RunID, "action_id", action.ID, "error", err)
	}
}

func receiptStatusFor(status models.ActionStatus) models.ReceiptStatus {
	switch status {
	case models.ActionExecuted:
		return models.ReceiptApplied
	case models.ActionBlocked:
		return models.ReceiptDenied
	default:
		return models.ReceiptError
	}
}
