// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the remediation stages into one governed flow:
// candidate selection, proposal build, eligibility and safety checks,
// approval where the policy demands it, then execution through the dry-run
// or real-write engine. A blocked recommendation is an ordinary outcome;
// only processing failures (malformed input, broken stores) are failures.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/candidates"
	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/format"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/eligibility"
	"github.com/liyecom/liye-ai-sub006/internal/pipeline/executor"
	"github.com/liyecom/liye-ai-sub006/internal/proposal"
	"github.com/liyecom/liye-ai-sub006/internal/rollback"
	"github.com/liyecom/liye-ai-sub006/internal/safety"
)

// Config assembles the pipeline's collaborators. Policy and Approvals are
// required; a nil Caller disables real-write mode, and a nil Receipts
// disables the audit stream.
type Config struct {
	Policy    *policy.Policy
	Registry  *actionspec.Registry
	Approvals approval.Store
	Attempts  approval.AttemptStore
	Counters  safety.CounterStore
	Caller    adsapi.Caller
	Receipts  executor.ReceiptAppender
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Pipeline runs recommendations through the governed stages in order.
type Pipeline struct {
	pol       *policy.Policy
	registry  *actionspec.Registry
	builder   *proposal.Builder
	evaluator *eligibility.Evaluator
	limiter   *safety.Limiter
	approvals *approval.Machine
	dryRun    *executor.DryRunEngine
	realWrite *executor.RealWriteEngine
	caller    adsapi.Caller
	receipts  executor.ReceiptAppender
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New validates the configuration and builds every stage up front so a
// misconfigured pipeline fails at startup, not mid-run.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("pipeline requires a policy snapshot")
	}
	if cfg.Approvals == nil {
		return nil, fmt.Errorf("pipeline requires an approval store")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = actionspec.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	evaluator, err := eligibility.NewEvaluator(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("error building eligibility evaluator: %w", err)
	}

	p := &Pipeline{
		pol:       cfg.Policy,
		registry:  registry,
		builder:   proposal.NewBuilder(cfg.Policy, registry),
		evaluator: evaluator,
		limiter:   safety.NewLimiter(cfg.Policy, registry, cfg.Counters),
		approvals: approval.NewMachine(cfg.Approvals),
		dryRun:    executor.NewDryRunEngine(cfg.Policy.ID(), cfg.Receipts, logger),
		caller:    cfg.Caller,
		receipts:  cfg.Receipts,
		logger:    logger,
		tracer:    otel.Tracer("adgate/pipeline"),
		now:       clock,
	}

	if cfg.Caller != nil {
		engine, err := executor.NewRealWriteEngine(executor.RealWriteConfig{
			Policy:    cfg.Policy,
			Caller:    cfg.Caller,
			Attempts:  cfg.Attempts,
			Counters:  cfg.Counters,
			Rollbacks: rollback.NewBuilder(registry, cfg.Policy.Rollback.Window(), logger),
			Receipts:  cfg.Receipts,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("error building real-write engine: %w", err)
		}
		p.realWrite = engine
	}
	return p, nil
}

// LoadPolicy reads the policy file at path. Any read or validation error
// falls back to the deny-all default so a broken configuration denies writes
// instead of crashing the caller.
func LoadPolicy(path string, logger *slog.Logger) *policy.Policy {
	if logger == nil {
		logger = slog.Default()
	}
	pol, err := policy.Load(path)
	if err != nil {
		logger.Warn("policy unavailable, running with deny-all defaults", "path", path, "error", err)
		return policy.Default()
	}
	return pol
}

// RunOptions selects which recommendations to process and how.
type RunOptions struct {
	// RecIndex processes a single recommendation; negative means all.
	RecIndex int
	// RealWrite switches from the dry-run engine to the real-write engine.
	RealWrite bool
	// OutDir, when set, receives the run report and per-proposal rollback
	// plans under a directory named after the run.
	OutDir string
}

// Disposition is the terminal state of one recommendation within a run.
type Disposition string

const (
	// DispositionExecuted means the plan ran on the real-write engine;
	// per-action statuses, including failures, live in the execution result.
	DispositionExecuted Disposition = "executed"
	// DispositionSimulated means the dry-run engine previewed the plan.
	DispositionSimulated Disposition = "simulated"
	// DispositionBlocked means policy denied the work before or during
	// execution: selection, safety, eligibility, gate or budget.
	DispositionBlocked Disposition = "blocked"
	// DispositionAwaitingApproval means the proposal is parked on a pending
	// approval record.
	DispositionAwaitingApproval Disposition = "awaiting_approval"
	// DispositionSuggestion means the proposal's mode never executes.
	DispositionSuggestion Disposition = "suggestion"
	// DispositionFailed means the pipeline itself could not process the
	// recommendation.
	DispositionFailed Disposition = "failed"
)

// RecommendationOutcome is the complete audit trail for one recommendation.
type RecommendationOutcome struct {
	Index       int                       `json:"index" yaml:"index"`
	Disposition Disposition               `json:"disposition" yaml:"disposition"`
	Reason      string                    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Proposal    *models.ActionProposal    `json:"proposal,omitempty" yaml:"proposal,omitempty"`
	Selection   *candidates.Diagnostics   `json:"selection,omitempty" yaml:"selection,omitempty"`
	Eligibility *models.EligibilityResult `json:"eligibility,omitempty" yaml:"eligibility,omitempty"`
	Safety      *models.SafetyCheckResult `json:"safety,omitempty" yaml:"safety,omitempty"`
	Approval    *models.ApprovalRecord    `json:"approval,omitempty" yaml:"approval,omitempty"`
	Execution   *models.ExecutionResult   `json:"execution,omitempty" yaml:"execution,omitempty"`
	Error       string                    `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunReport aggregates the outcomes of one pipeline run.
type RunReport struct {
	RunID      string                  `json:"run_id" yaml:"run_id"`
	Mode       models.RunMode          `json:"mode" yaml:"mode"`
	PolicyID   string                  `json:"policy_id" yaml:"policy_id"`
	StartedAt  time.Time               `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time               `json:"finished_at" yaml:"finished_at"`
	Outcomes   []RecommendationOutcome `json:"outcomes" yaml:"outcomes"`
}

// Failed reports whether any recommendation ended in a processing failure.
// Denials, pending approvals and failed remote calls are ordinary outcomes.
func (r RunReport) Failed() bool {
	for _, out := range r.Outcomes {
		if out.Disposition == DispositionFailed {
			return true
		}
	}
	return false
}

// Run processes the document's recommendations in order. A blocked or failed
// recommendation never aborts the rest; run-level errors are limited to bad
// input and a real-write request with no remote endpoint configured.
func (p *Pipeline) Run(ctx context.Context, doc RunDocument, opts RunOptions) (RunReport, error) {
	if opts.RealWrite && p.realWrite == nil {
		return RunReport{}, fmt.Errorf("real-write mode requires a remote endpoint; none is configured")
	}
	if opts.RecIndex >= len(doc.Recommendations) {
		return RunReport{}, fmt.Errorf("recommendation index %d out of range: run %q has %d recommendation(s)", opts.RecIndex, doc.RunID, len(doc.Recommendations))
	}

	mode := models.RunModeDryRun
	if opts.RealWrite {
		mode = models.RunModeRealWrite
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", doc.RunID),
			attribute.String("run.mode", string(mode)),
			attribute.Int("run.recommendations", len(doc.Recommendations)),
		))
	defer span.End()

	report := RunReport{
		RunID:     doc.RunID,
		Mode:      mode,
		PolicyID:  p.pol.ID(),
		StartedAt: p.now().UTC(),
	}
	for i, entry := range doc.Recommendations {
		if opts.RecIndex >= 0 && i != opts.RecIndex {
			continue
		}
		report.Outcomes = append(report.Outcomes, p.runOne(ctx, doc.RunID, i, entry, opts.RealWrite))
	}
	report.FinishedAt = p.now().UTC()

	if opts.OutDir != "" {
		if err := p.writeArtifacts(opts.OutDir, report); err != nil {
			return report, fmt.Errorf("error writing run artifacts: %w", err)
		}
	}
	return report, nil
}

func (p *Pipeline) runOne(ctx context.Context, runID string, index int, entry RecommendationEntry, realWrite bool) RecommendationOutcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.recommendation",
		trace.WithAttributes(
			attribute.Int("recommendation.index", index),
			attribute.String("trace.id", entry.Linkage.TraceID),
			attribute.String("action.id", entry.Recommendation.ActionID),
		))
	defer span.End()

	out := RecommendationOutcome{Index: index}

	rec := entry.Recommendation
	if entry.Selection != nil {
		accepted, diag := p.selectTerms(entry)
		out.Selection = &diag
		if len(accepted) == 0 {
			out.Disposition = DispositionBlocked
			out.Reason = "candidate selection accepted no terms: " + diag.Summary()
			return out
		}
		rec = withTerms(rec, accepted)
	}

	prop, err := p.builder.Build(rec, entry.Linkage, entry.Evidence)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("error building proposal", "run_id", runID, "index", index, "error", err)
		out.Disposition = DispositionFailed
		out.Error = err.Error()
		return out
	}
	out.Proposal = &prop

	elig := p.evaluator.Evaluate(prop, entry.Profile, entry.Signals)
	out.Eligibility = &elig

	safetyRes, err := p.limiter.Check(ctx, prop)
	if err != nil {
		// An unreachable counter backend denies, never guesses.
		span.RecordError(err)
		out.Disposition = DispositionBlocked
		out.Reason = fmt.Sprintf("safety check unavailable: %v", err)
		return out
	}
	out.Safety = &safetyRes

	spec, ok := p.registry.Get(prop.ActionID)
	if !ok {
		out.Disposition = DispositionFailed
		out.Error = fmt.Sprintf("action spec %q disappeared from the registry", prop.ActionID)
		return out
	}

	plan, err := BuildPlan(runID, prop, spec, p.pol, entry.IdempotencyKey, p.now())
	if err != nil {
		span.RecordError(err)
		p.logger.Error("error building execution plan", "run_id", runID, "proposal_id", prop.ProposalID, "error", err)
		out.Disposition = DispositionFailed
		out.Error = err.Error()
		return out
	}

	if !realWrite {
		result, err := p.dryRun.Execute(ctx, executor.Request{Plan: plan})
		if err != nil {
			span.RecordError(err)
			out.Disposition = DispositionFailed
			out.Error = err.Error()
			return out
		}
		out.Execution = &result
		out.Disposition = DispositionSimulated
		out.Reason = "dry-run: writes withheld, effects previewed"
		return out
	}

	p.runReal(ctx, &out, plan, prop, elig, safetyRes)
	return out
}

// runReal carries one proposal from governance checks through the real-write
// engine. Safety violations stop every mode; eligibility stops only
// auto-execution, because a human approver can overrule stale signals but
// nobody can overrule a hard limit.
func (p *Pipeline) runReal(ctx context.Context, out *RecommendationOutcome, plan models.ExecutionPlan, prop models.ActionProposal, elig models.EligibilityResult, safetyRes models.SafetyCheckResult) {
	if prop.ExecutionMode == models.ModeSuggestOnly {
		out.Disposition = DispositionSuggestion
		out.Reason = "suggest-only proposals are never executed"
		return
	}

	if !safetyRes.Safe {
		reason := "safety limits violated: " + strings.Join(safetyRes.Violations, "; ")
		p.denyReceipts(plan, reason)
		out.Disposition = DispositionBlocked
		out.Reason = reason
		return
	}

	var record models.ApprovalRecord
	switch prop.ExecutionMode {
	case models.ModeAutoIfSafe:
		if !elig.Eligible {
			reason := "not eligible for auto-execution: " + strings.Join(elig.Reasons, "; ")
			p.denyReceipts(plan, reason)
			out.Disposition = DispositionBlocked
			out.Reason = reason
			return
		}
		rec, err := p.approvals.AutoApprove(ctx, prop, "eligible and within safety limits")
		if err != nil {
			out.Disposition = DispositionBlocked
			out.Reason = fmt.Sprintf("auto-approval refused: %v", err)
			return
		}
		record = rec
	case models.ModeRequiresApproval:
		rec, err := p.approvals.Submit(ctx, prop)
		if err != nil {
			out.Disposition = DispositionFailed
			out.Error = fmt.Sprintf("error submitting approval: %v", err)
			return
		}
		if rec.Status != models.ApprovalApproved {
			out.Approval = &rec
			out.Disposition = DispositionAwaitingApproval
			out.Reason = fmt.Sprintf("approval %s is %s; decide it with the approvals command and re-run", rec.ID, rec.Status)
			return
		}
		record = rec
	default:
		out.Disposition = DispositionFailed
		out.Error = fmt.Sprintf("unhandled execution mode %q", prop.ExecutionMode)
		return
	}
	out.Approval = &record

	result, err := p.realWrite.Execute(ctx, executor.Request{Plan: plan, Approval: record})
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		out.Disposition = DispositionFailed
		out.Error = err.Error()
		return
	}
	out.Execution = &result

	if result.Summary.Executed > 0 {
		updated, err := p.approvals.MarkExecuted(ctx, record.ID)
		if err != nil {
			p.logger.Error("error marking approval executed", "approval_id", record.ID, "error", err)
		} else {
			out.Approval = &updated
		}
	}

	switch {
	case result.Summary.Executed > 0:
		out.Disposition = DispositionExecuted
		if result.Summary.Failed > 0 || result.Summary.Blocked > 0 {
			out.Reason = fmt.Sprintf("completed with %d blocked and %d failed action(s)", result.Summary.Blocked, result.Summary.Failed)
		}
	case result.Summary.Failed > 0:
		out.Disposition = DispositionExecuted
		out.Reason = fmt.Sprintf("no action succeeded: %d failed, %d blocked", result.Summary.Failed, result.Summary.Blocked)
	case result.Summary.Blocked > 0:
		out.Disposition = DispositionBlocked
		out.Reason = firstBlockReason(result.Actions)
	default:
		out.Disposition = DispositionExecuted
	}
}

// selectTerms runs candidate selection under the policy's content limits.
// An unset per-run cap in the selection policy inherits the safety limit.
func (p *Pipeline) selectTerms(entry RecommendationEntry) ([]candidates.Candidate, candidates.Diagnostics) {
	limits, _ := p.pol.LimitsFor(entry.Recommendation.ActionID)
	sel := entry.Selection.Policy
	if sel.MaxSelected == 0 {
		sel.MaxSelected = limits.MaxPerRun
	}
	return candidates.Select(entry.Selection.Rows, sel,
		candidates.Limits{MinTermLength: limits.MinTermLength, ForbiddenTerms: limits.ForbiddenTerms},
		candidates.Context{
			ExistingExclusions: entry.Selection.ExistingExclusions,
			ProtectedTerms:     entry.Selection.ProtectedTerms,
		})
}

// withTerms returns a copy of rec whose terms parameter is the accepted list.
func withTerms(rec models.Recommendation, accepted []candidates.Candidate) models.Recommendation {
	params := make(map[string]interface{}, len(rec.Parameters)+1)
	for k, v := range rec.Parameters {
		params[k] = v
	}
	terms := make([]string, 0, len(accepted))
	for _, c := range accepted {
		terms = append(terms, c.Term)
	}
	params["terms"] = terms
	rec.Parameters = params
	return rec
}

// denyReceipts records a pre-engine denial for every planned action so the
// audit stream explains why nothing was attempted.
func (p *Pipeline) denyReceipts(plan models.ExecutionPlan, reason string) {
	if p.receipts == nil {
		return
	}
	ts := p.now().UTC()
	for _, action := range plan.Actions {
		rec := executor.ReceiptFor(plan, action, models.ReceiptDenied, reason, p.pol.ID(), ts)
		if err := p.receipts.Append(rec); err != nil {
			p.logger.Error("error appending denial receipt", "run_id", plan.RunID, "action_id", action.ID, "error", err)
		}
	}
}

func firstBlockReason(results []models.PerActionResult) string {
	for _, res := range results {
		if res.Status == models.ActionBlocked && res.Reason != "" {
			return res.Reason
		}
	}
	return "every write action was denied"
}

// writeArtifacts persists the run report and one rollback plan per executed
// outcome under <outDir>/<runID>/. Writes go through a temp file and rename
// so a crash never leaves a truncated report behind.
func (p *Pipeline) writeArtifacts(outDir string, report RunReport) error {
	dir := filepath.Join(outDir, report.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	if err := format.WriteFileAtomic(filepath.Join(dir, "result.yaml"), report); err != nil {
		return fmt.Errorf("error writing run report: %w", err)
	}

	for _, out := range report.Outcomes {
		if out.Proposal == nil || out.Execution == nil || len(out.Execution.RollbackActions) == 0 {
			continue
		}
		plan := rollback.Plan{
			RunID:      report.RunID,
			ProposalID: out.Proposal.ProposalID,
			RiskLevel:  out.Proposal.RiskLevel,
			Scope:      actionspec.ScopeFromParams(out.Proposal.Params),
			CreatedAt:  out.Execution.FinishedAt,
			Actions:    out.Execution.RollbackActions,
		}
		name := fmt.Sprintf("rollback-%s.yaml", out.Proposal.ProposalID)
		if err := format.WriteFileAtomic(filepath.Join(dir, name), plan); err != nil {
			return fmt.Errorf("error writing rollback plan: %w", err)
		}
	}
	return nil
}
