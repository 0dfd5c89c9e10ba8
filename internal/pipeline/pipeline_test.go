// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/candidates"
	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/format"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/proposal"
	"github.com/liyecom/liye-ai-sub006/internal/rollback"
	"github.com/liyecom/liye-ai-sub006/internal/safety"
	"github.com/liyecom/liye-ai-sub006/internal/testutil"
)

var fixedNow = time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

func pipelinePolicy(t *testing.T) *policy.Policy {
	t.Helper()
	pol := &policy.Policy{
		AutoExecution: policy.AutoExecutionPolicy{
			Enabled:      true,
			AllowActions: []string{actionspec.ActionNegativeKeywordAdd},
		},
		Eligibility: policy.EligibilityConfig{
			DefaultProfile: "balanced",
			Profiles: map[string]policy.Profile{
				"balanced": {Thresholds: map[string]float64{
					"wasted_spend_gte": 10,
					"conversions_lte":  0,
				}},
			},
		},
		SafetyLimits: map[string]policy.SafetyLimits{
			actionspec.ActionNegativeKeywordAdd: {MaxPerRun: 5, MaxPerDay: 10, MinTermLength: 3},
		},
		WriteGate: policy.WriteGateConfig{
			Global:        policy.GlobalWriteConfig{WriteEnabledDefault: true},
			ToolAllowlist: []string{actionspec.ToolNegativeKeywordCreate},
			Thresholds:    policy.BidThresholds{MaxBidDeltaAbsolute: 0.5, MaxBidDeltaRelative: 0.3},
		},
		Scopes: map[string]policy.Scope{
			"t1": {ProfileIDs: []string{"P1"}, CampaignIDs: []string{"C1"}, AdGroupIDs: []string{"*"}},
		},
		Remote: policy.RemoteConfig{TimeoutSeconds: 2},
	}
	require.NoError(t, pol.Normalize(), "Test policy should normalize")
	return pol
}

type sinkStub struct {
	receipts []models.Receipt
}

func (s *sinkStub) Append(rec models.Receipt) error {
	s.receipts = append(s.receipts, rec)
	return nil
}

func negativeEntry(mode models.ExecutionMode) RecommendationEntry {
	return RecommendationEntry{
		Recommendation: models.Recommendation{
			ActionID: actionspec.ActionNegativeKeywordAdd,
			Parameters: map[string]interface{}{
				"tenant_id":   "t1",
				"profile_id":  "P1",
				"campaign_id": "C1",
				"terms":       []interface{}{"cheap widgets", "free widgets"},
			},
			RiskLevel:     models.RiskMedium,
			ExecutionMode: mode,
		},
		Linkage: models.Linkage{
			TraceID:       "tr-001",
			ObservationID: "obs-001",
			RuleVersion:   "wasted-spend-v1",
		},
		Signals:        map[string]float64{"wasted_spend": 42.5, "conversions": 0},
		IdempotencyKey: "idem-001",
	}
}

func newTestPipeline(t *testing.T, pol *policy.Policy, caller adsapi.Caller) (*Pipeline, *approval.MemoryStore, safety.CounterStore, *sinkStub) {
	t.Helper()
	store := approval.NewMemoryStore()
	counters := safety.NewMemoryCounterStore()
	sink := &sinkStub{}
	p, err := New(Config{
		Policy:    pol,
		Approvals: store,
		Attempts:  store,
		Counters:  counters,
		Caller:    caller,
		Receipts:  sink,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     testutil.FixedClock(fixedNow),
	})
	require.NoError(t, err, "Pipeline construction should succeed")
	return p, store, counters, sink
}

func TestLoadRun(t *testing.T) {
	dir := t.TempDir()
	docYAML := `run_id: run-weekly
recommendations:
  - recommendation:
      action_id: negative_keyword_add
      parameters:
        tenant_id: t1
        profile_id: P1
        campaign_id: C1
        terms: ["cheap widgets"]
      risk_level: MEDIUM
      execution_mode: auto_if_safe
    linkage:
      trace_id: tr-001
      observation_id: obs-001
      rule_version: wasted-spend-v1
    signals:
      wasted_spend: 42.5
      conversions: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-weekly.yaml"), []byte(docYAML), 0644))

	doc, err := LoadRun(dir, "run-weekly")
	require.NoError(t, err, "A present run file should load")
	assert.Equal(t, "run-weekly", doc.RunID)
	require.Len(t, doc.Recommendations, 1)
	assert.Equal(t, actionspec.ActionNegativeKeywordAdd, doc.Recommendations[0].Recommendation.ActionID)
	assert.Equal(t, models.ModeAutoIfSafe, doc.Recommendations[0].Recommendation.ExecutionMode)
	assert.Equal(t, 42.5, doc.Recommendations[0].Signals["wasted_spend"])

	_, err = LoadRun(dir, "run-missing")
	require.Error(t, err, "A missing run must be reported")
	assert.Contains(t, err.Error(), `run "run-missing" not found`)
}

func TestBuildPlan(t *testing.T) {
	pol := pipelinePolicy(t)
	registry := actionspec.DefaultRegistry()
	entry := negativeEntry(models.ModeAutoIfSafe)

	prop, err := proposal.NewBuilder(pol, registry).Build(entry.Recommendation, entry.Linkage, nil)
	require.NoError(t, err, "Proposal build should succeed")
	spec, ok := registry.Get(prop.ActionID)
	require.True(t, ok)

	plan, err := BuildPlan("run-weekly", prop, spec, pol, "idem-001", fixedNow)
	require.NoError(t, err, "Plan construction should succeed")

	assert.Equal(t, "run-weekly", plan.RunID)
	assert.Equal(t, prop.ProposalID, plan.ProposalID)
	assert.Equal(t, "tr-001", plan.TraceID)
	assert.Equal(t, "idem-001", plan.IdempotencyKey)
	require.Len(t, plan.Actions, 1)

	action := plan.Actions[0]
	assert.Equal(t, prop.ProposalID+"-step-1", action.ID)
	assert.Equal(t, actionspec.ToolNegativeKeywordCreate, action.Tool)
	assert.Equal(t, models.KindWrite, action.Kind)
	assert.Equal(t, "t1", action.Scope.TenantID)
	assert.Equal(t, "adgate:negatives:t1:2026-08-25", action.CounterKey)
	assert.Equal(t, 2, action.CounterCost, "Cost follows the number of terms")
	assert.NotContains(t, action.Arguments, "tenant_id", "Tenant routing stays out of the remote payload")
	assert.NotEmpty(t, action.ActionHash)

	again, err := BuildPlan("run-weekly", prop, spec, pol, "idem-001", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, action.ActionHash, again.Actions[0].ActionHash, "Hashes are deterministic over tool and arguments")
}

func TestRunDryRunPreviewsWithoutWriting(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	p, _, _, sink := newTestPipeline(t, pol, sim)

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeAutoIfSafe)}}
	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1})
	require.NoError(t, err, "Dry-run should complete")

	assert.Equal(t, models.RunModeDryRun, report.Mode)
	assert.Equal(t, pol.ID(), report.PolicyID)
	assert.False(t, report.Failed())
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionSimulated, out.Disposition)
	require.NotNil(t, out.Proposal)
	require.NotNil(t, out.Eligibility)
	assert.True(t, out.Eligibility.Eligible, "Signals satisfy the balanced profile")
	require.NotNil(t, out.Safety)
	assert.True(t, out.Safety.Safe)
	require.NotNil(t, out.Execution)
	assert.True(t, out.Execution.Guarantee.NoRealWrite)
	assert.Zero(t, out.Execution.Guarantee.WriteCallsAttempted)

	assert.Zero(t, sim.CallCount(), "Dry-run never touches the remote endpoint")
	require.Len(t, sink.receipts, 1)
	assert.Equal(t, models.ReceiptDryRunApplied, sink.receipts[0].Status)
	assert.Equal(t, "run-weekly", sink.receipts[0].RunID)
	assert.Equal(t, "medium", sink.receipts[0].Tier)
}

func TestRunRealAutoIfSafe(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	sim.Respond(actionspec.ToolNegativeKeywordCreate, map[string]interface{}{
		"negative_keyword_ids": []interface{}{"nk-1", "nk-2"},
	})
	p, store, counters, sink := newTestPipeline(t, pol, sim)

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeAutoIfSafe)}}
	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err, "Real-write run should complete")
	assert.Equal(t, models.RunModeRealWrite, report.Mode)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionExecuted, out.Disposition)
	require.NotNil(t, out.Approval)
	assert.Equal(t, models.ApprovalExecuted, out.Approval.Status, "Execution is recorded on the approval")
	assert.Equal(t, policy.ReviewerAutoPolicy, out.Approval.Reviewer)

	require.NotNil(t, out.Execution)
	assert.Equal(t, 1, out.Execution.Summary.Executed)
	assert.False(t, out.Execution.Guarantee.NoRealWrite)
	assert.Equal(t, 1, out.Execution.Guarantee.WriteCallsSucceeded)
	require.Len(t, out.Execution.RollbackActions, 1)
	assert.Equal(t, actionspec.ToolNegativeKeywordDelete, out.Execution.RollbackActions[0].Tool)

	recs, err := store.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ApprovalExecuted, recs[0].Status)

	used, err := counters.Used(context.Background(), "adgate:negatives:t1:2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(2), used, "Two terms consume two units of budget")

	require.Len(t, sink.receipts, 1)
	assert.Equal(t, models.ReceiptApplied, sink.receipts[0].Status)
}

func TestRunRealIneligibleBlocksAutoExecution(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	p, store, _, sink := newTestPipeline(t, pol, sim)

	entry := negativeEntry(models.ModeAutoIfSafe)
	entry.Signals = map[string]float64{"wasted_spend": 42.5, "conversions": 3}
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{entry}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionBlocked, out.Disposition)
	assert.Contains(t, out.Reason, "not eligible for auto-execution")
	assert.Zero(t, sim.CallCount(), "An ineligible proposal never reaches the endpoint")

	recs, err := store.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "No approval record is minted for a blocked proposal")

	require.Len(t, sink.receipts, 1, "The denial lands in the audit stream")
	assert.Equal(t, models.ReceiptDenied, sink.receipts[0].Status)
	assert.Contains(t, sink.receipts[0].Reason, "not eligible")
}

func TestRunRealSafetyViolationBlocksEveryMode(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	p, store, _, sink := newTestPipeline(t, pol, sim)

	entry := negativeEntry(models.ModeRequiresApproval)
	entry.Recommendation.Parameters["terms"] = []interface{}{"ab"}
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{entry}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionBlocked, out.Disposition)
	assert.Contains(t, out.Reason, "safety limits violated")
	require.NotNil(t, out.Safety)
	assert.False(t, out.Safety.Safe)

	recs, err := store.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "Safety blocks before the approval queue")

	require.Len(t, sink.receipts, 1)
	assert.Equal(t, models.ReceiptDenied, sink.receipts[0].Status)
	assert.Zero(t, sim.CallCount())
}

func TestRunRealRequiresApprovalFlow(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	sim.Respond(actionspec.ToolNegativeKeywordCreate, map[string]interface{}{
		"negative_keyword_ids": []interface{}{"nk-1", "nk-2"},
	})
	p, store, _, _ := newTestPipeline(t, pol, sim)

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeRequiresApproval)}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionAwaitingApproval, out.Disposition)
	require.NotNil(t, out.Approval)
	assert.Equal(t, models.ApprovalSubmitted, out.Approval.Status)
	assert.Zero(t, sim.CallCount(), "Nothing executes while the approval is pending")

	_, err = approval.NewMachine(store).Approve(context.Background(), out.Approval.ID, "reviewer@corp", "looks right")
	require.NoError(t, err, "A pending record can be approved")

	report, err = p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out = report.Outcomes[0]
	assert.Equal(t, DispositionExecuted, out.Disposition, "The approved proposal executes on re-run")
	require.NotNil(t, out.Approval)
	assert.Equal(t, models.ApprovalExecuted, out.Approval.Status)
	assert.Equal(t, 1, sim.CallCount())
}

func TestRunRealSuggestOnlyNeverExecutes(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	p, _, _, _ := newTestPipeline(t, pol, sim)

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeSuggestOnly)}}
	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	assert.Equal(t, DispositionSuggestion, report.Outcomes[0].Disposition)
	assert.Zero(t, sim.CallCount())
}

func TestRunUnknownActionTypeFails(t *testing.T) {
	pol := pipelinePolicy(t)
	p, _, _, _ := newTestPipeline(t, pol, adsapi.NewSimulator())

	entry := negativeEntry(models.ModeAutoIfSafe)
	entry.Recommendation.ActionID = "campaign_deletion"
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{entry}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1})
	require.NoError(t, err, "A bad recommendation is an outcome, not a run error")
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionFailed, out.Disposition)
	assert.Contains(t, out.Error, `unknown action type "campaign_deletion"`)
	assert.True(t, report.Failed(), "A failed outcome marks the whole run failed")
}

func TestRunRecIndexOutOfRange(t *testing.T) {
	pol := pipelinePolicy(t)
	p, _, _, _ := newTestPipeline(t, pol, adsapi.NewSimulator())

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeAutoIfSafe)}}
	_, err := p.Run(context.Background(), doc, RunOptions{RecIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recommendation index 5 out of range")
}

func TestRunRealWriteRequiresEndpoint(t *testing.T) {
	pol := pipelinePolicy(t)
	p, _, _, _ := newTestPipeline(t, pol, nil)

	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeAutoIfSafe)}}
	_, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true})
	require.Error(t, err, "Real-write mode without an endpoint must refuse to run")
	assert.Contains(t, err.Error(), "real-write mode requires a remote endpoint")
}

func TestRunSelectionReplacesTerms(t *testing.T) {
	pol := pipelinePolicy(t)
	p, _, _, _ := newTestPipeline(t, pol, adsapi.NewSimulator())

	entry := negativeEntry(models.ModeAutoIfSafe)
	delete(entry.Recommendation.Parameters, "terms")
	entry.Selection = &SelectionInput{
		Rows: []candidates.SignalRow{
			{Term: "cheap widgets", WastedSpend: 50},
			{Term: "acme brand widgets", WastedSpend: 40},
			{Term: "ab", WastedSpend: 30},
		},
		Policy:         candidates.SelectionPolicy{Normalize: true, Dedupe: true},
		ProtectedTerms: []string{"acme brand"},
	}
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{entry}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionSimulated, out.Disposition)
	require.NotNil(t, out.Selection)
	assert.Equal(t, 3, out.Selection.CandidatesBefore)
	assert.Equal(t, 1, out.Selection.FinalCandidates)
	assert.Equal(t, 1, out.Selection.FilteredProtected)
	assert.Equal(t, 1, out.Selection.FilteredTooShort)

	require.NotNil(t, out.Proposal)
	assert.Equal(t, []interface{}{"cheap widgets"}, toInterfaceSlice(out.Proposal.Params["terms"]),
		"Only the accepted terms reach the proposal")
}

func TestRunSelectionAcceptingNothingBlocks(t *testing.T) {
	pol := pipelinePolicy(t)
	p, _, _, _ := newTestPipeline(t, pol, adsapi.NewSimulator())

	entry := negativeEntry(models.ModeAutoIfSafe)
	delete(entry.Recommendation.Parameters, "terms")
	entry.Selection = &SelectionInput{
		Rows:   []candidates.SignalRow{{Term: "ab", WastedSpend: 30}},
		Policy: candidates.SelectionPolicy{Normalize: true},
	}
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{entry}}

	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.Equal(t, DispositionBlocked, out.Disposition)
	assert.Contains(t, out.Reason, "candidate selection accepted no terms")
	require.NotNil(t, out.Selection)
	assert.Equal(t, 0, out.Selection.FinalCandidates)
	assert.Nil(t, out.Proposal, "No proposal is built when nothing survives selection")
}

func TestRunWritesArtifacts(t *testing.T) {
	pol := pipelinePolicy(t)
	sim := adsapi.NewSimulator()
	sim.Respond(actionspec.ToolNegativeKeywordCreate, map[string]interface{}{
		"negative_keyword_ids": []interface{}{"nk-1", "nk-2"},
	})
	p, _, _, _ := newTestPipeline(t, pol, sim)

	outDir := t.TempDir()
	doc := RunDocument{RunID: "run-weekly", Recommendations: []RecommendationEntry{negativeEntry(models.ModeAutoIfSafe)}}
	report, err := p.Run(context.Background(), doc, RunOptions{RecIndex: -1, RealWrite: true, OutDir: outDir})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	require.Equal(t, DispositionExecuted, report.Outcomes[0].Disposition)

	var persisted RunReport
	require.NoError(t, format.ParseFile(filepath.Join(outDir, "run-weekly", "result.yaml"), &persisted),
		"The run report should round-trip from disk")
	assert.Equal(t, "run-weekly", persisted.RunID)
	assert.Equal(t, models.RunModeRealWrite, persisted.Mode)
	require.Len(t, persisted.Outcomes, 1)

	proposalID := report.Outcomes[0].Proposal.ProposalID
	var plan rollback.Plan
	require.NoError(t, format.ParseFile(filepath.Join(outDir, "run-weekly", "rollback-"+proposalID+".yaml"), &plan),
		"The rollback plan should round-trip from disk")
	assert.Equal(t, "run-weekly", plan.RunID)
	assert.Equal(t, "t1", plan.Scope.TenantID, "Rollback plans carry the scope for later gate checks")
	assert.Equal(t, models.RiskMedium, plan.RiskLevel)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, actionspec.ToolNegativeKeywordDelete, plan.Actions[0].Tool)
	assert.WithinDuration(t, plan.CreatedAt.Add(72*time.Hour), plan.Actions[0].ExpiresAt, time.Second,
		"Expiry anchors at execution time")
}

// toInterfaceSlice flattens either []string or []interface{} for comparison.
func toInterfaceSlice(v interface{}) []interface{} {
	switch vals := v.(type) {
	case []interface{}:
		return vals
	case []string:
		out := make([]interface{}, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}
