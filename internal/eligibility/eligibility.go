// SPDX-License-Identifier: Apache-2.0

// Package eligibility decides whether an auto_if_safe proposal may execute
// without a human reviewer. Every check failure is reported as data, never
// as an error: an ineligible proposal is a normal outcome that downstream
// stages route to the approval queue.
package eligibility

import (
	"fmt"
	"sort"
	"strings"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/eligibility/condition"
)

// thresholdOp is a comparison parsed from a threshold key suffix.
type thresholdOp struct {
	symbol string
	holds  func(actual, bound float64) bool
}

// Suffix order matters: _gte and _lte must be tried before _gt and _lt.
var thresholdOps = []struct {
	suffix string
	op     thresholdOp
}{
	{"_gte", thresholdOp{">=", func(a, b float64) bool { return a >= b }}},
	{"_lte", thresholdOp{"<=", func(a, b float64) bool { return a <= b }}},
	{"_gt", thresholdOp{">", func(a, b float64) bool { return a > b }}},
	{"_lt", thresholdOp{"<", func(a, b float64) bool { return a < b }}},
	{"_eq", thresholdOp{"==", func(a, b float64) bool { return a == b }}},
	{"_ne", thresholdOp{"!=", func(a, b float64) bool { return a != b }}},
}

func splitThresholdKey(key string) (field string, op thresholdOp, ok bool) {
	for _, entry := range thresholdOps {
		if strings.HasSuffix(key, entry.suffix) && len(key) > len(entry.suffix) {
			return strings.TrimSuffix(key, entry.suffix), entry.op, true
		}
	}
	return "", thresholdOp{}, false
}

// Evaluator checks proposals against the threshold profiles of a policy.
type Evaluator struct {
	pol    *policy.Policy
	guards *condition.CELEvaluator
}

// NewEvaluator creates an evaluator bound to the given policy.
func NewEvaluator(pol *policy.Policy) (*Evaluator, error) {
	guards, err := condition.NewCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("error creating guard evaluator: %w", err)
	}
	return &Evaluator{pol: pol, guards: guards}, nil
}

// Evaluate checks whether the proposal qualifies for unattended execution
// under the named profile. An empty profileName resolves to the policy's
// default profile. All failing checks are enumerated; evaluation never
// stops at the first failure.
func (e *Evaluator) Evaluate(proposal models.ActionProposal, profileName string, signals map[string]float64) models.EligibilityResult {
	if proposal.ExecutionMode != models.ModeAutoIfSafe {
		return models.EligibilityResult{
			Eligible: false,
			Reasons: []string{fmt.Sprintf("execution mode is %q; only %q proposals are evaluated for auto execution",
				proposal.ExecutionMode, models.ModeAutoIfSafe)},
		}
	}

	thresholds, guard, resolved, reason := e.resolveProfile(profileName)
	if reason != "" {
		return models.EligibilityResult{Eligible: false, Reasons: []string{reason}, Profile: resolved}
	}

	result := models.EligibilityResult{Profile: resolved}

	keys := make([]string, 0, len(thresholds))
	for key := range thresholds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bound := thresholds[key]
		field, op, ok := splitThresholdKey(key)
		if !ok {
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("threshold key %q has no recognized operator suffix", key))
			continue
		}
		actual, present := signals[field]
		if !present {
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("missing signal %q (requires %s %v)", field, op.symbol, bound))
			continue
		}
		if !op.holds(actual, bound) {
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("%s is %v, requires %s %v", field, actual, op.symbol, bound))
		}
	}

	if guard != "" {
		ok, err := e.guards.EvaluateGuard(guard, signals)
		switch {
		case err != nil:
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("guard expression failed to evaluate: %v", err))
		case !ok:
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("guard expression not satisfied: %s", guard))
		}
	}

	result.Eligible = len(result.Reasons) == 0
	return result
}

// resolveProfile picks the threshold set to evaluate against. Named profiles
// win; a flat legacy threshold map is honored only when no profiles are
// configured at all. A non-empty reason means evaluation cannot proceed and
// the proposal is ineligible.
func (e *Evaluator) resolveProfile(profileName string) (thresholds map[string]float64, guard, resolved, reason string) {
	prof, resolved, ok := e.pol.ProfileFor(profileName)
	if ok {
		return prof.Thresholds, prof.Guard, resolved, ""
	}
	if len(e.pol.Eligibility.Profiles) == 0 {
		if len(e.pol.Eligibility.LegacyThresholds) > 0 {
			return e.pol.Eligibility.LegacyThresholds, "", "", ""
		}
		return nil, "", "", "no eligibility thresholds configured"
	}
	return nil, "", resolved, fmt.Sprintf("unknown eligibility profile %q", resolved)
}
