// SPDX-License-Identifier: Apache-2.0

// Package safety validates proposal parameters against the hard limits
// configured per action type. Violations are collected, never short-circuited,
// so a caller always sees the full list.
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liyecom/liye-ai-sub006/internal/candidates"
	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
)

// Limiter checks one proposal at a time. Per-day budgets are read from the
// counter store; the actual reservation happens later, at execution time.
type Limiter struct {
	pol      *policy.Policy
	registry *actionspec.Registry
	counters CounterStore
	now      func() time.Time
}

// NewLimiter creates a limiter bound to a policy snapshot and counter store.
func NewLimiter(pol *policy.Policy, registry *actionspec.Registry, counters CounterStore) *Limiter {
	return &Limiter{
		pol:      pol,
		registry: registry,
		counters: counters,
		now:      time.Now,
	}
}

// Check validates the proposal's parameters against the limits configured for
// its action type. The returned error is reserved for infrastructure failures
// (counter store unreachable); limit violations come back as data.
func (l *Limiter) Check(ctx context.Context, proposal models.ActionProposal) (models.SafetyCheckResult, error) {
	spec, ok := l.registry.Get(proposal.ActionID)
	if !ok {
		return models.SafetyCheckResult{}, fmt.Errorf("unknown action type %q", proposal.ActionID)
	}

	limits, ok := l.pol.LimitsFor(proposal.ActionID)
	if !ok {
		// Absence of a limit spec is denial, not permission.
		return models.SafetyCheckResult{
			Safe:       false,
			Violations: []string{fmt.Sprintf("no safety limits configured for action type %q", proposal.ActionID)},
		}, nil
	}

	var violations []string

	capViolations, err := l.checkCaps(ctx, spec, proposal.Params, limits)
	if err != nil {
		return models.SafetyCheckResult{}, err
	}
	violations = append(violations, capViolations...)

	var items []string
	if spec.Items != nil {
		items = spec.Items(proposal.Params)
	}
	violations = append(violations, checkItems(items, limits)...)

	if len(limits.AllowedMatchTypes) > 0 && spec.MatchType != nil {
		if mt, present := spec.MatchType(proposal.Params); present && !containsFold(limits.AllowedMatchTypes, mt) {
			violations = append(violations,
				fmt.Sprintf("match type %q is not allowed (allowed: %s)", mt, strings.Join(limits.AllowedMatchTypes, ", ")))
		}
	}

	return models.SafetyCheckResult{
		Safe:       len(violations) == 0,
		Violations: violations,
	}, nil
}

// checkCaps enforces per-run and per-day caps for every counter-bearing step.
// The per-day check adds today's already-consumed count to the proposed count.
func (l *Limiter) checkCaps(ctx context.Context, spec actionspec.Spec, params map[string]interface{}, limits policy.SafetyLimits) ([]string, error) {
	var violations []string

	scope := actionspec.ScopeFromParams(params)
	for _, step := range spec.Steps {
		if step.CounterName == "" {
			continue
		}
		proposed := int64(step.CostOf(spec, params))
		if proposed <= 0 {
			continue
		}

		if limits.MaxPerRun > 0 && proposed > int64(limits.MaxPerRun) {
			violations = append(violations,
				fmt.Sprintf("per-run cap exceeded: %d > %d", proposed, limits.MaxPerRun))
		}

		if limits.MaxPerDay <= 0 {
			continue
		}
		if l.counters == nil {
			violations = append(violations,
				fmt.Sprintf("no counter store configured for per-day cap on %q", step.CounterName))
			continue
		}
		key := DayKey(l.pol.Counters.KeyPrefix, step.CounterName, scope.TenantID, l.now())
		used, err := l.counters.Used(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("error reading counter %q: %w", key, err)
		}
		if used+proposed > int64(limits.MaxPerDay) {
			violations = append(violations,
				fmt.Sprintf("per-day cap exceeded: %d > %d (%d already consumed today)",
					used+proposed, limits.MaxPerDay, used))
		}
	}

	return violations, nil
}

func checkItems(items []string, limits policy.SafetyLimits) []string {
	var violations []string

	for _, item := range items {
		normalized := strings.ToLower(strings.TrimSpace(item))

		if limits.MinTermLength > 0 && utf8.RuneCountInString(normalized) < limits.MinTermLength {
			violations = append(violations,
				fmt.Sprintf("term %q is shorter than the minimum length %d", item, limits.MinTermLength))
		}
		for _, forbidden := range limits.ForbiddenTerms {
			if forbidden != "" && strings.Contains(normalized, strings.ToLower(forbidden)) {
				violations = append(violations,
					fmt.Sprintf("term %q contains forbidden term %q", item, forbidden))
			}
		}
		if candidates.IsIdentifierLike(item) {
			violations = append(violations,
				fmt.Sprintf("term %q looks like a product identifier", item))
		}
	}

	return violations
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
