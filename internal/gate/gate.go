// SPDX-License-Identifier: Apache-2.0

// Package gate implements the four-layer write authorization check that runs
// immediately before any remote write, regardless of what earlier stages
// decided. The gate is pure: it reads a policy snapshot and a planned action
// and produces a report, nothing else. Every layer fails closed; absence of
// configuration is denial, never permission.
package gate

import (
	"fmt"
	"math"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
)

// Evaluate runs all four layers over one planned action. All four check
// entries are always populated; BlockedAt names the first failing layer in
// gate order so a denial is attributable to exactly one layer.
func Evaluate(pol *policy.Policy, action models.PlannedAction) models.WriteGateResult {
	checks := map[models.GateLayer]models.LayerCheck{
		models.LayerGlobalEnabled:  checkGlobalEnabled(pol),
		models.LayerToolAllowlist:  checkToolAllowlist(pol, action.Tool),
		models.LayerScopeAllowlist: checkScopeAllowlist(pol, action.Scope),
		models.LayerThreshold:      checkThreshold(pol, action.BidDelta),
	}

	result := models.WriteGateResult{
		Allowed: true,
		Reason:  "all write gate layers passed",
		Checks:  checks,
	}
	for _, layer := range models.GateLayerOrder {
		if check := checks[layer]; !check.Passed {
			result.Allowed = false
			result.BlockedAt = layer
			result.Reason = check.Reason
			break
		}
	}
	return result
}

func checkGlobalEnabled(pol *policy.Policy) models.LayerCheck {
	if !pol.WriteGate.Global.WriteEnabledDefault {
		return models.LayerCheck{
			Passed: false,
			Reason: "writes are disabled globally (write_enabled_default is false)",
		}
	}
	return models.LayerCheck{Passed: true, Reason: "writes are enabled globally"}
}

func checkToolAllowlist(pol *policy.Policy, tool string) models.LayerCheck {
	if tool == "" {
		return models.LayerCheck{Passed: false, Reason: "action names no tool"}
	}
	for _, allowed := range pol.WriteGate.ToolAllowlist {
		if allowed == tool {
			return models.LayerCheck{
				Passed: true,
				Reason: fmt.Sprintf("tool %q is allowlisted", tool),
			}
		}
	}
	return models.LayerCheck{
		Passed: false,
		Reason: fmt.Sprintf("tool %q is not in the tool allowlist", tool),
	}
}

func checkScopeAllowlist(pol *policy.Policy, ref models.ScopeRef) models.LayerCheck {
	if ref.TenantID == "" {
		return models.LayerCheck{Passed: false, Reason: "action carries no tenant id"}
	}
	scope, ok := pol.ScopeFor(ref.TenantID)
	if !ok {
		return models.LayerCheck{
			Passed: false,
			Reason: fmt.Sprintf("no scope allowlist configured for tenant %q", ref.TenantID),
		}
	}

	// Only levels the action actually targets are checked; a targeted level
	// must match its allowlist or an explicit wildcard.
	levels := []struct {
		name    string
		id      string
		allowed []string
	}{
		{"profile", ref.ProfileID, scope.ProfileIDs},
		{"campaign", ref.CampaignID, scope.CampaignIDs},
		{"ad group", ref.AdGroupID, scope.AdGroupIDs},
	}
	for _, level := range levels {
		if level.id == "" {
			continue
		}
		if !scopeAllows(level.allowed, level.id) {
			return models.LayerCheck{
				Passed: false,
				Reason: fmt.Sprintf("%s %q is not in tenant %q scope allowlist", level.name, level.id, ref.TenantID),
			}
		}
	}
	return models.LayerCheck{
		Passed: true,
		Reason: fmt.Sprintf("scope is within tenant %q allowlist", ref.TenantID),
	}
}

func scopeAllows(allowed []string, id string) bool {
	for _, entry := range allowed {
		if entry == policy.ScopeWildcard || entry == id {
			return true
		}
	}
	return false
}

func checkThreshold(pol *policy.Policy, delta *models.BidDelta) models.LayerCheck {
	if delta == nil {
		return models.LayerCheck{Passed: true, Reason: "action carries no magnitude"}
	}

	bounds := pol.WriteGate.Thresholds
	abs := delta.Absolute()
	rel := delta.Relative()

	switch {
	case bounds.MaxBidDeltaAbsolute <= 0:
		return models.LayerCheck{
			Passed: false,
			Reason: "no absolute bid-delta bound configured",
		}
	case abs > bounds.MaxBidDeltaAbsolute:
		return models.LayerCheck{
			Passed: false,
			Reason: fmt.Sprintf("absolute bid delta %.2f exceeds bound %.2f", abs, bounds.MaxBidDeltaAbsolute),
		}
	case bounds.MaxBidDeltaRelative <= 0:
		return models.LayerCheck{
			Passed: false,
			Reason: "no relative bid-delta bound configured",
		}
	case math.IsInf(rel, 1):
		return models.LayerCheck{
			Passed: false,
			Reason: "relative bid delta is unbounded (old bid is zero)",
		}
	case rel > bounds.MaxBidDeltaRelative:
		return models.LayerCheck{
			Passed: false,
			Reason: fmt.Sprintf("relative bid delta %.2f exceeds bound %.2f", rel, bounds.MaxBidDeltaRelative),
		}
	}
	return models.LayerCheck{Passed: true, Reason: "bid delta within configured bounds"}
}
