// SPDX-License-Identifier: Apache-2.0

package actionspec

import (
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// DefaultRegistry returns a registry with all builtin action types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins registers the standard action types.
func RegisterBuiltins(r *Registry) {
	// Registration of builtins only fails on programmer error, so panic
	// rather than returning an error nobody can handle.
	mustRegister := func(s Spec) {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}

	mustRegister(negativeKeywordAddSpec())
	mustRegister(bidAdjustSpec())
	mustRegister(keywordPauseSpec())
	mustRegister(searchTermAuditSpec())
}

func negativeKeywordAddSpec() Spec {
	return Spec{
		ID:          ActionNegativeKeywordAdd,
		Description: "Add search terms as negative keywords to a campaign or ad group",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"tenant_id", "profile_id", "campaign_id", "terms"},
			"properties": map[string]interface{}{
				"tenant_id":   map[string]interface{}{"type": "string", "minLength": 1},
				"profile_id":  map[string]interface{}{"type": "string", "minLength": 1},
				"campaign_id": map[string]interface{}{"type": "string", "minLength": 1},
				"adgroup_id":  map[string]interface{}{"type": "string"},
				"terms": map[string]interface{}{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]interface{}{"type": "string"},
				},
				"match_type": map[string]interface{}{
					"type": "string",
					"enum": []interface{}{"NEGATIVE_EXACT", "NEGATIVE_PHRASE"},
				},
			},
		},
		Defaults: map[string]interface{}{
			"match_type": "NEGATIVE_EXACT",
		},
		Items: func(params map[string]interface{}) []string {
			terms, _ := StringSliceParam(params, "terms")
			return terms
		},
		MatchType: func(params map[string]interface{}) (string, bool) {
			return StringParam(params, "match_type")
		},
		Steps: []StepSpec{
			{
				Tool: ToolNegativeKeywordCreate,
				Kind: models.KindWrite,
				BuildArgs: func(params map[string]interface{}) (map[string]interface{}, error) {
					return pickArgs(params, "profile_id", "campaign_id", "adgroup_id", "terms", "match_type"), nil
				},
				CounterName: "negatives",
				Inverse: func(args, response map[string]interface{}) (string, map[string]interface{}, bool) {
					ids, ok := StringSliceParam(response, "negative_keyword_ids")
					if !ok || len(ids) == 0 {
						return "", nil, false
					}
					inverseArgs := pickArgs(args, "profile_id", "campaign_id", "adgroup_id")
					inverseArgs["negative_keyword_ids"] = ids
					return ToolNegativeKeywordDelete, inverseArgs, true
				},
			},
		},
	}
}

func bidAdjustSpec() Spec {
	return Spec{
		ID:          ActionBidAdjust,
		Description: "Adjust a keyword bid to a new value",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"tenant_id", "profile_id", "adgroup_id", "keyword_id", "old_bid", "new_bid"},
			"properties": map[string]interface{}{
				"tenant_id":   map[string]interface{}{"type": "string", "minLength": 1},
				"profile_id":  map[string]interface{}{"type": "string", "minLength": 1},
				"campaign_id": map[string]interface{}{"type": "string"},
				"adgroup_id":  map[string]interface{}{"type": "string", "minLength": 1},
				"keyword_id":  map[string]interface{}{"type": "string", "minLength": 1},
				"old_bid":     map[string]interface{}{"type": "number", "exclusiveMinimum": 0},
				"new_bid":     map[string]interface{}{"type": "number", "exclusiveMinimum": 0},
			},
		},
		Steps: []StepSpec{
			{
				Tool: ToolKeywordBidUpdate,
				Kind: models.KindWrite,
				BuildArgs: func(params map[string]interface{}) (map[string]interface{}, error) {
					return pickArgs(params, "profile_id", "adgroup_id", "keyword_id", "new_bid"), nil
				},
				CounterName: "bid_changes",
				CounterCost: func(map[string]interface{}) int { return 1 },
				BidDelta: func(params map[string]interface{}) *models.BidDelta {
					oldBid, okOld := FloatParam(params, "old_bid")
					newBid, okNew := FloatParam(params, "new_bid")
					if !okOld || !okNew {
						return nil
					}
					return &models.BidDelta{Old: oldBid, New: newBid}
				},
				Inverse: func(args, response map[string]interface{}) (string, map[string]interface{}, bool) {
					// The previous bid comes back from the platform; without
					// it the original value cannot be restored reliably.
					prev, ok := FloatParam(response, "previous_bid")
					if !ok {
						return "", nil, false
					}
					inverseArgs := pickArgs(args, "profile_id", "adgroup_id", "keyword_id")
					inverseArgs["new_bid"] = prev
					return ToolKeywordBidUpdate, inverseArgs, true
				},
			},
		},
	}
}

func keywordPauseSpec() Spec {
	return Spec{
		ID:          ActionKeywordPause,
		Description: "Pause a keyword",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"tenant_id", "profile_id", "adgroup_id", "keyword_id"},
			"properties": map[string]interface{}{
				"tenant_id":  map[string]interface{}{"type": "string", "minLength": 1},
				"profile_id": map[string]interface{}{"type": "string", "minLength": 1},
				"adgroup_id": map[string]interface{}{"type": "string", "minLength": 1},
				"keyword_id": map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
		Steps: []StepSpec{
			{
				Tool: ToolKeywordStateUpdate,
				Kind: models.KindWrite,
				BuildArgs: func(params map[string]interface{}) (map[string]interface{}, error) {
					args := pickArgs(params, "profile_id", "adgroup_id", "keyword_id")
					args["state"] = "PAUSED"
					return args, nil
				},
				CounterName: "state_changes",
				CounterCost: func(map[string]interface{}) int { return 1 },
				Inverse: func(args, response map[string]interface{}) (string, map[string]interface{}, bool) {
					prev, ok := StringParam(response, "previous_state")
					if !ok || prev == "" {
						return "", nil, false
					}
					inverseArgs := pickArgs(args, "profile_id", "adgroup_id", "keyword_id")
					inverseArgs["state"] = prev
					return ToolKeywordStateUpdate, inverseArgs, true
				},
			},
		},
	}
}

func searchTermAuditSpec() Spec {
	return Spec{
		ID:          ActionSearchTermAudit,
		Description: "Pull a search-term report for offline review",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"tenant_id", "profile_id"},
			"properties": map[string]interface{}{
				"tenant_id":     map[string]interface{}{"type": "string", "minLength": 1},
				"profile_id":    map[string]interface{}{"type": "string", "minLength": 1},
				"campaign_id":   map[string]interface{}{"type": "string"},
				"lookback_days": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 90},
			},
		},
		Defaults: map[string]interface{}{
			"lookback_days": 30,
		},
		Steps: []StepSpec{
			{
				Tool: ToolSearchTermsReport,
				Kind: models.KindRead,
				BuildArgs: func(params map[string]interface{}) (map[string]interface{}, error) {
					return pickArgs(params, "profile_id", "campaign_id", "lookback_days"), nil
				},
			},
		},
	}
}
