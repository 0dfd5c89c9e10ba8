// SPDX-License-Identifier: Apache-2.0

// Package actionspec is the registry of supported action types. Each spec
// declares the action's parameter schema, its ordered tool steps, the counter
// budget a step consumes, and how to derive the step's semantic inverse.
package actionspec

import (
	"fmt"
	"sort"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// Supported action type IDs.
const (
	ActionNegativeKeywordAdd = "negative_keyword_add"
	ActionBidAdjust          = "bid_adjust"
	ActionKeywordPause       = "keyword_pause"
	ActionSearchTermAudit    = "search_term_audit"
)

// Remote tool names, as they appear in the write-gate tool allowlist.
const (
	ToolNegativeKeywordCreate = "ads.negative_keyword.create"
	ToolNegativeKeywordDelete = "ads.negative_keyword.delete"
	ToolKeywordBidUpdate      = "ads.keyword_bid.update"
	ToolKeywordStateUpdate    = "ads.keyword_state.update"
	ToolSearchTermsReport     = "ads.search_terms.report"
)

// Spec describes one action type.
type Spec struct {
	ID          string
	Description string

	// Schema validates the proposal params; Defaults are merged in first.
	Schema   map[string]interface{}
	Defaults map[string]interface{}

	// Steps are executed strictly in order.
	Steps []StepSpec

	// Items returns the governed content units (candidate terms) carried by
	// the params. Nil when the action has no term payload.
	Items func(params map[string]interface{}) []string

	// MatchType extracts the match-type param when the action has one.
	MatchType func(params map[string]interface{}) (string, bool)
}

// StepSpec is one remote tool invocation within an action.
type StepSpec struct {
	Tool string
	Kind models.ActionKind

	// BuildArgs projects proposal params into the tool's argument payload.
	BuildArgs func(params map[string]interface{}) (map[string]interface{}, error)

	// CounterName binds the step to a per-day counter; empty means the step
	// consumes no counter budget. CounterCost may be nil, in which case the
	// cost is len(Items(params)) or 1 when the spec has no Items.
	CounterName string
	CounterCost func(params map[string]interface{}) int

	// BidDelta is set for magnitude-bearing steps; nil otherwise.
	BidDelta func(params map[string]interface{}) *models.BidDelta

	// Inverse derives the rollback tool and arguments from the original
	// arguments and the remote response. ok=false means no rollback can be
	// derived for this step.
	Inverse func(args, response map[string]interface{}) (tool string, inverseArgs map[string]interface{}, ok bool)
}

// Registry holds the registered action specs.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a spec. Registering the same ID twice is a programming
// error, not a runtime condition.
func (r *Registry) Register(s Spec) error {
	if s.ID == "" {
		return fmt.Errorf("action spec has no ID")
	}
	if _, exists := r.specs[s.ID]; exists {
		return fmt.Errorf("action type already registered: %s", s.ID)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("action type %s has no steps", s.ID)
	}
	r.specs[s.ID] = s
	return nil
}

// Get looks up a spec by action type ID.
func (r *Registry) Get(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns the registered action type IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CostOf resolves a step's counter cost for the given params.
func (s StepSpec) CostOf(spec Spec, params map[string]interface{}) int {
	if s.CounterName == "" {
		return 0
	}
	if s.CounterCost != nil {
		return s.CounterCost(params)
	}
	if spec.Items != nil {
		return len(spec.Items(params))
	}
	return 1
}

// ScopeFromParams pulls the standard scope identifiers out of action params.
func ScopeFromParams(params map[string]interface{}) models.ScopeRef {
	scope := models.ScopeRef{}
	if v, ok := StringParam(params, "tenant_id"); ok {
		scope.TenantID = v
	}
	if v, ok := StringParam(params, "profile_id"); ok {
		scope.ProfileID = v
	}
	if v, ok := StringParam(params, "campaign_id"); ok {
		scope.CampaignID = v
	}
	if v, ok := StringParam(params, "adgroup_id"); ok {
		scope.AdGroupID = v
	}
	return scope
}

// StringParam reads a string-valued param.
func StringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FloatParam reads a numeric param. YAML and JSON decoders disagree on
// number types, so every numeric kind is accepted.
func FloatParam(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// StringSliceParam reads a list-of-strings param from either a []string or a
// decoded []interface{}.
func StringSliceParam(params map[string]interface{}, key string) ([]string, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// pickArgs copies the named keys that are present in params.
func pickArgs(params map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}
