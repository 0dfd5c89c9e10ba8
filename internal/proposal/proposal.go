// SPDX-License-Identifier: Apache-2.0

// Package proposal turns upstream recommendations into governed
// ActionProposals. The builder is the only place an execution mode is
// resolved: auto_if_safe survives only when the auto-execution policy
// allowlists the action, and the downgrade to suggest_only is one-way.
package proposal

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/canon"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
	"github.com/liyecom/liye-ai-sub006/internal/core/schema"
)

// Builder assembles proposals against one policy snapshot.
type Builder struct {
	pol      *policy.Policy
	registry *actionspec.Registry
	now      func() time.Time
	newID    func() string
}

// NewBuilder creates a builder bound to a policy snapshot and action
// registry.
func NewBuilder(pol *policy.Policy, registry *actionspec.Registry) *Builder {
	return &Builder{
		pol:      pol,
		registry: registry,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Build validates the recommendation, merges parameter defaults, resolves the
// execution mode, and fingerprints the result. The returned proposal is
// immutable by convention: every later stage passes it by value.
func (b *Builder) Build(rec models.Recommendation, link models.Linkage, evidence map[string]string) (models.ActionProposal, error) {
	if link.TraceID == "" {
		return models.ActionProposal{}, fmt.Errorf("recommendation has no trace_id")
	}
	if rec.ActionID == "" {
		return models.ActionProposal{}, fmt.Errorf("recommendation has no action_id")
	}
	spec, ok := b.registry.Get(rec.ActionID)
	if !ok {
		return models.ActionProposal{}, fmt.Errorf("unknown action type %q", rec.ActionID)
	}

	risk := rec.RiskLevel
	if risk == "" {
		risk = models.RiskMedium
	}
	if !risk.Valid() {
		return models.ActionProposal{}, fmt.Errorf("invalid risk level %q", rec.RiskLevel)
	}

	mode := rec.ExecutionMode
	if mode == "" {
		mode = models.ModeSuggestOnly
	}
	if !mode.Valid() {
		return models.ActionProposal{}, fmt.Errorf("invalid execution mode %q", rec.ExecutionMode)
	}
	// One-way downgrade: auto_if_safe survives only when allowlisted. The
	// builder never upgrades a mode.
	if mode == models.ModeAutoIfSafe && !b.pol.AutoExecution.Allows(rec.ActionID) {
		mode = models.ModeSuggestOnly
	}

	params := schema.MergeWithDefaults(rec.Parameters, spec.Defaults)
	if spec.Schema != nil {
		if err := schema.ValidateParams(spec.Schema, params); err != nil {
			return models.ActionProposal{}, fmt.Errorf("invalid params for action %q: %w", rec.ActionID, err)
		}
	}

	fingerprint, err := Fingerprint(link.TraceID, rec.ActionID, params)
	if err != nil {
		return models.ActionProposal{}, err
	}

	return models.ActionProposal{
		ProposalID:    b.newID(),
		TraceID:       link.TraceID,
		ObservationID: link.ObservationID,
		CauseID:       link.CauseID,
		ActionID:      rec.ActionID,
		RuleVersion:   link.RuleVersion,
		ExecutionMode: mode,
		RiskLevel:     risk,
		Params:        params,
		EvidenceRefs:  evidenceRefs(evidence),
		DryRun:        true,
		Fingerprint:   fingerprint,
		CreatedAt:     b.now().UTC(),
	}, nil
}

// Fingerprint identifies a proposal's intent. Two proposals with the same
// trace, action, and canonicalized params always collide, which is what lets
// the approval machine treat a re-submission as the same ask.
func Fingerprint(traceID, actionID string, params map[string]interface{}) (string, error) {
	digest, err := canon.Hash(map[string]interface{}{
		"trace_id":  traceID,
		"action_id": actionID,
		"params":    params,
	})
	if err != nil {
		return "", fmt.Errorf("error fingerprinting proposal: %w", err)
	}
	return digest, nil
}

func evidenceRefs(evidence map[string]string) []models.EvidenceRef {
	if len(evidence) == 0 {
		return nil
	}
	names := make([]string, 0, len(evidence))
	for name := range evidence {
		names = append(names, name)
	}
	sort.Strings(names)

	refs := make([]models.EvidenceRef, 0, len(names))
	for _, name := range names {
		refs = append(refs, models.EvidenceRef{Name: name, Ref: evidence[name]})
	}
	return refs
}
