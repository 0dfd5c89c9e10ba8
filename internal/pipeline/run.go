// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/liyecom/liye-ai-sub006/internal/candidates"
	"github.com/liyecom/liye-ai-sub006/internal/core/format"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// RunDocument is one analysis run's worth of recommendations, persisted by
// the upstream analyzer and addressed by run ID.
type RunDocument struct {
	RunID           string                `json:"run_id" yaml:"run_id"`
	Recommendations []RecommendationEntry `json:"recommendations" yaml:"recommendations"`
}

// RecommendationEntry pairs one recommendation with the context the pipeline
// needs to govern it: provenance linkage, live signal values for the
// eligibility check, and optionally the raw search-term rows to select
// candidates from.
type RecommendationEntry struct {
	Recommendation models.Recommendation `json:"recommendation" yaml:"recommendation"`
	Linkage        models.Linkage        `json:"linkage" yaml:"linkage"`
	Evidence       map[string]string     `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Signals        map[string]float64    `json:"signals,omitempty" yaml:"signals,omitempty"`
	Profile        string                `json:"profile,omitempty" yaml:"profile,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
	Selection      *SelectionInput       `json:"selection,omitempty" yaml:"selection,omitempty"`
}

// SelectionInput carries raw signal rows through candidate selection before
// the proposal is built. When present, the accepted terms replace the
// recommendation's terms parameter.
type SelectionInput struct {
	Rows               []candidates.SignalRow     `json:"rows" yaml:"rows"`
	Policy             candidates.SelectionPolicy `json:"policy" yaml:"policy"`
	ExistingExclusions []string                   `json:"existing_exclusions,omitempty" yaml:"existing_exclusions,omitempty"`
	ProtectedTerms     []string                   `json:"protected_terms,omitempty" yaml:"protected_terms,omitempty"`
}

// LoadRun resolves a run document by ID under runsDir, trying the supported
// file extensions in order.
func LoadRun(runsDir, runID string) (RunDocument, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(runsDir, runID+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var doc RunDocument
		if err := format.ParseFile(path, &doc); err != nil {
			return RunDocument{}, fmt.Errorf("error parsing run file %s: %w", path, err)
		}
		if doc.RunID == "" {
			doc.RunID = runID
		}
		return doc, nil
	}
	return RunDocument{}, fmt.Errorf("run %q not found under %s", runID, runsDir)
}
