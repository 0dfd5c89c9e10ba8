// SPDX-License-Identifier: Apache-2.0

// Package candidates ranks and filters raw signal rows into a bounded
// candidate list. It is a pure leaf: no I/O, no clocks, no randomness.
// Every input row lands in exactly one diagnostics bucket, so the counts
// always reconcile against the input size.
package candidates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SignalRow is one raw row from the upstream signal source.
type SignalRow struct {
	Term        string  `json:"term" yaml:"term"`
	WastedSpend float64 `json:"wasted_spend" yaml:"wasted_spend"`
	Clicks      int     `json:"clicks" yaml:"clicks"`
	Conversions int     `json:"conversions" yaml:"conversions"`
}

// score is the waste ranking key. Spend on terms that still convert is
// discounted; pure waste ranks by raw spend.
func (r SignalRow) score() float64 {
	if r.Conversions <= 0 {
		return r.WastedSpend
	}
	return r.WastedSpend / float64(1+r.Conversions)
}

// Candidate is one accepted term.
type Candidate struct {
	Term        string  `json:"term" yaml:"term"`
	WastedSpend float64 `json:"wasted_spend" yaml:"wasted_spend"`
	Clicks      int     `json:"clicks" yaml:"clicks"`
	Score       float64 `json:"score" yaml:"score"`
}

// SelectionPolicy controls ranking and normalization.
type SelectionPolicy struct {
	// TopN cuts the sorted list before filtering; 0 keeps every row.
	TopN int `json:"top_n" yaml:"top_n"`
	// MaxSelected caps the accepted list; 0 means uncapped.
	MaxSelected int  `json:"max_selected" yaml:"max_selected"`
	Normalize   bool `json:"normalize" yaml:"normalize"`
	Dedupe      bool `json:"dedupe" yaml:"dedupe"`
}

// Limits are the hard content bounds applied during selection.
type Limits struct {
	MinTermLength  int
	ForbiddenTerms []string
}

// Context is the current remote state the selector must respect.
type Context struct {
	// ExistingExclusions are terms already negated remotely.
	ExistingExclusions []string
	// ProtectedTerms are never negated; matching is by substring.
	ProtectedTerms []string
}

// Diagnostics reports where every input row went. It is mandatory output:
// audits reconcile "why N candidates became M" from these counts alone.
type Diagnostics struct {
	CandidatesBefore       int `json:"candidates_before" yaml:"candidates_before"`
	FilteredTopN           int `json:"filtered_top_n" yaml:"filtered_top_n"`
	FilteredDuplicate      int `json:"filtered_duplicate" yaml:"filtered_duplicate"`
	FilteredTooShort       int `json:"filtered_too_short" yaml:"filtered_too_short"`
	FilteredProtected      int `json:"filtered_protected" yaml:"filtered_protected"`
	FilteredIdentifierLike int `json:"filtered_identifier_like" yaml:"filtered_identifier_like"`
	FilteredExisting       int `json:"filtered_existing" yaml:"filtered_existing"`
	FilteredOverCap        int `json:"filtered_over_cap" yaml:"filtered_over_cap"`
	FinalCandidates        int `json:"final_candidates" yaml:"final_candidates"`
}

// Conserved reports whether every input row is accounted for.
func (d Diagnostics) Conserved() bool {
	dropped := d.FilteredTopN + d.FilteredDuplicate + d.FilteredTooShort +
		d.FilteredProtected + d.FilteredIdentifierLike + d.FilteredExisting +
		d.FilteredOverCap
	return d.FinalCandidates+dropped == d.CandidatesBefore
}

// Summary renders the one-line audit string.
func (d Diagnostics) Summary() string {
	return fmt.Sprintf(
		"selected %d of %d candidates (top-n cut: %d, duplicates: %d, too short: %d, protected: %d, identifier-like: %d, already excluded: %d, over cap: %d)",
		d.FinalCandidates, d.CandidatesBefore, d.FilteredTopN, d.FilteredDuplicate,
		d.FilteredTooShort, d.FilteredProtected, d.FilteredIdentifierLike,
		d.FilteredExisting, d.FilteredOverCap,
	)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// IsIdentifierLike reports whether a term looks like a platform identifier
// (fixed-length alphanumeric such as an ASIN) rather than a human search
// phrase. Pure letters of the right length are still words, so at least one
// digit is required.
func IsIdentifierLike(term string) bool {
	return identifierPattern.MatchString(term) && strings.ContainsAny(term, "0123456789")
}

// Select ranks rows by waste score and filters them into a bounded candidate
// list. The returned diagnostics satisfy the conservation law for any input.
func Select(rows []SignalRow, pol SelectionPolicy, limits Limits, ctx Context) ([]Candidate, Diagnostics) {
	diag := Diagnostics{CandidatesBefore: len(rows)}

	sorted := make([]SignalRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].score(), sorted[j].score()
		if si != sj {
			return si > sj
		}
		if sorted[i].Clicks != sorted[j].Clicks {
			return sorted[i].Clicks > sorted[j].Clicks
		}
		return sorted[i].Term < sorted[j].Term
	})

	if pol.TopN > 0 && len(sorted) > pol.TopN {
		diag.FilteredTopN = len(sorted) - pol.TopN
		sorted = sorted[:pol.TopN]
	}

	exclusions := normalizedSet(ctx.ExistingExclusions)
	protected := append(normalizedList(ctx.ProtectedTerms), normalizedList(limits.ForbiddenTerms)...)

	seen := make(map[string]bool)
	accepted := make([]Candidate, 0, len(sorted))

	for _, row := range sorted {
		term := row.Term
		if pol.Normalize {
			term = normalizeTerm(term)
		}

		if pol.Dedupe {
			key := normalizeTerm(term)
			if seen[key] {
				diag.FilteredDuplicate++
				continue
			}
			seen[key] = true
		}

		if len(term) < limits.MinTermLength {
			diag.FilteredTooShort++
			continue
		}

		if matchesProtected(term, protected) {
			diag.FilteredProtected++
			continue
		}

		if IsIdentifierLike(term) {
			diag.FilteredIdentifierLike++
			continue
		}

		if exclusions[normalizeTerm(term)] {
			diag.FilteredExisting++
			continue
		}

		if pol.MaxSelected > 0 && len(accepted) >= pol.MaxSelected {
			diag.FilteredOverCap++
			continue
		}

		accepted = append(accepted, Candidate{
			Term:        term,
			WastedSpend: row.WastedSpend,
			Clicks:      row.Clicks,
			Score:       row.score(),
		})
	}

	diag.FinalCandidates = len(accepted)
	return accepted, diag
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func normalizedList(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = normalizeTerm(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizedSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, t := range normalizedList(terms) {
		set[t] = true
	}
	return set
}

func matchesProtected(term string, protected []string) bool {
	norm := normalizeTerm(term)
	for _, p := range protected {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
