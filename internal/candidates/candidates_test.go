// SPDX-License-Identifier: Apache-2.0

package candidates_test

import (
	"fmt"
	"testing"

	"github.com/liyecom/liye-ai-sub006/internal/candidates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRanking(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "cheap deal", WastedSpend: 10.0, Clicks: 5},
		{Term: "free stuff", WastedSpend: 50.0, Clicks: 20},
		{Term: "converting term", WastedSpend: 50.0, Clicks: 20, Conversions: 4},
		{Term: "mid spender", WastedSpend: 25.0, Clicks: 10},
	}

	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{}, candidates.Limits{}, candidates.Context{})
	require.Len(t, selected, 4)

	assert.Equal(t, "free stuff", selected[0].Term, "highest pure waste ranks first")
	assert.Equal(t, "mid spender", selected[1].Term)
	assert.Equal(t, "converting term", selected[2].Term, "conversions discount the waste score")
	assert.Equal(t, "cheap deal", selected[3].Term)
	assert.True(t, diag.Conserved())
}

func TestSelectDeterministicTieBreak(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "bravo", WastedSpend: 10.0, Clicks: 5},
		{Term: "alpha", WastedSpend: 10.0, Clicks: 5},
		{Term: "charlie", WastedSpend: 10.0, Clicks: 9},
	}

	selected, _ := candidates.Select(rows, candidates.SelectionPolicy{}, candidates.Limits{}, candidates.Context{})
	require.Len(t, selected, 3)
	assert.Equal(t, "charlie", selected[0].Term, "equal score breaks ties by clicks")
	assert.Equal(t, "alpha", selected[1].Term, "remaining ties break lexicographically")
	assert.Equal(t, "bravo", selected[2].Term)
}

func TestSelectTopNCut(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "first", WastedSpend: 30},
		{Term: "second", WastedSpend: 20},
		{Term: "third", WastedSpend: 10},
	}

	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{TopN: 2}, candidates.Limits{}, candidates.Context{})
	require.Len(t, selected, 2)
	assert.Equal(t, 1, diag.FilteredTopN)
	assert.True(t, diag.Conserved())
}

func TestSelectNormalizeAndDedupe(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "  Free Shipping ", WastedSpend: 30},
		{Term: "free shipping", WastedSpend: 20},
		{Term: "FREE SHIPPING", WastedSpend: 10},
	}

	pol := candidates.SelectionPolicy{Normalize: true, Dedupe: true}
	selected, diag := candidates.Select(rows, pol, candidates.Limits{}, candidates.Context{})

	require.Len(t, selected, 1)
	assert.Equal(t, "free shipping", selected[0].Term, "terms are case-folded and trimmed")
	assert.Equal(t, 30.0, selected[0].WastedSpend, "highest-ranked duplicate wins")
	assert.Equal(t, 2, diag.FilteredDuplicate)
	assert.True(t, diag.Conserved())
}

func TestSelectMinLength(t *testing.T) {
	// Fifty raw terms; every third one is below the length limit.
	rows := make([]candidates.SignalRow, 0, 50)
	for i := 0; i < 50; i++ {
		term := fmt.Sprintf("term number %d", i)
		if i%3 == 0 {
			term = "ab"
		}
		rows = append(rows, candidates.SignalRow{Term: term, WastedSpend: float64(100 - i)})
	}

	pol := candidates.SelectionPolicy{Normalize: true, Dedupe: true}
	selected, diag := candidates.Select(rows, pol, candidates.Limits{MinTermLength: 3}, candidates.Context{})

	for _, c := range selected {
		assert.GreaterOrEqual(t, len(c.Term), 3, "accepted candidates respect the length limit")
	}
	assert.Equal(t, 50, diag.CandidatesBefore)
	assert.True(t, diag.Conserved(), "every row must land in exactly one bucket")
}

func TestSelectProtectedTerms(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "acme widgets", WastedSpend: 30},
		{Term: "cheap knockoff", WastedSpend: 20},
	}

	ctx := candidates.Context{ProtectedTerms: []string{"ACME"}}
	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{Normalize: true}, candidates.Limits{}, ctx)

	require.Len(t, selected, 1)
	assert.Equal(t, "cheap knockoff", selected[0].Term)
	assert.Equal(t, 1, diag.FilteredProtected, "protected matching is by case-folded substring")
	assert.True(t, diag.Conserved())
}

func TestSelectForbiddenTermsActLikeProtected(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "brandname sale", WastedSpend: 30},
		{Term: "generic query", WastedSpend: 20},
	}

	limits := candidates.Limits{ForbiddenTerms: []string{"brandname"}}
	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{}, limits, candidates.Context{})

	require.Len(t, selected, 1)
	assert.Equal(t, "generic query", selected[0].Term)
	assert.Equal(t, 1, diag.FilteredProtected)
}

func TestSelectIdentifierLike(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "B08XYZ1234", WastedSpend: 40},
		{Term: "normal phrase", WastedSpend: 20},
	}

	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{}, candidates.Limits{}, candidates.Context{})
	require.Len(t, selected, 1)
	assert.Equal(t, "normal phrase", selected[0].Term)
	assert.Equal(t, 1, diag.FilteredIdentifierLike)
	assert.True(t, diag.Conserved())
}

func TestSelectExistingExclusions(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "already negated", WastedSpend: 40},
		{Term: "new term", WastedSpend: 20},
	}

	ctx := candidates.Context{ExistingExclusions: []string{"Already Negated"}}
	selected, diag := candidates.Select(rows, candidates.SelectionPolicy{Normalize: true}, candidates.Limits{}, ctx)

	require.Len(t, selected, 1)
	assert.Equal(t, "new term", selected[0].Term)
	assert.Equal(t, 1, diag.FilteredExisting)
	assert.True(t, diag.Conserved())
}

func TestSelectCap(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "one", WastedSpend: 50},
		{Term: "two", WastedSpend: 40},
		{Term: "three", WastedSpend: 30},
		{Term: "four", WastedSpend: 20},
	}

	pol := candidates.SelectionPolicy{MaxSelected: 2}
	selected, diag := candidates.Select(rows, pol, candidates.Limits{}, candidates.Context{})

	require.Len(t, selected, 2)
	assert.Equal(t, "one", selected[0].Term)
	assert.Equal(t, "two", selected[1].Term)
	assert.Equal(t, 2, diag.FilteredOverCap)
	assert.True(t, diag.Conserved())
}

func TestSelectEmptyInput(t *testing.T) {
	selected, diag := candidates.Select(nil, candidates.SelectionPolicy{}, candidates.Limits{}, candidates.Context{})
	assert.Empty(t, selected)
	assert.Equal(t, 0, diag.CandidatesBefore)
	assert.True(t, diag.Conserved())
}

func TestDiagnosticsSummary(t *testing.T) {
	rows := []candidates.SignalRow{
		{Term: "keep me please", WastedSpend: 50},
		{Term: "xx", WastedSpend: 40},
	}

	_, diag := candidates.Select(rows, candidates.SelectionPolicy{}, candidates.Limits{MinTermLength: 3}, candidates.Context{})
	summary := diag.Summary()
	assert.Contains(t, summary, "selected 1 of 2 candidates")
	assert.Contains(t, summary, "too short: 1")
}

func TestIsIdentifierLike(t *testing.T) {
	assert.True(t, candidates.IsIdentifierLike("B08XYZ1234"))
	assert.True(t, candidates.IsIdentifierLike("0123456789"))
	assert.False(t, candidates.IsIdentifierLike("buy shoes"), "phrases are not identifiers")
	assert.False(t, candidates.IsIdentifierLike("ABCDEFGHIJ"), "pure letters are words, not identifiers")
	assert.False(t, candidates.IsIdentifierLike("B08XYZ123"), "wrong length")
	assert.False(t, candidates.IsIdentifierLike("B08XYZ12345"), "wrong length")
}
