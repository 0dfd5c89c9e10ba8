// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liyecom/liye-ai-sub006/internal/core/actionspec"
	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

var executedAt = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func negativePlan() models.ExecutionPlan {
	return models.ExecutionPlan{
		RunID:      "run-1",
		ProposalID: "prop-1",
		ActionID:   actionspec.ActionNegativeKeywordAdd,
		Actions: []models.PlannedAction{
			{
				ID:   "run-1-step-0",
				Tool: actionspec.ToolNegativeKeywordCreate,
				Kind: models.KindWrite,
				Arguments: map[string]interface{}{
					"profile_id":  "P1",
					"campaign_id": "C1",
					"terms":       []interface{}{"cheap widgets"},
					"match_type":  "NEGATIVE_EXACT",
				},
			},
		},
	}
}

func executedResult(response map[string]interface{}) models.PerActionResult {
	return models.PerActionResult{
		ActionID: "run-1-step-0",
		Tool:     actionspec.ToolNegativeKeywordCreate,
		Kind:     models.KindWrite,
		Status:   models.ActionExecuted,
		Response: response,
	}
}

func TestBuildNegativeKeywordInverse(t *testing.T) {
	b := NewBuilder(actionspec.DefaultRegistry(), 48*time.Hour, nil)

	results := []models.PerActionResult{executedResult(map[string]interface{}{
		"negative_keyword_ids": []interface{}{"nk-1", "nk-2"},
	})}
	actions := b.Build(negativePlan(), results, executedAt)

	require.Len(t, actions, 1)
	rb := actions[0]
	assert.Equal(t, actionspec.ActionNegativeKeywordAdd, rb.RollbackFor)
	assert.Equal(t, "run-1-step-0", rb.OriginalActionID)
	assert.Equal(t, actionspec.ToolNegativeKeywordDelete, rb.Tool)
	assert.Equal(t, []string{"nk-1", "nk-2"}, rb.Arguments["negative_keyword_ids"])
	assert.Equal(t, "P1", rb.Arguments["profile_id"])
	assert.Equal(t, "C1", rb.Arguments["campaign_id"])
	assert.True(t, rb.ExpiresAt.Equal(executedAt.Add(48*time.Hour)), "Expiry is anchored at execution time")
}

func TestBuildMissingIdentifierIsLoggedNotSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	b := NewBuilder(actionspec.DefaultRegistry(), 48*time.Hour, logger)

	// Successful write, but the platform returned no identifiers.
	results := []models.PerActionResult{executedResult(map[string]interface{}{"status": "ok"})}
	actions := b.Build(negativePlan(), results, executedAt)

	assert.Empty(t, actions, "No rollback can be derived without identifiers")
	assert.Contains(t, buf.String(), "write accepted without rollback", "Risk acceptance must be logged")
	assert.Contains(t, buf.String(), "run-1-step-0")
}

func TestBuildSkipsNonExecutedResults(t *testing.T) {
	b := NewBuilder(actionspec.DefaultRegistry(), 48*time.Hour, nil)

	results := []models.PerActionResult{
		{ActionID: "run-1-step-0", Tool: actionspec.ToolNegativeKeywordCreate, Kind: models.KindWrite, Status: models.ActionBlocked},
		{ActionID: "run-1-step-0", Tool: actionspec.ToolNegativeKeywordCreate, Kind: models.KindWrite, Status: models.ActionFailed},
		{ActionID: "run-1-step-0", Tool: actionspec.ToolNegativeKeywordCreate, Kind: models.KindWrite, Status: models.ActionSimulated},
	}
	actions := b.Build(negativePlan(), results, executedAt)

	assert.Empty(t, actions, "Only executed writes produce rollbacks")
}

func TestBuildSkipsReplayedResults(t *testing.T) {
	b := NewBuilder(actionspec.DefaultRegistry(), 48*time.Hour, nil)

	replayed := executedResult(map[string]interface{}{
		"negative_keyword_ids": []interface{}{"nk-1"},
	})
	replayed.Replayed = true
	actions := b.Build(negativePlan(), []models.PerActionResult{replayed}, executedAt)

	assert.Empty(t, actions, "A replayed result must not mint a fresh rollback window")
}

func TestBuildBidAdjustInverse(t *testing.T) {
	b := NewBuilder(actionspec.DefaultRegistry(), 48*time.Hour, nil)

	plan := models.ExecutionPlan{
		RunID:    "run-2",
		ActionID: actionspec.ActionBidAdjust,
		Actions: []models.PlannedAction{
			{
				ID:   "run-2-step-0",
				Tool: actionspec.ToolKeywordBidUpdate,
				Kind: models.KindWrite,
				Arguments: map[string]interface{}{
					"profile_id": "P1",
					"adgroup_id": "AG1",
					"keyword_id": "KW1",
					"new_bid":    1.25,
				},
			},
		},
	}
	results := []models.PerActionResult{
		{
			ActionID: "run-2-step-0",
			Tool:     actionspec.ToolKeywordBidUpdate,
			Kind:     models.KindWrite,
			Status:   models.ActionExecuted,
			Response: map[string]interface{}{"previous_bid": 1.00},
		},
	}

	actions := b.Build(plan, results, executedAt)

	require.Len(t, actions, 1)
	assert.Equal(t, actionspec.ToolKeywordBidUpdate, actions[0].Tool, "A bid change inverts through the same tool")
	assert.Equal(t, 1.00, actions[0].Arguments["new_bid"], "Inverse restores the previous bid")
	assert.Equal(t, "KW1", actions[0].Arguments["keyword_id"])
}

func TestValidateExecutable(t *testing.T) {
	action := models.RollbackAction{
		OriginalActionID: "run-1-step-0",
		Tool:             actionspec.ToolNegativeKeywordDelete,
		ExpiresAt:        executedAt.Add(48 * time.Hour),
	}

	t.Run("within window", func(t *testing.T) {
		assert.NoError(t, ValidateExecutable(action, executedAt.Add(24*time.Hour)))
	})

	t.Run("at the boundary", func(t *testing.T) {
		assert.NoError(t, ValidateExecutable(action, action.ExpiresAt), "Expiry is exclusive")
	})

	t.Run("expired", func(t *testing.T) {
		err := ValidateExecutable(action, executedAt.Add(72*time.Hour))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})
}
