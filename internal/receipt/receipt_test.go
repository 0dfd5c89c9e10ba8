// SPDX-License-Identifier: Apache-2.0

package receipt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

func testReceipt(runID string, status models.ReceiptStatus) models.Receipt {
	return models.Receipt{
		Timestamp:  time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC),
		RunID:      runID,
		ActionHash: "c3f1a9",
		ActionType: "negative_keyword",
		Status:     status,
		Tier:       "t1",
		PolicyID:   "default-v1",
	}
}

func readLines(t *testing.T, path string) []models.Receipt {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err, "Should open receipt file")
	defer f.Close()

	var receipts []models.Receipt
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.Receipt
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "Each line should be a complete JSON receipt")
		receipts = append(receipts, rec)
	}
	require.NoError(t, scanner.Err(), "Should scan receipt file")
	return receipts
}

func TestAppendWritesOneLinePerReceipt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	logger := NewLogger(path)

	denied := testReceipt("run-001", models.ReceiptDenied)
	denied.Reason = "tool negative_keyword.create is not in the tool allowlist"
	require.NoError(t, logger.Append(denied), "Should append denied receipt")

	applied := testReceipt("run-001", models.ReceiptApplied)
	require.NoError(t, logger.Append(applied), "Should append applied receipt")

	receipts := readLines(t, path)
	require.Len(t, receipts, 2, "Should have one line per append")

	assert.Equal(t, models.ReceiptDenied, receipts[0].Status, "First line should be the denial")
	assert.Equal(t, "tool negative_keyword.create is not in the tool allowlist", receipts[0].Reason, "Denial should carry its reason")
	assert.Equal(t, models.ReceiptApplied, receipts[1].Status, "Second line should be the applied write")
	assert.Empty(t, receipts[1].Reason, "Applied receipt should omit the reason")
	assert.Equal(t, "run-001", receipts[1].RunID, "Run id should round trip")
	assert.Equal(t, "c3f1a9", receipts[1].ActionHash, "Action hash should round trip")
	assert.Equal(t, "t1", receipts[1].Tier, "Tier should round trip")
	assert.Equal(t, "default-v1", receipts[1].PolicyID, "Policy id should round trip")
	assert.True(t, receipts[1].Timestamp.Equal(denied.Timestamp), "Timestamp should round trip")
}

func TestAppendCoversEveryStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	logger := NewLogger(path)

	statuses := []models.ReceiptStatus{
		models.ReceiptDenied,
		models.ReceiptDryRunApplied,
		models.ReceiptApplied,
		models.ReceiptError,
	}
	for _, status := range statuses {
		require.NoError(t, logger.Append(testReceipt("run-002", status)), "Should append %s receipt", status)
	}

	receipts := readLines(t, path)
	require.Len(t, receipts, len(statuses), "Should append every status")
	for i, status := range statuses {
		assert.Equal(t, status, receipts[i].Status, "Line %d should carry status %s", i, status)
	}
}

func TestAppendCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run-003", "receipts.jsonl")
	logger := NewLogger(path)

	require.NoError(t, logger.Append(testReceipt("run-003", models.ReceiptDryRunApplied)), "Should create missing directories")

	receipts := readLines(t, path)
	require.Len(t, receipts, 1, "Receipt should land in the new directory")
}

func TestSeparateLoggersNeverTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")

	first := NewLogger(path)
	require.NoError(t, first.Append(testReceipt("run-004", models.ReceiptApplied)), "First logger should append")

	second := NewLogger(path)
	require.NoError(t, second.Append(testReceipt("run-004", models.ReceiptError)), "Second logger should append")

	receipts := readLines(t, path)
	require.Len(t, receipts, 2, "A fresh logger must append, never rewrite")
	assert.Equal(t, models.ReceiptApplied, receipts[0].Status, "Earlier line should survive")
	assert.Equal(t, models.ReceiptError, receipts[1].Status, "Later line should follow")
}

func TestConcurrentAppendsKeepWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	logger := NewLogger(path)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testReceipt(fmt.Sprintf("run-%03d", i), models.ReceiptApplied)
			assert.NoError(t, logger.Append(rec), "Concurrent append should succeed")
		}(i)
	}
	wg.Wait()

	receipts := readLines(t, path)
	require.Len(t, receipts, writers, "Every concurrent append should produce exactly one line")

	seen := make(map[string]bool)
	for _, rec := range receipts {
		seen[rec.RunID] = true
	}
	assert.Len(t, seen, writers, "Every writer's receipt should be present")
}
