// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateGuard(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err, "Should create evaluator without error")

	signals := map[string]float64{
		"wasted_spend_ratio": 0.42,
		"clicks":             120,
		"conversions":        0,
	}

	tests := []struct {
		name       string
		expression string
		expected   bool
		expectErr  bool
	}{
		{
			name:       "simple threshold comparison",
			expression: `signals["wasted_spend_ratio"] >= 0.3`,
			expected:   true,
		},
		{
			name:       "threshold not met",
			expression: `signals["wasted_spend_ratio"] >= 0.5`,
			expected:   false,
		},
		{
			name:       "conjunction over two signals",
			expression: `signals["clicks"] >= 100.0 && signals["conversions"] == 0.0`,
			expected:   true,
		},
		{
			name:       "disjunction short circuits",
			expression: `signals["conversions"] > 0.0 || signals["wasted_spend_ratio"] > 0.4`,
			expected:   true,
		},
		{
			name:       "membership check on signal map",
			expression: `"clicks" in signals`,
			expected:   true,
		},
		{
			name:       "missing key yields error",
			expression: `signals["nonexistent"] > 1.0`,
			expectErr:  true,
		},
		{
			name:       "non-boolean result rejected",
			expression: `signals["clicks"]`,
			expectErr:  true,
		},
		{
			name:       "syntax error rejected",
			expression: `signals[`,
			expectErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := evaluator.EvaluateGuard(tc.expression, signals)
			if tc.expectErr {
				assert.Error(t, err, "Should return an error")
				return
			}
			require.NoError(t, err, "Should evaluate without error")
			assert.Equal(t, tc.expected, result, "Unexpected guard result")
		})
	}
}

func TestEvaluateGuardCachesPrograms(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err)

	const expr = `signals["wasted_spend_ratio"] >= 0.3`

	_, err = evaluator.EvaluateGuard(expr, map[string]float64{"wasted_spend_ratio": 0.5})
	require.NoError(t, err)

	evaluator.mu.RLock()
	_, cached := evaluator.programs[expr]
	evaluator.mu.RUnlock()
	assert.True(t, cached, "Compiled program should be cached after first use")
}

func TestEvaluateGuardConcurrent(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err)

	const expr = `signals["clicks"] >= 10.0`

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := evaluator.EvaluateGuard(expr, map[string]float64{"clicks": 25})
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
