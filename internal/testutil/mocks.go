// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test doubles for the execution boundary.
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
)

// MockCaller is a testify mock for the remote ads API. The simulator in the
// adsapi package replays canned responses; this mock is the right double when
// a test needs to verify exactly which tools were invoked and with which
// arguments.
type MockCaller struct {
	mock.Mock
}

var _ adsapi.Caller = (*MockCaller)(nil)

// Call dispatches to the configured expectations.
func (m *MockCaller) Call(ctx context.Context, tool string, arguments map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, tool, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// FixedClock returns a clock function pinned to ts, for components that
// accept an injectable clock.
func FixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
