// SPDX-License-Identifier: Apache-2.0

package adsapi

import (
	"context"
	"fmt"
	"sync"
)

// SimulatedCall is one invocation recorded by the Simulator.
type SimulatedCall struct {
	Tool      string
	Arguments map[string]interface{}
}

// Simulator is a scripted Caller with no network behind it. Tests and
// staging environments seed it with per-tool responses; unscripted tools
// fail loudly rather than inventing data.
type Simulator struct {
	mu        sync.Mutex
	responses map[string]map[string]interface{}
	failures  map[string]error
	calls     []SimulatedCall
}

func NewSimulator() *Simulator {
	return &Simulator{
		responses: make(map[string]map[string]interface{}),
		failures:  make(map[string]error),
	}
}

// Respond scripts a success response for a tool.
func (s *Simulator) Respond(tool string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[tool] = data
	delete(s.failures, tool)
}

// Fail scripts a failure for a tool.
func (s *Simulator) Fail(tool string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[tool] = err
	delete(s.responses, tool)
}

func (s *Simulator) Call(ctx context.Context, tool string, arguments map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, SimulatedCall{Tool: tool, Arguments: arguments})

	if err, ok := s.failures[tool]; ok {
		return nil, err
	}
	if data, ok := s.responses[tool]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no scripted response for tool %q", tool)
}

// Calls returns every recorded invocation in order.
func (s *Simulator) Calls() []SimulatedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many invocations were recorded.
func (s *Simulator) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
