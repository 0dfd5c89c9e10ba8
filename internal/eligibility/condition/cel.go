// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"golang.org/x/sync/singleflight"
)

// CELEvaluator evaluates profile guard expressions against the live signal
// map. Compiled programs are cached per expression; concurrent first-time
// compilations of the same expression are deduplicated.
type CELEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	group    singleflight.Group
}

// NewCELEvaluator creates a new CEL evaluator
func NewCELEvaluator() (*CELEvaluator, error) {
	// Guard expressions see one variable: the signal map.
	env, err := cel.NewEnv(
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// EvaluateGuard evaluates a guard expression against signal values.
func (e *CELEvaluator) EvaluateGuard(expression string, signals map[string]float64) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	vars := make(map[string]interface{}, len(signals))
	for k, v := range signals {
		vars[k] = v
	}

	result, _, err := program.Eval(map[string]interface{}{"signals": vars})
	if err != nil {
		return false, fmt.Errorf("error evaluating expression: %w", err)
	}

	if result.Type() != types.BoolType {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}

	return result.Value().(bool), nil
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	v, err, _ := e.group.Do(expression, func() (interface{}, error) {
		return e.compile(expression)
	})
	if err != nil {
		return nil, err
	}
	return v.(cel.Program), nil
}

func (e *CELEvaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error parsing expression: %w", issues.Err())
	}

	checked, issues := e.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error type-checking expression: %w", issues.Err())
	}

	program, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("error compiling expression: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}
