// Package cel provides a CEL-based activity event filter.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/projectm/lms-session/internal/domain/activity"
)

// maxExpressionLength is the maximum allowed length for filter expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 10_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 20

// evalTimeout bounds a single evaluation. Events arrive at interaction
// rate, so a filter must be fast.
const evalTimeout = 100 * time.Millisecond

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// ActivityFilter accepts or rejects activity events with a CEL expression
// that must evaluate to a bool. It implements activity.Filter.
type ActivityFilter struct {
	expr string
	prg  cel.Program
}

// NewActivityFilter validates and compiles expr.
func NewActivityFilter(expr string) (*ActivityFilter, error) {
	env, err := NewActivityEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create activity environment: %w", err)
	}
	if err := ValidateExpression(env, expr); err != nil {
		return nil, err
	}
	prg, err := compile(env, expr)
	if err != nil {
		return nil, err
	}
	return &ActivityFilter{expr: expr, prg: prg}, nil
}

// Expression returns the source expression.
func (f *ActivityFilter) Expression() string {
	return f.expr
}

// Allow evaluates the expression against ev.
func (f *ActivityFilter) Allow(ctx context.Context, ev activity.Event) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := f.prg.ContextEval(ctx, buildActivation(ev))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return allowed, nil
}

// ValidateExpression checks that expr is non-empty, within the length and
// nesting limits, compiles against env and yields a bool.
func ValidateExpression(env *cel.Env, expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return errors.New("expression is empty")
	}
	if err := validateNesting(expr); err != nil {
		return err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("invalid CEL expression: must return bool, got %s", ast.OutputType())
	}
	return nil
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// nesting depth for parentheses, brackets and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

var _ activity.Filter = (*ActivityFilter)(nil)
