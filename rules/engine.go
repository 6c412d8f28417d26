package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultAmountThreshold is the amount above which a test payload triggers
const DefaultAmountThreshold = 1000.0

// Evaluator is the seam where rule evaluation attaches. It does not walk a
// rule's logic tree: every rule is tested with one CEL program that compares
// the payload amount with a fixed threshold.
type Evaluator struct {
	threshold float64
	program   cel.Program
	reason    string
}

// NewEvaluator compiles the threshold program
func NewEvaluator() (*Evaluator, error) {
	return NewEvaluatorWithThreshold(DefaultAmountThreshold)
}

// NewEvaluatorWithThreshold compiles the threshold program for a custom threshold
func NewEvaluatorWithThreshold(threshold float64) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(`amount > threshold`)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(1000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Evaluator{
		threshold: threshold,
		program:   prog,
		reason:    fmt.Sprintf("amount > %g", threshold),
	}, nil
}

// Evaluate tests payload against rule. The payload amount is read from the
// "amount" key; absent or non-numeric amounts count as 0. rule may be nil.
func (e *Evaluator) Evaluate(rule *Rule, payload map[string]any) (*EvaluationResult, error) {
	amount := 0.0
	if raw, ok := payload["amount"]; ok {
		if f, ok := toFloat(raw); ok {
			amount = f
		}
	}

	out, _, err := e.program.Eval(map[string]any{
		"amount":    amount,
		"threshold": e.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	triggered := false
	if b, ok := out.Value().(bool); ok {
		triggered = b
	}

	result := &EvaluationResult{
		Triggered: triggered,
		Severity:  SeverityLow,
		Reasons:   []string{"no conditions met"},
	}
	if triggered {
		result.Severity = SeverityHigh
		result.Reasons = []string{e.reason}
	}
	if rule != nil {
		result.RuleID = rule.RuleID
		result.RuleName = rule.Name
	}
	return result, nil
}
