package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/JonMunkholm/gridfill/internal/config"
)

// Check is a compiled cross-field expression. A record passes when the
// expression evaluates to true.
type Check struct {
	Name     string
	Expr     string
	Severity Severity
	Message  string

	program cel.Program
}

// CheckSet evaluates cross-field checks against records. The record is
// exposed to expressions as the map variable "record", keyed by field name.
type CheckSet struct {
	checks []Check
}

func newCheckEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// NewCheckSet compiles specs. Every expression must have a bool result.
func NewCheckSet(specs []config.CheckSpec) (*CheckSet, error) {
	cs := &CheckSet{}
	if len(specs) == 0 {
		return cs, nil
	}

	env, err := newCheckEnv()
	if err != nil {
		return nil, fmt.Errorf("check env: %w", err)
	}

	for _, spec := range specs {
		expr := strings.TrimSpace(spec.Expr)
		if expr == "" {
			return nil, fmt.Errorf("check %s: expression required", spec.Name)
		}
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("check %s: %w", spec.Name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("check %s: expression must return bool, got %s", spec.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", spec.Name, err)
		}

		sev := Severity(strings.ToLower(spec.Severity))
		if sev == "" {
			sev = SeverityError
		}
		msg := spec.Message
		if msg == "" {
			msg = "failed check: " + expr
		}
		cs.checks = append(cs.checks, Check{
			Name:     spec.Name,
			Expr:     expr,
			Severity: sev,
			Message:  msg,
			program:  prg,
		})
	}

	return cs, nil
}

// Len returns the number of compiled checks.
func (cs *CheckSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.checks)
}

// Evaluate runs every check against rec in declaration order. An expression
// that fails to evaluate is reported as an error issue.
func (cs *CheckSet) Evaluate(rec TestData) []Issue {
	if cs.Len() == 0 {
		return nil
	}

	vars := map[string]any{"record": rec.Fields()}
	var issues []Issue
	for _, c := range cs.checks {
		ok, err := c.eval(vars)
		if err != nil {
			issues = append(issues, Issue{Field: c.Name, Message: "check failed to evaluate: " + err.Error(), Severity: SeverityError})
			continue
		}
		if !ok {
			issues = append(issues, Issue{Field: c.Name, Message: c.Message, Severity: c.Severity})
		}
	}
	return issues
}

func (c Check) eval(vars map[string]any) (bool, error) {
	out, _, err := c.program.Eval(vars)
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("non-bool result")
	}
	return v, nil
}
