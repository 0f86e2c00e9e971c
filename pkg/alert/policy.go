// Package alert evaluates freshly recorded scan runs against the alerting
// policy and emits alert events to an external channel.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

const policyModuleName = "scanhub_alert_policy"

// The default policy preserves the historical asymmetry: a run alerts only
// on critical findings, even though lower severities can flip its
// compliance status. Operators override it with a custom Rego file.
const defaultPolicyRego = `package scanhub.alert

import future.keywords.if

default alert := false

alert if {
	input.summary.criticalCount > 0
}
`

const alertQuery = "data.scanhub.alert.alert"

// Policy decides whether a recorded run warrants an alert event.
type Policy struct {
	compiler *ast.Compiler
}

// NewDefaultPolicy constructs the built-in critical-count policy.
func NewDefaultPolicy() *Policy {
	policy, err := NewPolicy(defaultPolicyRego)
	if err != nil {
		// The embedded module is part of the build.
		panic(err)
	}
	return policy
}

// NewPolicy compiles the given Rego module. The module must define a boolean
// rule `alert` in package scanhub.alert.
func NewPolicy(source string) (*Policy, error) {
	module, err := ast.ParseModule(policyModuleName, source)
	if err != nil {
		return nil, fmt.Errorf("parsing alert policy: %w", err)
	}
	compiler := ast.NewCompiler()
	compiler.Compile(map[string]*ast.Module{policyModuleName: module})
	if compiler.Failed() {
		return nil, fmt.Errorf("compiling alert policy: %w", compiler.Errors)
	}
	return &Policy{compiler: compiler}, nil
}

// LoadPolicy compiles a Rego policy from the given file.
func LoadPolicy(path string) (*Policy, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alert policy: %w", err)
	}
	return NewPolicy(string(source))
}

// ShouldAlert evaluates the policy with the recorded run as input.
func (p *Policy) ShouldAlert(ctx context.Context, run scanhub.ScanRun) (bool, error) {
	input, err := runAsInput(run)
	if err != nil {
		return false, err
	}
	results, err := rego.New(
		rego.Compiler(p.compiler),
		rego.Query(alertQuery),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("evaluating alert policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	verdict, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("alert policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return verdict, nil
}

// runAsInput round-trips the run through JSON so the policy sees the same
// field names the API exposes.
func runAsInput(run scanhub.ScanRun) (interface{}, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}
