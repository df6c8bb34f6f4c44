package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/glimte/mmate-chansec/interceptors"
)

const defaultOPAQuery = "data.chansec.allow"

// OPAOptions control OPA decision manager construction
type OPAOptions struct {
	// Query is the boolean rule to evaluate (e.g. "data.chansec.allow")
	Query string
	// Modules contains the Rego modules to load, keyed by file name
	Modules map[string]string
}

// OPADecisionManager decides access by evaluating a Rego rule with input:
//
//	{"channel": ..., "operation": "send"|"receive",
//	 "principal": {"name": ..., "roles": [...]}, "attributes": [...]}
type OPADecisionManager struct {
	query    string
	prepared rego.PreparedEvalQuery
}

// NewOPADecisionManager compiles the modules and prepares the query
func NewOPADecisionManager(ctx context.Context, opts OPAOptions) (*OPADecisionManager, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		query = defaultOPAQuery
	}

	if len(opts.Modules) == 0 {
		return nil, &ConfigurationError{Reason: "opa decision manager requires at least one rego module"}
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := []func(*rego.Rego){rego.Query(query)}
	for _, name := range names {
		regoOpts = append(regoOpts, rego.Module(name, opts.Modules[name]))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, &ConfigurationError{
			Name:   query,
			Reason: fmt.Sprintf("compile rego modules: %v", err),
			Err:    err,
		}
	}

	return &OPADecisionManager{query: query, prepared: prepared}, nil
}

// Decide implements AccessDecisionManager
func (m *OPADecisionManager) Decide(ctx context.Context, principal *Principal, inv *interceptors.Invocation, attributes []string) error {
	input := map[string]any{
		"channel":    inv.Channel,
		"operation":  string(inv.Operation),
		"principal":  principalInput(principal),
		"attributes": toAnySlice(attributes),
	}

	results, err := m.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return &AccessDeniedError{
			Channel:   inv.Channel,
			Operation: inv.Operation,
			Principal: principalName(principal),
			Reason:    "policy evaluation failed",
			Err:       fmt.Errorf("opa decision: %w", err),
		}
	}

	if !results.Allowed() {
		return &AccessDeniedError{
			Channel:   inv.Channel,
			Operation: inv.Operation,
			Principal: principalName(principal),
			Reason:    "denied by policy " + m.query,
			Err:       errors.New("opa: not allowed"),
		}
	}
	return nil
}

func principalInput(p *Principal) map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"name":  p.Name,
		"roles": toAnySlice(p.Roles),
	}
}

func principalName(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

var _ AccessDecisionManager = (*OPADecisionManager)(nil)
