package security

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-chansec/interceptors"
)

// InvocationDefinitionSource supplies the channel-name patterns that require
// security and the attributes guarding each operation. Patterns must match
// whole channel names; CompilePattern produces such patterns.
type InvocationDefinitionSource interface {
	Patterns() []*regexp.Regexp
	Attributes(channelName string, op interceptors.Operation) []string
}

// AccessPolicy lists the attributes required per operation
type AccessPolicy struct {
	Send    []string `yaml:"send" json:"send"`
	Receive []string `yaml:"receive" json:"receive"`
}

// AttributesFor returns the attributes guarding op
func (p AccessPolicy) AttributesFor(op interceptors.Operation) []string {
	switch op {
	case interceptors.OperationSend:
		return p.Send
	case interceptors.OperationReceive:
		return p.Receive
	default:
		return nil
	}
}

// PolicyRule pairs a channel-name pattern with its access policy
type PolicyRule struct {
	Pattern string
	Policy  AccessPolicy
}

// CompilePattern compiles expr so that it only matches entire names
func CompilePattern(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}

type compiledRule struct {
	rule    PolicyRule
	pattern *regexp.Regexp
}

// ruleSet is an immutable snapshot; it is replaced, never modified
type ruleSet struct {
	rules []compiledRule
}

// DefinitionSource is the default InvocationDefinitionSource. Readers see a
// consistent snapshot without locking; writers swap in a new snapshot.
type DefinitionSource struct {
	mu    sync.Mutex
	rules atomic.Pointer[ruleSet]
}

// NewDefinitionSource creates a source holding rules
func NewDefinitionSource(rules ...PolicyRule) (*DefinitionSource, error) {
	s := &DefinitionSource{}
	s.rules.Store(&ruleSet{})
	if err := s.SetRules(rules); err != nil {
		return nil, err
	}
	return s, nil
}

// AddPattern appends a rule
func (s *DefinitionSource) AddPattern(expr string, policy AccessPolicy) error {
	compiled, err := compileRule(PolicyRule{Pattern: expr, Policy: policy})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.rules.Load().rules
	next := make([]compiledRule, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, compiled)
	s.rules.Store(&ruleSet{rules: next})
	return nil
}

// SetRules replaces every rule. If any pattern fails to compile the current
// rules stay in place.
func (s *DefinitionSource) SetRules(rules []PolicyRule) error {
	next := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		compiled, err := compileRule(r)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules.Store(&ruleSet{rules: next})
	return nil
}

// Rules returns the configured rules in order
func (s *DefinitionSource) Rules() []PolicyRule {
	current := s.rules.Load().rules
	out := make([]PolicyRule, len(current))
	for i, r := range current {
		out[i] = r.rule
	}
	return out
}

// Patterns implements InvocationDefinitionSource
func (s *DefinitionSource) Patterns() []*regexp.Regexp {
	current := s.rules.Load().rules
	out := make([]*regexp.Regexp, len(current))
	for i, r := range current {
		out[i] = r.pattern
	}
	return out
}

// Attributes implements InvocationDefinitionSource. The first rule whose
// pattern matches the channel name wins.
func (s *DefinitionSource) Attributes(channelName string, op interceptors.Operation) []string {
	for _, r := range s.rules.Load().rules {
		if r.pattern.MatchString(channelName) {
			return r.rule.Policy.AttributesFor(op)
		}
	}
	return nil
}

func compileRule(r PolicyRule) (compiledRule, error) {
	if r.Pattern == "" {
		return compiledRule{}, &ConfigurationError{Reason: "channel pattern must not be empty"}
	}
	pattern, err := CompilePattern(r.Pattern)
	if err != nil {
		return compiledRule{}, &ConfigurationError{
			Name:   r.Pattern,
			Reason: fmt.Sprintf("invalid channel pattern: %v", err),
			Err:    err,
		}
	}
	return compiledRule{rule: r, pattern: pattern}, nil
}

var _ InvocationDefinitionSource = (*DefinitionSource)(nil)
