package security

import (
	"context"
	"strings"

	"github.com/glimte/mmate-chansec/interceptors"
)

// AccessDecisionManager grants or denies a secured invocation. It returns nil
// to grant and an error to deny.
type AccessDecisionManager interface {
	Decide(ctx context.Context, principal *Principal, inv *interceptors.Invocation, attributes []string) error
}

// DecisionFunc is a function adapter for AccessDecisionManager
type DecisionFunc func(ctx context.Context, principal *Principal, inv *interceptors.Invocation, attributes []string) error

// Decide implements AccessDecisionManager
func (f DecisionFunc) Decide(ctx context.Context, principal *Principal, inv *interceptors.Invocation, attributes []string) error {
	return f(ctx, principal, inv, attributes)
}

const defaultRolePrefix = "ROLE_"

// RoleDecisionManager grants access when the principal holds any of the role
// attributes. Attributes without the role prefix abstain.
type RoleDecisionManager struct {
	rolePrefix        string
	allowIfAllAbstain bool
}

// RoleDecisionOption configures the RoleDecisionManager
type RoleDecisionOption func(*RoleDecisionManager)

// WithRolePrefix sets the prefix identifying role attributes
func WithRolePrefix(prefix string) RoleDecisionOption {
	return func(m *RoleDecisionManager) {
		m.rolePrefix = prefix
	}
}

// WithAllowIfAllAbstain grants access when no attribute is a role
func WithAllowIfAllAbstain(allow bool) RoleDecisionOption {
	return func(m *RoleDecisionManager) {
		m.allowIfAllAbstain = allow
	}
}

// NewRoleDecisionManager creates a role-based decision manager
func NewRoleDecisionManager(options ...RoleDecisionOption) *RoleDecisionManager {
	m := &RoleDecisionManager{rolePrefix: defaultRolePrefix}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Decide implements AccessDecisionManager
func (m *RoleDecisionManager) Decide(ctx context.Context, principal *Principal, inv *interceptors.Invocation, attributes []string) error {
	voted := false
	for _, attr := range attributes {
		if !strings.HasPrefix(attr, m.rolePrefix) {
			continue
		}
		voted = true
		if principal.HasRole(attr) {
			return nil
		}
	}

	if !voted && m.allowIfAllAbstain {
		return nil
	}

	reason := "missing required role"
	if !voted {
		reason = "no role attribute granted access"
	}
	return &AccessDeniedError{
		Channel:   inv.Channel,
		Operation: inv.Operation,
		Principal: principalName(principal),
		Reason:    reason,
	}
}

var _ AccessDecisionManager = (*RoleDecisionManager)(nil)
