package security

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-chansec/interceptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendInvocation(channelName string) *interceptors.Invocation {
	return &interceptors.Invocation{
		Channel:   channelName,
		Operation: interceptors.OperationSend,
		Timeout:   interceptors.NoTimeout,
	}
}

func TestRoleDecisionManager(t *testing.T) {
	ctx := context.Background()
	inv := sendInvocation("admin.users")

	t.Run("grants when any role matches", func(t *testing.T) {
		m := NewRoleDecisionManager()
		alice := &Principal{Name: "alice", Roles: []string{"ROLE_USER", "ROLE_ADMIN"}}

		assert.NoError(t, m.Decide(ctx, alice, inv, []string{"ROLE_OPERATOR", "ROLE_ADMIN"}))
	})

	t.Run("denies without a matching role", func(t *testing.T) {
		m := NewRoleDecisionManager()
		bob := &Principal{Name: "bob", Roles: []string{"ROLE_USER"}}

		err := m.Decide(ctx, bob, inv, []string{"ROLE_ADMIN"})
		require.Error(t, err)
		assert.True(t, IsAccessDenied(err))

		var denied *AccessDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, "bob", denied.Principal)
		assert.Equal(t, "admin.users", denied.Channel)
		assert.Equal(t, interceptors.OperationSend, denied.Operation)
		assert.Contains(t, err.Error(), "access denied: send on channel admin.users for bob")
	})

	t.Run("attributes without prefix abstain", func(t *testing.T) {
		bob := &Principal{Name: "bob"}

		assert.Error(t, NewRoleDecisionManager().Decide(ctx, bob, inv, []string{"AUTHENTICATED"}))
		assert.NoError(t, NewRoleDecisionManager(WithAllowIfAllAbstain(true)).Decide(ctx, bob, inv, []string{"AUTHENTICATED"}))
	})

	t.Run("custom prefix", func(t *testing.T) {
		m := NewRoleDecisionManager(WithRolePrefix("GROUP_"))
		carol := &Principal{Name: "carol", Roles: []string{"GROUP_OPS"}}

		assert.NoError(t, m.Decide(ctx, carol, inv, []string{"GROUP_OPS"}))
	})

	t.Run("nil principal is denied", func(t *testing.T) {
		err := NewRoleDecisionManager().Decide(ctx, nil, inv, []string{"ROLE_ADMIN"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "for anonymous")
	})
}

func TestDecisionFunc(t *testing.T) {
	called := false
	var m AccessDecisionManager = DecisionFunc(func(ctx context.Context, p *Principal, inv *interceptors.Invocation, attrs []string) error {
		called = true
		return nil
	})

	require.NoError(t, m.Decide(context.Background(), &Principal{Name: "x"}, sendInvocation("a"), nil))
	assert.True(t, called)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	_, ok = PrincipalFromContext(WithPrincipal(context.Background(), nil))
	assert.False(t, ok)

	alice := &Principal{Name: "alice", Roles: []string{"ROLE_ADMIN"}}
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), alice))
	require.True(t, ok)
	assert.Same(t, alice, got)
	assert.True(t, got.HasRole("ROLE_ADMIN"))
	assert.False(t, got.HasRole("ROLE_USER"))
}
