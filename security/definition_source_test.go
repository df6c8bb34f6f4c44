package security

import (
	"errors"
	"testing"

	"github.com/glimte/mmate-chansec/interceptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern(t *testing.T) {
	pattern, err := CompilePattern(`admin\..*`)
	require.NoError(t, err)

	assert.True(t, pattern.MatchString("admin.users"))
	assert.False(t, pattern.MatchString("xadmin.users"))
	assert.False(t, pattern.MatchString("admin"))

	alternation, err := CompilePattern("a|b")
	require.NoError(t, err)
	assert.True(t, alternation.MatchString("a"))
	assert.False(t, alternation.MatchString("ab"))
}

func TestDefinitionSource(t *testing.T) {
	adminPolicy := AccessPolicy{Send: []string{"ROLE_ADMIN"}, Receive: []string{"ROLE_ADMIN", "ROLE_AUDITOR"}}

	t.Run("first matching rule wins", func(t *testing.T) {
		source, err := NewDefinitionSource(
			PolicyRule{Pattern: `admin\.audit`, Policy: AccessPolicy{Send: []string{"ROLE_AUDITOR"}}},
			PolicyRule{Pattern: `admin\..*`, Policy: adminPolicy},
		)
		require.NoError(t, err)

		assert.Equal(t, []string{"ROLE_AUDITOR"}, source.Attributes("admin.audit", interceptors.OperationSend))
		assert.Equal(t, []string{"ROLE_ADMIN"}, source.Attributes("admin.users", interceptors.OperationSend))
		assert.Equal(t, []string{"ROLE_ADMIN", "ROLE_AUDITOR"}, source.Attributes("admin.users", interceptors.OperationReceive))
		assert.Nil(t, source.Attributes("public.news", interceptors.OperationSend))
	})

	t.Run("AddPattern appends", func(t *testing.T) {
		source, err := NewDefinitionSource()
		require.NoError(t, err)
		assert.Empty(t, source.Patterns())

		require.NoError(t, source.AddPattern(`admin\..*`, adminPolicy))
		require.NoError(t, source.AddPattern(`billing\..*`, AccessPolicy{Send: []string{"ROLE_BILLING"}}))

		patterns := source.Patterns()
		require.Len(t, patterns, 2)
		assert.True(t, patterns[0].MatchString("admin.users"))
		assert.True(t, patterns[1].MatchString("billing.invoices"))
		assert.Equal(t, `billing\..*`, source.Rules()[1].Pattern)
	})

	t.Run("empty pattern is rejected", func(t *testing.T) {
		_, err := NewDefinitionSource(PolicyRule{Pattern: ""})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("invalid pattern leaves rules unchanged", func(t *testing.T) {
		source, err := NewDefinitionSource(PolicyRule{Pattern: `admin\..*`, Policy: adminPolicy})
		require.NoError(t, err)

		err = source.SetRules([]PolicyRule{
			{Pattern: `billing\..*`},
			{Pattern: `broken(`},
		})
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, `broken(`, cfgErr.Name)
		assert.True(t, errors.Is(err, ErrConfiguration))

		rules := source.Rules()
		require.Len(t, rules, 1)
		assert.Equal(t, `admin\..*`, rules[0].Pattern)
	})

	t.Run("AttributesFor unknown operation", func(t *testing.T) {
		assert.Nil(t, adminPolicy.AttributesFor(interceptors.Operation("purge")))
	})
}
