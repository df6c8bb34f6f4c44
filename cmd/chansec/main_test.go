package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `channels:
  - pattern: "admin\\..*"
    send: [ROLE_ADMIN]
    receive: [ROLE_ADMIN, ROLE_AUDITOR]
`

const testRego = `package chansec

default allow := false

allow if input.principal.name == "root"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	policy := writeFile(t, "policy.yaml", testPolicy)

	t.Run("lists rules", func(t *testing.T) {
		out, err := run(t, "check", "--policy", policy)
		require.NoError(t, err)
		assert.Contains(t, out, `admin\..*`)
		assert.Contains(t, out, "send=ROLE_ADMIN receive=ROLE_ADMIN,ROLE_AUDITOR")
	})

	t.Run("matches channels", func(t *testing.T) {
		out, err := run(t, "check", "--policy", policy, "admin.orders", "public.orders")
		require.NoError(t, err)
		assert.Regexp(t, `admin\.orders\s+secured send=ROLE_ADMIN`, out)
		assert.Regexp(t, `public\.orders\s+public`, out)
	})

	t.Run("invalid policy", func(t *testing.T) {
		bad := writeFile(t, "bad.yaml", "channels:\n  - pattern: \"(\"\n")
		_, err := run(t, "check", "--policy", bad)
		assert.Error(t, err)
	})
}

func TestDecideCommand(t *testing.T) {
	policy := writeFile(t, "policy.yaml", testPolicy)

	t.Run("granted by role", func(t *testing.T) {
		out, err := run(t, "decide", "--policy", policy, "--principal", "alice", "--roles", "ROLE_ADMIN", "admin.orders")
		require.NoError(t, err)
		assert.Equal(t, "granted\n", out)
	})

	t.Run("denied without role", func(t *testing.T) {
		out, err := run(t, "decide", "--policy", policy, "--principal", "bob", "--roles", "ROLE_USER", "admin.orders")
		require.NoError(t, err)
		assert.Contains(t, out, "denied: access denied: send on channel admin.orders for bob")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		out, err := run(t, "decide", "--policy", policy, "admin.orders")
		require.NoError(t, err)
		assert.Contains(t, out, "authentication required")
	})

	t.Run("public channel", func(t *testing.T) {
		out, err := run(t, "decide", "--policy", policy, "public.orders")
		require.NoError(t, err)
		assert.Equal(t, "granted\n", out)
	})

	t.Run("rego decider", func(t *testing.T) {
		rego := writeFile(t, "chansec.rego", testRego)

		out, err := run(t, "decide", "--policy", policy, "--rego", rego, "--principal", "root", "admin.orders")
		require.NoError(t, err)
		assert.Equal(t, "granted\n", out)
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := run(t, "decide", "--policy", policy, "-o", "purge", "admin.orders")
		assert.Error(t, err)
	})
}
