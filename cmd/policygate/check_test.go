package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestCheck(t *testing.T) {
	t.Run("Should compile the shipped configuration", func(t *testing.T) {
		// Act
		out, err := runCLI(t, "check",
			"--routes", filepath.Join("..", "..", "configs", "routes.json"),
			"--rules", filepath.Join("..", "..", "configs", "rules.json"),
		)

		// Assert
		require.NoError(t, err, out)
		assert.Contains(t, out, "ROUTES (4)")
		assert.Contains(t, out, "patients.get")
		assert.NotContains(t, out, "no handler")
		assert.Contains(t, out, "rate_limiting")
		assert.Contains(t, out, "authorization")
	})

	t.Run("Should flag endpoints without a handler", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		routes := filepath.Join(dir, "routes.json")
		rules := filepath.Join(dir, "rules.json")
		require.NoError(t, os.WriteFile(routes, []byte(`{"routes": {"/billing": "billing.list"}}`), 0o600))
		require.NoError(t, os.WriteFile(rules, []byte(`{"endpoints": {}}`), 0o600))

		// Act
		out, err := runCLI(t, "check", "--routes", routes, "--rules", rules)

		// Assert
		require.NoError(t, err)
		assert.Contains(t, out, "no handler")
		assert.Contains(t, out, "RULES (0)")
	})

	t.Run("Should fail on an unknown schema reference", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		routes := filepath.Join(dir, "routes.json")
		rules := filepath.Join(dir, "rules.json")
		require.NoError(t, os.WriteFile(routes, []byte(`{"routes": {}}`), 0o600))
		require.NoError(t, os.WriteFile(rules, []byte(`{"endpoints": {"/x": {"POST": {"validation": {"body": "missing"}}}}}`), 0o600))

		// Act
		_, err := runCLI(t, "check", "--routes", routes, "--rules", rules)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown schema "missing"`)
	})

	t.Run("Should fail when the routes file is missing", func(t *testing.T) {
		// Act
		_, err := runCLI(t, "check", "--routes", filepath.Join(t.TempDir(), "nope.json"))

		// Assert
		assert.ErrorContains(t, err, "failed to open routes file")
	})
}
