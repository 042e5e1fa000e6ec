package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	cfg, _ := writeConfig(t, "sync:\n  max_retries: 5\n  resolver: remote\n")

	out, err := execute(t, "validate", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "(2 entity store(s))")
}

func TestValidate_UsesConfigFlag(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	out, err := execute(t, "validate", "-c", cfg, "--format", "json")
	require.NoError(t, err)

	var res ValidationResult
	decodeData(t, out, &res)
	assert.True(t, res.Valid)
	assert.Equal(t, cfg, res.File)
}

func TestValidate_SchemaErrorHasPosition(t *testing.T) {
	path := writeFile(t, "bad.yaml", "database: x.db\nsync:\n  max_retries: 0\n")

	out, err := execute(t, "validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res ValidationResult
	decodeData(t, out, &res)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
}

func TestValidate_InvariantErrorsAreListed(t *testing.T) {
	path := writeFile(t, "dup.yaml", "entities:\n  - name: scenes\n  - name: scenes\nsync:\n  resolver: none\n")

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, `entity store "scenes" declared twice`)
}

func TestValidate_CommandErrors(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
