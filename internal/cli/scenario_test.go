package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")
	harnessGolden    = filepath.Join("..", "harness", "testdata", "golden")
)

func TestScenario_HarnessSuitePasses(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ offline_edit_reconnect")
	assert.Contains(t, out, "✓ continuous_typing")
	assert.Contains(t, out, "0 failed")
}

func TestScenario_Filter(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--filter", "offline_*", "--format", "json")
	require.NoError(t, err)

	var report ScenarioReport
	decodeData(t, out, &report)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "offline_edit_reconnect", report.Scenarios[0].Name)
	assert.True(t, report.Scenarios[0].Pass)
}

const failingScenario = `name: expects_remote_write
description: "asserts a remote write that never happens"
online: true
entities: [scenes]
steps:
  - { op: set, kind: scenes, data: { id: s1, text: a } }
assertions:
  - { type: trace_count, event: remote.update, count: 1 }
`

func TestScenario_FailureExitsNonZero(t *testing.T) {
	path := writeFile(t, "failing.yaml", failingScenario)

	out, err := execute(t, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ expects_remote_write")
	assert.Contains(t, out, "trace_count")
}

func TestScenario_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()
	src := filepath.Join(harnessScenarios, "debounce_burst.yaml")

	_, err := execute(t, "scenario", src, "--golden", golden, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "debounce_burst.golden"))
	require.NoError(t, err)
	assert.NotEmpty(t, written)

	// A tampered golden file now fails the comparison.
	require.NoError(t, os.WriteFile(filepath.Join(golden, "debounce_burst.golden"), []byte("{}\n"), 0o644))
	out, err := execute(t, "scenario", src, "--golden", golden)
	require.Error(t, err)
	assert.Contains(t, out, "does not match")
}

func TestScenario_CommandErrors(t *testing.T) {
	_, err := execute(t, "scenario")
	require.Error(t, err)

	_, err = execute(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scenario", harnessScenarios, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenario_EmptyDir(t *testing.T) {
	out, err := execute(t, "scenario", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
