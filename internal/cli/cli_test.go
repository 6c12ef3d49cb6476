package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/value"
)

const pipelineCUE = `
package demo

store: {
	dir:     "state"
	journal: "state/changelog.db"
}

processor: policy: "synchronous"

log: level: "warn"

record: main: attributes: started: {type: "bool", default: false}

record: record_1: attributes: {
	record_id: "int"
	processed: {type: "bool", default: false}
}

pipeline: [
	{
		label: "spawn"
		type:  "main"
		where: started: false
		set: started:   true
		create: [{type: "record_1", count: 5, index: "record_id"}]
	},
	{
		label: "mark"
		type:  "record_1"
		where: processed: false
		set: processed:   true
	},
]
`

const failingCUE = `
package demo

store: dir: "state"

record: main: attributes: started: {type: "bool", default: false}

pipeline: [{
	label: "start"
	type:  "main"
	where: started: false
	set: started:   true
	fail: "cannot start"
}]
`

const scenarioYAML = `name: single_mark
types:
  job:
    done: {type: bool, default: false}
seed:
  - type: job
    count: 2
pipeline:
  - label: finish
    type: job
    where: {done: false}
    set: {done: true}
assertions:
  - type: success
  - type: count
    record: job
    where: {done: true}
    count: 2
`

func writeConfigDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cascade.cue"), []byte(content), 0o644))
	return dir
}

// execute runs the root command and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeData unwraps the data payload of a JSON response into T.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	var data T
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data
}

// =============================================================================
// validate
// =============================================================================

func TestValidate_Valid(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)

	out, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid: 2 type(s), 2 rule(s), synchronous")
}

func TestValidate_ValidJSON(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)

	out, _, err := execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	result := decodeData[ValidationResult](t, out)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Files)
	assert.ElementsMatch(t, []string{"main", "record_1"}, result.Types)
	assert.Equal(t, 2, result.Rules)
}

func TestValidate_ReportsEveryError(t *testing.T) {
	dir := writeConfigDir(t, `
package demo

processor: policy: "eventually"
log: format: "xml"
record: main: attributes: started: "bool"
`)

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed with 2 error(s)")
}

func TestValidate_RuleThatNeverSettles(t *testing.T) {
	dir := writeConfigDir(t, `
package demo

record: main: attributes: started: "bool"

pipeline: [{label: "loop", type: "main", where: started: false, set: started: false}]
`)

	_, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// =============================================================================
// seed, run, versions, show, restore, log, replay
// =============================================================================

func TestLifecycle(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)

	out, _, err := execute(t, "--format", "json", "seed", dir, "main")
	require.NoError(t, err)
	seeded := decodeData[SeedResult](t, out)
	assert.Equal(t, 1, seeded.Version)
	require.Len(t, seeded.IDs, 1)
	mainID := seeded.IDs[0]

	out, _, err = execute(t, "--format", "json", "run", dir)
	require.NoError(t, err)
	summary := decodeData[RunSummary](t, out)
	assert.Equal(t, "synchronous", summary.Policy)
	assert.Equal(t, 7, summary.Head)
	assert.Equal(t, 6, summary.Completed)
	assert.Empty(t, summary.Errors)

	out, _, err = execute(t, "--format", "json", "versions", dir)
	require.NoError(t, err)
	versions := decodeData[[]VersionInfo](t, out)
	require.Len(t, versions, 7)
	assert.Equal(t, map[string]int{"main": 1}, versions[0].Records)
	assert.Equal(t, map[string]int{"main": 1, "record_1": 5}, versions[6].Records)
	assert.Len(t, versions[6].Hash, 64)

	out, _, err = execute(t, "--format", "json", "show", dir, "--type", "record_1")
	require.NoError(t, err)
	records := decodeData[[]RecordView](t, out)
	require.Len(t, records, 5)
	for _, rec := range records {
		assert.Equal(t, value.Bool(true), rec.Attributes["processed"], rec.ID)
	}

	out, _, err = execute(t, "show", dir, "--version", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Version 1: 1 record(s)")
	assert.Contains(t, out, `"started":false`)

	out, _, err = execute(t, "--format", "json", "restore", dir, "1")
	require.NoError(t, err)
	restored := decodeData[RestoreResult](t, out)
	assert.Equal(t, RestoreResult{From: 1, Version: 8}, restored)

	out, _, err = execute(t, "show", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Version 8: 1 record(s)")

	out, _, err = execute(t, "--format", "json", "replay", dir)
	require.NoError(t, err)
	replay := decodeData[ReplayResult](t, out)
	assert.True(t, replay.Valid)
	assert.Equal(t, 8, replay.Checked)

	out, _, err = execute(t, "--format", "json", "log", dir, "--record", "main/"+mainID)
	require.NoError(t, err)
	changes := decodeData[[]RecordChange](t, out)
	require.GreaterOrEqual(t, len(changes), 2)
	assert.Equal(t, "create", changes[0].Action)
	assert.Equal(t, 1, changes[0].Version)
	assert.Equal(t, "update", changes[1].Action)
	assert.Equal(t, 2, changes[1].Version)

	out, _, err = execute(t, "log", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "+ main/"+mainID)
	assert.Contains(t, out, "~ main/"+mainID)
	assert.Contains(t, out, "= initial")
}

func TestRestore_ExitCodes(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)
	_, _, err := execute(t, "seed", dir, "main")
	require.NoError(t, err)
	_, _, err = execute(t, "run", dir)
	require.NoError(t, err)

	tests := []struct {
		name string
		arg  string
		code int
	}{
		{"latest", "7", ExitFailure},
		{"unknown", "99", ExitCommandError},
		{"not_a_number", "abc", ExitCommandError},
		{"zero", "0", ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "restore", dir, tt.arg)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestSeed_Errors(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown_type", []string{"seed", dir, "nope"}},
		{"undeclared_attribute", []string{"seed", dir, "main", "--attrs", `{"colour":"red"}`}},
		{"float", []string{"seed", dir, "record_1", "--attrs", `{"record_id":1.5}`}},
		{"bad_json", []string{"seed", dir, "main", "--attrs", `{`}},
		{"bad_count", []string{"seed", dir, "main", "--count", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}

	out, _, err := execute(t, "versions", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No versions stored.")
}

func TestRun_Failure(t *testing.T) {
	dir := writeConfigDir(t, failingCUE)
	_, _, err := execute(t, "seed", dir, "main")
	require.NoError(t, err)

	out, _, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Run failed at version 1")
	assert.Contains(t, out, "WorkError")
	assert.Contains(t, out, "cannot start")
}

func TestRun_Metrics(t *testing.T) {
	dir := writeConfigDir(t, pipelineCUE)
	_, _, err := execute(t, "seed", dir, "main")
	require.NoError(t, err)

	out, errOut, err := execute(t, "run", dir, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Run quiescent at version 7")
	assert.Contains(t, errOut, "cascade_executions_total")
	assert.Contains(t, errOut, "cascade_versions_committed_total")
}

func TestRun_NoRules(t *testing.T) {
	dir := writeConfigDir(t, `
package demo

record: main: attributes: started: "bool"
`)
	_, _, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestJournalCommands_RequireJournal(t *testing.T) {
	dir := writeConfigDir(t, failingCUE)

	for _, args := range [][]string{{"log", dir}, {"replay", dir}} {
		_, _, err := execute(t, args...)
		require.Error(t, err, args[0])
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "journaling is disabled")
	}
}

// =============================================================================
// test
// =============================================================================

func TestTest_HarnessScenarios(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", filepath.Join("..", "harness", "testdata", "scenarios"), "--filter", "spawn_*")
	require.NoError(t, err)

	result := decodeData[TestResult](t, out)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
}

func TestTest_GoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "single_mark.yaml"), []byte(scenarioYAML), 0o644))

	out, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ single_mark")
	golden := filepath.Join(dir, "golden", "single_mark.golden")
	require.FileExists(t, golden)

	_, _, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestTest_Errors(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nunknown: 1\n"), 0o644))
	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "failed to load scenario")

	out, _, err = execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
