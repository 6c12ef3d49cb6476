package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/value"
)

const minimalScenario = `
name: minimal
description: "Smallest valid scenario"
pipeline:
  - type: item
    where: {done: false}
    set: {done: true}
assertions:
  - type: success
`

func TestParseScenario_Minimal(t *testing.T) {
	sc, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", sc.Name)
	require.Len(t, sc.Pipeline, 1)
	assert.Equal(t, "item", sc.Pipeline[0].Type)

	reg, err := sc.Registry()
	require.NoError(t, err)
	assert.Nil(t, reg)

	policy, err := sc.policy()
	require.NoError(t, err)
	assert.False(t, policy.IsConcurrent())
}

func TestParseScenario_Types(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: typed
description: "Both attribute forms"
types:
  main:
    started: {type: bool, default: false}
    label: string
    tags: array
pipeline:
  - type: main
    where: {started: false}
    set: {started: true}
assertions:
  - type: success
`))
	require.NoError(t, err)

	reg, err := sc.Registry()
	require.NoError(t, err)
	rt, err := reg.TypeFor("main")
	require.NoError(t, err)
	require.Len(t, rt.Attributes, 3)

	// Attributes are registered in name order.
	assert.Equal(t, "label", rt.Attributes[0].Name)
	assert.Equal(t, schema.KindString, rt.Attributes[0].Kind)
	assert.Equal(t, "started", rt.Attributes[1].Name)
	assert.True(t, rt.Attributes[1].HasDefault)
	assert.True(t, value.Equal(value.Bool(false), rt.Attributes[1].Default))
	assert.Equal(t, schema.KindArray, rt.Attributes[2].Kind)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown field", minimalScenario + "\nflow: []\n", "field flow not found"},
		{"missing name", `
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "name is required"},
		{"missing description", `
name: x
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "description is required"},
		{"missing pipeline", `
name: x
description: "x"
assertions: [{type: success}]
`, "pipeline list is required"},
		{"missing assertions", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
`, "assertions list is required"},
		{"rule never settles", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 1}}]
assertions: [{type: success}]
`, "pipeline[0]"},
		{"bad policy", `
name: x
description: "x"
policy: parallel
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "unknown policy"},
		{"float default", `
name: x
description: "x"
types: {a: {x: {type: int, default: 1.5}}}
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "types.a.x default"},
		{"bad kind", `
name: x
description: "x"
types: {a: {x: decimal}}
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "unknown attribute kind"},
		{"seed without type", `
name: x
description: "x"
seed: [{count: 2}]
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: success}]
`, "seed[0]: type is required"},
		{"unknown assertion", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: trace_order}]
`, "unknown assertion type"},
		{"count without record", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: count, count: 1}]
`, "record is required for count"},
		{"final_state without expect", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: final_state, record: a}]
`, "expect is required"},
		{"error without selector", `
name: x
description: "x"
pipeline: [{type: a, where: {x: 1}, set: {x: 2}}]
assertions: [{type: error}]
`, "error needs kind, label or message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios_SkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(minimalScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# scenarios"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "minimal", scenarios[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: broken"), 0o644))
	_, err = LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.yaml")
}
