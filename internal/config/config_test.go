package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/store"
)

const demoCUE = `
package demo

store: {
	dir:     "state"
	journal: "state/changelog.db"
	cache:   8
}

processor: {
	policy:        "concurrent"
	concurrency:   3
	poll_interval: "5ms"
}

log: {level: "debug", format: "json"}

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

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Demo(t *testing.T) {
	dir := writeConfig(t, map[string]string{"cascade.cue": demoCUE})

	cfg, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.FileCount)
	assert.Equal(t, 8, cfg.Store.Cache)
	assert.Equal(t, filepath.Join(cfg.Dir, "state"), cfg.StoreDir())
	assert.Equal(t, filepath.Join(cfg.Dir, "state", "changelog.db"), cfg.JournalPath())
	assert.Equal(t, 5*time.Millisecond, cfg.Processor.PollInterval)
	assert.Equal(t, "json", cfg.Log.Format)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, policy.IsConcurrent())
	assert.Equal(t, 3, policy.Limit())

	assert.Equal(t, []string{"main", "record_1"}, cfg.Registry().Names())
	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "spawn", cfg.Rules[0].Label)
	assert.Equal(t, 5, cfg.Rules[0].Create[0].Count)
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeConfig(t, map[string]string{
		"types.cue": `record: main: attributes: started: "bool"`,
	})

	cfg, errs := Load(dir, LoadModeFailFast)
	require.Empty(t, errs)

	assert.Equal(t, filepath.Join(cfg.Dir, DefaultStoreDir), cfg.StoreDir())
	assert.Empty(t, cfg.JournalPath())
	assert.Equal(t, DefaultCacheSize, cfg.Store.Cache)
	assert.Equal(t, engine.DefaultPollInterval, cfg.Processor.PollInterval)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.False(t, policy.IsConcurrent())
	assert.Empty(t, cfg.Rules)
}

func TestLoad_MultipleFiles(t *testing.T) {
	dir := writeConfig(t, map[string]string{
		"a.cue": `record: main: attributes: started: "bool"`,
		"b.cue": `processor: policy: "sync"`,
	})

	cfg, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, cfg.FileCount)
	assert.Equal(t, "sync", cfg.Processor.Policy)
}

func TestLoad_DirectoryErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	_, errs := Load(missing, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNotFound, errs[0].(*LoadError).Code)

	empty := t.TempDir()
	_, errs = Load(empty, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNoFiles, errs[0].(*LoadError).Code)

	file := filepath.Join(t.TempDir(), "x.cue")
	require.NoError(t, os.WriteFile(file, []byte(`a: 1`), 0o644))
	_, errs = Load(file, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not a directory")
}

func TestLoad_BuildError(t *testing.T) {
	dir := writeConfig(t, map[string]string{"bad.cue": `a: 1` + "\n" + `a: 2`})
	_, errs := Load(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeBuildFailed, errs[0].(*LoadError).Code)
}

func TestLoad_SectionErrors(t *testing.T) {
	tests := []struct {
		name string
		cue  string
		code string
	}{
		{"no types", `processor: policy: "sync"`, ErrCodeNoTypes},
		{"bad policy", `processor: policy: "parallel"`, ErrCodeProcessor},
		{"zero concurrency", `processor: {policy: "concurrent", concurrency: 0}`, ErrCodeProcessor},
		{"bad poll interval", `processor: poll_interval: "soon"`, ErrCodeProcessor},
		{"negative cache", `store: cache: -1`, ErrCodeStore},
		{"bad level", `log: level: "loud"`, ErrCodeLog},
		{"bad format", `log: format: "xml"`, ErrCodeLog},
		{"bad kind", `record: r: attributes: a: "decimal"`, schema.ErrCodeAttributeKind},
		{"bad default", `record: r: attributes: a: {type: "int", default: "x"}`, schema.ErrCodeAttributeKind},
		{"reserved id", `record: r: attributes: id: "string"`, schema.ErrCodeInvalidType},
		{"rule never settles", `pipeline: [{type: "r", where: a: 1, set: a: 1}]`, ErrCodePipeline},
		{"rule unknown field", `pipeline: [{type: "r", where: a: 1, set: a: 2, bogus: true}]`, ErrCodePipeline},
		{"pipeline not list", `pipeline: {}`, ErrCodePipeline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.cue
			if !strings.Contains(src, "record:") {
				src += "\nrecord: r: attributes: a: \"int\"\n"
			}
			dir := writeConfig(t, map[string]string{"c.cue": src})
			_, errs := Load(dir, LoadModeCollectAll)
			require.NotEmpty(t, errs)

			var codes []string
			for _, err := range errs {
				codes = append(codes, err.(*LoadError).Code)
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestLoad_CollectAllVersusFailFast(t *testing.T) {
	src := `
store: cache: -1
log: level: "loud"
record: r: attributes: a: "int"
`
	dir := writeConfig(t, map[string]string{"c.cue": src})

	_, errs := Load(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)

	_, errs = Load(dir, LoadModeCollectAll)
	assert.Len(t, errs, 2)
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeStore, Message: "boom"}
	assert.Equal(t, "E301: boom", err.Error())
}

// =============================================================================
// Wiring
// =============================================================================

func TestConfig_OpenStoreAndRunPipeline(t *testing.T) {
	ctx := context.Background()
	dir := writeConfig(t, map[string]string{"cascade.cue": demoCUE})
	cfg, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)

	h, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	require.NotNil(t, h.Journal)

	_, err = h.Store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.New("main", nil)
		return err
	})
	require.NoError(t, err)

	var logs bytes.Buffer
	def, err := cfg.Pipeline()
	require.NoError(t, err)
	res, err := def.Run(ctx, h.Store)
	require.NoError(t, err)
	require.True(t, res.Success(), "errors: %v", res.Err())

	done, err := h.Store.Where(ctx, "record_1", query.MustWhere(map[string]any{"processed": true}))
	require.NoError(t, err)
	assert.Len(t, done, 5)

	verify, err := h.Journal.Verify(ctx, h.Backend)
	require.NoError(t, err)
	assert.True(t, verify.OK())
	assert.Equal(t, h.Store.Head(), verify.Checked)

	logger := cfg.NewLogger(&logs, false)
	logger.Debug("config loaded", "k", 1)
	assert.Contains(t, logs.String(), `"msg":"config loaded"`)
}

func TestConfig_OpenStoreReopens(t *testing.T) {
	ctx := context.Background()
	dir := writeConfig(t, map[string]string{"c.cue": `record: main: attributes: started: {type: "bool", default: false}`})
	cfg, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)

	h, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.Journal)
	_, err = h.Store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.New("main", nil)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	again, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Store.Head())
	n, err := again.Store.Count(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "text"}}

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	cfg.NewLogger(&buf, true).Debug("verbose")
	assert.Contains(t, buf.String(), "msg=verbose")
}
