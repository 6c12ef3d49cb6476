package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/schema"
)

// Defaults for omitted settings.
const (
	DefaultStoreDir  = "data"
	DefaultCacheSize = 32
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// StoreConfig locates the store on disk. Relative paths are resolved
// against the configuration directory.
type StoreConfig struct {
	Dir     string `json:"dir"`
	Journal string `json:"journal"`
	Cache   int    `json:"cache"`
}

// ProcessorConfig selects the scheduling policy.
type ProcessorConfig struct {
	Policy       string        `json:"policy"`
	Concurrency  int           `json:"concurrency"`
	PollInterval time.Duration `json:"-"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is a loaded configuration directory.
//
//	store:     {dir: "data", journal: "data/changelog.db", cache: 16}
//	processor: {policy: "concurrent", concurrency: 4, poll_interval: "100ms"}
//	log:       {level: "info", format: "text"}
//	record: main: attributes: started: {type: "bool", default: false}
//	pipeline: [{label: "start", type: "main", where: {started: false}, set: {started: true}}]
type Config struct {
	Dir       string
	FileCount int
	Store     StoreConfig
	Processor ProcessorConfig
	Log       LogConfig
	Types     []schema.RecordType
	Rules     []pipeline.Rule

	registry *schema.Registry
}

// Load loads and validates every CUE file in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func Load(dir string, mode LoadMode) (*Config, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	cctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	root := cctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	if err := root.Validate(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	cfg := &Config{
		Dir:       abs,
		FileCount: len(cueFiles),
		Store:     StoreConfig{Dir: DefaultStoreDir, Cache: DefaultCacheSize},
		Processor: ProcessorConfig{Policy: "synchronous", Concurrency: 1, PollInterval: engine.DefaultPollInterval},
		Log:       LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}

	var errs []error
	steps := []func(cue.Value) []error{
		cfg.decodeStore,
		cfg.decodeProcessor,
		cfg.decodeLog,
		cfg.decodeRecords,
		cfg.decodePipeline,
	}
	for _, step := range steps {
		stepErrs := step(root)
		errs = append(errs, stepErrs...)
		if len(stepErrs) > 0 && mode == LoadModeFailFast {
			return cfg, errs
		}
	}
	return cfg, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (c *Config) decodeStore(root cue.Value) []error {
	v := root.LookupPath(cue.ParsePath("store"))
	if !v.Exists() {
		return nil
	}
	if err := v.Decode(&c.Store); err != nil {
		return []error{&LoadError{Code: ErrCodeStore, Message: fmt.Sprintf("store: %v", err), Pos: v.Pos()}}
	}
	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Store.Cache < 0 {
		return []error{&LoadError{Code: ErrCodeStore, Message: "store.cache must not be negative", Pos: v.Pos()}}
	}
	return nil
}

func (c *Config) decodeProcessor(root cue.Value) []error {
	v := root.LookupPath(cue.ParsePath("processor"))
	if !v.Exists() {
		return nil
	}
	if err := v.Decode(&c.Processor); err != nil {
		return []error{&LoadError{Code: ErrCodeProcessor, Message: fmt.Sprintf("processor: %v", err), Pos: v.Pos()}}
	}
	var errs []error
	if pv := v.LookupPath(cue.ParsePath("poll_interval")); pv.Exists() {
		s, err := pv.String()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeProcessor, Message: fmt.Sprintf("processor.poll_interval: %v", err), Pos: pv.Pos()})
		} else if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			errs = append(errs, &LoadError{Code: ErrCodeProcessor, Message: fmt.Sprintf("processor.poll_interval: invalid duration %q", s), Pos: pv.Pos()})
		} else {
			c.Processor.PollInterval = d
		}
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, &LoadError{Code: ErrCodeProcessor, Message: fmt.Sprintf("processor: %v", err), Pos: v.Pos()})
	}
	return errs
}

func (c *Config) decodeLog(root cue.Value) []error {
	v := root.LookupPath(cue.ParsePath("log"))
	if !v.Exists() {
		return nil
	}
	if err := v.Decode(&c.Log); err != nil {
		return []error{&LoadError{Code: ErrCodeLog, Message: fmt.Sprintf("log: %v", err), Pos: v.Pos()}}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return []error{&LoadError{Code: ErrCodeLog, Message: err.Error(), Pos: v.Pos()}}
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return []error{&LoadError{Code: ErrCodeLog, Message: fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format), Pos: v.Pos()}}
	}
	return nil
}

func (c *Config) decodeRecords(root cue.Value) []error {
	v := root.LookupPath(cue.ParsePath("record"))
	if !v.Exists() {
		return []error{&LoadError{Code: ErrCodeNoTypes, Message: "no record types declared"}}
	}
	iter, err := v.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating record types: %v", err)}}
	}

	var errs []error
	reg, _ := schema.NewRegistry()
	for iter.Next() {
		rt, err := schema.CompileRecordType(iter.Value())
		if err != nil {
			errs = append(errs, convertError(err, "record."+iter.Label(), ErrCodeGeneric))
			continue
		}
		if err := reg.Register(*rt); err != nil {
			errs = append(errs, convertError(err, "record."+iter.Label(), ErrCodeGeneric))
			continue
		}
		c.Types = append(c.Types, *rt)
	}
	if len(c.Types) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoTypes, Message: "no record types declared"})
	}
	c.registry = reg
	return errs
}

func (c *Config) decodePipeline(root cue.Value) []error {
	v := root.LookupPath(cue.ParsePath("pipeline"))
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		return []error{&LoadError{Code: ErrCodePipeline, Message: fmt.Sprintf("pipeline must be a list: %v", err), Pos: v.Pos()}}
	}

	var errs []error
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		rule, err := decodeRule(item)
		if err == nil {
			err = rule.Validate()
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodePipeline, Message: fmt.Sprintf("pipeline[%d]: %v", i, err), Pos: item.Pos()})
			continue
		}
		c.Rules = append(c.Rules, rule)
	}
	return errs
}

// decodeRule goes through JSON so attribute values keep integer precision.
func decodeRule(v cue.Value) (pipeline.Rule, error) {
	var rule pipeline.Rule
	data, err := v.MarshalJSON()
	if err != nil {
		return rule, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rule); err != nil {
		return rule, err
	}
	return rule, nil
}

// Registry returns the declared record types.
func (c *Config) Registry() *schema.Registry {
	if c.registry == nil {
		c.registry = schema.MustRegistry(c.Types...)
	}
	return c.registry
}

// Policy returns the configured scheduling policy.
func (c *Config) Policy() (engine.Policy, error) {
	return engine.ParsePolicy(c.Processor.Policy, c.Processor.Concurrency)
}

// Pipeline builds a definition from the configured rules and processor
// settings.
func (c *Config) Pipeline(opts ...pipeline.Option) (*pipeline.Definition, error) {
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}
	opts = append([]pipeline.Option{pipeline.WithPollInterval(c.Processor.PollInterval)}, opts...)
	return pipeline.New(opts...).Rules(c.Rules...).Policy(policy), nil
}

// StoreDir returns the absolute snapshot directory.
func (c *Config) StoreDir() string {
	return c.resolve(c.Store.Dir)
}

// JournalPath returns the absolute journal path, or "" when journaling is
// off.
func (c *Config) JournalPath() string {
	if c.Store.Journal == "" {
		return ""
	}
	return c.resolve(c.Store.Journal)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
