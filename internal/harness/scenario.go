package harness

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/value"
)

// Scenario defines one end-to-end pipeline run and what must hold after it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is "synchronous" (the default) or "concurrent".
	Policy string `yaml:"policy,omitempty"`

	// Concurrency is the admission limit for the concurrent policy.
	// Defaults to 1.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Types declares record types by name. Without types the store
	// accepts any record.
	Types map[string]map[string]AttributeSpec `yaml:"types,omitempty"`

	// Seed lists the records created in one transaction before the run.
	Seed []SeedStep `yaml:"seed,omitempty"`

	// Pipeline lists the rules, in producer order.
	Pipeline []pipeline.Rule `yaml:"pipeline"`

	// Assertions validate the run's outcome and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// AttributeSpec is either a bare kind name or {type, default}.
type AttributeSpec struct {
	Type       string
	Default    any
	HasDefault bool
}

// UnmarshalYAML accepts both attribute forms.
func (a *AttributeSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&a.Type)
	}
	var raw struct {
		Type    string    `yaml:"type"`
		Default yaml.Node `yaml:"default"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Type = raw.Type
	if raw.Default.Kind != 0 {
		if err := raw.Default.Decode(&a.Default); err != nil {
			return err
		}
		a.HasDefault = true
	}
	return nil
}

// SeedStep creates Count records of Type with Attributes.
type SeedStep struct {
	Type       string         `yaml:"type"`
	Count      int            `yaml:"count,omitempty"` // defaults to 1
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// Assertion validates the run outcome or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "success": the run recorded no errors
	// - "error_count": the run recorded exactly Count errors
	// - "error": some error matches Kind, Label and Message (substring)
	// - "count": exactly Count records of Record match Where
	// - "final_state": every record of Record matching Where has Expect
	// - "version_count": the store head equals Count
	Type string `yaml:"type"`

	// Record is the record type (used by count and final_state).
	Record string `yaml:"record,omitempty"`

	// Where filters records by exact attribute values.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected attribute values (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (count, error_count, version_count).
	Count int `yaml:"count,omitempty"`

	// Kind, Label and Message select an error (used by error).
	Kind    string `yaml:"kind,omitempty"`
	Label   string `yaml:"label,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertSuccess      = "success"
	AssertErrorCount   = "error_count"
	AssertError        = "error"
	AssertCount        = "count"
	AssertFinalState   = "final_state"
	AssertVersionCount = "version_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, ordered by file
// name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		sc, err := LoadScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// Registry builds the declared types, or returns nil when the scenario
// declares none. Types and attributes are registered in name order.
func (s *Scenario) Registry() (*schema.Registry, error) {
	if len(s.Types) == 0 {
		return nil, nil
	}
	var types []schema.RecordType
	for _, name := range slices.Sorted(maps.Keys(s.Types)) {
		rt := schema.RecordType{Name: name}
		attrs := s.Types[name]
		for _, attr := range slices.Sorted(maps.Keys(attrs)) {
			spec := attrs[attr]
			kind, err := schema.ParseKind(spec.Type)
			if err != nil {
				return nil, fmt.Errorf("types.%s.%s: %w", name, attr, err)
			}
			a := schema.Attribute{Name: attr, Kind: kind}
			if spec.HasDefault {
				def, err := value.From(spec.Default)
				if err != nil {
					return nil, fmt.Errorf("types.%s.%s default: %w", name, attr, err)
				}
				a.Default, a.HasDefault = def, true
			}
			rt.Attributes = append(rt.Attributes, a)
		}
		types = append(types, rt)
	}
	return schema.NewRegistry(types...)
}

// policy returns the scenario's scheduling policy.
func (s *Scenario) policy() (engine.Policy, error) {
	return engine.ParsePolicy(s.Policy, max(s.Concurrency, 1))
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Pipeline) == 0 {
		return fmt.Errorf("pipeline list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}
	if _, err := s.policy(); err != nil {
		return err
	}
	if _, err := s.Registry(); err != nil {
		return err
	}

	for i, step := range s.Seed {
		if step.Type == "" {
			return fmt.Errorf("seed[%d]: type is required", i)
		}
		if step.Count < 0 {
			return fmt.Errorf("seed[%d]: count must be non-negative", i)
		}
	}
	for i, rule := range s.Pipeline {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("pipeline[%d]: %w", i, err)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertSuccess, AssertErrorCount, AssertVersionCount:
	case AssertError:
		if a.Kind == "" && a.Label == "" && a.Message == "" {
			return fmt.Errorf("assertions[%d]: error needs kind, label or message", index)
		}
	case AssertCount:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for count", index)
		}
	case AssertFinalState:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
