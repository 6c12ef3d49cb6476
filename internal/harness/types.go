package harness

import (
	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/engine"
)

// VersionTrace is one committed version and the records it touched,
// written +type/id for creates, ~type/id for updates and =initial for a
// restore.
type VersionTrace struct {
	Version int      `json:"version"`
	Changes []string `json:"changes"`
}

// RunError is the scenario-facing view of an engine error.
type RunError struct {
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`
	Record  string `json:"record,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors contains failed assertion messages.
	Errors []string `json:"errors,omitempty"`

	// Policy is the policy the pipeline ran under.
	Policy string `json:"policy"`

	// Head is the store head after the run.
	Head int `json:"head"`

	// Versions lists every commit, seed included, in version order.
	Versions []VersionTrace `json:"versions"`

	// RunErrors are the errors the processor recorded.
	RunErrors []RunError `json:"run_errors,omitempty"`

	// Attempted and Completed mirror the processor counters.
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`

	// State is the final dataset.
	State changeset.Dataset `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Versions: []VersionTrace{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addRunErrors copies the processor's errors.
func (r *Result) addRunErrors(errs []*engine.Error) {
	for _, e := range errs {
		re := RunError{Kind: string(e.Kind), Label: e.Label, Message: e.Message}
		if e.RecordType != "" {
			re.Record = e.RecordType + "/" + e.RecordID
		}
		r.RunErrors = append(r.RunErrors, re)
	}
}
