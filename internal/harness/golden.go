package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cascade/internal/value"
)

// Render writes the result in the golden file format: a header, the
// version trail (synchronous runs only, since concurrent commit order
// varies) and the final state with one canonical JSON record per line.
func (r *Result) Render(name string) ([]byte, error) {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	fmt.Fprintf(&buf, "policy: %s\n", r.Policy)
	fmt.Fprintf(&buf, "pass: %t\n", r.Pass)
	fmt.Fprintf(&buf, "head: %d\n", r.Head)
	fmt.Fprintf(&buf, "errors: %d\n", len(r.RunErrors))
	for _, re := range r.RunErrors {
		fmt.Fprintf(&buf, "  %s %s: %s\n", re.Kind, re.Record, re.Message)
	}

	if r.Policy == "synchronous" {
		buf.WriteString("\nversions:\n")
		for _, v := range r.Versions {
			fmt.Fprintf(&buf, "  v%d %s\n", v.Version, strings.Join(v.Changes, " "))
		}
	}

	buf.WriteString("\nstate:\n")
	for _, typ := range r.State.Types() {
		for _, id := range r.State.IDs(typ) {
			attrs, _ := r.State.Get(typ, id)
			b, err := value.MarshalCanonical(attrs)
			if err != nil {
				return nil, fmt.Errorf("render %s/%s: %w", typ, id, err)
			}
			fmt.Fprintf(&buf, "  %s/%s %s\n", typ, id, b)
		}
	}
	return []byte(buf.String()), nil
}

// RunWithGolden executes a scenario and compares the rendered result
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the output doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	out, err := result.Render(scenarioName)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, out)
	return nil
}
