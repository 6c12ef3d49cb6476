package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type      string     // Assertion type for categorization
	Expected  string     // Human-readable expected outcome
	Actual    string     // Human-readable actual outcome
	RunErrors []RunError // Errors the run recorded, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.RunErrors) > 0 {
		fmt.Fprintf(&buf, "\nRun errors:\n")
		for i, re := range e.RunErrors {
			fmt.Fprintf(&buf, "  [%d] %s %s: %s\n", i+1, re.Kind, re.Record, re.Message)
		}
	}
	return buf.String()
}

func assertSuccess(result *Result) error {
	if len(result.RunErrors) == 0 {
		return nil
	}
	return &AssertionError{
		Type:      AssertSuccess,
		Expected:  "run without errors",
		Actual:    fmt.Sprintf("%d error(s)", len(result.RunErrors)),
		RunErrors: result.RunErrors,
	}
}

func assertErrorCount(result *Result, a Assertion) error {
	if len(result.RunErrors) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:      AssertErrorCount,
		Expected:  fmt.Sprintf("%d error(s)", a.Count),
		Actual:    fmt.Sprintf("%d error(s)", len(result.RunErrors)),
		RunErrors: result.RunErrors,
	}
}

// assertError checks that some recorded error matches every selector the
// assertion sets. Message is a substring match.
func assertError(result *Result, a Assertion) error {
	for _, re := range result.RunErrors {
		if a.Kind != "" && re.Kind != a.Kind {
			continue
		}
		if a.Label != "" && re.Label != a.Label {
			continue
		}
		if a.Message != "" && !strings.Contains(re.Message, a.Message) {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:      AssertError,
		Expected:  fmt.Sprintf("error with kind=%q label=%q message~%q", a.Kind, a.Label, a.Message),
		Actual:    "no matching error",
		RunErrors: result.RunErrors,
	}
}

func assertVersionCount(result *Result, a Assertion) error {
	if result.Head == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertVersionCount,
		Expected: fmt.Sprintf("head %d", a.Count),
		Actual:   fmt.Sprintf("head %d", result.Head),
	}
}

// matching returns the records of a.Record matching a.Where.
func matching(ctx context.Context, r store.Reader, a Assertion) ([]store.Record, error) {
	pred, err := query.Where(a.Where)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid where: %w", a.Type, err)
	}
	return r.Where(ctx, a.Record, pred)
}

func assertCount(ctx context.Context, r store.Reader, a Assertion) error {
	recs, err := matching(ctx, r, a)
	if err != nil {
		return err
	}
	if len(recs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCount,
		Expected: fmt.Sprintf("%d %s record(s) where %s", a.Count, a.Record, formatWhere(a.Where)),
		Actual:   fmt.Sprintf("%d record(s)", len(recs)),
	}
}

// assertFinalState checks that at least one record matches Where and that
// every matching record carries the Expect values.
func assertFinalState(ctx context.Context, r store.Reader, a Assertion) error {
	recs, err := matching(ctx, r, a)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s record(s) where %s", a.Record, formatWhere(a.Where)),
			Actual:   "no matching records",
		}
	}
	expect, err := value.ObjectFrom(a.Expect)
	if err != nil {
		return fmt.Errorf("%s: invalid expect: %w", a.Type, err)
	}
	for _, rec := range recs {
		for _, k := range expect.SortedKeys() {
			if !value.Equal(rec.Get(k), expect[k]) {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("%s.%s = %s", rec.Key(), k, formatValue(expect[k])),
					Actual:   fmt.Sprintf("%s.%s = %s", rec.Key(), k, formatValue(rec.Get(k))),
				}
			}
		}
	}
	return nil
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(all)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range slices.Sorted(maps.Keys(where)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func formatValue(v value.Value) string {
	b, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// EvaluateAssertions evaluates all assertions against the result and the
// final state. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, r store.Reader) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSuccess:
			err = assertSuccess(result)
		case AssertErrorCount:
			err = assertErrorCount(result, assertion)
		case AssertError:
			err = assertError(result, assertion)
		case AssertVersionCount:
			err = assertVersionCount(result, assertion)
		case AssertCount, AssertFinalState:
			if r == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertCount {
				err = assertCount(ctx, r, assertion)
			} else {
				err = assertFinalState(ctx, r, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
