package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/testutil"
)

func failedResult() *Result {
	r := NewResult()
	r.Head = 2
	r.RunErrors = []RunError{{Kind: "WorkError", Label: "mark", Record: "record_1/id-2", Message: "cannot mark"}}
	return r
}

func TestEvaluateAssertions_RunOutcome(t *testing.T) {
	ctx := context.Background()
	result := failedResult()

	tests := []struct {
		name      string
		assertion Assertion
		wantFail  bool
	}{
		{"success fails", Assertion{Type: AssertSuccess}, true},
		{"error count matches", Assertion{Type: AssertErrorCount, Count: 1}, false},
		{"error count differs", Assertion{Type: AssertErrorCount, Count: 0}, true},
		{"error by kind", Assertion{Type: AssertError, Kind: "WorkError"}, false},
		{"error by label and message", Assertion{Type: AssertError, Label: "mark", Message: "cannot"}, false},
		{"error wrong kind", Assertion{Type: AssertError, Kind: "AssertionFailure"}, true},
		{"error wrong label", Assertion{Type: AssertError, Kind: "WorkError", Label: "spawn"}, true},
		{"version count matches", Assertion{Type: AssertVersionCount, Count: 2}, false},
		{"version count differs", Assertion{Type: AssertVersionCount, Count: 3}, true},
		{"unknown type", Assertion{Type: "trace_order"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(ctx, result, []Assertion{tt.assertion}, nil)
			if tt.wantFail {
				assert.Len(t, errs, 1)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestEvaluateAssertions_State(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.Seed(t, s, "main", 1, map[string]any{"started": true})
	testutil.Seed(t, s, "record_1", 2, map[string]any{"record_id": 7})

	result := NewResult()
	tests := []struct {
		name      string
		assertion Assertion
		wantFail  bool
	}{
		{"count all", Assertion{Type: AssertCount, Record: "record_1", Count: 2}, false},
		{"count filtered", Assertion{Type: AssertCount, Record: "record_1", Where: map[string]any{"processed": true}, Count: 0}, false},
		{"count wrong", Assertion{Type: AssertCount, Record: "main", Count: 2}, true},
		{"final state default", Assertion{Type: AssertFinalState, Record: "record_1", Expect: map[string]any{"processed": false, "record_id": 7}}, false},
		{"final state mismatch", Assertion{Type: AssertFinalState, Record: "main", Expect: map[string]any{"started": false}}, true},
		{"final state no match", Assertion{Type: AssertFinalState, Record: "main", Where: map[string]any{"started": false}, Expect: map[string]any{"started": false}}, true},
		{"float where", Assertion{Type: AssertCount, Record: "main", Where: map[string]any{"started": 0.5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(ctx, result, []Assertion{tt.assertion}, s)
			if tt.wantFail {
				assert.Len(t, errs, 1)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestEvaluateAssertions_StateNeedsStore(t *testing.T) {
	errs := EvaluateAssertions(context.Background(), NewResult(), []Assertion{{Type: AssertCount, Record: "main"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires store context")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:      AssertSuccess,
		Expected:  "run without errors",
		Actual:    "1 error(s)",
		RunErrors: failedResult().RunErrors,
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: success")
	assert.Contains(t, msg, "Expected: run without errors")
	assert.Contains(t, msg, "[1] WorkError record_1/id-2: cannot mark")
}

func TestResult_Render(t *testing.T) {
	r := failedResult()
	r.Policy = "concurrent(2)"
	out, err := r.Render("x")
	require.NoError(t, err)
	assert.Equal(t, "scenario: x\npolicy: concurrent(2)\npass: true\nhead: 2\nerrors: 1\n  WorkError record_1/id-2: cannot mark\n\nstate:\n", string(out))
}
