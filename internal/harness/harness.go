package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// IDPrefix prefixes every record id a scenario creates.
const IDPrefix = "r"

// Harness is the execution state of one scenario.
type Harness struct {
	store  *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	versions []VersionTrace
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store for isolation.
//
// Execution flow:
// 1. Build the registry from the scenario's types
// 2. Seed the records in one transaction
// 3. Run the pipeline to quiescence under the scenario's policy
// 4. Evaluate the assertions against the run and the final state
//
// An error is returned only when the scenario cannot run at all; run and
// assertion failures are reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := scenario.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	policy, err := scenario.policy()
	if err != nil {
		return nil, err
	}

	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))} // Suppress logs in tests
	st, err := store.Open(ctx, store.NewMemoryBackend(),
		store.WithRegistry(reg),
		store.WithIDGenerator(changeset.NewSequenceGenerator(IDPrefix)),
		store.WithLogger(h.logger),
		store.WithCommitHook(h.trace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	h.store = st

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("seed failed: %w", err)
	}

	res, err := pipeline.New(
		pipeline.WithLogger(h.logger),
		pipeline.WithPollInterval(time.Millisecond),
	).Rules(scenario.Pipeline...).Policy(policy).Run(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	result := NewResult()
	result.Policy = policy.String()
	result.Head = st.Head()
	result.Attempted = res.Attempted
	result.Completed = res.Completed
	result.addRunErrors(res.Errors)
	result.Versions = h.trail()

	state, err := st.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, st) {
		result.AddError(msg)
	}
	return result, nil
}

// seed creates every seed record in one transaction.
func (h *Harness) seed(ctx context.Context, steps []SeedStep) error {
	if len(steps) == 0 {
		return nil
	}
	_, err := h.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		for i, step := range steps {
			n := step.Count
			if n == 0 {
				n = 1
			}
			for j := 0; j < n; j++ {
				if _, err := tx.New(step.Type, step.Attributes); err != nil {
					return fmt.Errorf("seed[%d]: %w", i, err)
				}
			}
		}
		return nil
	})
	return err
}

// trace records a commit. Hooks may run from concurrent executions.
func (h *Harness) trace(c store.Commit) {
	changes := make([]string, 0, c.Changeset.Len())
	for _, d := range c.Changeset.Deltas {
		changes = append(changes, describeDelta(d))
	}
	h.mu.Lock()
	h.versions = append(h.versions, VersionTrace{Version: c.Version, Changes: changes})
	h.mu.Unlock()
}

func (h *Harness) trail() []VersionTrace {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := slices.Clone(h.versions)
	slices.SortFunc(out, func(a, b VersionTrace) int { return a.Version - b.Version })
	if out == nil {
		out = []VersionTrace{}
	}
	return out
}

func describeDelta(d changeset.Delta) string {
	switch v := d.(type) {
	case *changeset.Create:
		return "+" + v.Type + "/" + v.ID()
	case *changeset.Update:
		return "~" + v.Type + "/" + v.ID
	default:
		return "=" + string(d.Action())
	}
}
