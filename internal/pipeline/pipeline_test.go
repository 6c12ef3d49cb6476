package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/testutil"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var spawnRule = Rule{
	Label: "spawn",
	Type:  "main",
	Where: map[string]any{"started": false},
	Set:   map[string]any{"started": true},
	Create: []Spawn{
		{Type: "record_1", Count: 5, Index: "record_id"},
	},
}

var markRule = Rule{
	Label: "mark",
	Type:  "record_1",
	Where: map[string]any{"processed": false},
	Set:   map[string]any{"processed": true},
}

func TestDefinition_ProcessChain(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.Seed(t, s, "main", 2, nil)

	var labels []string
	var ticks atomic.Int32
	def := New(quiet(), WithPollInterval(time.Millisecond)).
		ProcessWhere("main", map[string]any{"started": false}, func(ctx context.Context, tx *store.Tx, rec store.Record) error {
			_, err := tx.Set(rec, map[string]any{"started": true})
			return err
		}, "start").
		BeforeProcess(func(ctx context.Context, step engine.Step) error {
			labels = append(labels, step.Label)
			return nil
		}).
		Every(time.Millisecond, func(engine.Stats) error {
			ticks.Add(1)
			return nil
		}).
		Policy(engine.Synchronous())

	res, err := def.Run(ctx, s)
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, []string{"start", "start"}, labels)
	assert.Len(t, def.Producers(), 1)
	assert.Equal(t, "start", def.Producers()[0].ID())
}

func TestDefinition_RulesScenario(t *testing.T) {
	for _, policy := range []engine.Policy{engine.Synchronous(), engine.Concurrent(3)} {
		t.Run(policy.String(), func(t *testing.T) {
			ctx := context.Background()
			s := testutil.NewStore(t)
			testutil.Seed(t, s, "main", 1, nil)

			res, err := New(quiet(), WithPollInterval(time.Millisecond)).
				Rules(spawnRule, markRule).
				Policy(policy).
				Run(ctx, s)
			require.NoError(t, err)
			require.True(t, res.Success(), "errors: %v", res.Err())

			recs, err := s.Where(ctx, "record_1", query.MustWhere(map[string]any{"processed": true}))
			require.NoError(t, err)
			require.Len(t, recs, 5)

			seen := map[int64]bool{}
			for _, r := range recs {
				seen[r.Int("record_id")] = true
			}
			assert.Len(t, seen, 5, "record_id carries each child's index")
		})
	}
}

func TestDefinition_RuleFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.Seed(t, s, "main", 1, nil)

	failing := markRule
	failing.Fail = "cannot mark"

	res, err := New(quiet()).Rules(spawnRule, failing).Run(ctx, s)
	require.NoError(t, err)
	require.False(t, res.Success())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cannot mark", res.Errors[0].Message)
	assert.Equal(t, "mark", res.Errors[0].Label)

	n, err := s.Count(ctx, "record_1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	recs, err := s.Where(ctx, "record_1", query.MustWhere(map[string]any{"processed": true}))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDefinition_LinkChildren(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.Seed(t, s, "main", 1, nil)

	rule := Rule{
		Type:   "main",
		Where:  map[string]any{"started": false},
		Set:    map[string]any{"started": true},
		Create: []Spawn{{Type: "link", Count: 2, Link: "parent"}},
	}
	// Spawned types are checked by the registry when the work runs.
	res, err := New(quiet()).Rules(rule).Run(ctx, s)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, engine.KindConfiguration, res.Errors[0].Kind)

	open := testutil.NewStore(t, store.WithRegistry(nil))
	parents := testutil.Seed(t, open, "main", 1, map[string]any{"started": false})
	res, err = New(quiet()).Rules(rule).Run(ctx, open)
	require.NoError(t, err)
	require.True(t, res.Success(), "errors: %v", res.Err())

	links, err := open.All(ctx, "link")
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, l := range links {
		assert.Equal(t, parents[0].ID, l.String("parent"))
	}
}

func TestDefinition_BuildErrors(t *testing.T) {
	s := testutil.NewStore(t)

	tests := []struct {
		name string
		def  *Definition
	}{
		{"no producers", New()},
		{"nil work", New().Process(engine.Query(query.Select{Type: "main"}), nil, "x")},
		{"float filter", New().ProcessWhere("main", map[string]any{"started": 1.5}, func(context.Context, *store.Tx, store.Record) error { return nil }, "x")},
		{"unknown type", New().ProcessWhere("nope", nil, func(context.Context, *store.Tx, store.Record) error { return nil }, "x")},
		{"never settles", New().Rules(Rule{Type: "main", Where: map[string]any{"started": false}, Set: map[string]any{"started": false}})},
		{"zero concurrency", New().Rules(markRule).Policy(engine.Concurrent(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.def.Build(s)
			require.Error(t, err)
			assert.True(t, engine.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestRule_Validate(t *testing.T) {
	require.NoError(t, markRule.Validate())

	err := Rule{Label: "x", Type: "main", Where: map[string]any{"started": false}}.Validate()
	assert.ErrorIs(t, err, ErrRuleNeverSettles)

	err = Rule{Where: map[string]any{"a": 1}, Set: map[string]any{"a": 2}}.Validate()
	assert.ErrorContains(t, err, "type is required")

	bad := markRule
	bad.Create = []Spawn{{Type: "", Count: 1}}
	assert.Error(t, bad.Validate())
}

func TestRule_DefaultID(t *testing.T) {
	p, err := Rule{Type: "record_1", Where: map[string]any{"processed": false}, Set: map[string]any{"processed": true}}.Producer()
	require.NoError(t, err)
	assert.Equal(t, "record_1:[processed]", p.ID())

	p, err = markRule.Producer()
	require.NoError(t, err)
	assert.Equal(t, "mark", p.ID())
	assert.Equal(t, "mark", p.Label())
}

func TestRule_FailIsWorkError(t *testing.T) {
	failing := markRule
	failing.Fail = "nope"
	p, err := failing.Producer()
	require.NoError(t, err)

	s := testutil.NewStore(t)
	recs := testutil.Seed(t, s, "record_1", 1, nil)
	_, err = s.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		return p.Call(ctx, tx, recs[0])
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRuleNeverSettles))
	assert.Equal(t, engine.KindWork, engine.KindOf(err))
}
