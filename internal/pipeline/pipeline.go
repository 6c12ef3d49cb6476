package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/store"
)

// Option configures a Definition.
type Option func(*Definition)

// WithLogger sets the logger handed to the processor.
func WithLogger(l *slog.Logger) Option {
	return func(d *Definition) { d.logger = l }
}

// WithMetrics records runs into m.
func WithMetrics(m *engine.Metrics) Option {
	return func(d *Definition) { d.metrics = m }
}

// WithPollInterval sets the concurrent policy's poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Definition) { d.poll = interval }
}

// Definition describes a pipeline: producers in order, before-work hooks,
// timers and a scheduling policy. Builder methods return the Definition so
// calls chain:
//
//	def := pipeline.New().
//		Process(engine.Query(sel), work, "import").
//		BeforeProcess(logStep).
//		Every(time.Second, report).
//		Policy(engine.Concurrent(4))
//
// Mistakes made while building are collected and reported by Build.
type Definition struct {
	producers []engine.Producer
	hooks     []engine.Hook
	timers    []engine.Timer
	policy    engine.Policy
	logger    *slog.Logger
	metrics   *engine.Metrics
	poll      time.Duration
	errs      []error
}

// New creates an empty, synchronous definition.
func New(opts ...Option) *Definition {
	d := &Definition{
		policy: engine.Synchronous(),
		logger: slog.Default(),
		poll:   engine.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process appends a producer that runs work on every record source yields.
// label groups the producer in hooks and logs and doubles as its ID.
func (d *Definition) Process(source engine.Source, work engine.Work, label string) *Definition {
	if source == nil || work == nil {
		d.errs = append(d.errs, fmt.Errorf("process %q: source and work are required", label))
		return d
	}
	d.producers = append(d.producers, engine.NewProducer(source, work, engine.WithLabel(label)))
	return d
}

// ProcessWhere is Process over the records of typ whose attributes equal
// exact.
func (d *Definition) ProcessWhere(typ string, exact map[string]any, work engine.Work, label string) *Definition {
	pred, err := query.Where(exact)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("process %q: %w", label, err))
		return d
	}
	return d.Process(engine.Query(query.Select{Type: typ, Filter: pred}), work, label)
}

// Add appends ready-made producers.
func (d *Definition) Add(producers ...engine.Producer) *Definition {
	d.producers = append(d.producers, producers...)
	return d
}

// BeforeProcess appends a hook that runs before every unit of work.
func (d *Definition) BeforeProcess(h engine.Hook) *Definition {
	d.hooks = append(d.hooks, h)
	return d
}

// Every calls fn with run stats every interval while a run lasts.
func (d *Definition) Every(interval time.Duration, fn func(engine.Stats) error) *Definition {
	d.timers = append(d.timers, engine.Timer{Interval: interval, Fn: fn})
	return d
}

// Policy sets the scheduling policy.
func (d *Definition) Policy(p engine.Policy) *Definition {
	d.policy = p
	return d
}

// Producers returns the producers in declaration order.
func (d *Definition) Producers() []engine.Producer {
	return append([]engine.Producer(nil), d.producers...)
}

// Build validates the definition against s and returns its processor.
// Every problem is an engine configuration error.
func (d *Definition) Build(s *store.Store) (*engine.Processor, error) {
	if len(d.errs) > 0 {
		return nil, &engine.Error{
			Kind:    engine.KindConfiguration,
			Message: errors.Join(d.errs...).Error(),
			Cause:   errors.Join(d.errs...),
		}
	}
	if len(d.producers) == 0 {
		return nil, &engine.Error{Kind: engine.KindConfiguration, Message: "pipeline defines no producers"}
	}
	return engine.NewProcessor(s, d.producers,
		engine.WithPolicy(d.policy),
		engine.WithPollInterval(d.poll),
		engine.WithBeforeHooks(d.hooks...),
		engine.WithTimers(d.timers...),
		engine.WithLogger(d.logger),
		engine.WithMetrics(d.metrics),
	)
}

// Run builds the processor and runs it once.
func (d *Definition) Run(ctx context.Context, s *store.Store) (*engine.Result, error) {
	p, err := d.Build(s)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx), nil
}
