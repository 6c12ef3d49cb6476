package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/cascade/internal/store"
)

// DefaultPollInterval is the pause between passes of the concurrent policy.
const DefaultPollInterval = 100 * time.Millisecond

// Step describes the execution a before-work hook is about to observe.
type Step struct {
	Record   store.Record
	Label    string
	Producer string
}

// Hook runs before a unit of work, outside its transaction. A hook error
// fails the execution like a work error.
type Hook func(ctx context.Context, step Step) error

// Timer calls Fn every Interval for as long as a run lasts. Errors and
// panics from Fn are logged and never affect the run.
type Timer struct {
	Interval time.Duration
	Fn       func(Stats) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithPolicy sets the scheduling policy. Default: Synchronous().
func WithPolicy(p Policy) Option {
	return func(pr *Processor) { pr.policy = p }
}

// WithPollInterval sets how long the concurrent policy yields between
// passes. Default: DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(pr *Processor) { pr.poll = d }
}

// WithBeforeHooks appends hooks that run, in order, before every unit of
// work.
func WithBeforeHooks(hooks ...Hook) Option {
	return func(pr *Processor) { pr.hooks = append(pr.hooks, hooks...) }
}

// WithTimers appends periodic stats callbacks.
func WithTimers(timers ...Timer) Option {
	return func(pr *Processor) { pr.timers = append(pr.timers, timers...) }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(pr *Processor) { pr.logger = l }
}

// WithMetrics records executions into m.
func WithMetrics(m *Metrics) Option {
	return func(pr *Processor) { pr.metrics = m }
}

// WithClock replaces time.Now for elapsed-time reporting.
func WithClock(now func() time.Time) Option {
	return func(pr *Processor) { pr.now = now }
}

// Processor discovers ready records and runs producers' work on them until
// nothing is left to do or an execution fails.
//
// Each pass asks every producer, in order, for its current records. Records
// not already locked for that producer are locked and executed: before-work
// hooks run first, then the producer's Call runs inside a store
// transaction. A successful call commits; a failing one rolls back, records
// an Error and stops further admissions. The lock is released on every path.
//
// The run ends when a pass finds nothing to schedule while nothing is in
// flight, or once a failure is recorded and in-flight executions drain.
type Processor struct {
	store     *store.Store
	producers []Producer
	works     []string
	policy    Policy
	poll      time.Duration
	hooks     []Hook
	timers    []Timer
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	locker    *Locker
}

// NewProcessor validates its inputs and returns a processor over s.
//
// Every problem found here is an *Error of KindConfiguration: a missing or
// read-only store, an invalid policy, poll interval or timer, or a producer
// whose query does not fit the store's registry.
func NewProcessor(s *store.Store, producers []Producer, opts ...Option) (*Processor, error) {
	p := &Processor{
		store:     s,
		producers: slices.Clone(producers),
		policy:    Synchronous(),
		poll:      DefaultPollInterval,
		logger:    slog.Default(),
		now:       time.Now,
		locker:    NewLocker(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if s == nil {
		return nil, configError("processor requires a store")
	}
	if s.ReadOnly() {
		return nil, configError("store is pinned to version %d and cannot run work", s.Pinned())
	}
	if err := p.policy.validate(); err != nil {
		return nil, err
	}
	if p.policy.IsConcurrent() && p.poll <= 0 {
		return nil, configError("poll interval must be positive, got %s", p.poll)
	}
	for i, t := range p.timers {
		if t.Interval <= 0 || t.Fn == nil {
			return nil, configError("timer %d needs a positive interval and a callback", i)
		}
	}

	p.works = make([]string, len(p.producers))
	for i, prod := range p.producers {
		if prod == nil {
			return nil, configError("producer %d is nil", i)
		}
		if v, ok := prod.(Validator); ok {
			if err := v.Validate(s.Registry()); err != nil {
				var e *Error
				if errors.As(err, &e) {
					return nil, e
				}
				return nil, &Error{Kind: KindConfiguration, Message: err.Error(), Producer: prod.ID(), Label: prod.Label(), Cause: err}
			}
		}
		// Producers may share IDs; the index keeps their locks apart.
		p.works[i] = fmt.Sprintf("%d:%s", i, prod.ID())
	}
	return p, nil
}

// Policy returns the scheduling policy.
func (p *Processor) Policy() Policy {
	return p.policy
}

// Locker returns the processor's lock table.
func (p *Processor) Locker() *Locker {
	return p.locker
}

// Result is the outcome of one run.
type Result struct {
	// Errors holds every recorded failure in the order recorded. Empty
	// means success.
	Errors []*Error

	// Attempted counts executions that started their hooks.
	Attempted int

	// Completed counts executions that finished without error.
	Completed int

	Elapsed time.Duration
}

// Success reports whether the run recorded no errors.
func (r *Result) Success() bool {
	return len(r.Errors) == 0
}

// Err joins the recorded errors, or returns nil on success.
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Run schedules work until quiescence, failure or cancellation.
//
// Canceling ctx stops admitting new executions; running ones complete.
// Cancellation is reported as an Error of KindCanceled.
func (p *Processor) Run(ctx context.Context) *Result {
	r := newRun(p)
	p.logger.Info("run starting",
		"policy", p.policy.String(),
		"producers", len(p.producers),
		"hooks", len(p.hooks),
		"timers", len(p.timers),
	)

	stopTimers := r.startTimers(ctx)
	func() {
		defer stopTimers()
		if p.policy.IsConcurrent() {
			r.loopConcurrent(ctx)
		} else {
			r.loopSynchronous(ctx)
		}
	}()

	res := r.result()
	if res.Success() {
		p.logger.Info("run finished",
			"completed", res.Completed,
			"elapsed", res.Elapsed,
		)
	} else {
		p.logger.Error("run failed",
			"errors", len(res.Errors),
			"attempted", res.Attempted,
			"completed", res.Completed,
			"elapsed", res.Elapsed,
		)
	}
	return res
}
