package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/cascade/internal/store"
)

// run is the state of one Processor.Run call.
//
// The lock table, the error list and the counters are the only state that
// concurrent executions mutate.
type run struct {
	p     *Processor
	start time.Time
	sem   *semaphore.Weighted
	wg    sync.WaitGroup

	failed atomic.Bool
	c      counters

	mu   sync.Mutex
	errs []*Error

	// released stamps every lock release with a run-wide sequence number.
	relMu    sync.Mutex
	relSeq   int64
	released map[lockKey]int64
}

// candidate is one locked record awaiting execution.
type candidate struct {
	work string
	prod Producer
	rec  store.Record
}

func newRun(p *Processor) *run {
	return &run{
		p:        p,
		start:    p.now(),
		sem:      semaphore.NewWeighted(int64(p.policy.Limit())),
		released: make(map[lockKey]int64),
	}
}

// epoch returns the current release sequence number.
func (r *run) epoch() int64 {
	r.relMu.Lock()
	defer r.relMu.Unlock()
	return r.relSeq
}

// release stamps c's key and then unlocks it.
func (r *run) release(c candidate) {
	r.relMu.Lock()
	r.relSeq++
	r.released[keyOf(c.work, c.rec)] = r.relSeq
	r.relMu.Unlock()

	r.p.locker.Unlock(c.work, c.rec)
}

// releasedSince reports whether rec was released for work after epoch. Its
// producer's records were fetched at epoch and may not reflect that
// execution's commit yet.
func (r *run) releasedSince(work string, rec store.Record, epoch int64) bool {
	r.relMu.Lock()
	defer r.relMu.Unlock()
	return r.released[keyOf(work, rec)] > epoch
}

// fail records e and stops further admissions. The first caller wins the
// flag; every error is kept.
func (r *run) fail(e *Error) {
	r.failed.Store(true)
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

// canceled records a KindCanceled error when ctx is done.
func (r *run) canceled(ctx context.Context) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	r.p.logger.Warn("run canceled", "error", err)
	r.fail(&Error{Kind: KindCanceled, Message: "run canceled before reaching quiescence", Cause: err})
	return true
}

// loopSynchronous executes every candidate inline. The next pass starts only
// after the previous one's executions, including their commits, are done.
func (r *run) loopSynchronous(ctx context.Context) {
	for !r.canceled(ctx) {
		scheduled, ok := r.pass(ctx, func(c candidate) bool {
			r.execute(ctx, c)
			return !r.failed.Load()
		})
		if !ok {
			if !r.failed.Load() {
				r.canceled(ctx)
			}
			return
		}
		if scheduled == 0 {
			r.p.logger.Debug("pass idle, run quiescent")
			return
		}
	}
}

// loopConcurrent dispatches candidates to goroutines under the admission
// semaphore and yields for the poll interval between passes.
func (r *run) loopConcurrent(ctx context.Context) {
	defer r.wg.Wait()

	for !r.canceled(ctx) {
		// Read before the pass: an execution that finishes during the scan
		// may have committed after its producer was queried.
		busy := r.c.InFlight() > 0

		scheduled, ok := r.pass(ctx, func(c candidate) bool {
			return r.dispatch(ctx, c)
		})
		if !ok {
			if !r.failed.Load() {
				r.canceled(ctx)
			}
			return
		}
		if r.failed.Load() {
			return
		}
		if scheduled == 0 && !busy {
			r.p.logger.Debug("pass idle, run quiescent")
			return
		}
		r.sleep(ctx)
	}
}

// pass scans every producer once and hands each unlocked record, already
// locked, to dispatch. It returns the number of records scheduled and false
// when it stopped early because of a failure or cancellation.
func (r *run) pass(ctx context.Context, dispatch func(candidate) bool) (int, bool) {
	scheduled := 0
	for i, prod := range r.p.producers {
		epoch := r.epoch()
		recs, err := r.fetch(ctx, prod)
		if err != nil {
			r.fail(&Error{
				Kind:     KindOf(err),
				Message:  fmt.Sprintf("fetch records: %v", err),
				Producer: prod.ID(),
				Label:    prod.Label(),
				Cause:    err,
			})
			return scheduled, false
		}

		work := r.p.works[i]
		for _, rec := range recs {
			if r.failed.Load() || ctx.Err() != nil {
				return scheduled, false
			}
			if r.p.locker.Locked(work, rec) || r.releasedSince(work, rec, epoch) {
				continue
			}
			if err := r.p.locker.Lock(work, rec); err != nil {
				continue
			}
			scheduled++
			r.p.logger.Debug("record dispatched",
				"producer", prod.ID(),
				"record", rec.Key(),
			)
			if !dispatch(candidate{work: work, prod: prod, rec: rec}) {
				return scheduled, false
			}
		}
	}
	return scheduled, true
}

// fetch queries prod, turning a panic into an error.
func (r *run) fetch(ctx context.Context, prod Producer) (recs []store.Record, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return prod.Records(ctx, r.p.store)
}

// dispatch waits for admission, then runs c on its own goroutine. It
// returns false when admission was refused or the run has failed.
func (r *run) dispatch(ctx context.Context, c candidate) bool {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.p.locker.Unlock(c.work, c.rec)
		return false
	}

	r.c.inFlight.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.c.inFlight.Add(-1)
		defer r.sem.Release(1)
		r.execute(ctx, c)
	}()
	return !r.failed.Load()
}

func (r *run) sleep(ctx context.Context) {
	t := time.NewTimer(r.p.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// execute runs one locked candidate and releases its lock. An execution
// admitted after the run failed declines without running.
func (r *run) execute(ctx context.Context, c candidate) {
	defer r.release(c)

	if r.failed.Load() {
		r.p.metrics.observe(c.prod.ID(), OutcomeDeclined, 0)
		r.p.logger.Debug("execution declined",
			"producer", c.prod.ID(),
			"record", c.rec.Key(),
		)
		return
	}

	r.c.attempted.Add(1)
	r.p.metrics.addInFlight(1)
	defer r.p.metrics.addInFlight(-1)

	start := r.p.now()
	// Once started an execution runs to completion.
	v, err := r.invoke(context.WithoutCancel(ctx), c)
	elapsed := r.p.now().Sub(start)

	if v != nil {
		r.p.metrics.versionCommitted()
		r.p.logger.Debug("version committed",
			"version", v.Number,
			"producer", c.prod.ID(),
			"record", c.rec.Key(),
		)
	}
	if err != nil {
		e := newRecordError(c.prod, c.rec, err)
		r.fail(e)
		r.p.metrics.observe(c.prod.ID(), OutcomeFailure, elapsed)
		r.p.logger.Error("execution failed",
			"producer", c.prod.ID(),
			"label", c.prod.Label(),
			"record", c.rec.Key(),
			"kind", e.Kind,
			"error", err,
		)
		return
	}

	r.c.completed.Add(1)
	r.p.metrics.observe(c.prod.ID(), OutcomeSuccess, elapsed)
}

// invoke runs the hooks, then the producer's call inside a transaction.
// Panics become *PanicError; the transaction has already rolled back by
// the time the panic reaches here.
func (r *run) invoke(ctx context.Context, c candidate) (v *store.Version, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	step := Step{Record: c.rec, Label: c.prod.Label(), Producer: c.prod.ID()}
	for i, h := range r.p.hooks {
		if err := h(ctx, step); err != nil {
			return nil, fmt.Errorf("before hook %d: %w", i, err)
		}
	}

	return r.p.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		return c.prod.Call(ctx, tx, c.rec)
	})
}

func (r *run) result() *Result {
	r.mu.Lock()
	errs := slices.Clone(r.errs)
	r.mu.Unlock()

	if errs == nil {
		errs = []*Error{}
	}
	return &Result{
		Errors:    errs,
		Attempted: r.c.Attempted(),
		Completed: r.c.Completed(),
		Elapsed:   r.p.now().Sub(r.start),
	}
}
