package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// startTimers launches one goroutine per timer and returns the function
// that stops and joins them. The stop function is safe to defer: it runs on
// success, failure and panic alike.
func (r *run) startTimers(ctx context.Context) (stop func()) {
	if len(r.p.timers) == 0 {
		return func() {}
	}

	tctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(tctx)
	for i, t := range r.p.timers {
		g.Go(func() error {
			r.runTimer(gctx, i, t)
			return nil
		})
	}
	return func() {
		cancel()
		_ = g.Wait()
	}
}

func (r *run) runTimer(ctx context.Context, i int, t Timer) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fireTimer(ctx, i, t)
		}
	}
}

// fireTimer calls t.Fn with fresh stats. Failures are logged as
// KindTimer and otherwise ignored.
func (r *run) fireTimer(ctx context.Context, i int, t Timer) {
	defer func() {
		if v := recover(); v != nil {
			r.p.logger.Warn("timer failed",
				"timer", i,
				"kind", KindTimer,
				"error", fmt.Sprintf("panic: %v", v),
			)
		}
	}()

	stats, err := r.stats(ctx)
	if err != nil {
		r.p.logger.Warn("timer stats unavailable", "timer", i, "error", err)
		return
	}
	if err := t.Fn(stats); err != nil {
		r.p.logger.Warn("timer failed",
			"timer", i,
			"kind", KindTimer,
			"error", err,
		)
	}
}

// stats counts matching, unlocked records across all producers.
func (r *run) stats(ctx context.Context) (Stats, error) {
	pending := 0
	for i, prod := range r.p.producers {
		recs, err := prod.Records(ctx, r.p.store)
		if err != nil {
			return Stats{}, fmt.Errorf("producer %s: %w", prod.ID(), err)
		}
		for _, rec := range recs {
			if !r.p.locker.Locked(r.p.works[i], rec) {
				pending++
			}
		}
	}
	r.p.metrics.setPending(pending)

	return Stats{
		Pending:   pending,
		Completed: r.c.Completed(),
		Elapsed:   r.p.now().Sub(r.start),
	}, nil
}
