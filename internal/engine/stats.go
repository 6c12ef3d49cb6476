package engine

import (
	"sync/atomic"
	"time"
)

// Stats is the snapshot handed to timer callbacks.
type Stats struct {
	// Pending is the number of records that currently match a producer's
	// query and are not locked, summed over all producers.
	Pending int

	// Completed is the number of executions that finished without error.
	Completed int

	// Elapsed is the time since the run started.
	Elapsed time.Duration
}

// counters are the run-wide tallies mutated by concurrent executions.
//
// Thread-safety: counters is safe for concurrent use (atomic operations).
type counters struct {
	attempted atomic.Int64
	completed atomic.Int64
	inFlight  atomic.Int64
}

func (c *counters) Attempted() int { return int(c.attempted.Load()) }
func (c *counters) Completed() int { return int(c.completed.Load()) }
func (c *counters) InFlight() int  { return int(c.inFlight.Load()) }
