// Package engine implements the cascade processor: a scheduling loop that
// re-runs producers' queries until no work is left.
//
// ARCHITECTURE:
//
// Producers pair a live query with a unit of work. The Processor scans all
// producers on every pass, locks each unlocked candidate in the Locker and
// executes it. An execution runs the before-work hooks, then the producer's
// Call inside a store transaction. Success commits a new store version;
// failure rolls back and records an Error. The lock is released either way.
//
// Because queries are re-evaluated every pass, work that creates or changes
// records reveals new work without restarting the run.
//
// Scheduling Policies:
//   - Synchronous: candidates run inline, one at a time. The first failure
//     ends the run.
//   - Concurrent(n): candidates run on goroutines admitted by a weighted
//     semaphore of size n. The loop sleeps for the poll interval between
//     passes. After the first failure nothing new is admitted and admitted
//     executions that have not started decline.
//
// Termination:
// A run ends when a pass schedules nothing while nothing was in flight, or
// when a failure has been recorded and in-flight executions have drained.
// Every error recorded by executions that were already running is kept.
//
// Timers run on their own goroutines for the lifetime of one run and are
// stopped when it ends. Their errors are logged and never fail the run.
package engine
