// Package harness runs YAML scenarios against a real processor.
//
// Each scenario declares its record types, the records to seed, a pipeline of
// rules and a policy. The harness opens a fresh in-memory store, seeds it in
// one transaction, runs the pipeline to quiescence and then evaluates the
// scenario's assertions against the final state.
//
// # Scenario Format
//
//	name: spawn_then_process
//	description: "One main record fans out into five children"
//	policy: concurrent
//	concurrency: 3
//	types:
//	  main:
//	    started: {type: bool, default: false}
//	  record_1:
//	    record_id: int
//	    processed: {type: bool, default: false}
//	seed:
//	  - type: main
//	pipeline:
//	  - label: spawn
//	    type: main
//	    where: {started: false}
//	    set: {started: true}
//	    create: [{type: record_1, count: 5, index: record_id}]
//	assertions:
//	  - type: success
//	  - type: count
//	    record: record_1
//	    where: {processed: true}
//	    count: 5
//
// # Assertion Types
//
//   - success: the run finished without errors
//   - error_count: the run recorded exactly count errors
//   - error: some recorded error has the given kind, label and message
//   - count: exactly count records of a type match where
//   - final_state: every record of a type matching where carries expect
//   - version_count: the store head is exactly count
//
// # Deterministic Testing
//
// Record ids come from a sequence generator (r-1, r-2, ...) so synchronous
// scenarios produce the same versions on every run. RunWithGolden compares
// the rendered outcome with testdata/golden/<name>.golden.
package harness
