// Package harness provides conformance testing for the write and
// reconstruction pipeline.
//
// The harness loads a scenario, replays its write steps through a real
// coordinator against a fresh in-memory database, then reconstructs
// documents at the probed cutoffs and validates expectations.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	collection: readings
//	schema: |
//	  temp: number
//	steps:
//	  - strategy: update-with-history
//	    docs:
//	      - { _id: r1, temp: 20 }
//	probes:
//	  - record: r1
//	    after_step: 1
//	    expect: { temp: 20 }
//
// Each step is one write batch; the deterministic clock advances one
// second per batch, so "after_step: N" probes the state as of the Nth
// batch's timestamp. A probe with "missing: true" asserts the record did
// not exist at that cutoff.
//
// # Deterministic Testing
//
// All scenarios execute with a stepping clock and sequence-generated
// batch and history ids, so the same scenario always produces a
// byte-identical result snapshot for golden file comparison.
package harness
