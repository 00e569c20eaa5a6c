// Package loader coordinates batch writes against a collection.
//
// A batch is a list of documents plus an update strategy. The coordinator
// screens each document (normalization, optional validation, the pre-write
// trigger), short-circuits delete markers, and dispatches the rest:
//
//   - insert: raw inserts, duplicates surface as errors
//   - update: unwind-and-set per record, no audit
//   - replace: whole-document overwrite, version reset, no audit
//   - update-with-history: diff-and-capture, one transaction for the
//     whole batch including its history entries and the post-write trigger
//
// Only the last strategy is transactional. On any error inside an audited
// batch the transaction aborts and the error propagates - never a partial
// commit, never a silent retry. Concurrent batches that touch the same
// record resolve by optimistic version check: the loser's whole batch
// rolls back with a conflict error and retrying is the caller's call.
//
// Each invocation mints one batch id that correlates every history entry
// the call produces; post-write triggers query history by that id to see
// exactly what their batch changed before it commits.
package loader
