// Package store provides SQLite-backed durable storage for documents and
// their append-only change history.
//
// Each collection owns two tables:
//   - "<name>": one row per document (id, version, doc JSON). The doc
//     column carries the full document including the reserved audit
//     scratch field; the version column backs the optimistic-concurrency
//     check on audited updates.
//   - "<name>_history": immutable change deltas (history_id, record_id,
//     batch_id, ts, op, changes JSON). Strictly append/query - no update
//     or delete statements exist for it.
//
// # Transaction discipline
//
// Collection methods take a DBTX so the same operation runs standalone or
// inside a batch transaction. The coordinator opens one transaction per
// audited batch via Store.WithTx; every record mutation and the history
// append for that batch share it, so the audit trail and the writes it
// describes commit or vanish together.
//
// SQLite cannot evaluate a conditional diff-and-set pipeline server-side,
// so the diff runs client-side between GetRecord and UpdateRecordVersioned
// inside that same transaction, with the version column as the optimistic
// check. Lock contention and lost version races both surface as the
// transaction-conflict sentinel; the whole batch rolls back and retrying is
// left to the caller.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
