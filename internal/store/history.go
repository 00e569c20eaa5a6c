package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/pentimento/internal/model"
)

// AppendHistory writes a set of change deltas as one multi-row insert.
// Called inside the originating batch transaction so the audit trail and
// the writes it describes commit or vanish together. History rows are
// immutable once written; nothing in this package updates or deletes them.
func (c *Collection) AppendHistory(ctx context.Context, q DBTX, deltas []model.ChangeDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(deltas)*6)
	)
	fmt.Fprintf(&sb, `INSERT INTO %q (history_id, record_id, batch_id, ts, op, changes) VALUES `, c.HistoryTable())
	for i, d := range deltas {
		if !d.Operation.Valid() {
			return fmt.Errorf("append history: invalid op %q for record %s", d.Operation, d.RecordID)
		}
		changes := d.Changes
		if changes == nil {
			changes = map[string]any{}
		}
		changesJSON, err := json.Marshal(changes)
		if err != nil {
			return fmt.Errorf("append history: marshal changes for %s: %w", d.RecordID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, d.HistoryID, d.RecordID, d.BatchID, d.Timestamp.UnixNano(), string(d.Operation), string(changesJSON))
	}

	if _, err := q.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("append history: %w", mapSQLiteError(err))
	}
	return nil
}

// HistoryByBatch returns the deltas written for the given records by one
// batch, record id then timestamp order. Post-write hooks use this to see
// exactly what their own batch produced, before it commits.
func (c *Collection) HistoryByBatch(ctx context.Context, q DBTX, recordIDs []string, batchID string) ([]model.ChangeDelta, error) {
	if len(recordIDs) == 0 {
		return []model.ChangeDelta{}, nil
	}

	args := make([]any, 0, len(recordIDs)+1)
	args = append(args, batchID)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordIDs)), ", ")
	for _, id := range recordIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT history_id, record_id, batch_id, ts, op, changes
		FROM %q
		WHERE batch_id = ? AND record_id IN (%s)
		ORDER BY record_id ASC, ts ASC, history_id ASC
	`, c.HistoryTable(), placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("history by batch: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	return scanDeltas(rows)
}

// HistoryAfter returns every delta for one record with timestamp strictly
// after the cutoff, newest first - the exact shape the reconstruction fold
// consumes. ULID history ids break timestamp ties in write order.
func (c *Collection) HistoryAfter(ctx context.Context, q DBTX, recordID string, cutoff time.Time) ([]model.ChangeDelta, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT history_id, record_id, batch_id, ts, op, changes
		FROM %q
		WHERE record_id = ? AND ts > ?
		ORDER BY ts DESC, history_id DESC
	`, c.HistoryTable()), recordID, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("history after: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	return scanDeltas(rows)
}

// HistoryForRecord returns a record's full history, oldest first.
func (c *Collection) HistoryForRecord(ctx context.Context, q DBTX, recordID string) ([]model.ChangeDelta, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT history_id, record_id, batch_id, ts, op, changes
		FROM %q
		WHERE record_id = ?
		ORDER BY ts ASC, history_id ASC
	`, c.HistoryTable()), recordID)
	if err != nil {
		return nil, fmt.Errorf("history for record: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	return scanDeltas(rows)
}

// DeletedRecordIDsAfter returns the ids of records with a delete entry
// newer than the cutoff. Point-in-time collection queries union these with
// the live ids: a record deleted after the cutoff still existed then and
// must be reconstructable.
func (c *Collection) DeletedRecordIDsAfter(ctx context.Context, q DBTX, cutoff time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT record_id
		FROM %q
		WHERE op = 'delete' AND ts > ?
		ORDER BY record_id ASC
	`, c.HistoryTable()), cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("deleted record ids: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted record ids: %w", err)
	}
	return ids, nil
}

// rowScanner matches *sql.Rows for delta scanning.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDeltas(rows rowScanner) ([]model.ChangeDelta, error) {
	var deltas []model.ChangeDelta
	for rows.Next() {
		var (
			d           model.ChangeDelta
			ts          int64
			op          string
			changesJSON string
		)
		if err := rows.Scan(&d.HistoryID, &d.RecordID, &d.BatchID, &ts, &op, &changesJSON); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		d.Timestamp = time.Unix(0, ts).UTC()
		d.Operation = model.OpType(op)
		if err := json.Unmarshal([]byte(changesJSON), &d.Changes); err != nil {
			return nil, fmt.Errorf("history entry %s: unmarshal changes: %w", d.HistoryID, err)
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	if deltas == nil {
		deltas = []model.ChangeDelta{}
	}
	return deltas, nil
}
