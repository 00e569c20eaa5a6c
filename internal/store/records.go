package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pentimento/internal/model"
)

// GetRecord fetches one document and its version. Returns ErrNotFound for
// a missing id. Run against the batch transaction, this read is what takes
// the place of a server-evaluated conditional update: the diff is computed
// against it and written back before the transaction commits, so no other
// writer can slip in between.
func (c *Collection) GetRecord(ctx context.Context, q DBTX, id string) (model.Document, int64, error) {
	var (
		docJSON string
		version int64
	)
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT doc, version FROM %q WHERE id = ?
	`, c.name), id).Scan(&docJSON, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get record %s: %w", id, mapSQLiteError(err))
	}

	doc, err := model.UnmarshalDoc(docJSON)
	if err != nil {
		return nil, 0, fmt.Errorf("get record %s: %w", id, err)
	}
	return doc, version, nil
}

// InsertRecord creates a new document. A duplicate id surfaces as
// ErrDuplicateKey, never as a silent upsert.
func (c *Collection) InsertRecord(ctx context.Context, q DBTX, id string, doc model.Document, version int64) error {
	docJSON, err := model.MarshalDoc(doc)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", id, err)
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, version, doc) VALUES (?, ?, ?)
	`, c.name), id, version, docJSON)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", id, mapSQLiteError(err))
	}
	return nil
}

// UpdateRecordVersioned replaces a document's body only if its version is
// still fromVersion. Zero rows affected means another batch won the race;
// that surfaces as ErrTransactionConflict and aborts the caller's batch.
func (c *Collection) UpdateRecordVersioned(ctx context.Context, q DBTX, id string, doc model.Document, fromVersion, toVersion int64) error {
	docJSON, err := model.MarshalDoc(doc)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %q SET doc = ?, version = ? WHERE id = ? AND version = ?
	`, c.name), docJSON, toVersion, id, fromVersion)
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, mapSQLiteError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("update record %s: version moved from %d: %w", id, fromVersion, model.ErrTransactionConflict)
	}
	return nil
}

// ReplaceRecord overwrites the whole document or inserts it, resetting the
// version counter to 1 either way.
func (c *Collection) ReplaceRecord(ctx context.Context, q DBTX, id string, doc model.Document) error {
	docJSON, err := model.MarshalDoc(doc)
	if err != nil {
		return fmt.Errorf("replace record %s: %w", id, err)
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, version, doc) VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, version = 1
	`, c.name), id, docJSON)
	if err != nil {
		return fmt.Errorf("replace record %s: %w", id, mapSQLiteError(err))
	}
	return nil
}

// DeleteRecord removes a document. Returns whether a row was deleted.
func (c *Collection) DeleteRecord(ctx context.Context, q DBTX, id string) (bool, error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %q WHERE id = ?
	`, c.name), id)
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, mapSQLiteError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record %s: rows affected: %w", id, err)
	}
	return affected > 0, nil
}

// ModifiedRecord is one document picked up by FindModifiedByBatch.
type ModifiedRecord struct {
	ID  string
	Doc model.Document
}

// FindModifiedByBatch fetches the documents among ids whose audit scratch
// field carries the given batch id - exactly the documents this batch
// actually changed. Documents whose write was a no-op kept their previous
// audit payload and are filtered out by the json_extract predicate, which
// is what keeps "nothing changed" writes out of history.
func (c *Collection) FindModifiedByBatch(ctx context.Context, q DBTX, ids []string, batchID string) ([]ModifiedRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	placeholders := ""
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, batchID)

	auditPath := "$." + model.FieldPreviousValues + "." + model.FieldUpdateID
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, doc FROM %q
		WHERE id IN (%s) AND json_extract(doc, '%s') = ?
		ORDER BY id ASC
	`, c.name, placeholders, auditPath), args...)
	if err != nil {
		return nil, fmt.Errorf("find modified by batch: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	var modified []ModifiedRecord
	for rows.Next() {
		var (
			id      string
			docJSON string
		)
		if err := rows.Scan(&id, &docJSON); err != nil {
			return nil, fmt.Errorf("scan modified record: %w", err)
		}
		doc, err := model.UnmarshalDoc(docJSON)
		if err != nil {
			return nil, fmt.Errorf("modified record %s: %w", id, err)
		}
		modified = append(modified, ModifiedRecord{ID: id, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modified records: %w", err)
	}
	return modified, nil
}

// ScanRecords streams every document in the collection, id order, calling
// fn for each. fn returning an error stops the scan and propagates.
func (c *Collection) ScanRecords(ctx context.Context, q DBTX, fn func(id string, doc model.Document) error) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, doc FROM %q ORDER BY id ASC
	`, c.name))
	if err != nil {
		return fmt.Errorf("scan records: %w", mapSQLiteError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      string
			docJSON string
		)
		if err := rows.Scan(&id, &docJSON); err != nil {
			return fmt.Errorf("scan record row: %w", err)
		}
		doc, err := model.UnmarshalDoc(docJSON)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}
