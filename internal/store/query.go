package store

import (
	"context"
	"fmt"

	"github.com/roach88/pentimento/internal/filter"
	"github.com/roach88/pentimento/internal/model"
)

// QueryRecords returns the current documents matching the predicate, in
// id order. A nil predicate matches everything.
//
// The predicate compiles to a parameterized WHERE fragment over
// json_extract, so filtering happens in SQLite rather than in a full
// table scan on this side. Every query orders by id for deterministic
// results.
func (c *Collection) QueryRecords(ctx context.Context, q DBTX, pred filter.Predicate) ([]model.Document, error) {
	where, params, err := filter.SQL(pred)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT doc FROM %q WHERE %s ORDER BY id ASC
	`, c.name, where), params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, mapSQLiteError(err))
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("query %s: %w", c.name, err)
		}
		doc, err := model.UnmarshalDoc(docJSON)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, mapSQLiteError(err))
	}
	return docs, nil
}
