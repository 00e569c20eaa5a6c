package loader

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/roach88/pentimento/internal/flatten"
	"github.com/roach88/pentimento/internal/model"
)

// appendBatchHistory is the built-in post-write trigger: it turns the
// batch's outcome into immutable change deltas and appends them inside the
// batch transaction.
//
//   - Fresh inserts produce an insert entry with correlation metadata only.
//   - Modified documents are read back by batch id: only documents whose
//     audit scratch field carries this batch's id were actually changed,
//     so no-op writes never reach history. The audit payload minus its
//     correlation keys is exactly the changed-path/previous-value map.
//   - Deletes carry the full flattened pre-delete state, so the document
//     stays reconstructable after it is gone.
func (c *Coordinator) appendBatchHistory(ctx context.Context, tx *sql.Tx, result *model.WriteResult, updatedIDs []string, deleted map[string]map[string]any, batchID string, now time.Time) error {
	var deltas []model.ChangeDelta

	for _, id := range result.InsertedIDs {
		deltas = append(deltas, model.ChangeDelta{
			HistoryID: c.newHistoryID(now),
			RecordID:  id,
			BatchID:   batchID,
			Timestamp: now,
			Operation: model.OpInsert,
			Changes:   map[string]any{},
		})
	}

	modified, err := c.col.FindModifiedByBatch(ctx, tx, updatedIDs, batchID)
	if err != nil {
		return err
	}
	for _, mod := range modified {
		audit := model.Audit(mod.Doc)
		changes := make(map[string]any, len(audit))
		for path, prev := range audit {
			if path == model.FieldUpdateID || path == model.FieldLastUpdate {
				continue
			}
			changes[path] = prev
		}
		deltas = append(deltas, model.ChangeDelta{
			HistoryID: c.newHistoryID(now),
			RecordID:  mod.ID,
			BatchID:   batchID,
			Timestamp: now,
			Operation: model.OpUpdate,
			Changes:   changes,
		})
	}

	// Map iteration order is random; keep delete entries deterministic.
	deletedIDs := make([]string, 0, len(deleted))
	for id := range deleted {
		deletedIDs = append(deletedIDs, id)
	}
	sort.Strings(deletedIDs)
	for _, id := range deletedIDs {
		deltas = append(deltas, model.ChangeDelta{
			HistoryID: c.newHistoryID(now),
			RecordID:  id,
			BatchID:   batchID,
			Timestamp: now,
			Operation: model.OpDelete,
			Changes:   deleted[id],
		})
	}

	return c.col.AppendHistory(ctx, tx, deltas)
}

// flattenState flattens a document for a delete history entry, tolerating
// the depth bound: the flat map is still returned alongside the warning.
func flattenState(doc model.Document) (map[string]any, error) {
	flat, err := flatten.Flatten(doc)
	var de *flatten.DepthError
	if err != nil && !errors.As(err, &de) {
		return nil, err
	}
	return flat, err
}
