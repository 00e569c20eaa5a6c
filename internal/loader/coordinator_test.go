package loader

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
	"github.com/roach88/pentimento/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollection(t *testing.T) *store.Collection {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "loader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	col, err := st.Collection(context.Background(), "sensors")
	require.NoError(t, err)
	return col
}

func newTestCoordinator(t *testing.T, col *store.Collection, opts ...Option) *Coordinator {
	t.Helper()
	clock := testutil.NewDefaultClock()
	histories := testutil.NewSequenceIDs("h")
	base := []Option{
		WithClock(clock.Now),
		WithBatchIDs(testutil.NewSequenceIDs("batch").Next),
		WithHistoryIDs(func(time.Time) string { return histories.Next() }),
		WithLogger(discardLogger()),
	}
	coord, err := New(col, append(base, opts...)...)
	require.NoError(t, err)
	return coord
}

func TestInsertStrategy(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	res, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 20},
		{"_id": "b", "temp": 21},
	}, model.Insert, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)
	assert.ElementsMatch(t, []string{"a", "b"}, res.InsertedIDs)

	doc, version, err := col.GetRecord(ctx, col.Store().DB(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 20.0, doc["temp"])
}

func TestInsertStrategyRejectsDuplicates(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.Insert, nil)
	require.NoError(t, err)

	_, err = coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 2}}, model.Insert, nil)
	assert.ErrorIs(t, err, model.ErrDuplicateKey)

	// Original document untouched.
	doc, _, err := col.GetRecord(ctx, col.Store().DB(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc["v"])
}

func TestUpdateWithHistoryLifecycle(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	res, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 20, "site": model.Document{"name": "roof"}},
	}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)

	res, err = coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 25},
	}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)

	doc, version, err := col.GetRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 25.0, doc["temp"])
	assert.Equal(t, "roof", doc["site"].(model.Document)["name"])

	// Audit snapshot carries the batch id and the previous leaf value.
	audit := model.Audit(doc)
	require.NotNil(t, audit)
	assert.Equal(t, res.BatchID, audit[model.FieldUpdateID])
	assert.Equal(t, 20.0, audit["temp"])

	deltas, err := col.HistoryForRecord(ctx, db, "a")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, model.OpInsert, deltas[0].Operation)
	assert.Empty(t, deltas[0].Changes)
	assert.Equal(t, model.OpUpdate, deltas[1].Operation)
	assert.Equal(t, map[string]any{"temp": 20.0}, deltas[1].Changes)
}

func TestUpdateWithHistoryNoOp(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	doc := model.Document{"_id": "a", "temp": 20}
	res1, err := coord.WriteMany(ctx, []model.Document{doc}, model.UpdateWithHistory, nil)
	require.NoError(t, err)

	res2, err := coord.WriteMany(ctx, []model.Document{model.Clone(doc)}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	assert.Zero(t, res2.Inserted)
	assert.Zero(t, res2.Updated)

	// Version and audit snapshot belong to the first batch still.
	stored, version, err := col.GetRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, res1.BatchID, model.Audit(stored)[model.FieldUpdateID])

	// And the second batch left no history.
	deltas, err := col.HistoryByBatch(ctx, db, []string{"a"}, res2.BatchID)
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestDeleteMarkerShortCircuitsEveryStrategy(t *testing.T) {
	for _, strategy := range []model.UpdateStrategy{
		model.Insert, model.Update, model.Replace, model.UpdateWithHistory,
	} {
		t.Run(strategy.String(), func(t *testing.T) {
			col := newTestCollection(t)
			coord := newTestCoordinator(t, col)
			ctx := context.Background()

			_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.Insert, nil)
			require.NoError(t, err)

			res, err := coord.WriteMany(ctx, []model.Document{
				{"_id": "a", "__deleted": true},
			}, strategy, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.Deleted)

			_, _, err = col.GetRecord(ctx, col.Store().DB(), "a")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestDeleteWithHistoryCapturesFinalState(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	_, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 20, "site": model.Document{"name": "roof"}},
	}, model.UpdateWithHistory, nil)
	require.NoError(t, err)

	res, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "__deleted": true},
	}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)

	deltas, err := col.HistoryForRecord(ctx, db, "a")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	last := deltas[1]
	assert.Equal(t, model.OpDelete, last.Operation)
	assert.Equal(t, 20.0, last.Changes["temp"])
	assert.Equal(t, "roof", last.Changes["site.name"])
}

func TestDeleteOfMissingRecordIsQuiet(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	res, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "ghost", "__deleted": true},
	}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	deltas, err := col.HistoryForRecord(ctx, col.Store().DB(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestReplaceStrategy(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	_, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "keep": "no", "temp": 20},
	}, model.Insert, nil)
	require.NoError(t, err)

	res, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 30},
	}, model.Replace, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)

	doc, version, err := col.GetRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 30.0, doc["temp"])
	assert.NotContains(t, doc, "keep")

	// Replacing a missing record inserts it.
	res, err = coord.WriteMany(ctx, []model.Document{
		{"_id": "b", "temp": 5},
	}, model.Replace, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
}

func TestUpdateStrategyMergesWithoutHistory(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	_, err := coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 20, "unit": "C"},
	}, model.Update, nil)
	require.NoError(t, err)

	_, err = coord.WriteMany(ctx, []model.Document{
		{"_id": "a", "temp": 25},
	}, model.Update, nil)
	require.NoError(t, err)

	doc, version, err := col.GetRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 25.0, doc["temp"])
	assert.Equal(t, "C", doc["unit"])

	// Blind updates refresh only the audit metadata, no previous values.
	audit := model.Audit(doc)
	require.NotNil(t, audit)
	assert.Len(t, audit, 2)
	assert.Contains(t, audit, model.FieldUpdateID)
	assert.Contains(t, audit, model.FieldLastUpdate)

	deltas, err := col.HistoryForRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestPostWriteTriggerSeesBatchDeltas(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	var seen []model.ChangeDelta
	post := PostWriteFunc(func(ctx context.Context, tx *sql.Tx, result *model.WriteResult, docs []model.Document, batchID string) error {
		deltas, err := col.HistoryByBatch(ctx, tx, []string{"a"}, batchID)
		if err != nil {
			return err
		}
		seen = deltas
		return nil
	})

	_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.UpdateWithHistory, post)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, model.OpInsert, seen[0].Operation)
}

func TestPostWriteTriggerErrorAbortsBatch(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	boom := errors.New("downstream refused")
	post := PostWriteFunc(func(context.Context, *sql.Tx, *model.WriteResult, []model.Document, string) error {
		return boom
	})

	_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.UpdateWithHistory, post)
	assert.ErrorIs(t, err, boom)

	// Neither the record nor any history entry survived the abort.
	_, _, err = col.GetRecord(ctx, db, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)
	deltas, err := col.HistoryForRecord(ctx, db, "a")
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestBatchCorrelation(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()
	db := col.Store().DB()

	res1, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	res2, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 2}}, model.UpdateWithHistory, nil)
	require.NoError(t, err)
	require.NotEqual(t, res1.BatchID, res2.BatchID)

	d1, err := col.HistoryByBatch(ctx, db, []string{"a"}, res1.BatchID)
	require.NoError(t, err)
	d2, err := col.HistoryByBatch(ctx, db, []string{"a"}, res2.BatchID)
	require.NoError(t, err)
	require.Len(t, d1, 1)
	require.Len(t, d2, 1)
	assert.NotEqual(t, d1[0].HistoryID, d2[0].HistoryID)
	assert.Equal(t, model.OpInsert, d1[0].Operation)
	assert.Equal(t, model.OpUpdate, d2[0].Operation)
}

func TestDocumentsMissingIDAreDiscarded(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	res, err := coord.WriteMany(ctx, []model.Document{
		{"temp": 20},
		{"_id": "b", "temp": 21},
	}, model.Insert, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, []string{"b"}, res.InsertedIDs)
}

type rejectAll struct{ detail string }

func (r rejectAll) Check(model.Document) []model.Violation {
	return []model.Violation{{Path: "temp", Detail: r.detail}}
}

func TestInvalidDataHandlerDecides(t *testing.T) {
	ctx := context.Background()

	t.Run("discard", func(t *testing.T) {
		col := newTestCollection(t)
		coord := newTestCoordinator(t, col,
			WithValidator(rejectAll{"out of range"}),
			WithInvalidDataHandler(func(model.Document, []model.Violation) bool { return false }),
		)
		res, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "temp": 999}}, model.Insert, nil)
		require.NoError(t, err)
		assert.Zero(t, res.Inserted)
	})

	t.Run("proceed", func(t *testing.T) {
		col := newTestCollection(t)
		var got []model.Violation
		coord := newTestCoordinator(t, col,
			WithValidator(rejectAll{"out of range"}),
			WithInvalidDataHandler(func(_ model.Document, v []model.Violation) bool {
				got = v
				return true
			}),
		)
		res, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "temp": 999}}, model.Insert, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Inserted)
		require.Len(t, got, 1)
		assert.Equal(t, "temp", got[0].Path)
	})
}

func TestPreWriteTriggerMutates(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col, WithPreWriteTrigger(func(doc model.Document) {
		doc["stamped"] = true
	}))
	ctx := context.Background()

	_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.Insert, nil)
	require.NoError(t, err)

	doc, _, err := col.GetRecord(ctx, col.Store().DB(), "a")
	require.NoError(t, err)
	assert.Equal(t, true, doc["stamped"])
}

func TestAsyncWriteMany(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col, WithAsyncWorkers(2))
	ctx := context.Background()

	var futures []*Future
	for i := 0; i < 5; i++ {
		futures = append(futures, coord.AsyncWriteMany(ctx, []model.Document{
			{"_id": string(rune('a' + i)), "n": i},
		}, model.Insert, nil))
	}

	var inserted int64
	for _, f := range futures {
		res, err := f.Wait(ctx)
		require.NoError(t, err)
		inserted += res.Inserted
	}
	assert.Equal(t, int64(5), inserted)
}

func TestAsyncWriteManyFailedFuture(t *testing.T) {
	col := newTestCollection(t)
	coord := newTestCoordinator(t, col)
	ctx := context.Background()

	_, err := coord.WriteMany(ctx, []model.Document{{"_id": "a", "v": 1}}, model.Insert, nil)
	require.NoError(t, err)

	f := coord.AsyncWriteMany(ctx, []model.Document{{"_id": "a", "v": 2}}, model.Insert, nil)
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, model.ErrDuplicateKey)
}
