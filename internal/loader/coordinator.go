package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/pentimento/internal/diff"
	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
)

// DefaultAsyncWorkers bounds the async write pool when no option says
// otherwise.
const DefaultAsyncWorkers = 4

// Coordinator dispatches batch writes against one collection. It owns the
// strategy dispatch, the delete-marker short circuit, the transaction
// discipline (a transaction exists only when history capture is
// requested), and the built-in history trigger.
//
// Coordinators are safe for concurrent use; parallelism is batch-level.
type Coordinator struct {
	col     *store.Collection
	mapping model.Mapping

	now          func() time.Time
	newBatchID   func() string
	newHistoryID func(t time.Time) string

	validator Validator
	invalid   InvalidDataHandler
	pre       PreWriteTrigger

	sem *semaphore.Weighted
	log *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMapping overrides the default field mapping.
func WithMapping(m model.Mapping) Option {
	return func(c *Coordinator) { c.mapping = m }
}

// WithClock injects the write timestamp source. Tests use this to make
// history timestamps deterministic.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithBatchIDs injects the batch identifier source. Tests use this to
// make batch ids deterministic.
func WithBatchIDs(next func() string) Option {
	return func(c *Coordinator) { c.newBatchID = next }
}

// WithHistoryIDs injects the history identifier source.
func WithHistoryIDs(next func(t time.Time) string) Option {
	return func(c *Coordinator) { c.newHistoryID = next }
}

// WithValidator installs a document validator, checked before every write.
func WithValidator(v Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithInvalidDataHandler installs the handler consulted for documents that
// fail validation.
func WithInvalidDataHandler(h InvalidDataHandler) Option {
	return func(c *Coordinator) { c.invalid = h }
}

// WithPreWriteTrigger installs the pre-write mutation hook.
func WithPreWriteTrigger(t PreWriteTrigger) Option {
	return func(c *Coordinator) { c.pre = t }
}

// WithAsyncWorkers bounds the async write pool.
func WithAsyncWorkers(n int64) Option {
	return func(c *Coordinator) { c.sem = semaphore.NewWeighted(n) }
}

// WithLogger sets the coordinator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New builds a coordinator for the given collection.
func New(col *store.Collection, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		col:        col,
		mapping:    model.DefaultMapping(),
		now:        time.Now,
		newBatchID: uuid.NewString,
		newHistoryID: func(t time.Time) string {
			return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
		},
		sem: semaphore.NewWeighted(DefaultAsyncWorkers),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.mapping.Validate(); err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return c, nil
}

// WriteMany writes a batch of documents under the given strategy.
//
// Documents carrying the delete marker are removed unconditionally,
// whatever the strategy. With UpdateWithHistory the whole batch - record
// writes, history append, and the optional post-write trigger - runs in
// one transaction: any error aborts everything and propagates, with no
// partial commit and no automatic retry. The other strategies are
// best-effort and record-independent; the first error stops the batch and
// returns alongside the counts accumulated so far.
func (c *Coordinator) WriteMany(ctx context.Context, docs []model.Document, strategy model.UpdateStrategy, post PostWriteTrigger) (*model.WriteResult, error) {
	batchID := c.newBatchID()
	now := c.now().UTC()
	result := &model.WriteResult{BatchID: batchID}

	accepted, err := c.screen(docs)
	if err != nil {
		return nil, err
	}

	if strategy == model.UpdateWithHistory {
		err := c.col.Store().WithTx(ctx, func(tx *sql.Tx) error {
			return c.writeAudited(ctx, tx, accepted, result, batchID, now, post)
		})
		if err != nil {
			return nil, fmt.Errorf("write batch %s: %w", batchID, err)
		}
		return result, nil
	}

	db := c.col.Store().DB()
	for _, doc := range accepted {
		if err := c.writeOne(ctx, db, doc, strategy, result, batchID, now); err != nil {
			return result, fmt.Errorf("write batch %s: %w", batchID, err)
		}
	}
	return result, nil
}

// screen normalizes, validates and pre-processes incoming documents.
// Invalid documents go through the invalid-data handler; without one they
// are discarded with a log line.
func (c *Coordinator) screen(docs []model.Document) ([]model.Document, error) {
	accepted := make([]model.Document, 0, len(docs))
	for _, raw := range docs {
		doc, err := model.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("screen document: %w", err)
		}

		var violations []model.Violation
		if _, err := c.mapping.ID(doc); err != nil {
			violations = append(violations, model.Violation{Path: c.mapping.IDField, Detail: err.Error()})
		}
		if c.validator != nil {
			violations = append(violations, c.validator.Check(doc)...)
		}

		if len(violations) > 0 {
			if c.invalid == nil || !c.invalid(doc, violations) {
				c.log.Warn("discarding invalid document",
					"collection", c.col.Name(),
					"violations", len(violations),
					"first", violations[0].String(),
				)
				continue
			}
			// Handler said proceed; an unusable id still cannot be
			// written.
			if _, err := c.mapping.ID(doc); err != nil {
				return nil, &model.ValidationError{Violations: violations}
			}
		}

		if c.pre != nil {
			c.pre(doc)
		}
		accepted = append(accepted, doc)
	}
	return accepted, nil
}

// writeAudited applies the whole batch inside tx, then runs the built-in
// history trigger and the caller's post-write trigger before commit.
func (c *Coordinator) writeAudited(ctx context.Context, tx *sql.Tx, docs []model.Document, result *model.WriteResult, batchID string, now time.Time, post PostWriteTrigger) error {
	// id → flattened final state of documents removed by this batch
	deleted := make(map[string]map[string]any)
	var updatedIDs []string

	for _, doc := range docs {
		id, err := c.mapping.ID(doc)
		if err != nil {
			return err
		}

		if c.mapping.Deleted(doc) {
			finalState, err := c.captureFinalState(ctx, tx, id)
			if err != nil {
				return err
			}
			removed, err := c.col.DeleteRecord(ctx, tx, id)
			if err != nil {
				return err
			}
			if removed {
				result.Deleted++
				deleted[id] = finalState
			}
			continue
		}

		stored, version, err := c.col.GetRecord(ctx, tx, id)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}

		plan, err := diff.Compute(stored, version, doc, c.mapping, batchID, now, true)
		if err != nil {
			return err
		}
		c.warnDepth(plan, id)

		switch {
		case plan.NoOp:
			// Nothing changed: skip the write entirely, which leaves the
			// previous audit snapshot untouched and keeps this record out
			// of the batch's history.
		case plan.IsInsert:
			if err := c.col.InsertRecord(ctx, tx, id, plan.Doc, plan.ToVersion); err != nil {
				return err
			}
			result.Inserted++
			result.InsertedIDs = append(result.InsertedIDs, id)
		default:
			if err := c.col.UpdateRecordVersioned(ctx, tx, id, plan.Doc, plan.FromVersion, plan.ToVersion); err != nil {
				return err
			}
			result.Updated++
			updatedIDs = append(updatedIDs, id)
		}
	}

	if err := c.appendBatchHistory(ctx, tx, result, updatedIDs, deleted, batchID, now); err != nil {
		return err
	}

	if post != nil {
		if err := post.PostWrite(ctx, tx, result, docs, batchID); err != nil {
			return fmt.Errorf("post-write trigger: %w", err)
		}
	}
	return nil
}

// captureFinalState reads and flattens a document's pre-delete state so
// the delete history entry can carry it. Missing documents return nil: a
// delete of something that never existed produces no history.
func (c *Coordinator) captureFinalState(ctx context.Context, tx *sql.Tx, id string) (map[string]any, error) {
	stored, _, err := c.col.GetRecord(ctx, tx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	flat, err := flattenState(model.StripAudit(stored))
	if err != nil {
		c.log.Warn("delete capture hit depth bound", "record", id, "err", err)
	}
	return flat, nil
}

// writeOne applies a single record under a non-transactional strategy.
func (c *Coordinator) writeOne(ctx context.Context, db store.DBTX, doc model.Document, strategy model.UpdateStrategy, result *model.WriteResult, batchID string, now time.Time) error {
	id, err := c.mapping.ID(doc)
	if err != nil {
		return err
	}

	// Delete markers short-circuit every strategy.
	if c.mapping.Deleted(doc) {
		removed, err := c.col.DeleteRecord(ctx, db, id)
		if err != nil {
			return err
		}
		if removed {
			result.Deleted++
		}
		return nil
	}

	switch strategy {
	case model.Insert:
		if err := c.col.InsertRecord(ctx, db, id, doc, 1); err != nil {
			return err
		}
		result.Inserted++
		result.InsertedIDs = append(result.InsertedIDs, id)
		return nil

	case model.Replace:
		_, _, err := c.col.GetRecord(ctx, db, id)
		existed := err == nil
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err := c.col.ReplaceRecord(ctx, db, id, model.StripAudit(doc)); err != nil {
			return err
		}
		if existed {
			result.Updated++
		} else {
			result.Inserted++
			result.InsertedIDs = append(result.InsertedIDs, id)
		}
		return nil

	case model.Update:
		// Unwind-and-set needs the stored state; each record gets its own
		// small transaction so the read-modify-write is atomic, but there
		// is no cross-record atomicity on this path.
		return c.col.Store().WithTx(ctx, func(tx *sql.Tx) error {
			stored, version, err := c.col.GetRecord(ctx, tx, id)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			plan, err := diff.Compute(stored, version, doc, c.mapping, batchID, now, false)
			if err != nil {
				return err
			}
			c.warnDepth(plan, id)
			switch {
			case plan.NoOp:
				return nil
			case plan.IsInsert:
				if err := c.col.InsertRecord(ctx, tx, id, plan.Doc, plan.ToVersion); err != nil {
					return err
				}
				result.Inserted++
				result.InsertedIDs = append(result.InsertedIDs, id)
			default:
				if err := c.col.UpdateRecordVersioned(ctx, tx, id, plan.Doc, plan.FromVersion, plan.ToVersion); err != nil {
					return err
				}
				result.Updated++
			}
			return nil
		})

	default:
		return fmt.Errorf("strategy %v not handled", strategy)
	}
}

func (c *Coordinator) warnDepth(plan *diff.UpdatePlan, id string) {
	if plan.Depth == nil {
		return
	}
	c.log.Warn("document nesting exceeds depth bound",
		"collection", c.col.Name(),
		"record", id,
		"path", plan.Depth.Path,
		"bound", plan.Depth.Depth,
	)
}
