// Package timeline reconstructs document state as of an arbitrary past
// moment by replaying change history backward over current state.
//
// The engine only ever reads: current documents from the record table,
// deltas from the history table. Walking newest-first, each delta's
// changed paths are folded over the flattened state - a delta's previous
// values describe the state just before its write, so after folding every
// delta newer than the cutoff, the flat map holds the state exactly as it
// was after the last write at or before the cutoff. Insert entries mark
// the moment a document came into existence (walking past one means the
// document did not exist yet); delete entries carry the full final state,
// which is what makes deleted documents reconstructable at all.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/pentimento/internal/flatten"
	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
)

// Engine answers point-in-time queries for one collection.
type Engine struct {
	col     *store.Collection
	mapping model.Mapping
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMapping overrides the default field mapping.
func WithMapping(m model.Mapping) Option {
	return func(e *Engine) { e.mapping = m }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New builds a reconstruction engine for the given collection.
func New(col *store.Collection, opts ...Option) (*Engine, error) {
	e := &Engine{
		col:     col,
		mapping: model.DefaultMapping(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.mapping.Validate(); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return e, nil
}

// AsOf returns the document's state as of the cutoff.
//
// Returns ErrNotFound when the document did not exist then: never created,
// created only after the cutoff, or deleted at or before it. A cutoff at
// or after the latest write degenerates to the current document with zero
// deltas folded.
func (e *Engine) AsOf(ctx context.Context, id string, cutoff time.Time) (model.Document, error) {
	current, _, err := e.col.GetRecord(ctx, e.col.Store().DB(), id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("as of: %w", err)
	}

	deltas, err := e.col.HistoryAfter(ctx, e.col.Store().DB(), id, cutoff)
	if err != nil {
		return nil, fmt.Errorf("as of: %w", err)
	}

	if current == nil && len(deltas) == 0 {
		return nil, fmt.Errorf("record %s at %s: %w", id, cutoff.Format(time.RFC3339), model.ErrNotFound)
	}
	if len(deltas) == 0 {
		return model.StripAudit(current), nil
	}

	state, exists, err := fold(current, deltas)
	if err != nil {
		return nil, fmt.Errorf("as of %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("record %s at %s: %w", id, cutoff.Format(time.RFC3339), model.ErrNotFound)
	}

	doc, err := flatten.Rebuild(state)
	var de *flatten.DepthError
	if err != nil && !errors.As(err, &de) {
		return nil, fmt.Errorf("as of %s: rebuild: %w", id, err)
	}
	if de != nil {
		e.log.Warn("reconstruction hit depth bound", "record", id, "path", de.Path)
	}
	return model.StripAudit(doc), nil
}

// AsOfMatch reconstructs every document that existed at the cutoff and
// satisfies pred. Candidates are the union of live documents and those
// with a delete entry after the cutoff - a document deleted yesterday
// still existed last week.
//
// The scan honors ctx: on deadline expiry it returns the context error and
// no results, never a partial set.
func (e *Engine) AsOfMatch(ctx context.Context, pred func(model.Document) bool, cutoff time.Time) ([]model.Document, error) {
	db := e.col.Store().DB()

	ids := make(map[string]struct{})
	err := e.col.ScanRecords(ctx, db, func(id string, _ model.Document) error {
		ids[id] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("as of match: %w", err)
	}

	deletedIDs, err := e.col.DeletedRecordIDsAfter(ctx, db, cutoff)
	if err != nil {
		return nil, fmt.Errorf("as of match: %w", err)
	}
	for _, id := range deletedIDs {
		ids[id] = struct{}{}
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	var out []model.Document
	for _, id := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("as of match: %w", err)
		}
		doc, err := e.AsOf(ctx, id, cutoff)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(doc) {
			out = append(out, doc)
		}
	}
	if out == nil {
		out = []model.Document{}
	}
	return out, nil
}

// History returns a record's full change history, oldest first. Exposed
// for inspection tooling; reconstruction itself uses the newest-first
// cutoff query.
func (e *Engine) History(ctx context.Context, id string) ([]model.ChangeDelta, error) {
	return e.col.HistoryForRecord(ctx, e.col.Store().DB(), id)
}

// fold replays deltas (newest first) over the current document and reports
// whether the document existed once all of them are unwound.
//
// Walking backward from now: an update overwrites its changed paths with
// their previous values - deltas closer to the cutoff are folded later, so
// the values that stand at the end are from the oldest folded delta, which
// is the write closest to the cutoff. A delete entry replaces the whole
// state with its captured final snapshot (fields born after a later
// re-creation must vanish). An insert entry clears existence: just before
// it, there was no document.
func fold(current model.Document, deltas []model.ChangeDelta) (map[string]any, bool, error) {
	var (
		state  map[string]any
		exists bool
	)
	if current != nil {
		flat, err := flattenTolerant(model.StripAudit(current))
		if err != nil {
			return nil, false, err
		}
		state = flat
		exists = true
	} else {
		state = make(map[string]any)
	}

	for _, d := range deltas {
		switch d.Operation {
		case model.OpInsert:
			state = make(map[string]any)
			exists = false
		case model.OpDelete:
			state = make(map[string]any, len(d.Changes))
			for path, v := range d.Changes {
				state[path] = v
			}
			exists = true
		case model.OpUpdate:
			if !exists {
				// An update older than the insert that created the
				// current incarnation belongs to an earlier one whose
				// delete snapshot was not replayed yet; without that
				// snapshot there is nothing to apply it to.
				continue
			}
			for path, prev := range d.Changes {
				if prev == nil {
					// A nil previous value marks a field that did not
					// exist before this write. Unsetting it restores
					// absence rather than an explicit null.
					delete(state, path)
					continue
				}
				state[path] = prev
			}
		default:
			return nil, false, fmt.Errorf("history entry %s: unknown op %q", d.HistoryID, d.Operation)
		}
	}
	return state, exists, nil
}

func flattenTolerant(doc model.Document) (map[string]any, error) {
	flat, err := flatten.Flatten(doc)
	var de *flatten.DepthError
	if err != nil && !errors.As(err, &de) {
		return nil, err
	}
	return flat, nil
}
