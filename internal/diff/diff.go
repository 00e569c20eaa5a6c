// Package diff computes what a write actually changes at the leaf-field
// level, without the caller ever having read the document first.
//
// The engine is pure: it takes the stored document (fetched by the
// coordinator inside the batch transaction), the incoming document, and
// correlation metadata, and produces an UpdatePlan describing the new
// document body, the audit scratch payload, and the changed leaf paths
// with their previous values. Executing the plan is the coordinator's job;
// nothing here touches the database. Any fault bubbles up and fails the
// surrounding write - the engine never recovers on its own.
package diff

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/pentimento/internal/flatten"
	"github.com/roach88/pentimento/internal/model"
)

// UpdatePlan is the outcome of diffing one incoming document against its
// stored state.
type UpdatePlan struct {
	// ID is the document's canonical key.
	ID string

	// IsInsert is true when no stored document existed: the write creates
	// the document and its audit payload records correlation metadata
	// only, no previous-value list.
	IsInsert bool

	// NoOp is true when every incoming leaf equals its stored value. The
	// coordinator skips the write entirely, which is what restores the
	// audit payload to its pre-update snapshot: the stored document, with
	// its previous audit intact, simply stays.
	NoOp bool

	// Doc is the full new document body, audit scratch field included.
	// Meaningless when NoOp.
	Doc model.Document

	// Changed maps each changed leaf path to its previous stored value.
	// A previously absent field maps to explicit nil. Empty for inserts
	// and no-ops.
	Changed map[string]any

	// FromVersion is the stored version the plan was computed against;
	// the conditional update uses it as the optimistic check. Zero for
	// inserts.
	FromVersion int64

	// ToVersion is the version the write establishes: 1 for inserts,
	// FromVersion+1 for changed updates.
	ToVersion int64

	// Depth carries a depth-bound warning from flattening, if any.
	// Warning-grade: the plan is still valid for the processed levels.
	Depth *flatten.DepthError
}

// Compute diffs an incoming document against stored state and plans the
// write.
//
// stored is nil for a fresh insert. incoming must already be normalized to
// JSON-native form and carry the mapped id field. withAudit selects whether
// changed paths and previous values are captured into the audit payload
// (the update-with-history strategy) or only correlation metadata is
// refreshed (the plain update strategy).
//
// The incoming document is treated as a partial update: leaf paths it does
// not mention keep their stored values. The reserved whole-replace form
// ({ROOT: doc}) overrides that and diffs against the complete new body.
func Compute(stored model.Document, storedVersion int64, incoming model.Document, m model.Mapping, batchID string, now time.Time, withAudit bool) (*UpdatePlan, error) {
	id, err := m.ID(incoming)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	incomingFields := scrubEngineFields(incoming, m)
	var depthWarn *flatten.DepthError

	// Whole-replace form: the single ROOT entry's value is the complete
	// new body, so the partial-update semantics are switched off. Detected
	// before flattening; Flatten would otherwise descend into the ROOT
	// value and hide the marker behind dotted paths.
	body, wholeReplace := flatten.IsWholeReplace(incomingFields)
	if wholeReplace {
		incomingFields = scrubEngineFields(body, m)
	}

	incomingFlat, err := flatten.Flatten(incomingFields)
	if err != nil && !errors.As(err, &depthWarn) {
		return nil, fmt.Errorf("diff %s: %w", id, err)
	}

	if stored == nil {
		return insertPlan(id, incomingFlat, m, batchID, now, depthWarn)
	}

	storedFields := scrubEngineFields(model.StripAudit(stored), m)
	storedFlat, err := flatten.Flatten(storedFields)
	if err != nil && !errors.As(err, &depthWarn) {
		return nil, fmt.Errorf("diff %s stored state: %w", id, err)
	}

	// For every incoming leaf: changed = stored != incoming. The previous
	// value of a path that did not exist before is recorded as explicit
	// null, matching the persisted audit layout.
	changed := make(map[string]any)
	for path, newVal := range incomingFlat {
		oldVal, exists := storedFlat[path]
		if exists && leafEqual(oldVal, newVal) {
			continue
		}
		if !exists {
			changed[path] = nil
		} else {
			changed[path] = oldVal
		}
	}

	// A replacement also removes every stored leaf it does not restate;
	// those previous values must be captured or reconstruction could not
	// bring them back.
	if wholeReplace {
		for path, oldVal := range storedFlat {
			if _, ok := incomingFlat[path]; !ok {
				changed[path] = oldVal
			}
		}
	}

	if len(changed) == 0 {
		return &UpdatePlan{
			ID:          id,
			NoOp:        true,
			FromVersion: storedVersion,
			ToVersion:   storedVersion,
			Depth:       depthWarn,
		}, nil
	}

	// Set every incoming leaf onto the stored state; untouched paths
	// survive. A whole replace keeps nothing stored.
	merged := incomingFlat
	if !wholeReplace {
		merged = make(map[string]any, len(storedFlat)+len(incomingFlat))
		for path, v := range storedFlat {
			merged[path] = v
		}
		for path, v := range incomingFlat {
			merged[path] = v
		}
	}

	doc, err := flatten.Rebuild(merged)
	if err != nil && !errors.As(err, &depthWarn) {
		return nil, fmt.Errorf("diff %s rebuild: %w", id, err)
	}
	doc[m.IDField] = id

	audit := model.Document{
		model.FieldUpdateID:   batchID,
		model.FieldLastUpdate: now.UTC().Format(time.RFC3339Nano),
	}
	if withAudit {
		for path, prev := range changed {
			audit[path] = prev
		}
	}
	doc[model.FieldPreviousValues] = audit

	return &UpdatePlan{
		ID:          id,
		Doc:         doc,
		Changed:     changed,
		FromVersion: storedVersion,
		ToVersion:   storedVersion + 1,
		Depth:       depthWarn,
	}, nil
}

// insertPlan builds the plan for a document that does not exist yet. The
// audit payload records only correlation metadata - there are no previous
// values for a document that was just born.
func insertPlan(id string, incomingFlat map[string]any, m model.Mapping, batchID string, now time.Time, depthWarn *flatten.DepthError) (*UpdatePlan, error) {
	doc, err := flatten.Rebuild(incomingFlat)
	if err != nil && !errors.As(err, &depthWarn) {
		return nil, fmt.Errorf("diff %s rebuild: %w", id, err)
	}
	doc[m.IDField] = id
	doc[model.FieldPreviousValues] = model.Document{
		model.FieldUpdateID:   batchID,
		model.FieldLastUpdate: now.UTC().Format(time.RFC3339Nano),
	}

	return &UpdatePlan{
		ID:        id,
		IsInsert:  true,
		Doc:       doc,
		Changed:   map[string]any{},
		ToVersion: 1,
		Depth:     depthWarn,
	}, nil
}

// scrubEngineFields strips the id, version, delete-marker and audit fields
// from a document before flattening. They are engine-managed and must not
// participate in the diff.
func scrubEngineFields(doc model.Document, m model.Mapping) model.Document {
	out := make(model.Document, len(doc))
	for k, v := range doc {
		switch k {
		case m.IDField, model.FieldPreviousValues:
			continue
		}
		if m.VersionField != "" && k == m.VersionField {
			continue
		}
		if m.DeleteField != "" && k == m.DeleteField {
			continue
		}
		out[k] = v
	}
	return out
}

// leafEqual compares two JSON-native leaf values. Arrays compare
// atomically, whole value against whole value.
func leafEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
