package model

import "fmt"

// The record interfaces let typed structs participate in batch writes
// without any runtime field scanning. A type states where its identity,
// version and delete marker live by implementing these; the conversion to a
// schemaless document happens once, in FromRecord.

// Identifiable is implemented by typed records that know their unique id.
type Identifiable interface {
	DocumentID() any
}

// VersionTagged is implemented by typed records carrying a version counter.
// The stored counter always wins; the value here only names intent.
type VersionTagged interface {
	DocumentVersion() int64
}

// Deletable is implemented by typed records that can request their own
// removal.
type Deletable interface {
	PendingDeletion() bool
}

// FromRecord converts a typed record into a normalized document under the
// given mapping. The record's JSON form is taken as-is, then the interface
// values are written into the mapped fields so the engine never has to look
// at the concrete type again.
func FromRecord(rec Identifiable, m Mapping) (Document, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	doc, err := Normalize(rec)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	id, err := KeyString(rec.DocumentID())
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	doc[m.IDField] = id
	if d, ok := rec.(Deletable); ok && m.DeleteField != "" && d.PendingDeletion() {
		doc[m.DeleteField] = true
	}
	return doc, nil
}
