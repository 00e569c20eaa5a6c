package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Reserved field names inside stored documents. These are part of the
// persisted layout; renaming them breaks every existing database.
const (
	// FieldPreviousValues is the audit scratch field written by audited
	// updates. It holds the most recent batch's changed leaf paths and
	// their prior values.
	FieldPreviousValues = "__previousValues"

	// FieldUpdateID is the batch correlation id key inside the audit
	// scratch field.
	FieldUpdateID = "__updateId"

	// FieldLastUpdate is the write timestamp key inside the audit scratch
	// field, stored as an RFC 3339 string.
	FieldLastUpdate = "__lastUpdateDate"
)

// Document is an arbitrary nested key/value record in JSON-native form.
type Document = map[string]any

// Mapping statically declares which fields of a document carry engine
// semantics. There is no runtime annotation scanning: callers state the
// mapping once when they construct a coordinator or reconstruction engine.
type Mapping struct {
	// IDField names the unique identifier field. Required.
	IDField string

	// VersionField, when non-empty, names a field surfaced to readers
	// holding the document's monotonically increasing version counter.
	// The counter itself is store-managed; incoming values are ignored.
	VersionField string

	// DeleteField, when non-empty, names the caller-visible delete marker.
	// A document whose DeleteField is true is removed rather than written.
	DeleteField string
}

// DefaultMapping is the mapping used when a caller does not supply one.
func DefaultMapping() Mapping {
	return Mapping{IDField: "_id", DeleteField: "__deleted"}
}

// Validate checks the mapping is usable.
func (m Mapping) Validate() error {
	if m.IDField == "" {
		return fmt.Errorf("mapping: id field must be set")
	}
	if m.IDField == FieldPreviousValues || m.VersionField == FieldPreviousValues || m.DeleteField == FieldPreviousValues {
		return fmt.Errorf("mapping: %s is reserved", FieldPreviousValues)
	}
	return nil
}

// ID extracts the document's identifier as its canonical key string.
func (m Mapping) ID(doc Document) (string, error) {
	raw, ok := doc[m.IDField]
	if !ok {
		return "", fmt.Errorf("document has no %q field", m.IDField)
	}
	key, err := KeyString(raw)
	if err != nil {
		return "", fmt.Errorf("document %q field: %w", m.IDField, err)
	}
	return key, nil
}

// Deleted reports whether the document carries a truthy delete marker.
func (m Mapping) Deleted(doc Document) bool {
	if m.DeleteField == "" {
		return false
	}
	v, ok := doc[m.DeleteField]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// KeyString converts a JSON-native identifier value to the canonical string
// used as the storage key. Strings pass through; numbers are rendered
// without a trailing ".0" so that 42 and 42.0 collide as intended.
func KeyString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("empty identifier")
		}
		// NFC-normalize so visually identical identifiers in different
		// Unicode compositions address the same record.
		return norm.NFC.String(id), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case json.Number:
		return id.String(), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", fmt.Errorf("unsupported identifier type %T", v)
	}
}

// Normalize round-trips a value through encoding/json so that all numbers,
// times and nested structures take their database-native form. Every
// document must pass through here before it reaches the diff engine.
func Normalize(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return doc, nil
}

// Clone deep-copies a document via a JSON round trip.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out, err := Normalize(doc)
	if err != nil {
		// A document that came out of Normalize always marshals.
		panic(fmt.Sprintf("model: clone of normalized document failed: %v", err))
	}
	return out
}

// StripAudit returns the document without its audit scratch field.
// The input is not modified.
func StripAudit(doc Document) Document {
	if doc == nil {
		return nil
	}
	if _, ok := doc[FieldPreviousValues]; !ok {
		return doc
	}
	out := make(Document, len(doc)-1)
	for k, v := range doc {
		if k == FieldPreviousValues {
			continue
		}
		out[k] = v
	}
	return out
}

// Audit extracts the audit scratch payload from a stored document, or nil
// if the document has never been through an audited write.
func Audit(doc Document) Document {
	raw, ok := doc[FieldPreviousValues]
	if !ok {
		return nil
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return payload
}

// MarshalDoc serializes a document to the JSON text stored in the doc
// column. HTML escaping is disabled so stored text matches its input.
func MarshalDoc(doc Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

// UnmarshalDoc parses stored JSON text back into a document.
func UnmarshalDoc(data string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
