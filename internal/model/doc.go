// Package model defines the shared vocabulary of the change-tracking engine:
// schemaless documents, the field mapping that locates a document's identity
// and delete marker, update strategies, change deltas, and the error taxonomy
// every layer reports through.
//
// Documents are plain map[string]any values in JSON-native form. Anything a
// caller hands to the write path is normalized through encoding/json first
// (see Normalize) so that diffing always compares database-native values,
// never Go-typed ones. An int64 field and the float64 it becomes after a
// storage round trip must compare equal, and normalization is what makes
// that hold.
//
// The reserved audit scratch field:
//
//	{
//	  "__previousValues": {
//	    "__updateId":       "<batch id>",
//	    "__lastUpdateDate": "<RFC 3339>",
//	    "<leaf.path>":      <previous value>,
//	    ...
//	  }
//	}
//
// lives inside each stored document and holds the most recent write's delta.
// It is replaced on every audited write and stripped from anything returned
// to a reader. The field names are part of the persisted layout and must not
// change.
package model
