package model

import "time"

// OpType classifies a change delta.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether the op type is one of the three known values.
func (o OpType) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeDelta is one immutable history entry: what changed for one document
// at one point in time, correlated to the batch that wrote it.
//
// Changes is keyed by dotted leaf path. Its meaning depends on Operation:
//
//   - OpInsert: empty. The entry only records that the document came into
//     existence; correlation metadata lives in the other fields.
//   - OpUpdate: previous values of exactly the leaf paths that changed.
//     A path whose value is nil was absent before the write.
//   - OpDelete: the complete final state of the document, flattened, so a
//     deleted document remains reconstructable.
type ChangeDelta struct {
	HistoryID string         `json:"historyId"`
	RecordID  string         `json:"recordId"`
	BatchID   string         `json:"batchId"`
	Timestamp time.Time      `json:"timestamp"`
	Operation OpType         `json:"operationType"`
	Changes   map[string]any `json:"changes"`
}
