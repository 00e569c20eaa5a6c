package model

import "fmt"

// UpdateStrategy selects how a batch write treats existing documents.
//
// Only UpdateWithHistory is transactional across the batch; the other
// strategies are best-effort and record-independent.
type UpdateStrategy int

const (
	// Insert writes new documents only. A duplicate identifier surfaces
	// as ErrDuplicateKey instead of being silently upserted.
	Insert UpdateStrategy = iota

	// Update unwinds the incoming document into leaf paths and sets each
	// one, upserting if the document is missing. No audit is captured
	// beyond refreshing the correlation metadata.
	Update

	// Replace overwrites the whole document (or inserts it), resetting
	// the version counter to 1. No audit is captured.
	Replace

	// UpdateWithHistory diffs the incoming document against stored state,
	// captures the changed leaf paths with their prior values, and writes
	// the whole batch plus its history entries in one transaction.
	UpdateWithHistory
)

var strategyNames = map[UpdateStrategy]string{
	Insert:            "insert",
	Update:            "update",
	Replace:           "replace",
	UpdateWithHistory: "update-with-history",
}

// String returns the CLI-facing name of the strategy.
func (s UpdateStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UpdateStrategy(%d)", int(s))
}

// ParseStrategy converts a CLI-facing name back to a strategy.
func ParseStrategy(name string) (UpdateStrategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown update strategy %q", name)
}

// WriteResult reports the outcome of one batch write.
type WriteResult struct {
	// BatchID is the correlation id minted for this call. Every history
	// entry produced by the call carries it.
	BatchID string

	Inserted int64
	Updated  int64
	Deleted  int64

	// InsertedIDs lists the identifiers of freshly created documents,
	// in batch order. Post-write hooks use this the way the original
	// upsert list is used: to tell creations apart from modifications
	// without another read.
	InsertedIDs []string
}
