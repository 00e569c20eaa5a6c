package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates deterministic identifiers for tests.
//
// Production code mints UUID batch ids and ULID history ids; neither is
// reproducible across runs, which breaks golden snapshot comparison. A
// SequenceIDs with prefix "batch" yields "batch-0001", "batch-0002" and
// so on, so the same scenario always writes the same ids.
//
// Thread-safety: Next is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequenceIDs creates a generator with the given prefix. An empty
// prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Next returns the next identifier in the sequence, starting at
// "<prefix>-0001".
func (g *SequenceIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset rewinds the sequence so the next call returns "<prefix>-0001".
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
