package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the write and read paths. Layers wrap these with
// context; callers match with errors.Is.
var (
	// ErrDuplicateKey reports an Insert-strategy write that collided with
	// an existing identifier.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound reports a document that does not exist, either now or
	// as of the requested cutoff.
	ErrNotFound = errors.New("not found")

	// ErrTransactionConflict reports a transactional batch that lost a
	// write conflict. The whole batch was rolled back; retrying is the
	// caller's decision, never the engine's.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrStoreUnavailable reports a transport-level store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Violation is one validation finding for a document field.
type Violation struct {
	Path   string
	Detail string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Detail
	}
	return v.Path + ": " + v.Detail
}

// ValidationError reports a document that failed validation. By default the
// coordinator's invalid-data handler discards such documents with a log
// line; the error type only reaches callers that install a handler which
// rejects the batch.
type ValidationError struct {
	RecordID   string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	if e.RecordID != "" {
		return fmt.Sprintf("invalid document %s: %s", e.RecordID, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("invalid document: %s", strings.Join(parts, "; "))
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
