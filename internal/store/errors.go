package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/pentimento/internal/model"
)

// mapSQLiteError translates driver-level failures into the engine's error
// taxonomy so upper layers never import the driver:
//
//   - lock contention (SQLITE_BUSY / SQLITE_LOCKED) → ErrTransactionConflict;
//     the losing batch is rolled back and the caller decides about retries
//   - primary key / unique violations → ErrDuplicateKey
//   - connection-level failures → ErrStoreUnavailable
//
// Everything else passes through unchanged.
func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", model.ErrTransactionConflict, err)
		case sqlite3.ErrConstraint:
			switch serr.ExtendedCode {
			case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
				return fmt.Errorf("%w: %v", model.ErrDuplicateKey, err)
			}
			return err
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return err
}
