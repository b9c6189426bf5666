package rockybind

// errors.go defines the error taxonomy of the database facade.
//
// Sentinels are compared with errors.Is. Failures that carry a path or an
// engine diagnostic are reported as *OpenError or *StorageError, which unwrap
// to the underlying cause.

import (
	"errors"
	"fmt"

	"github.com/aalhour/rockybind/internal/engine"
)

var (
	// ErrClosed is returned by every operation attempted after Close.
	ErrClosed = errors.New("db: database is closed")

	// ErrReadOnly is returned by mutations on a database opened read-only.
	ErrReadOnly = errors.New("db: database is opened in read-only mode")

	// ErrInvalidHandle is returned when a column family handle has been
	// dropped, belongs to another database, or is nil.
	ErrInvalidHandle = errors.New("db: invalid column family handle")

	// ErrColumnFamilyExists is returned when creating a column family whose
	// name is already registered.
	ErrColumnFamilyExists = errors.New("db: column family already exists")

	// ErrCannotDropDefaultCF is returned when dropping the default column family.
	ErrCannotDropDefaultCF = errors.New("db: cannot drop default column family")

	// ErrColumnFamilyNotFound is returned by GetColumnFamily for unknown names.
	ErrColumnFamilyNotFound = errors.New("db: column family not found")

	// ErrDBNotFound is returned by Open when nothing exists at the path and
	// creation is not allowed.
	ErrDBNotFound = errors.New("db: database does not exist")

	// ErrInvalidOptions is returned when options fail validation.
	ErrInvalidOptions = errors.New("db: invalid options")

	// ErrIteratorClosed is returned by positioning calls on a closed iterator.
	ErrIteratorClosed = errors.New("db: iterator is closed")

	// ErrCorruption is wrapped by storage errors caused by a checksum mismatch
	// or an undecodable stored value.
	ErrCorruption = engine.ErrCorruption

	// ErrMergeOperatorNotSet is wrapped by storage errors from Merge on a
	// column family configured without a merge operator.
	ErrMergeOperatorNotSet = engine.ErrMergeOperatorNotSet
)

// OpenError reports a failure to open or create a database.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("db: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// StorageError reports a failed engine operation. ColumnFamily is empty for
// operations that are not scoped to a column family.
type StorageError struct {
	Op           string
	Path         string
	ColumnFamily string
	Err          error
}

func (e *StorageError) Error() string {
	if e.ColumnFamily == "" {
		return fmt.Sprintf("db: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("db: %s %s [%s]: %v", e.Op, e.Path, e.ColumnFamily, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
