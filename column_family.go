package rockybind

// column_family.go implements column family handles.
//
// A handle is a name plus a reference to the engine's column family. The
// database that created it is the only party that flips the reference, and it
// does so under its registry lock: to nil when the family is dropped or the
// database closes. A handle is valid exactly while the reference is non-nil.

import (
	"sync/atomic"

	"github.com/aalhour/rockybind/internal/engine"
)

// ColumnFamilyHandle identifies a column family of an open database.
//
// Handles stay allocated after their family is dropped or the database is
// closed; using them then fails with ErrInvalidHandle or ErrClosed.
type ColumnFamilyHandle struct {
	name   string
	native atomic.Pointer[engine.ColumnFamily]
	owner  *dbImpl
}

func newColumnFamilyHandle(owner *dbImpl, cf *engine.ColumnFamily) *ColumnFamilyHandle {
	h := &ColumnFamilyHandle{name: cf.Name(), owner: owner}
	h.native.Store(cf)
	return h
}

// Name returns the column family name.
func (h *ColumnFamilyHandle) Name() string {
	return h.name
}

// IsValid reports whether the handle still refers to a live column family.
func (h *ColumnFamilyHandle) IsValid() bool {
	return h != nil && h.native.Load() != nil
}

// invalidate clears the engine reference and returns the previous one.
// Callers hold the owner's registry lock.
func (h *ColumnFamilyHandle) invalidate() *engine.ColumnFamily {
	return h.native.Swap(nil)
}
