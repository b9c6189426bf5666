package rockybind

// iterator.go implements the public Iterator API.
//
// An iterator holds only a weak reference to its database. Every call first
// confirms the database is open and then uses the native cursor under the
// database's iterator lock, which Close takes before releasing cursors. A
// cursor is therefore never used after the engine has released it.

import (
	"runtime"
	"weak"

	"github.com/aalhour/rockybind/internal/engine"
)

// Iterator walks one column family in ascending key order.
//
// Iterators are not safe for concurrent use; each goroutine should use its
// own iterator. Calls made after the database is closed return ErrClosed. An
// iterator that becomes unreachable without Close is released when the
// garbage collector reclaims it.
//
// Example:
//
//	it, err := db.NewIterator(nil)
//	if err != nil {
//		return err
//	}
//	defer it.Close()
//	for err = it.SeekToFirst(); err == nil && it.Valid(); err = it.Next() {
//		k, _ := it.Key()
//		fmt.Printf("%s\n", k)
//	}
//	if err == nil {
//		err = it.CheckStatus()
//	}
type Iterator struct {
	state *iterState
}

// iterState is the part of an iterator registered with its database.
type iterState struct {
	db     weak.Pointer[dbImpl]
	native *engine.Iterator // nil once released; guarded by the db's iterMu
	cf     string
}

// close deregisters and releases the cursor unless Close already did.
func (st *iterState) close() {
	d := st.db.Value()
	if d == nil {
		return
	}
	d.iterMu.Lock()
	defer d.iterMu.Unlock()
	if _, ok := d.iters[st]; !ok {
		return
	}
	delete(d.iters, st)
	st.native.Release()
	st.native = nil
	d.metrics.IteratorsClosed(1)
}

// with runs fn on the native cursor while the database is known to be open.
func (it *Iterator) with(fn func(n *engine.Iterator)) error {
	defer runtime.KeepAlive(it)
	st := it.state
	d := st.db.Value()
	if d == nil {
		return ErrClosed
	}
	d.iterMu.RLock()
	defer d.iterMu.RUnlock()
	if d.closed.Load() {
		return ErrClosed
	}
	if st.native == nil {
		return ErrIteratorClosed
	}
	fn(st.native)
	return nil
}

// Valid reports whether the iterator is positioned at an entry. It returns
// false once the iterator or its database is closed.
func (it *Iterator) Valid() bool {
	valid := false
	_ = it.with(func(n *engine.Iterator) { valid = n.Valid() })
	return valid
}

// SeekToFirst positions the iterator at the first key.
func (it *Iterator) SeekToFirst() error {
	return it.with(func(n *engine.Iterator) { n.SeekToFirst() })
}

// SeekToLast positions the iterator at the last key.
func (it *Iterator) SeekToLast() error {
	return it.with(func(n *engine.Iterator) { n.SeekToLast() })
}

// Seek positions the iterator at the first key at or after target.
func (it *Iterator) Seek(target []byte) error {
	return it.with(func(n *engine.Iterator) { n.Seek(target) })
}

// Next moves to the next key. It does nothing when the iterator is not valid.
func (it *Iterator) Next() error {
	return it.with(func(n *engine.Iterator) { n.Next() })
}

// Prev moves to the previous key. It does nothing when the iterator is not
// valid.
func (it *Iterator) Prev() error {
	return it.with(func(n *engine.Iterator) { n.Prev() })
}

// Key returns a copy of the current key, or nil when the iterator is not
// positioned at an entry.
func (it *Iterator) Key() ([]byte, error) {
	var key []byte
	err := it.with(func(n *engine.Iterator) {
		if n.Valid() {
			key = append([]byte{}, n.Key()...)
		}
	})
	return key, err
}

// Value returns a copy of the current value, or nil when the iterator is not
// positioned at an entry.
func (it *Iterator) Value() ([]byte, error) {
	var value []byte
	err := it.with(func(n *engine.Iterator) {
		if n.Valid() {
			value = append([]byte{}, n.Value()...)
		}
	})
	return value, err
}

// CheckStatus returns a StorageError for any error the iterator encountered,
// such as a checksum mismatch. Check it after a scan loop ends.
func (it *Iterator) CheckStatus() error {
	var status error
	err := it.with(func(n *engine.Iterator) { status = n.Error() })
	if err != nil {
		return err
	}
	if status != nil {
		d := it.state.db.Value()
		path := ""
		if d != nil {
			path = d.path
		}
		return &StorageError{Op: "iterate", Path: path, ColumnFamily: it.state.cf, Err: status}
	}
	return nil
}

// Close releases the iterator. It is safe to call more than once and after
// the database has been closed.
func (it *Iterator) Close() error {
	defer runtime.KeepAlive(it)
	it.state.close()
	return nil
}
