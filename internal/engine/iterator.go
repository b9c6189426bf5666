package engine

import (
	"bytes"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// Iterator walks one column family in key order. It is not safe for
// concurrent use and must be released before the database is closed.
type Iterator struct {
	db     *DB
	cf     *ColumnFamily
	it     iterator.Iterator
	verify bool

	key   []byte
	value []byte
	valid bool
	err   error

	released bool
}

// NewIterator returns an unpositioned iterator over cf.
func (db *DB) NewIterator(ro *ReadOptions, cf *ColumnFamily) (*Iterator, error) {
	cf, err := db.resolve(cf)
	if err != nil {
		return nil, err
	}

	r := idRange(cf.id)
	if ro != nil {
		if ro.LowerBound != nil {
			r.Start = dataKey(cf, ro.LowerBound)
		}
		if ro.UpperBound != nil {
			r.Limit = dataKey(cf, ro.UpperBound)
		}
	}

	db.liveIters.Add(1)
	return &Iterator{
		db:     db,
		cf:     cf,
		it:     db.ldb.NewIterator(r, ro.level()),
		verify: ro.verify(),
	}, nil
}

// settle loads the current entry after a positioning call. A decode error
// stays recorded across Next and Prev; the seek methods clear it.
func (it *Iterator) settle(ok bool) {
	it.valid = false
	it.key, it.value = nil, nil
	if !ok || it.err != nil {
		return
	}
	k := it.it.Key()
	if !bytes.HasPrefix(k, it.cf.prefix) {
		return
	}
	v, err := decodeValue(it.it.Value(), it.verify)
	if err != nil {
		it.err = fmt.Errorf("column family %q key %q: %w", it.cf.name, k[len(it.cf.prefix):], err)
		return
	}
	it.key = append([]byte(nil), k[len(it.cf.prefix):]...)
	it.value = v
	it.valid = true
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return !it.released && it.valid }

// SeekToFirst positions at the first key.
func (it *Iterator) SeekToFirst() {
	if it.released {
		return
	}
	it.err = nil
	it.settle(it.it.First())
}

// SeekToLast positions at the last key.
func (it *Iterator) SeekToLast() {
	if it.released {
		return
	}
	it.err = nil
	it.settle(it.it.Last())
}

// Seek positions at the first key at or after target.
func (it *Iterator) Seek(target []byte) {
	if it.released {
		return
	}
	it.err = nil
	it.settle(it.it.Seek(dataKey(it.cf, target)))
}

// Next advances to the next key. It is a no-op when not valid.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.settle(it.it.Next())
}

// Prev moves to the previous key. It is a no-op when not valid.
func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	it.settle(it.it.Prev())
}

// Key returns the current key, or nil when not valid. The slice stays
// unchanged after the iterator moves.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.key
}

// Value returns the current value, or nil when not valid.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.value
}

// Error returns the first error the iterator encountered.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.released {
		return nil
	}
	return it.it.Error()
}

// Release frees the native cursor. It is safe to call more than once.
func (it *Iterator) Release() {
	if it.released {
		return
	}
	it.released = true
	it.valid = false
	it.it.Release()
	it.db.liveIters.Add(-1)
}
