package engine

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/aalhour/rockybind/internal/logging"
)

// ColumnFamilyNames returns the names of the column families known to the
// open database, default first.
func (db *DB) ColumnFamilyNames() ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	meta, _, err := loadMetadata(db.ldb)
	if err != nil {
		return nil, err
	}
	return sortedNames(meta), nil
}

// CreateColumnFamily creates and persists a new column family.
func (db *DB) CreateColumnFamily(opts ColumnFamilyOptions, name string) (*ColumnFamily, error) {
	switch {
	case db.closed.Load():
		return nil, ErrClosed
	case db.cfg.ReadOnly:
		return nil, ErrReadOnly
	case name == "":
		return nil, fmt.Errorf("%w: empty column family name", ErrInvalidArgument)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	meta, _, err := loadMetadata(db.ldb)
	if err != nil {
		return nil, err
	}
	if _, ok := meta[name]; ok || name == DefaultColumnFamilyName {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyExists, name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	batch := new(leveldb.Batch)
	batch.Put(metaKey(name), encodeID(id))
	batch.Put(nextIDKey, encodeID(id+1))
	if err := db.ldb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return nil, fmt.Errorf("engine: create column family %q: %w", name, err)
	}
	db.nextID = id + 1

	cf := newColumnFamily(id, name, opts)
	db.families[name] = cf
	db.logger.Infof("%screated column family %q (id %d)", logging.NSEngine, name, id)
	return cf, nil
}

// DropColumnFamily removes a column family and its data. The handle stays
// allocated and must still be passed to DestroyColumnFamilyHandle.
func (db *DB) DropColumnFamily(cf *ColumnFamily) error {
	switch {
	case db.closed.Load():
		return ErrClosed
	case db.cfg.ReadOnly:
		return ErrReadOnly
	case cf == nil:
		return fmt.Errorf("%w: nil column family", ErrInvalidArgument)
	case cf.id == DefaultColumnFamilyID:
		return ErrCannotDropDefault
	case cf.destroyed.Load():
		return fmt.Errorf("%w: %q", ErrHandleDestroyed, cf.name)
	case cf.dropped.Load():
		return fmt.Errorf("%w: %q", ErrColumnFamilyDropped, cf.name)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.ldb.Delete(metaKey(cf.name), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("engine: drop column family %q: %w", cf.name, err)
	}
	cf.dropped.Store(true)

	db.mu.Lock()
	if db.families[cf.name] == cf {
		delete(db.families, cf.name)
	}
	db.mu.Unlock()

	// Leftover data is unreachable and is purged again at the next open.
	n, err := db.purgeRange(cf.id)
	if err != nil {
		db.logger.Warnf("%spurging data of dropped column family %q: %v", logging.NSEngine, cf.name, err)
	} else {
		db.logger.Infof("%sdropped column family %q (%d keys)", logging.NSEngine, cf.name, n)
	}
	return nil
}

// DestroyColumnFamilyHandle releases a handle. Destroying the default handle
// is a no-op; destroying any handle twice is an error.
func (db *DB) DestroyColumnFamilyHandle(cf *ColumnFamily) error {
	if cf == nil {
		return fmt.Errorf("%w: nil column family", ErrInvalidArgument)
	}
	if cf.id == DefaultColumnFamilyID {
		return nil
	}
	if !cf.destroyed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %q", ErrHandleDestroyed, cf.name)
	}
	return nil
}
