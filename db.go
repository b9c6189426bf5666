package rockybind

// db.go implements the database facade.
//
// The facade owns the engine, the registry of column family handles and the
// registry of live iterators, and it alone decides whether the engine is
// alive. Every operation checks, in order: closed, read-only (for
// mutations), handle validity. Only then does it call the engine, holding the
// read side of mu so that Close waits for in-flight calls.
//
// Close tears resources down in a fixed order: iterators, then column family
// handles, then the engine.

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/aalhour/rockybind/internal/engine"
	"github.com/aalhour/rockybind/internal/logging"
	"github.com/aalhour/rockybind/internal/metrics"
)

// engineDB is the engine surface the facade consumes.
type engineDB interface {
	Put(wo *engine.WriteOptions, cf *engine.ColumnFamily, key, value []byte) error
	Get(ro *engine.ReadOptions, cf *engine.ColumnFamily, key []byte) ([]byte, error)
	Delete(wo *engine.WriteOptions, cf *engine.ColumnFamily, key []byte) error
	Merge(wo *engine.WriteOptions, cf *engine.ColumnFamily, key, operand []byte) error
	Write(wo *engine.WriteOptions, b *engine.Batch) error
	NewIterator(ro *engine.ReadOptions, cf *engine.ColumnFamily) (*engine.Iterator, error)
	CreateColumnFamily(opts engine.ColumnFamilyOptions, name string) (*engine.ColumnFamily, error)
	DropColumnFamily(cf *engine.ColumnFamily) error
	DestroyColumnFamilyHandle(cf *engine.ColumnFamily) error
	Close() error
}

var _ engineDB = (*engine.DB)(nil)

// DB is an open database.
//
// A DB is safe for concurrent use by multiple goroutines. A DB that becomes
// unreachable without Close is closed when the garbage collector reclaims it.
type DB struct {
	impl *dbImpl
}

type dbImpl struct {
	path      string
	readOnly  bool
	opts      *Options
	logger    Logger
	metrics   *metrics.Collector
	sessionID string

	closed atomic.Bool

	// mu guards engine, cfs, fatal and every handle validity flip.
	mu        sync.RWMutex
	engine    engineDB // nil once closed
	cfs       map[string]*ColumnFamilyHandle
	defaultCF *ColumnFamilyHandle
	fatal     error

	// iterMu guards iters and every use of a native cursor.
	iterMu sync.RWMutex
	iters  map[*iterState]struct{}

	readOpts  atomic.Pointer[ReadOptions]
	writeOpts atomic.Pointer[WriteOptions]
}

// Open opens the database at path, creating it if options allow. Every
// column family persisted at path is opened. A nil options value means
// DefaultOptions with CreateIfMissing set.
func Open(path string, options *Options) (*DB, error) {
	return open(path, options, false)
}

// OpenForReadOnly opens an existing database without allowing mutations.
func OpenForReadOnly(path string, options *Options) (*DB, error) {
	return open(path, options, true)
}

// WithDB opens the database at path, calls fn and closes the database when fn
// returns. The error of fn takes precedence over the error of Close.
func WithDB(path string, options *Options, fn func(*DB) error) (err error) {
	db, err := Open(path, options)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(db)
}

func open(path string, options *Options, readOnly bool) (*DB, error) {
	var opts *Options
	if options == nil {
		opts = DefaultOptions()
		opts.CreateIfMissing = true
	} else {
		opts = options.clone()
	}
	if err := opts.Validate(); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	logger := logging.OrDefault(opts.Logger)
	cfg := opts.toEngineConfig(readOnly, logger)

	names, err := discoverColumnFamilies(path, opts, cfg, readOnly)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	descs := make([]engine.ColumnFamilyDescriptor, 0, len(names))
	for _, name := range names {
		cfOpts := opts.columnFamilyOptions(name)
		descs = append(descs, engine.ColumnFamilyDescriptor{Name: name, Options: cfOpts.toEngine()})
	}
	eng, natives, err := engine.Open(path, cfg, descs)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	d := &dbImpl{
		path:      path,
		readOnly:  readOnly,
		opts:      opts,
		logger:    logger,
		sessionID: uuid.NewString(),
		engine:    eng,
		cfs:       make(map[string]*ColumnFamilyHandle, len(natives)),
		iters:     make(map[*iterState]struct{}),
	}
	for _, cf := range natives {
		h := newColumnFamilyHandle(d, cf)
		d.cfs[h.name] = h
	}
	d.defaultCF = d.cfs[DefaultColumnFamilyName]
	d.readOpts.Store(DefaultReadOptions())
	d.writeOpts.Store(DefaultWriteOptions())

	d.metrics, err = metrics.New(opts.Registerer, path, d.sessionID)
	if err != nil {
		_ = eng.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("register metrics: %w", err)}
	}
	d.metrics.SetColumnFamilies(len(d.cfs))

	if !readOnly {
		if err := WriteOptionsFile(path, opts); err != nil {
			logger.Warnf("%sfailed to write options file for %s: %v", logging.NSOptions, path, err)
		}
	}

	db := &DB{impl: d}
	runtime.AddCleanup(db, func(d *dbImpl) {
		if !d.closed.Load() {
			d.logger.Warnf("%s%s was not closed before being reclaimed", logging.NSDB, d.path)
			_ = d.close()
		}
	}, d)

	logger.Infof("%sopened %s (session %s, %d column families, read_only=%t)",
		logging.NSDB, path, d.sessionID, len(d.cfs), readOnly)
	return db, nil
}

// discoverColumnFamilies decides which column families Open passes to the
// engine, using the engine's own listing as the only source of truth.
func discoverColumnFamilies(path string, opts *Options, cfg engine.Config, readOnly bool) ([]string, error) {
	names, err := engine.ListColumnFamilies(path, cfg)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		if !opts.CreateIfMissing || readOnly {
			return nil, fmt.Errorf("%w: %v", ErrDBNotFound, err)
		}
		names = []string{DefaultColumnFamilyName}
	case err != nil:
		return nil, err
	}

	if opts.CreateMissingColumnFamilies && !readOnly {
		for _, name := range slices.Sorted(maps.Keys(opts.ColumnFamilies)) {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// checkOpen applies the closed and read-only checks that precede every
// operation.
func (d *dbImpl) checkOpen(mutation bool) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if mutation && d.readOnly {
		return ErrReadOnly
	}
	return nil
}

// acquire runs the liveness checks and returns with mu read-locked.
func (d *dbImpl) acquire(mutation bool) error {
	if err := d.checkOpen(mutation); err != nil {
		return err
	}
	d.mu.RLock()
	if err := d.lockedCheck(mutation); err != nil {
		d.mu.RUnlock()
		return err
	}
	return nil
}

// acquireExclusive is acquire with mu write-locked.
func (d *dbImpl) acquireExclusive(mutation bool) error {
	if err := d.checkOpen(mutation); err != nil {
		return err
	}
	d.mu.Lock()
	if err := d.lockedCheck(mutation); err != nil {
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *dbImpl) lockedCheck(mutation bool) error {
	if d.engine == nil {
		return ErrClosed
	}
	if mutation && d.fatal != nil {
		return &StorageError{Op: "write", Path: d.path, Err: d.fatal}
	}
	return nil
}

// native resolves a handle to its engine column family. Callers hold mu.
func (d *dbImpl) native(h *ColumnFamilyHandle) (*engine.ColumnFamily, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil handle", ErrInvalidHandle)
	}
	if h.owner != d {
		return nil, fmt.Errorf("%w: %q belongs to another database", ErrInvalidHandle, h.name)
	}
	cf := h.native.Load()
	if cf == nil {
		return nil, fmt.Errorf("%w: %q has been dropped", ErrInvalidHandle, h.name)
	}
	return cf, nil
}

// storageErr translates an engine failure into the facade taxonomy.
func (d *dbImpl) storageErr(op, cf string, err error) error {
	switch {
	case errors.Is(err, engine.ErrClosed):
		return ErrClosed
	case errors.Is(err, engine.ErrReadOnly):
		return ErrReadOnly
	case errors.Is(err, engine.ErrColumnFamilyDropped), errors.Is(err, engine.ErrHandleDestroyed):
		return fmt.Errorf("%w: %q", ErrInvalidHandle, cf)
	case errors.Is(err, engine.ErrColumnFamilyExists):
		return fmt.Errorf("%w: %q", ErrColumnFamilyExists, cf)
	}
	return &StorageError{Op: op, Path: d.path, ColumnFamily: cf, Err: err}
}

func (d *dbImpl) readOptions(ro *ReadOptions) *engine.ReadOptions {
	if ro == nil {
		ro = d.readOpts.Load()
	}
	return ro.toEngine()
}

func (d *dbImpl) writeOptions(wo *WriteOptions) *engine.WriteOptions {
	if wo == nil {
		wo = d.writeOpts.Load()
	}
	return wo.toEngine()
}

func (d *dbImpl) put(wo *WriteOptions, h *ColumnFamilyHandle, key, value []byte) (err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("put", start, false, err) }()
	if err = d.acquire(true); err != nil {
		return err
	}
	defer d.mu.RUnlock()
	cf, err := d.native(h)
	if err != nil {
		return err
	}
	if err = d.engine.Put(d.writeOptions(wo), cf, key, value); err != nil {
		return d.storageErr("put", h.name, err)
	}
	return nil
}

func (d *dbImpl) get(ro *ReadOptions, h *ColumnFamilyHandle, key []byte) (value []byte, found bool, err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("get", start, err == nil && !found, err) }()
	if err = d.acquire(false); err != nil {
		return nil, false, err
	}
	defer d.mu.RUnlock()
	cf, err := d.native(h)
	if err != nil {
		return nil, false, err
	}
	value, err = d.engine.Get(d.readOptions(ro), cf, key)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, d.storageErr("get", h.name, err)
	}
	return value, true, nil
}

func (d *dbImpl) delete(wo *WriteOptions, h *ColumnFamilyHandle, key []byte) (err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("delete", start, false, err) }()
	if err = d.acquire(true); err != nil {
		return err
	}
	defer d.mu.RUnlock()
	cf, err := d.native(h)
	if err != nil {
		return err
	}
	if err = d.engine.Delete(d.writeOptions(wo), cf, key); err != nil {
		return d.storageErr("delete", h.name, err)
	}
	return nil
}

func (d *dbImpl) merge(wo *WriteOptions, h *ColumnFamilyHandle, key, operand []byte) (err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("merge", start, false, err) }()
	if err = d.acquire(true); err != nil {
		return err
	}
	defer d.mu.RUnlock()
	cf, err := d.native(h)
	if err != nil {
		return err
	}
	if err = d.engine.Merge(d.writeOptions(wo), cf, key, operand); err != nil {
		return d.storageErr("merge", h.name, err)
	}
	return nil
}

// Put sets the value for key in the default column family.
func (db *DB) Put(wo *WriteOptions, key, value []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.put(wo, db.impl.defaultCF, key, value)
}

// PutCF sets the value for key in the given column family.
func (db *DB) PutCF(wo *WriteOptions, cf *ColumnFamilyHandle, key, value []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.put(wo, cf, key, value)
}

// Get returns the value for key in the default column family. found is
// false, with a nil error, when the key does not exist.
func (db *DB) Get(ro *ReadOptions, key []byte) (value []byte, found bool, err error) {
	defer runtime.KeepAlive(db)
	return db.impl.get(ro, db.impl.defaultCF, key)
}

// GetCF returns the value for key in the given column family.
func (db *DB) GetCF(ro *ReadOptions, cf *ColumnFamilyHandle, key []byte) (value []byte, found bool, err error) {
	defer runtime.KeepAlive(db)
	return db.impl.get(ro, cf, key)
}

// Delete removes key from the default column family. Deleting a missing key
// succeeds.
func (db *DB) Delete(wo *WriteOptions, key []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.delete(wo, db.impl.defaultCF, key)
}

// DeleteCF removes key from the given column family.
func (db *DB) DeleteCF(wo *WriteOptions, cf *ColumnFamilyHandle, key []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.delete(wo, cf, key)
}

// Merge applies a merge operand to key in the default column family.
func (db *DB) Merge(wo *WriteOptions, key, operand []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.merge(wo, db.impl.defaultCF, key, operand)
}

// MergeCF applies a merge operand to key in the given column family.
func (db *DB) MergeCF(wo *WriteOptions, cf *ColumnFamilyHandle, key, operand []byte) error {
	defer runtime.KeepAlive(db)
	return db.impl.merge(wo, cf, key, operand)
}

// Write applies every operation in wb atomically, in the order they were
// added. If any operation names an invalid handle nothing is written.
func (db *DB) Write(wo *WriteOptions, wb *WriteBatch) (err error) {
	d := db.impl
	defer runtime.KeepAlive(db)
	start := time.Now()
	defer func() { d.metrics.Observe("write", start, false, err) }()
	if err = d.acquire(true); err != nil {
		return err
	}
	defer d.mu.RUnlock()
	if wb == nil || len(wb.ops) == 0 {
		return nil
	}

	var b engine.Batch
	for _, op := range wb.ops {
		h := op.cf
		if h == nil {
			h = d.defaultCF
		}
		cf, err := d.native(h)
		if err != nil {
			return err
		}
		switch op.kind {
		case batchPut:
			b.Put(cf, op.key, op.value)
		case batchDelete:
			b.Delete(cf, op.key)
		case batchMerge:
			b.Merge(cf, op.key, op.value)
		}
	}
	if err = d.engine.Write(d.writeOptions(wo), &b); err != nil {
		return d.storageErr("write", "", err)
	}
	d.logger.Debugf("%sapplied batch of %d operations to %s", logging.NSBatch, len(wb.ops), d.path)
	return nil
}

// NewIterator returns an unpositioned iterator over the default column family.
func (db *DB) NewIterator(ro *ReadOptions) (*Iterator, error) {
	defer runtime.KeepAlive(db)
	return db.impl.newIterator(ro, db.impl.defaultCF)
}

// NewIteratorCF returns an unpositioned iterator over the given column family.
func (db *DB) NewIteratorCF(ro *ReadOptions, cf *ColumnFamilyHandle) (*Iterator, error) {
	defer runtime.KeepAlive(db)
	return db.impl.newIterator(ro, cf)
}

func (d *dbImpl) newIterator(ro *ReadOptions, h *ColumnFamilyHandle) (_ *Iterator, err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("new_iterator", start, false, err) }()
	if err = d.acquire(false); err != nil {
		return nil, err
	}
	defer d.mu.RUnlock()
	cf, err := d.native(h)
	if err != nil {
		return nil, err
	}
	native, err := d.engine.NewIterator(d.readOptions(ro), cf)
	if err != nil {
		return nil, d.storageErr("new_iterator", h.name, err)
	}

	st := &iterState{db: weak.Make(d), native: native, cf: h.name}
	d.iterMu.Lock()
	if d.closed.Load() {
		d.iterMu.Unlock()
		native.Release()
		return nil, ErrClosed
	}
	d.iters[st] = struct{}{}
	d.iterMu.Unlock()
	d.metrics.IteratorOpened()

	it := &Iterator{state: st}
	runtime.AddCleanup(it, func(st *iterState) { st.close() }, st)
	return it, nil
}

// CreateColumnFamily creates a column family and returns its handle. A nil
// options value uses the options configured for name at Open, falling back
// to Options.CFOptions.
func (db *DB) CreateColumnFamily(name string, options *ColumnFamilyOptions) (_ *ColumnFamilyHandle, err error) {
	d := db.impl
	defer runtime.KeepAlive(db)
	start := time.Now()
	defer func() { d.metrics.Observe("create_column_family", start, false, err) }()

	var cfOpts ColumnFamilyOptions
	if options != nil {
		cfOpts = *options
	} else {
		cfOpts = d.opts.columnFamilyOptions(name)
	}

	if err = d.acquireExclusive(true); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("%w: empty column family name", ErrInvalidOptions)
	}
	if _, ok := d.cfs[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyExists, name)
	}
	if err = cfOpts.validate(name); err != nil {
		return nil, err
	}

	native, err := d.engine.CreateColumnFamily(cfOpts.toEngine(), name)
	if err != nil {
		return nil, d.storageErr("create_column_family", name, err)
	}
	h := newColumnFamilyHandle(d, native)
	d.cfs[name] = h
	d.metrics.SetColumnFamilies(len(d.cfs))
	d.logger.Infof("%screated column family %q in %s", logging.NSCF, name, d.path)
	return h, nil
}

// DropColumnFamily drops the column family and invalidates its handle. The
// default column family cannot be dropped. If the engine refuses the drop,
// the handle stays valid and registered.
func (db *DB) DropColumnFamily(cf *ColumnFamilyHandle) (err error) {
	d := db.impl
	defer runtime.KeepAlive(db)
	start := time.Now()
	defer func() { d.metrics.Observe("drop_column_family", start, false, err) }()

	if err = d.acquireExclusive(true); err != nil {
		return err
	}
	defer d.mu.Unlock()

	native, err := d.native(cf)
	if err != nil {
		return err
	}
	if cf.name == DefaultColumnFamilyName {
		return ErrCannotDropDefaultCF
	}
	if err = d.engine.DropColumnFamily(native); err != nil {
		return d.storageErr("drop_column_family", cf.name, err)
	}

	delete(d.cfs, cf.name)
	cf.invalidate()
	d.metrics.SetColumnFamilies(len(d.cfs))

	if err = d.engine.DestroyColumnFamilyHandle(native); err != nil {
		d.fatal = fmt.Errorf("%w: dropped column family %q but failed to destroy its handle: %v",
			logging.ErrFatal, cf.name, err)
		d.logger.Fatalf("%s%v", logging.NSCF, d.fatal)
		return &StorageError{Op: "drop_column_family", Path: d.path, ColumnFamily: cf.name, Err: d.fatal}
	}
	d.logger.Infof("%sdropped column family %q in %s", logging.NSCF, cf.name, d.path)
	return nil
}

// ListColumnFamilies returns the names of the registered column families,
// default first and the rest sorted.
func (db *DB) ListColumnFamilies() ([]string, error) {
	d := db.impl
	defer runtime.KeepAlive(db)
	if err := d.acquire(false); err != nil {
		return nil, err
	}
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.cfs))
	for name := range d.cfs {
		if name != DefaultColumnFamilyName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{DefaultColumnFamilyName}, names...), nil
}

// GetColumnFamily returns the handle registered under name.
func (db *DB) GetColumnFamily(name string) (*ColumnFamilyHandle, error) {
	d := db.impl
	defer runtime.KeepAlive(db)
	if err := d.acquire(false); err != nil {
		return nil, err
	}
	defer d.mu.RUnlock()

	h, ok := d.cfs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, name)
	}
	return h, nil
}

// DefaultColumnFamily returns the handle of the default column family. It
// is invalid once the database is closed.
func (db *DB) DefaultColumnFamily() *ColumnFamilyHandle {
	return db.impl.defaultCF
}

// Path returns the directory the database was opened at.
func (db *DB) Path() string { return db.impl.path }

// SessionID identifies this open of the database in logs and metrics.
func (db *DB) SessionID() string { return db.impl.sessionID }

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool { return db.impl.closed.Load() }

// IsReadOnly reports whether the database was opened read-only.
func (db *DB) IsReadOnly() bool { return db.impl.readOnly }

// GetOptions returns a copy of the options the database was opened with.
func (db *DB) GetOptions() *Options { return db.impl.opts.clone() }

// DefaultReadOptions returns a copy of the read options used when a read is
// given nil options.
func (db *DB) DefaultReadOptions() *ReadOptions {
	ro := *db.impl.readOpts.Load()
	return &ro
}

// SetDefaultReadOptions replaces the default read options.
func (db *DB) SetDefaultReadOptions(ro *ReadOptions) error {
	if ro == nil {
		return fmt.Errorf("%w: nil read options", ErrInvalidOptions)
	}
	c := *ro
	db.impl.readOpts.Store(&c)
	return nil
}

// DefaultWriteOptions returns a copy of the write options used when a write
// is given nil options.
func (db *DB) DefaultWriteOptions() *WriteOptions {
	wo := *db.impl.writeOpts.Load()
	return &wo
}

// SetDefaultWriteOptions replaces the default write options.
func (db *DB) SetDefaultWriteOptions(wo *WriteOptions) error {
	if wo == nil {
		return fmt.Errorf("%w: nil write options", ErrInvalidOptions)
	}
	c := *wo
	db.impl.writeOpts.Store(&c)
	return nil
}

// Close releases every live iterator, invalidates every column family handle
// and closes the engine, in that order. Calling Close again is a no-op.
func (db *DB) Close() error {
	defer runtime.KeepAlive(db)
	return db.impl.close()
}

func (d *dbImpl) close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.iterMu.Lock()
	n := len(d.iters)
	for st := range d.iters {
		st.native.Release()
		st.native = nil
	}
	clear(d.iters)
	d.iterMu.Unlock()
	d.metrics.IteratorsClosed(n)
	if n > 0 {
		d.logger.Debugf("%sreleased %d live iterators on close", logging.NSIter, n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name, h := range d.cfs {
		native := h.invalidate()
		if native == nil {
			continue
		}
		if err := d.engine.DestroyColumnFamilyHandle(native); err != nil {
			d.logger.Warnf("%sdestroying handle of %q on close: %v", logging.NSCF, name, err)
		}
	}
	clear(d.cfs)
	d.metrics.SetColumnFamilies(0)

	err := d.engine.Close()
	d.engine = nil
	d.metrics.Unregister()
	if err != nil {
		d.logger.Errorf("%sclosing %s: %v", logging.NSDB, d.path, err)
		return &StorageError{Op: "close", Path: d.path, Err: err}
	}
	d.logger.Infof("%sclosed %s", logging.NSDB, d.path)
	return nil
}
