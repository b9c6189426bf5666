// Package engine is the storage-engine collaborator behind the database
// facade.
//
// It exposes the surface a RocksDB-style binding consumes (open with column
// family descriptors, list column families, point operations, atomic batches,
// iterators, create/drop/destroy column family) on top of goleveldb. goleveldb
// has a single keyspace, so column families are carved out of it:
//
//	0x00 "cf:" <name>        -> id (big-endian uint32)
//	0x00 "next_cf_id"        -> next id to assign
//	0x01 id(be32) <user key> -> value frame
//
// Every value is stored as a frame: payload | codec tag (1) | xxh3 (8). The
// codec is the owning column family's compression.
//
// The engine enforces native ordering rules rather than hiding them: iterators
// must be released before Close, and a dropped or destroyed column family
// handle must not be used. The facade in the root package is responsible for
// honoring them.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/aalhour/rockybind/internal/compression"
	"github.com/aalhour/rockybind/internal/logging"
)

// DefaultColumnFamilyName is the name of the column family every database has.
const DefaultColumnFamilyName = "default"

// DefaultColumnFamilyID is the ID of the default column family.
const DefaultColumnFamilyID uint32 = 0

var (
	ErrNotFound               = errors.New("engine: not found")
	ErrClosed                 = errors.New("engine: database is closed")
	ErrReadOnly               = errors.New("engine: database is read-only")
	ErrCorruption             = errors.New("engine: corruption")
	ErrColumnFamilyExists     = errors.New("engine: column family already exists")
	ErrColumnFamilyNotFound   = errors.New("engine: column family not found")
	ErrColumnFamilyDropped    = errors.New("engine: column family has been dropped")
	ErrHandleDestroyed        = errors.New("engine: column family handle has been destroyed")
	ErrCannotDropDefault      = errors.New("engine: cannot drop the default column family")
	ErrMergeOperatorNotSet    = errors.New("engine: merge operator not set for column family")
	ErrMergeFailed            = errors.New("engine: merge operator failed")
	ErrIteratorsOutstanding   = errors.New("engine: iterators must be released before close")
	ErrInvalidArgument        = errors.New("engine: invalid argument")
	ErrColumnFamiliesUnopened = errors.New("engine: column families not opened")
)

// MergeOperator combines an existing value with a merge operand.
type MergeOperator interface {
	// Name identifies the operator in logs and errors.
	Name() string

	// FullMerge returns the new value for key. existingValue is nil when the
	// key has no value. ok=false fails the write.
	FullMerge(key, existingValue []byte, operands [][]byte) (newValue []byte, ok bool)
}

// ColumnFamilyOptions configures a single column family.
type ColumnFamilyOptions struct {
	Compression     compression.Type
	WriteBufferSize int
	MergeOperator   MergeOperator
}

// ColumnFamilyDescriptor names a column family to open and its options.
type ColumnFamilyDescriptor struct {
	Name    string
	Options ColumnFamilyOptions
}

// Config is the database-wide engine configuration.
type Config struct {
	CreateIfMissing             bool
	ErrorIfExists               bool
	CreateMissingColumnFamilies bool
	ReadOnly                    bool
	ParanoidChecks              bool

	// MaxOpenFiles bounds the table file cache; -1 means unlimited.
	MaxOpenFiles int

	// WriteBufferSize is the memtable size. The engine has one memtable
	// shared by all column families and sizes it to the largest of this and
	// every descriptor's WriteBufferSize.
	WriteBufferSize int

	BlockCacheSize int

	// BlockCompression applies to table blocks. goleveldb only knows snappy,
	// so any other codec disables block compression and relies on the
	// per-value codec instead.
	BlockCompression compression.Type

	BloomFilterBitsPerKey int

	Logger logging.Logger
}

// ReadOptions controls a single read or iterator.
type ReadOptions struct {
	VerifyChecksums bool
	FillCache       bool
	LowerBound      []byte
	UpperBound      []byte
}

func (ro *ReadOptions) level() *opt.ReadOptions {
	if ro == nil {
		return nil
	}
	o := &opt.ReadOptions{DontFillCache: !ro.FillCache}
	if ro.VerifyChecksums {
		o.Strict = opt.StrictBlockChecksum
	}
	return o
}

func (ro *ReadOptions) verify() bool {
	return ro == nil || ro.VerifyChecksums
}

// WriteOptions controls a single write.
type WriteOptions struct {
	Sync bool
}

func (wo *WriteOptions) level() *opt.WriteOptions {
	if wo == nil {
		return nil
	}
	return &opt.WriteOptions{Sync: wo.Sync}
}

// ColumnFamily is the engine-side handle of a column family.
type ColumnFamily struct {
	id     uint32
	name   string
	opts   ColumnFamilyOptions
	prefix []byte

	dropped   atomic.Bool
	destroyed atomic.Bool
}

func newColumnFamily(id uint32, name string, opts ColumnFamilyOptions) *ColumnFamily {
	return &ColumnFamily{id: id, name: name, opts: opts, prefix: dataPrefix(id)}
}

// ID returns the column family ID.
func (cf *ColumnFamily) ID() uint32 { return cf.id }

// Name returns the column family name.
func (cf *ColumnFamily) Name() string { return cf.name }

// Options returns the options the handle was opened or created with.
func (cf *ColumnFamily) Options() ColumnFamilyOptions { return cf.opts }

// IsDropped reports whether the column family has been dropped.
func (cf *ColumnFamily) IsDropped() bool { return cf.dropped.Load() }

// DB is an open engine instance.
type DB struct {
	path   string
	cfg    Config
	ldb    *leveldb.DB
	logger logging.Logger

	// writeMu serializes writes so that merges read a stable base value and
	// drops are ordered with respect to batches.
	writeMu sync.Mutex

	mu       sync.RWMutex
	families map[string]*ColumnFamily
	nextID   uint32
	def      *ColumnFamily

	closed    atomic.Bool
	liveIters atomic.Int64
}

func (cfg Config) levelOptions(descs []ColumnFamilyDescriptor) *opt.Options {
	o := &opt.Options{
		ErrorIfMissing:     !cfg.CreateIfMissing,
		ErrorIfExist:       cfg.ErrorIfExists,
		ReadOnly:           cfg.ReadOnly,
		BlockCacheCapacity: cfg.BlockCacheSize,
		Compression:        opt.NoCompression,
	}
	if cfg.BlockCompression == compression.SnappyCompression {
		o.Compression = opt.SnappyCompression
	}

	switch {
	case cfg.MaxOpenFiles < 0:
		o.OpenFilesCacheCapacity = math.MaxInt32
	case cfg.MaxOpenFiles > 0:
		o.OpenFilesCacheCapacity = cfg.MaxOpenFiles
	}

	wb := cfg.WriteBufferSize
	for _, d := range descs {
		wb = max(wb, d.Options.WriteBufferSize)
	}
	o.WriteBuffer = wb

	if cfg.BloomFilterBitsPerKey > 0 {
		o.Filter = filter.NewBloomFilter(cfg.BloomFilterBitsPerKey)
	}
	if cfg.ParanoidChecks {
		o.Strict = opt.StrictAll
	}
	return o
}

// translateOpenErr maps goleveldb open failures onto engine errors while
// keeping the native diagnostic text.
func translateOpenErr(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s: exists (error_if_exists is true)", ErrInvalidArgument, path)
	case lerrors.IsCorrupted(err):
		return fmt.Errorf("%w: %s: %v", ErrCorruption, path, err)
	default:
		return fmt.Errorf("engine: open %s: %w", path, err)
	}
}

// ListColumnFamilies returns the column families persisted at path, default
// first and the rest sorted by name. It returns an error wrapping ErrNotFound
// when there is no database at path.
func ListColumnFamilies(path string, cfg Config) ([]string, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		ReadOnly:       true,
		ErrorIfMissing: true,
	})
	if err != nil {
		return nil, translateOpenErr(path, err)
	}
	defer func() { _ = ldb.Close() }()

	meta, _, err := loadMetadata(ldb)
	if err != nil {
		return nil, err
	}
	names := sortedNames(meta)
	if !logging.IsNil(cfg.Logger) {
		cfg.Logger.Debugf("%slisted %d column families at %s", logging.NSEngine, len(names), path)
	}
	return names, nil
}

func sortedNames(meta map[string]uint32) []string {
	names := make([]string, 0, len(meta)+1)
	names = append(names, DefaultColumnFamilyName)
	for name := range meta {
		if name != DefaultColumnFamilyName {
			names = append(names, name)
		}
	}
	sort.Strings(names[1:])
	return names
}

// Open opens the database at path with the given column families. Handles are
// returned in descriptor order. With no descriptors only the default column
// family is opened.
func Open(path string, cfg Config, descs []ColumnFamilyDescriptor) (*DB, []*ColumnFamily, error) {
	if len(descs) == 0 {
		descs = []ColumnFamilyDescriptor{{Name: DefaultColumnFamilyName}}
	}
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return nil, nil, fmt.Errorf("%w: empty column family name", ErrInvalidArgument)
		}
		if seen[d.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate column family %q", ErrInvalidArgument, d.Name)
		}
		seen[d.Name] = true
	}

	ldb, err := leveldb.OpenFile(path, cfg.levelOptions(descs))
	if err != nil {
		return nil, nil, translateOpenErr(path, err)
	}

	db := &DB{
		path:     path,
		cfg:      cfg,
		ldb:      ldb,
		logger:   logging.OrDefault(cfg.Logger),
		families: make(map[string]*ColumnFamily, len(descs)),
	}

	handles, err := db.bindColumnFamilies(descs)
	if err != nil {
		_ = ldb.Close()
		return nil, nil, err
	}

	if !cfg.ReadOnly {
		if err := db.purgeOrphans(); err != nil {
			db.logger.Warnf("%sorphan cleanup at %s failed: %v", logging.NSEngine, path, err)
		}
	}

	db.logger.Infof("%sopened %s with %d column families (read_only=%t)",
		logging.NSEngine, path, len(handles), cfg.ReadOnly)
	return db, handles, nil
}

// bindColumnFamilies matches descriptors against the persisted metadata,
// creating entries as the config allows.
func (db *DB) bindColumnFamilies(descs []ColumnFamilyDescriptor) ([]*ColumnFamily, error) {
	meta, nextID, err := loadMetadata(db.ldb)
	if err != nil {
		return nil, err
	}
	if nextID <= DefaultColumnFamilyID {
		nextID = DefaultColumnFamilyID + 1
	}

	if !db.cfg.ReadOnly {
		var unopened []string
		for _, name := range sortedNames(meta) {
			if !containsDescriptor(descs, name) {
				unopened = append(unopened, name)
			}
		}
		if len(unopened) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrColumnFamiliesUnopened, unopened)
		}
	}

	batch := new(leveldb.Batch)
	if _, ok := meta[DefaultColumnFamilyName]; !ok && !db.cfg.ReadOnly {
		batch.Put(metaKey(DefaultColumnFamilyName), encodeID(DefaultColumnFamilyID))
	}

	handles := make([]*ColumnFamily, 0, len(descs))
	for _, d := range descs {
		id, ok := meta[d.Name]
		switch {
		case ok:
		case d.Name == DefaultColumnFamilyName:
			id = DefaultColumnFamilyID
		case db.cfg.CreateMissingColumnFamilies && !db.cfg.ReadOnly:
			id = nextID
			nextID++
			batch.Put(metaKey(d.Name), encodeID(id))
		default:
			return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, d.Name)
		}

		cf := newColumnFamily(id, d.Name, d.Options)
		db.families[d.Name] = cf
		if id == DefaultColumnFamilyID {
			db.def = cf
		}
		handles = append(handles, cf)
	}
	if db.def == nil {
		db.def = newColumnFamily(DefaultColumnFamilyID, DefaultColumnFamilyName, ColumnFamilyOptions{})
	}
	db.nextID = nextID

	if batch.Len() > 0 {
		batch.Put(nextIDKey, encodeID(nextID))
		if err := db.ldb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
			return nil, fmt.Errorf("engine: persist column family metadata: %w", err)
		}
	}
	return handles, nil
}

func containsDescriptor(descs []ColumnFamilyDescriptor, name string) bool {
	for _, d := range descs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Path returns the directory the database was opened at.
func (db *DB) Path() string { return db.path }

// DefaultColumnFamily returns the default column family handle.
func (db *DB) DefaultColumnFamily() *ColumnFamily { return db.def }

// resolve validates cf for use, substituting the default column family for nil.
func (db *DB) resolve(cf *ColumnFamily) (*ColumnFamily, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if cf == nil {
		return db.def, nil
	}
	if cf.destroyed.Load() {
		return nil, fmt.Errorf("%w: %q", ErrHandleDestroyed, cf.name)
	}
	if cf.dropped.Load() {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyDropped, cf.name)
	}
	return cf, nil
}

// Get returns the value for key, or an error wrapping ErrNotFound.
func (db *DB) Get(ro *ReadOptions, cf *ColumnFamily, key []byte) ([]byte, error) {
	cf, err := db.resolve(cf)
	if err != nil {
		return nil, err
	}
	frame, err := db.ldb.Get(dataKey(cf, key), ro.level())
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v, err := decodeValue(frame, ro.verify())
	if err != nil {
		return nil, fmt.Errorf("column family %q key %q: %w", cf.name, key, err)
	}
	return v, nil
}

// Close closes the database. Every iterator must have been released.
func (db *DB) Close() error {
	if n := db.liveIters.Load(); n > 0 {
		return fmt.Errorf("%w: %d live", ErrIteratorsOutstanding, n)
	}
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := db.ldb.Close(); err != nil {
		return fmt.Errorf("engine: close %s: %w", db.path, err)
	}
	db.logger.Infof("%sclosed %s", logging.NSEngine, db.path)
	return nil
}
