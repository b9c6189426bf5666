package rockybind

// options.go implements database configuration options.
//
// Options are a value object: Open copies them, so changing an Options after
// Open has no effect on the open database.

import (
	"fmt"
	"maps"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aalhour/rockybind/internal/compression"
	"github.com/aalhour/rockybind/internal/engine"
	"github.com/aalhour/rockybind/internal/logging"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the compression type.
type CompressionType = compression.Type

// Compression type constants. The values match RocksDB's CompressionType.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	LZ4HCCompression  = compression.LZ4HCCompression
	ZstdCompression   = compression.ZstdCompression
)

// DefaultColumnFamilyName is the name of the column family every database has.
const DefaultColumnFamilyName = engine.DefaultColumnFamilyName

// ColumnFamilyOptions configures a single column family.
type ColumnFamilyOptions struct {
	// WriteBufferSize is the memtable size wanted by this column family.
	// The engine shares one memtable across families and sizes it to the
	// largest value requested at open.
	// Default: 64MB
	WriteBufferSize int

	// Compression is the codec applied to this family's values.
	// Default: Snappy
	Compression CompressionType

	// MergeOperator resolves Merge operations. If nil, Merge returns an error.
	MergeOperator MergeOperator
}

// DefaultColumnFamilyOptions returns ColumnFamilyOptions with default values.
func DefaultColumnFamilyOptions() *ColumnFamilyOptions {
	return &ColumnFamilyOptions{
		WriteBufferSize: 64 * 1024 * 1024,
		Compression:     SnappyCompression,
	}
}

func (o *ColumnFamilyOptions) validate(scope string) error {
	if o.WriteBufferSize < 0 {
		return fmt.Errorf("%w: %s write buffer size %d", ErrInvalidOptions, scope, o.WriteBufferSize)
	}
	if !o.Compression.IsSupported() {
		return fmt.Errorf("%w: %s compression %s", ErrInvalidOptions, scope, o.Compression)
	}
	return nil
}

func (o *ColumnFamilyOptions) toEngine() engine.ColumnFamilyOptions {
	return engine.ColumnFamilyOptions{
		Compression:     o.Compression,
		WriteBufferSize: o.WriteBufferSize,
		MergeOperator:   o.MergeOperator,
	}
}

// Options holds the database-wide settings plus the options of the default
// column family.
type Options struct {
	// CreateIfMissing causes Open to create the database if it does not exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to return an error if the database already exists.
	ErrorIfExists bool

	// CreateMissingColumnFamilies creates families named in ColumnFamilies
	// that do not exist yet.
	CreateMissingColumnFamilies bool

	// ParanoidChecks enables strict checksum verification in the engine.
	ParanoidChecks bool

	// MaxOpenFiles is the maximum number of table files kept open.
	// -1 keeps every file open; 0 uses the engine default.
	// Default: -1
	MaxOpenFiles int

	// WriteBufferSize is the database-wide memtable size.
	// Default: 64MB
	WriteBufferSize int

	// Compression is the table block compression. The engine compresses
	// blocks with Snappy or not at all; any other codec disables block
	// compression.
	// Default: Snappy
	Compression CompressionType

	// MaxBackgroundJobs is the background concurrency requested from the
	// engine.
	// Default: 2
	MaxBackgroundJobs int

	// BlockCacheSize is the capacity of the block cache in bytes.
	// Default: 8MB
	BlockCacheSize int

	// BloomFilterBitsPerKey enables a bloom filter for table files when > 0.
	BloomFilterBitsPerKey int

	// CFOptions are the options of the default column family, and of every
	// other family opened at Open without an entry in ColumnFamilies.
	CFOptions ColumnFamilyOptions

	// ColumnFamilies overrides CFOptions per family name. With
	// CreateMissingColumnFamilies set, listed families are created at Open.
	ColumnFamilies map[string]ColumnFamilyOptions

	// Logger receives diagnostic messages.
	// If nil, a default logger writing warnings to stderr is used.
	Logger Logger

	// Registerer receives the database's Prometheus collectors.
	// If nil, metrics are collected but not registered.
	Registerer prometheus.Registerer
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		MaxOpenFiles:      -1,
		WriteBufferSize:   64 * 1024 * 1024,
		Compression:       SnappyCompression,
		MaxBackgroundJobs: 2,
		BlockCacheSize:    8 * 1024 * 1024,
		CFOptions:         *DefaultColumnFamilyOptions(),
	}
}

// IncreaseParallelism sets the background concurrency to totalThreads.
func (o *Options) IncreaseParallelism(totalThreads int) {
	if totalThreads < 1 {
		totalThreads = 1
	}
	o.MaxBackgroundJobs = totalThreads
}

// OptimizeForSmallDB tunes the options for a database of a few hundred
// megabytes or less.
func (o *Options) OptimizeForSmallDB() {
	o.WriteBufferSize = 2 * 1024 * 1024
	o.CFOptions.WriteBufferSize = 2 * 1024 * 1024
	o.MaxOpenFiles = 5000
	o.BlockCacheSize = 16 * 1024 * 1024
}

// UseBloomFilter enables a bloom filter with bitsPerKey bits per key.
func (o *Options) UseBloomFilter(bitsPerKey int) {
	o.BloomFilterBitsPerKey = bitsPerKey
}

// Validate reports the first invalid setting.
func (o *Options) Validate() error {
	switch {
	case o.MaxOpenFiles < -1:
		return fmt.Errorf("%w: max open files %d", ErrInvalidOptions, o.MaxOpenFiles)
	case o.WriteBufferSize < 0:
		return fmt.Errorf("%w: write buffer size %d", ErrInvalidOptions, o.WriteBufferSize)
	case !o.Compression.IsSupported():
		return fmt.Errorf("%w: compression %s", ErrInvalidOptions, o.Compression)
	case o.MaxBackgroundJobs < 0:
		return fmt.Errorf("%w: max background jobs %d", ErrInvalidOptions, o.MaxBackgroundJobs)
	case o.BlockCacheSize < 0:
		return fmt.Errorf("%w: block cache size %d", ErrInvalidOptions, o.BlockCacheSize)
	case o.BloomFilterBitsPerKey < 0:
		return fmt.Errorf("%w: bloom filter bits per key %d", ErrInvalidOptions, o.BloomFilterBitsPerKey)
	}
	if err := o.CFOptions.validate(DefaultColumnFamilyName); err != nil {
		return err
	}
	for name, cf := range o.ColumnFamilies {
		if name == "" {
			return fmt.Errorf("%w: empty column family name", ErrInvalidOptions)
		}
		if err := cf.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// clone returns a copy that shares nothing mutable with o.
func (o *Options) clone() *Options {
	c := *o
	c.ColumnFamilies = maps.Clone(o.ColumnFamilies)
	return &c
}

// columnFamilyOptions returns the options a family is opened with.
func (o *Options) columnFamilyOptions(name string) ColumnFamilyOptions {
	if cf, ok := o.ColumnFamilies[name]; ok {
		return cf
	}
	return o.CFOptions
}

func (o *Options) toEngineConfig(readOnly bool, logger Logger) engine.Config {
	return engine.Config{
		CreateIfMissing:             o.CreateIfMissing && !readOnly,
		ErrorIfExists:               o.ErrorIfExists,
		CreateMissingColumnFamilies: o.CreateMissingColumnFamilies,
		ReadOnly:                    readOnly,
		ParanoidChecks:              o.ParanoidChecks,
		MaxOpenFiles:                o.MaxOpenFiles,
		WriteBufferSize:             o.WriteBufferSize,
		BlockCacheSize:              o.BlockCacheSize,
		BlockCompression:            o.Compression,
		BloomFilterBitsPerKey:       o.BloomFilterBitsPerKey,
		Logger:                      logger,
	}
}

// ReadOptions contains options for read operations.
type ReadOptions struct {
	// VerifyChecksums enables checksum verification when reading.
	VerifyChecksums bool

	// FillCache indicates whether to fill the block cache on reads.
	FillCache bool

	// IterateLowerBound sets an inclusive lower bound for iteration.
	IterateLowerBound []byte

	// IterateUpperBound sets an exclusive upper bound for iteration.
	IterateUpperBound []byte
}

// DefaultReadOptions returns ReadOptions with default values.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		VerifyChecksums: true,
		FillCache:       true,
	}
}

func (ro *ReadOptions) toEngine() *engine.ReadOptions {
	return &engine.ReadOptions{
		VerifyChecksums: ro.VerifyChecksums,
		FillCache:       ro.FillCache,
		LowerBound:      ro.IterateLowerBound,
		UpperBound:      ro.IterateUpperBound,
	}
}

// WriteOptions contains options for write operations.
type WriteOptions struct {
	// Sync causes writes to be fsynced before returning.
	Sync bool

	// DisableWAL is accepted for compatibility. The engine always logs
	// writes, so it has no effect.
	DisableWAL bool
}

// DefaultWriteOptions returns WriteOptions with default values.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

func (wo *WriteOptions) toEngine() *engine.WriteOptions {
	return &engine.WriteOptions{Sync: wo.Sync}
}
