package rockybind

// options_file.go implements OPTIONS file persistence.
//
// A writable Open records the options it used in the database directory so
// the configuration of an existing database can be inspected and reused.
// The file is YAML:
//
//	version: 1
//	db:
//	  max_open_files: -1
//	  compression: Snappy
//	  ...
//	column_families:
//	  default:
//	    write_buffer_size: 67108864
//	    compression: Snappy
//	    merge_operator: UInt64AddOperator
//
// Loggers and registerers are process state and are not persisted. Merge
// operators are persisted by name and only the built-in ones are restored.

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// OptionsFileVersion is the current options file format version.
	OptionsFileVersion = 1

	// OptionsFileName is the name of the options file inside a database
	// directory.
	OptionsFileName = "OPTIONS.yaml"
)

type optionsFile struct {
	Version        int                      `yaml:"version"`
	DB             dbOptionsSection         `yaml:"db"`
	ColumnFamilies map[string]cfOptionsFile `yaml:"column_families"`
}

type dbOptionsSection struct {
	CreateIfMissing             bool            `yaml:"create_if_missing"`
	ErrorIfExists               bool            `yaml:"error_if_exists"`
	CreateMissingColumnFamilies bool            `yaml:"create_missing_column_families"`
	ParanoidChecks              bool            `yaml:"paranoid_checks"`
	MaxOpenFiles                int             `yaml:"max_open_files"`
	WriteBufferSize             int             `yaml:"write_buffer_size"`
	Compression                 CompressionType `yaml:"compression"`
	MaxBackgroundJobs           int             `yaml:"max_background_jobs"`
	BlockCacheSize              int             `yaml:"block_cache_size"`
	BloomFilterBitsPerKey       int             `yaml:"bloom_filter_bits_per_key,omitempty"`
}

type cfOptionsFile struct {
	WriteBufferSize int             `yaml:"write_buffer_size"`
	Compression     CompressionType `yaml:"compression"`
	MergeOperator   string          `yaml:"merge_operator,omitempty"`
}

func cfToFile(o ColumnFamilyOptions) cfOptionsFile {
	f := cfOptionsFile{WriteBufferSize: o.WriteBufferSize, Compression: o.Compression}
	if o.MergeOperator != nil {
		f.MergeOperator = o.MergeOperator.Name()
	}
	return f
}

func (f cfOptionsFile) toOptions() (ColumnFamilyOptions, error) {
	o := ColumnFamilyOptions{WriteBufferSize: f.WriteBufferSize, Compression: f.Compression}
	if f.MergeOperator != "" {
		op, ok := mergeOperatorByName(f.MergeOperator)
		if !ok {
			return o, fmt.Errorf("%w: unknown merge operator %q", ErrInvalidOptions, f.MergeOperator)
		}
		o.MergeOperator = op
	}
	return o, nil
}

// MarshalOptions encodes opts in the options file format.
func MarshalOptions(opts *Options) ([]byte, error) {
	f := optionsFile{
		Version: OptionsFileVersion,
		DB: dbOptionsSection{
			CreateIfMissing:             opts.CreateIfMissing,
			ErrorIfExists:               opts.ErrorIfExists,
			CreateMissingColumnFamilies: opts.CreateMissingColumnFamilies,
			ParanoidChecks:              opts.ParanoidChecks,
			MaxOpenFiles:                opts.MaxOpenFiles,
			WriteBufferSize:             opts.WriteBufferSize,
			Compression:                 opts.Compression,
			MaxBackgroundJobs:           opts.MaxBackgroundJobs,
			BlockCacheSize:              opts.BlockCacheSize,
			BloomFilterBitsPerKey:       opts.BloomFilterBitsPerKey,
		},
		ColumnFamilies: map[string]cfOptionsFile{
			DefaultColumnFamilyName: cfToFile(opts.CFOptions),
		},
	}
	for name, cf := range opts.ColumnFamilies {
		f.ColumnFamilies[name] = cfToFile(cf)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseOptions decodes options from r. Settings missing from the input keep
// their DefaultOptions values.
func ParseOptions(r io.Reader) (*Options, error) {
	def := DefaultOptions()
	f := optionsFile{
		DB: dbOptionsSection{
			MaxOpenFiles:      def.MaxOpenFiles,
			WriteBufferSize:   def.WriteBufferSize,
			Compression:       def.Compression,
			MaxBackgroundJobs: def.MaxBackgroundJobs,
			BlockCacheSize:    def.BlockCacheSize,
		},
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if f.Version > OptionsFileVersion {
		return nil, fmt.Errorf("%w: options file version %d is newer than %d",
			ErrInvalidOptions, f.Version, OptionsFileVersion)
	}

	opts := def
	opts.CreateIfMissing = f.DB.CreateIfMissing
	opts.ErrorIfExists = f.DB.ErrorIfExists
	opts.CreateMissingColumnFamilies = f.DB.CreateMissingColumnFamilies
	opts.ParanoidChecks = f.DB.ParanoidChecks
	opts.MaxOpenFiles = f.DB.MaxOpenFiles
	opts.WriteBufferSize = f.DB.WriteBufferSize
	opts.Compression = f.DB.Compression
	opts.MaxBackgroundJobs = f.DB.MaxBackgroundJobs
	opts.BlockCacheSize = f.DB.BlockCacheSize
	opts.BloomFilterBitsPerKey = f.DB.BloomFilterBitsPerKey

	for name, cf := range f.ColumnFamilies {
		o, err := cf.toOptions()
		if err != nil {
			return nil, err
		}
		if name == DefaultColumnFamilyName {
			opts.CFOptions = o
			continue
		}
		if opts.ColumnFamilies == nil {
			opts.ColumnFamilies = make(map[string]ColumnFamilyOptions)
		}
		opts.ColumnFamilies[name] = o
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// WriteOptionsFile writes opts to the options file of the database at
// dbPath, replacing any previous file atomically.
func WriteOptionsFile(dbPath string, opts *Options) error {
	data, err := MarshalOptions(opts)
	if err != nil {
		return err
	}
	path := filepath.Join(dbPath, OptionsFileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadOptionsFile reads the options file of the database at dbPath.
func LoadOptionsFile(dbPath string) (*Options, error) {
	f, err := os.Open(filepath.Join(dbPath, OptionsFileName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseOptions(f)
}
