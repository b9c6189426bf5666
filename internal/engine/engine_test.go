package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/rockybind/internal/compression"
	"github.com/aalhour/rockybind/internal/logging"
)

func testConfig() Config {
	return Config{
		CreateIfMissing: true,
		MaxOpenFiles:    -1,
		Logger:          logging.Discard,
	}
}

func openTest(t *testing.T, path string, cfg Config, names ...string) (*DB, []*ColumnFamily) {
	t.Helper()
	descs := make([]ColumnFamilyDescriptor, 0, len(names))
	for _, n := range names {
		descs = append(descs, ColumnFamilyDescriptor{Name: n})
	}
	db, handles, err := Open(path, cfg, descs)
	require.NoError(t, err)
	return db, handles
}

type appendOp struct{}

func (appendOp) Name() string { return "test.append" }

func (appendOp) FullMerge(_, existing []byte, operands [][]byte) ([]byte, bool) {
	out := append([]byte(nil), existing...)
	for _, op := range operands {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, op...)
	}
	return out, true
}

type failingOp struct{}

func (failingOp) Name() string { return "test.fail" }

func (failingOp) FullMerge(_, _ []byte, _ [][]byte) ([]byte, bool) { return nil, false }

func TestListColumnFamiliesMissing(t *testing.T) {
	_, err := ListColumnFamilies(filepath.Join(t.TempDir(), "nope"), testConfig())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	cfg := testConfig()
	cfg.CreateIfMissing = false
	_, _, err := Open(filepath.Join(t.TempDir(), "nope"), cfg, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenErrorIfExists(t *testing.T) {
	dir := t.TempDir()
	db, _ := openTest(t, dir, testConfig())
	require.NoError(t, db.Close())

	cfg := testConfig()
	cfg.ErrorIfExists = true
	_, _, err := Open(dir, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exists (error_if_exists is true)")
}

func TestPutGetDelete(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("v")))
	v, err := db.Get(nil, nil, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete(nil, nil, []byte("k")))
	_, err = db.Get(nil, nil, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Delete(nil, nil, []byte("never-written")))
}

func TestEmptyValueRoundTrip(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte{}))
	v, err := db.Get(nil, nil, []byte("k"))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestCompressedValuesPerColumnFamily(t *testing.T) {
	dir := t.TempDir()
	codecs := []compression.Type{
		compression.NoCompression,
		compression.SnappyCompression,
		compression.ZlibCompression,
		compression.LZ4Compression,
		compression.LZ4HCCompression,
		compression.ZstdCompression,
	}

	db, _ := openTest(t, dir, testConfig())
	big := bytes.Repeat([]byte("compressible "), 200)
	var handles []*ColumnFamily
	for _, c := range codecs {
		cf, err := db.CreateColumnFamily(ColumnFamilyOptions{Compression: c}, "cf_"+c.String())
		require.NoError(t, err)
		require.NoError(t, db.Put(nil, cf, []byte("big"), big))
		handles = append(handles, cf)
	}
	for _, cf := range handles {
		v, err := db.Get(nil, cf, []byte("big"))
		require.NoError(t, err, cf.Name())
		assert.Equal(t, big, v, cf.Name())
	}
	require.NoError(t, db.Close())
}

func TestCreateListReopen(t *testing.T) {
	dir := t.TempDir()
	db, _ := openTest(t, dir, testConfig())
	_, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "users")
	require.NoError(t, err)
	_, err = db.CreateColumnFamily(ColumnFamilyOptions{}, "accounts")
	require.NoError(t, err)

	_, err = db.CreateColumnFamily(ColumnFamilyOptions{}, "users")
	assert.ErrorIs(t, err, ErrColumnFamilyExists)
	_, err = db.CreateColumnFamily(ColumnFamilyOptions{}, DefaultColumnFamilyName)
	assert.ErrorIs(t, err, ErrColumnFamilyExists)

	names, err := db.ColumnFamilyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "accounts", "users"}, names)
	require.NoError(t, db.Close())

	names, err = ListColumnFamilies(dir, testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "accounts", "users"}, names)

	_, _, err = Open(dir, testConfig(), nil)
	assert.ErrorIs(t, err, ErrColumnFamiliesUnopened)

	db, handles := openTest(t, dir, testConfig(), names...)
	require.Len(t, handles, 3)
	assert.Equal(t, "users", handles[2].Name())
	assert.Same(t, handles[0], db.DefaultColumnFamily())
	require.NoError(t, db.Close())
}

func TestOpenUnknownFamily(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Open(dir, testConfig(), []ColumnFamilyDescriptor{{Name: "default"}, {Name: "ghost"}})
	assert.ErrorIs(t, err, ErrColumnFamilyNotFound)

	cfg := testConfig()
	cfg.CreateMissingColumnFamilies = true
	db, handles, err := Open(dir, cfg, []ColumnFamilyDescriptor{{Name: "default"}, {Name: "ghost"}})
	require.NoError(t, err)
	require.NoError(t, db.Put(nil, handles[1], []byte("a"), []byte("b")))
	require.NoError(t, db.Close())
}

func TestColumnFamilyIsolation(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	a, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "a")
	require.NoError(t, err)
	b, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "b")
	require.NoError(t, err)

	require.NoError(t, db.Put(nil, a, []byte("k"), []byte("from-a")))
	_, err = db.Get(nil, b, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Get(nil, nil, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDropAndDestroy(t *testing.T) {
	dir := t.TempDir()
	db, _ := openTest(t, dir, testConfig())

	cf, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "temp")
	require.NoError(t, err)
	for i := 0; i < 3000; i++ {
		require.NoError(t, db.Put(nil, cf, []byte(fmt.Sprintf("k%05d", i)), []byte("v")))
	}

	assert.ErrorIs(t, db.DropColumnFamily(db.DefaultColumnFamily()), ErrCannotDropDefault)
	require.NoError(t, db.DropColumnFamily(cf))
	assert.True(t, cf.IsDropped())
	assert.ErrorIs(t, db.DropColumnFamily(cf), ErrColumnFamilyDropped)
	assert.ErrorIs(t, db.Put(nil, cf, []byte("k"), []byte("v")), ErrColumnFamilyDropped)

	require.NoError(t, db.DestroyColumnFamilyHandle(cf))
	assert.ErrorIs(t, db.DestroyColumnFamilyHandle(cf), ErrHandleDestroyed)
	require.NoError(t, db.DestroyColumnFamilyHandle(db.DefaultColumnFamily()))

	names, err := db.ColumnFamilyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)

	again, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "temp")
	require.NoError(t, err)
	assert.NotEqual(t, cf.ID(), again.ID())
	_, err = db.Get(nil, again, []byte("k00001"))
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, db.Close())
}

func TestOrphanPurgeOnOpen(t *testing.T) {
	dir := t.TempDir()

	// Simulate a crash between metadata removal and data removal.
	ldb, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	frame, err := encodeValue(compression.NoCompression, []byte("v"))
	require.NoError(t, err)
	require.NoError(t, ldb.Put(append(dataPrefix(42), 'k'), frame, nil))
	require.NoError(t, ldb.Close())

	db, _ := openTest(t, dir, testConfig())
	require.NoError(t, db.Close())

	ldb, err = leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	defer ldb.Close()
	it := ldb.NewIterator(util.BytesPrefix(dataPrefix(42)), nil)
	defer it.Release()
	assert.False(t, it.Next())
}

func TestMerge(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	assert.ErrorIs(t, db.Merge(nil, nil, []byte("k"), []byte("x")), ErrMergeOperatorNotSet)

	cf, err := db.CreateColumnFamily(ColumnFamilyOptions{MergeOperator: appendOp{}}, "lists")
	require.NoError(t, err)

	require.NoError(t, db.Merge(nil, cf, []byte("k"), []byte("a")))
	require.NoError(t, db.Merge(nil, cf, []byte("k"), []byte("b")))

	var b Batch
	b.Merge(cf, []byte("k"), []byte("c"))
	b.Delete(cf, []byte("k"))
	b.Merge(cf, []byte("k"), []byte("d"))
	b.Put(cf, []byte("j"), []byte("x"))
	b.Merge(cf, []byte("j"), []byte("y"))
	require.NoError(t, db.Write(nil, &b))

	v, err := db.Get(nil, cf, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "d", string(v))
	v, err = db.Get(nil, cf, []byte("j"))
	require.NoError(t, err)
	assert.Equal(t, "x,y", string(v))

	bad, err := db.CreateColumnFamily(ColumnFamilyOptions{MergeOperator: failingOp{}}, "bad")
	require.NoError(t, err)
	assert.ErrorIs(t, db.Merge(nil, bad, []byte("k"), []byte("a")), ErrMergeFailed)
}

func TestBatchIsAtomicOnValidationFailure(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	cf, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "gone")
	require.NoError(t, err)
	require.NoError(t, db.DropColumnFamily(cf))

	var b Batch
	b.Put(nil, []byte("a"), []byte("1"))
	b.Put(cf, []byte("b"), []byte("2"))
	assert.ErrorIs(t, db.Write(nil, &b), ErrColumnFamilyDropped)

	_, err = db.Get(nil, nil, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIterator(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())

	other, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "other")
	require.NoError(t, err)
	for _, k := range []string{"b", "a", "d", "c"} {
		require.NoError(t, db.Put(nil, nil, []byte(k), []byte("v"+k)))
	}
	require.NoError(t, db.Put(nil, other, []byte("zzz"), []byte("other")))

	it, err := db.NewIterator(nil, nil)
	require.NoError(t, err)
	assert.False(t, it.Valid())
	assert.Nil(t, it.Key())

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
	it.Next()
	assert.False(t, it.Valid())

	it.SeekToLast()
	require.True(t, it.Valid())
	assert.Equal(t, "d", string(it.Key()))
	it.Prev()
	assert.Equal(t, "vc", string(it.Value()))

	it.Seek([]byte("bb"))
	require.True(t, it.Valid())
	assert.Equal(t, "c", string(it.Key()))
	require.NoError(t, it.Error())

	assert.ErrorIs(t, db.Close(), ErrIteratorsOutstanding)
	it.Release()
	it.Release()
	assert.False(t, it.Valid())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Close(), ErrClosed)
}

func TestIteratorBounds(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	defer db.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db.Put(nil, nil, []byte(k), []byte(k)))
	}
	it, err := db.NewIterator(&ReadOptions{LowerBound: []byte("b"), UpperBound: []byte("d")}, nil)
	require.NoError(t, err)
	defer it.Release()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	db, _ := openTest(t, dir, testConfig())
	require.NoError(t, db.Put(nil, nil, []byte("good"), []byte("value")))
	require.NoError(t, db.Close())

	ldb, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	frame, err := encodeValue(compression.NoCompression, []byte("value"))
	require.NoError(t, err)
	frame[0] ^= 0xff
	require.NoError(t, ldb.Put(append(dataPrefix(DefaultColumnFamilyID), "bad"...), frame, nil))
	require.NoError(t, ldb.Close())

	db, _ = openTest(t, dir, testConfig())
	defer db.Close()

	_, err = db.Get(&ReadOptions{VerifyChecksums: true}, nil, []byte("bad"))
	assert.ErrorIs(t, err, ErrCorruption)

	it, err := db.NewIterator(&ReadOptions{VerifyChecksums: true}, nil)
	require.NoError(t, err)
	defer it.Release()
	it.SeekToFirst()
	assert.False(t, it.Valid())
	assert.ErrorIs(t, it.Error(), ErrCorruption)
}

func TestReadOnly(t *testing.T) {
	dir := t.TempDir()
	db, _ := openTest(t, dir, testConfig())
	_, err := db.CreateColumnFamily(ColumnFamilyOptions{}, "extra")
	require.NoError(t, err)
	require.NoError(t, db.Put(nil, nil, []byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	cfg := testConfig()
	cfg.ReadOnly = true
	db, handles := openTest(t, dir, cfg, "default")
	defer db.Close()
	require.Len(t, handles, 1)

	v, err := db.Get(nil, nil, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	assert.ErrorIs(t, db.Put(nil, nil, []byte("k"), []byte("v")), ErrReadOnly)
	_, err = db.CreateColumnFamily(ColumnFamilyOptions{}, "more")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestClosedOperations(t *testing.T) {
	db, _ := openTest(t, t.TempDir(), testConfig())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Put(nil, nil, []byte("k"), []byte("v")), ErrClosed)
	_, err := db.Get(nil, nil, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.NewIterator(nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.ColumnFamilyNames()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDuplicateDescriptors(t *testing.T) {
	_, _, err := Open(t.TempDir(), testConfig(), []ColumnFamilyDescriptor{{Name: "default"}, {Name: "default"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
