// write_batch_test.go implements tests for WriteBatch.
package rockybind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchCopiesInput(t *testing.T) {
	wb := NewWriteBatch()
	key := []byte("k")
	value := []byte("v")
	wb.Put(key, value)
	key[0], value[0] = 'x', 'y'

	require.Equal(t, 1, wb.Count())
	assert.Equal(t, "k", string(wb.ops[0].key))
	assert.Equal(t, "v", string(wb.ops[0].value))
}

func TestWriteBatchRecordsOperations(t *testing.T) {
	db, _ := openTestDB(t, nil)
	users, err := db.CreateColumnFamily("users", nil)
	require.NoError(t, err)

	wb := NewWriteBatch()
	wb.Put([]byte("a"), []byte("1"))
	wb.PutCF(users, []byte("u"), []byte("2"))
	wb.Delete([]byte("b"))
	wb.DeleteCF(users, []byte("v"))
	wb.Merge([]byte("c"), []byte("3"))
	wb.MergeCF(users, []byte("w"), []byte("4"))
	require.Equal(t, 6, wb.Count())

	kinds := make([]string, 0, wb.Count())
	for _, op := range wb.ops {
		kinds = append(kinds, op.kind.String())
	}
	assert.Equal(t, []string{"put", "put", "delete", "delete", "merge", "merge"}, kinds)
	assert.Nil(t, wb.ops[0].cf)
	assert.Same(t, users, wb.ops[1].cf)
	assert.Nil(t, wb.ops[2].value)
}

func TestWriteBatchClearAndReuse(t *testing.T) {
	db, _ := openTestDB(t, nil)

	wb := NewWriteBatch()
	wb.Put([]byte("a"), []byte("1"))
	require.NoError(t, db.Write(nil, wb))
	wb.Clear()
	assert.Zero(t, wb.Count())

	wb.Put([]byte("b"), []byte("2"))
	require.NoError(t, db.Write(nil, wb))

	for _, k := range []string{"a", "b"} {
		_, found, err := db.Get(nil, []byte(k))
		require.NoError(t, err)
		assert.True(t, found, k)
	}
}

func TestWriteBatchAcrossColumnFamilies(t *testing.T) {
	db, _ := openTestDB(t, nil)
	users, err := db.CreateColumnFamily("users", nil)
	require.NoError(t, err)

	wb := NewWriteBatch()
	wb.Put([]byte("k"), []byte("default"))
	wb.PutCF(users, []byte("k"), []byte("users"))
	require.NoError(t, db.Write(&WriteOptions{Sync: true}, wb))

	v, _, err := db.Get(nil, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "default", string(v))
	v, _, err = db.GetCF(nil, users, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "users", string(v))
}

func TestWriteBatchNilHandle(t *testing.T) {
	db, _ := openTestDB(t, nil)

	wb := NewWriteBatch()
	wb.PutCF(nil, []byte("k"), []byte("v"))
	// A nil handle in a batch targets the default column family.
	require.NoError(t, db.Write(nil, wb))
	_, found, err := db.Get(nil, []byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
}
