package rockybind

// write_batch.go implements the public WriteBatch API for atomic writes.

// batchOpKind is the kind of a buffered batch operation.
type batchOpKind uint8

const (
	batchPut batchOpKind = iota + 1
	batchDelete
	batchMerge
)

func (k batchOpKind) String() string {
	switch k {
	case batchPut:
		return "put"
	case batchDelete:
		return "delete"
	case batchMerge:
		return "merge"
	}
	return "unknown"
}

type batchOp struct {
	kind  batchOpKind
	cf    *ColumnFamilyHandle // nil targets the default column family
	key   []byte
	value []byte
}

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied, so you can modify them after calling Put/Delete.
//
// Column family handles are not checked when operations are added; DB.Write
// rejects the whole batch if any handle is invalid at that point.
//
// A WriteBatch can be reused by calling Clear() after Write().
//
// Example:
//
//	wb := rockybind.NewWriteBatch()
//	wb.Put([]byte("key1"), []byte("value1"))
//	wb.PutCF(users, []byte("u1"), []byte("Alice"))
//	wb.Delete([]byte("key3"))
//	err := database.Write(nil, wb)
//	wb.Clear() // Reuse the batch
type WriteBatch struct {
	ops []batchOp
}

// NewWriteBatch creates a new empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (wb *WriteBatch) add(kind batchOpKind, cf *ColumnFamilyHandle, key, value []byte) {
	op := batchOp{kind: kind, cf: cf, key: append([]byte{}, key...)}
	if kind != batchDelete {
		op.value = append([]byte{}, value...)
	}
	wb.ops = append(wb.ops, op)
}

// Put adds a key-value pair to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.add(batchPut, nil, key, value)
}

// PutCF adds a key-value pair to the batch for the specified column family.
func (wb *WriteBatch) PutCF(cf *ColumnFamilyHandle, key, value []byte) {
	wb.add(batchPut, cf, key, value)
}

// Delete adds a deletion to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.add(batchDelete, nil, key, nil)
}

// DeleteCF adds a deletion to the batch for the specified column family.
func (wb *WriteBatch) DeleteCF(cf *ColumnFamilyHandle, key []byte) {
	wb.add(batchDelete, cf, key, nil)
}

// Merge adds a merge operand to the batch.
func (wb *WriteBatch) Merge(key, value []byte) {
	wb.add(batchMerge, nil, key, value)
}

// MergeCF adds a merge operand to the batch for the specified column family.
func (wb *WriteBatch) MergeCF(cf *ColumnFamilyHandle, key, value []byte) {
	wb.add(batchMerge, cf, key, value)
}

// Clear removes all operations from the batch.
func (wb *WriteBatch) Clear() {
	clear(wb.ops)
	wb.ops = wb.ops[:0]
}

// Count returns the number of operations in the batch.
func (wb *WriteBatch) Count() int {
	return len(wb.ops)
}
