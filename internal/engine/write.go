package engine

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

type opKind uint8

const (
	opPut opKind = iota + 1
	opDelete
	opMerge
)

type batchOp struct {
	kind  opKind
	cf    *ColumnFamily
	key   []byte
	value []byte
}

// Batch is an ordered set of updates applied atomically by Write. A nil
// column family targets the default column family.
type Batch struct {
	ops []batchOp
}

// Put appends a put. The batch keeps references to key and value.
func (b *Batch) Put(cf *ColumnFamily, key, value []byte) {
	b.ops = append(b.ops, batchOp{kind: opPut, cf: cf, key: key, value: value})
}

// Delete appends a delete.
func (b *Batch) Delete(cf *ColumnFamily, key []byte) {
	b.ops = append(b.ops, batchOp{kind: opDelete, cf: cf, key: key})
}

// Merge appends a merge operand.
func (b *Batch) Merge(cf *ColumnFamily, key, operand []byte) {
	b.ops = append(b.ops, batchOp{kind: opMerge, cf: cf, key: key, value: operand})
}

// Len returns the number of updates in the batch.
func (b *Batch) Len() int { return len(b.ops) }

// Reset empties the batch.
func (b *Batch) Reset() { b.ops = b.ops[:0] }

// Put sets key to value.
func (db *DB) Put(wo *WriteOptions, cf *ColumnFamily, key, value []byte) error {
	var b Batch
	b.Put(cf, key, value)
	return db.Write(wo, &b)
}

// Delete removes key. Deleting a missing key succeeds.
func (db *DB) Delete(wo *WriteOptions, cf *ColumnFamily, key []byte) error {
	var b Batch
	b.Delete(cf, key)
	return db.Write(wo, &b)
}

// Merge applies operand to key with the column family's merge operator.
func (db *DB) Merge(wo *WriteOptions, cf *ColumnFamily, key, operand []byte) error {
	var b Batch
	b.Merge(cf, key, operand)
	return db.Write(wo, &b)
}

// pendingValue is the state of a key as seen by later operations in the same
// batch. A nil value with set=true is a delete.
type pendingValue struct {
	value []byte
	set   bool
}

// Write applies b atomically. Every column family in the batch is validated
// before anything is written.
func (db *DB) Write(wo *WriteOptions, b *Batch) error {
	switch {
	case db.closed.Load():
		return ErrClosed
	case db.cfg.ReadOnly:
		return ErrReadOnly
	case b == nil || len(b.ops) == 0:
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	resolved := make([]*ColumnFamily, len(b.ops))
	for i, op := range b.ops {
		cf, err := db.resolve(op.cf)
		if err != nil {
			return err
		}
		if op.kind == opMerge && cf.opts.MergeOperator == nil {
			return fmt.Errorf("%w: %q", ErrMergeOperatorNotSet, cf.name)
		}
		resolved[i] = cf
	}

	lb := new(leveldb.Batch)
	pending := make(map[string]pendingValue)
	for i, op := range b.ops {
		cf := resolved[i]
		k := dataKey(cf, op.key)

		switch op.kind {
		case opPut:
			frame, err := encodeValue(cf.opts.Compression, op.value)
			if err != nil {
				return err
			}
			lb.Put(k, frame)
			pending[string(k)] = pendingValue{value: op.value, set: true}

		case opDelete:
			lb.Delete(k)
			pending[string(k)] = pendingValue{set: true}

		case opMerge:
			existing, err := db.currentValue(pending, cf, k)
			if err != nil {
				return err
			}
			merged, ok := cf.opts.MergeOperator.FullMerge(op.key, existing, [][]byte{op.value})
			if !ok {
				return fmt.Errorf("%w: %s on key %q", ErrMergeFailed, cf.opts.MergeOperator.Name(), op.key)
			}
			frame, err := encodeValue(cf.opts.Compression, merged)
			if err != nil {
				return err
			}
			lb.Put(k, frame)
			pending[string(k)] = pendingValue{value: merged, set: true}
		}
	}

	if err := db.ldb.Write(lb, wo.level()); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("engine: write: %w", err)
	}
	return nil
}

// currentValue returns the value of k as of the batch position being applied.
func (db *DB) currentValue(pending map[string]pendingValue, cf *ColumnFamily, k []byte) ([]byte, error) {
	if p, ok := pending[string(k)]; ok {
		return p.value, nil
	}
	frame, err := db.ldb.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := decodeValue(frame, true)
	if err != nil {
		return nil, fmt.Errorf("column family %q: merge base: %w", cf.name, err)
	}
	return v, nil
}
