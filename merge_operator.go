package rockybind

// merge_operator.go defines the merge operator contract and the built-in
// operators.
//
// Merges are resolved when the write is applied, so an operator only sees the
// current value and the operands of one write. A column family configured
// without an operator rejects Merge with ErrMergeOperatorNotSet.

import (
	"bytes"
	"encoding/binary"

	"github.com/aalhour/rockybind/internal/engine"
)

// MergeOperator defines read-modify-write semantics for Merge.
//
// FullMerge receives the existing value (nil when the key has none) and the
// operands oldest first. Returning ok=false fails the write with a
// StorageError and leaves the database unchanged.
type MergeOperator = engine.MergeOperator

// UInt64AddOperator treats values as little-endian uint64 counters and adds
// operands to them.
type UInt64AddOperator struct{}

// Name returns the name of this merge operator.
func (o *UInt64AddOperator) Name() string {
	return "UInt64AddOperator"
}

// FullMerge adds all operands to the existing value.
func (o *UInt64AddOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var result uint64
	if existingValue != nil {
		if len(existingValue) != 8 {
			return nil, false
		}
		result = binary.LittleEndian.Uint64(existingValue)
	}
	for _, op := range operands {
		if len(op) != 8 {
			return nil, false
		}
		result += binary.LittleEndian.Uint64(op)
	}
	return EncodeUint64(result), true
}

// EncodeUint64 encodes v as an operand or value for UInt64AddOperator.
func EncodeUint64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// DecodeUint64 decodes a value written by UInt64AddOperator. ok is false when
// b is not 8 bytes long.
func DecodeUint64(b []byte) (v uint64, ok bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// StringAppendOperator concatenates operands onto the existing value,
// separated by Delimiter.
type StringAppendOperator struct {
	Delimiter string
}

// Name returns the name of this merge operator.
func (o *StringAppendOperator) Name() string {
	return "StringAppendOperator"
}

// FullMerge concatenates all operands with the delimiter.
func (o *StringAppendOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := append([]byte(nil), existingValue...)
	for _, op := range operands {
		if len(result) > 0 && len(op) > 0 {
			result = append(result, o.Delimiter...)
		}
		result = append(result, op...)
	}
	return result, true
}

// MaxOperator keeps the bytewise largest value.
type MaxOperator struct{}

// Name returns the name of this merge operator.
func (o *MaxOperator) Name() string {
	return "MaxOperator"
}

// FullMerge returns the maximum of the existing value and all operands.
func (o *MaxOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	maxVal := existingValue
	for _, op := range operands {
		if maxVal == nil || bytes.Compare(op, maxVal) > 0 {
			maxVal = op
		}
	}
	return append([]byte(nil), maxVal...), true
}

// mergeOperatorByName resolves the built-in operators named in options files.
func mergeOperatorByName(name string) (MergeOperator, bool) {
	switch name {
	case "UInt64AddOperator", "uint64add":
		return &UInt64AddOperator{}, true
	case "StringAppendOperator", "stringappend":
		return &StringAppendOperator{Delimiter: ","}, true
	case "MaxOperator", "max":
		return &MaxOperator{}, true
	}
	return nil, false
}
