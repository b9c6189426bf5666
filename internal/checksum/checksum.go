// Package checksum computes the XXH3 checksums that protect stored values.
//
// The checksum covers the payload followed by a single trailing byte (the
// codec tag), mirroring how RocksDB checksums a block together with its
// compression type.
package checksum

import (
	"encoding/binary"
	"errors"

	"github.com/zeebo/xxh3"
)

// Size is the encoded size of a checksum in bytes.
const Size = 8

// ErrMismatch is returned by Verify when the stored checksum does not match.
var ErrMismatch = errors.New("checksum mismatch")

// Value returns the XXH3-64 checksum of data followed by lastByte.
func Value(data []byte, lastByte byte) uint64 {
	h := xxh3.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte{lastByte})
	return h.Sum64()
}

// Append appends the little-endian checksum of data and lastByte to dst.
func Append(dst, data []byte, lastByte byte) []byte {
	return binary.LittleEndian.AppendUint64(dst, Value(data, lastByte))
}

// Verify checks an encoded checksum produced by Append.
func Verify(data []byte, lastByte byte, encoded []byte) error {
	if len(encoded) != Size {
		return ErrMismatch
	}
	if binary.LittleEndian.Uint64(encoded) != Value(data, lastByte) {
		return ErrMismatch
	}
	return nil
}
