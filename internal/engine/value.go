package engine

import (
	"fmt"

	"github.com/aalhour/rockybind/internal/checksum"
	"github.com/aalhour/rockybind/internal/compression"
)

const frameTrailer = 1 + checksum.Size

// encodeValue frames value with the codec of t. The codec is only kept when it
// saves at least an eighth of the payload, the same threshold RocksDB applies
// to blocks.
func encodeValue(t compression.Type, value []byte) ([]byte, error) {
	payload := value
	codec := compression.NoCompression
	if t != compression.NoCompression && len(value) > 0 {
		c, err := compression.Compress(t, value)
		if err != nil {
			return nil, fmt.Errorf("engine: compress with %s: %w", t, err)
		}
		if len(c) < len(value)-len(value)/8 {
			payload, codec = c, t
		}
	}

	frame := make([]byte, 0, len(payload)+frameTrailer)
	frame = append(frame, payload...)
	frame = append(frame, byte(codec))
	return checksum.Append(frame, payload, byte(codec)), nil
}

// decodeValue unframes a stored value. The returned slice never aliases frame.
func decodeValue(frame []byte, verify bool) ([]byte, error) {
	if len(frame) < frameTrailer {
		return nil, fmt.Errorf("%w: value frame has %d bytes", ErrCorruption, len(frame))
	}
	n := len(frame) - frameTrailer
	payload, codec := frame[:n], compression.Type(frame[n])
	if verify {
		if err := checksum.Verify(payload, byte(codec), frame[n+1:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
		}
	}
	if codec == compression.NoCompression {
		return append([]byte{}, payload...), nil
	}
	v, err := compression.Decompress(codec, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrCorruption, codec, err)
	}
	return v, nil
}
