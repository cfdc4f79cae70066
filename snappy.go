package meshsub

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// DefaultMaxDecodedSize is the maximum size of decompressed gossip payload.
const DefaultMaxDecodedSize = 10 << 20

var _ Decompressor = SnappyDecompressor{}

// NewSnappyDecompressor creates decompressor of snappy block format rejecting payloads
// which decode to more than maxDecodedSize bytes.
func NewSnappyDecompressor(maxDecodedSize uint64) SnappyDecompressor {
	return SnappyDecompressor{
		maxDecodedSize: maxDecodedSize,
	}
}

// SnappyDecompressor decompresses payloads encoded with snappy block format.
type SnappyDecompressor struct {
	maxDecodedSize uint64
}

// Decompress decompresses data.
func (d SnappyDecompressor) Decompress(data []byte) ([]byte, error) {
	size, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if uint64(size) > d.maxDecodedSize {
		return nil, errors.Errorf("decoded size %d exceeds limit %d", size, d.maxDecodedSize)
	}

	decoded, err := snappy.Decode(make([]byte, size), data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return decoded, nil
}
