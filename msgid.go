package meshsub

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"

	"github.com/outofforest/meshsub/wire"
)

// Decompressor decompresses gossip payloads.
// It must return an error if data is not valid compressed input for its algorithm.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// DecompressorFunc adapts function to Decompressor.
type DecompressorFunc func(data []byte) ([]byte, error)

// Decompress calls f(data).
func (f DecompressorFunc) Decompress(data []byte) ([]byte, error) {
	return f(data)
}

// ComputeMessageID computes the ID of gossipsub message.
//
// If decompressor succeeds, the ID is derived from the decompressed payload under the valid snappy domain.
// Otherwise, or if decompressor is nil, it is derived from the raw payload under the invalid snappy domain.
// The ID is the first 20 bytes of SHA256(domain || uint64_le(len(topic)) || topic || payload).
func ComputeMessageID(topic, payload []byte, decompressor Decompressor) wire.MessageID {
	id, _ := messageID(topic, payload, decompressor)
	return id
}

func messageID(topic, payload []byte, decompressor Decompressor) (wire.MessageID, wire.Domain) {
	if decompressor != nil {
		if decompressed, ok := tryDecompress(decompressor, payload); ok {
			return messageIDWithDomain(wire.MessageDomainValidSnappy, topic, decompressed),
				wire.MessageDomainValidSnappy
		}
	}

	// Absent decompressor and failed decompression are treated the same way.
	return messageIDWithDomain(wire.MessageDomainInvalidSnappy, topic, payload), wire.MessageDomainInvalidSnappy
}

func tryDecompress(decompressor Decompressor, payload []byte) (decompressed []byte, ok bool) {
	defer func() {
		if recover() != nil {
			decompressed, ok = nil, false
		}
	}()

	decompressed, err := decompressor.Decompress(payload)
	if err != nil {
		return nil, false
	}
	return decompressed, true
}

func messageIDWithDomain(domain wire.Domain, topic, data []byte) wire.MessageID {
	var topicLen [8]byte
	binary.LittleEndian.PutUint64(topicLen[:], uint64(len(topic)))

	h := sha256.New()
	h.Write(domain[:])
	h.Write(topicLen[:])
	h.Write(topic)
	h.Write(data)

	var id wire.MessageID
	copy(id[:], h.Sum(nil))
	return id
}
