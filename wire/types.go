package wire

import "encoding/hex"

// MessageIDLength is the length of gossipsub message ID.
const MessageIDLength = 20

type (
	// PeerID defines peer ID.
	PeerID [32]byte

	// Topic is the gossipsub topic name.
	Topic string

	// MessageID is the content-derived ID of gossipsub message.
	MessageID [MessageIDLength]byte

	// Domain is the prefix isolating message IDs computed from different kinds of payload.
	Domain [4]byte
)

// Message ID domains.
var (
	MessageDomainInvalidSnappy = Domain{0x00, 0x00, 0x00, 0x00}
	MessageDomainValidSnappy   = Domain{0x01, 0x00, 0x00, 0x00}
)

// String returns hex representation of peer ID.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// String returns hex representation of message ID.
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Hello is the message exchanged between peers when connecting.
type Hello struct {
	PeerID   PeerID
	IsServer bool
	Topics   []Topic
}

// Publish carries a message published on topic.
type Publish struct {
	Sender PeerID
	Topic  Topic
	Data   []byte
}
