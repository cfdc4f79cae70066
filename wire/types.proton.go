package wire

import (
	"reflect"
	"unsafe"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id1 uint64 = iota + 1
	id0
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Hello{},
		Publish{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Hello:
		return id0, nil
	case *Publish:
		return id1, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Hello:
		return size0(msg2), nil
	case *Publish:
		return size1(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return id0, marshal0(msg2, buf), nil
	case *Publish:
		return id1, marshal1(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id0:
		msg := &Hello{}
		return msg, unmarshal0(msg, buf), nil
	case id1:
		msg := &Publish{}
		return msg, unmarshal1(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Hello:
		return id0, makePatch0(msg2, msgSrc.(*Hello), buf), nil
	case *Publish:
		return id1, makePatch1(msg2, msgSrc.(*Publish), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return applyPatch0(msg2, buf), nil
	case *Publish:
		return applyPatch1(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size1(m *Publish) uint64 {
	var n uint64 = 34
	{
		// Topic

		{
			l := uint64(len(m.Topic))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Data

		l := uint64(len(m.Data))
		helpers.UInt64Size(l, &n)
		n += l
	}
	return n
}

func marshal1(m *Publish, b []byte) uint64 {
	var o uint64
	{
		// Sender

		copy(b[o:o+32], unsafe.Slice(&m.Sender[0], 32))
		o += 32
	}
	{
		// Topic

		{
			l := uint64(len(m.Topic))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Topic)
			o += l
		}
	}
	{
		// Data

		l := uint64(len(m.Data))
		helpers.UInt64Marshal(l, b, &o)
		copy(b[o:o+l], m.Data)
		o += l
	}

	return o
}

func unmarshal1(m *Publish, b []byte) uint64 {
	var o uint64
	{
		// Sender

		copy(unsafe.Slice(&m.Sender[0], 32), b[o:o+32])
		o += 32
	}
	{
		// Topic

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Topic = Topic(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Data

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		m.Data = make([]byte, l)
		copy(m.Data, b[o:o+l])
		o += l
	}

	return o
}

func makePatch1(m, mSrc *Publish, b []byte) uint64 {
	var o uint64 = 1
	{
		// Sender

		if reflect.DeepEqual(m.Sender, mSrc.Sender) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			copy(b[o:o+32], unsafe.Slice(&m.Sender[0], 32))
			o += 32
		}
	}
	{
		// Topic

		if reflect.DeepEqual(m.Topic, mSrc.Topic) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Topic))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Topic)
				o += l
			}
		}
	}
	{
		// Data

		if reflect.DeepEqual(m.Data, mSrc.Data) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			l := uint64(len(m.Data))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Data)
			o += l
		}
	}

	return o
}

func applyPatch1(m *Publish, b []byte) uint64 {
	var o uint64 = 1
	{
		// Sender

		if b[0]&0x01 != 0 {
			copy(unsafe.Slice(&m.Sender[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// Topic

		if b[0]&0x02 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Topic = Topic(b[o:o+l])
				o += l
			} else {
				m.Topic = ""
			}
		}
	}
	{
		// Data

		if b[0]&0x04 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			m.Data = make([]byte, l)
			copy(m.Data, b[o:o+l])
			o += l
		}
	}

	return o
}

func size0(m *Hello) uint64 {
	var n uint64 = 34
	{
		// Topics

		l := uint64(len(m.Topics))
		helpers.UInt64Size(l, &n)
		n += l
		for _, sv1 := range m.Topics {
			l := uint64(len(sv1))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal0(m *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
		o += 32
	}
	{
		// IsServer

		if m.IsServer {
			b[0] |= 0x01
		} else {
			b[0] &= 0xFE
		}
	}
	{
		// Topics

		helpers.UInt64Marshal(uint64(len(m.Topics)), b, &o)
		for _, sv1 := range m.Topics {
			l := uint64(len(sv1))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], sv1)
			o += l
		}
	}

	return o
}

func unmarshal0(m *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
		o += 32
	}
	{
		// IsServer

		m.IsServer = b[0]&0x01 != 0
	}
	{
		// Topics

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Topics = make([]Topic, l)
			for i1 := range l {
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Topics[i1] = Topic(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func makePatch0(m, mSrc *Hello, b []byte) uint64 {
	var o uint64 = 2
	{
		// PeerID

		if reflect.DeepEqual(m.PeerID, mSrc.PeerID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
			o += 32
		}
	}
	{
		// IsServer

		if m.IsServer == mSrc.IsServer {
			b[1] &= 0xFE
		} else {
			b[1] |= 0x01
		}
	}
	{
		// Topics

		if reflect.DeepEqual(m.Topics, mSrc.Topics) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			helpers.UInt64Marshal(uint64(len(m.Topics)), b, &o)
			for _, sv1 := range m.Topics {
				l := uint64(len(sv1))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], sv1)
				o += l
			}
		}
	}

	return o
}

func applyPatch0(m *Hello, b []byte) uint64 {
	var o uint64 = 2
	{
		// PeerID

		if b[0]&0x01 != 0 {
			copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// IsServer

		if b[1]&0x01 != 0 {
			m.IsServer = !m.IsServer
		}
	}
	{
		// Topics

		if b[0]&0x02 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Topics = make([]Topic, l)
				for i1 := range l {
					var l uint64
					helpers.UInt64Unmarshal(&l, b, &o)
					if l > 0 {
						m.Topics[i1] = Topic(b[o:o+l])
						o += l
					}
				}
			} else {
				m.Topics = nil
			}
		}
	}

	return o
}
