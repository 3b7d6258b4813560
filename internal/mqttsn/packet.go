package mqttsn

import (
	"encoding/binary"
	"fmt"
)

// MsgType is the MQTT-SN message type octet.
type MsgType byte

// Message types used by a client (MQTT-SN v1.2, section 5.2.2).
const (
	ADVERTISE    MsgType = 0x00
	SEARCHGW     MsgType = 0x01
	GWINFO       MsgType = 0x02
	CONNECT      MsgType = 0x04
	CONNACK      MsgType = 0x05
	WILLTOPICREQ MsgType = 0x06
	WILLTOPIC    MsgType = 0x07
	WILLMSGREQ   MsgType = 0x08
	WILLMSG      MsgType = 0x09
	REGISTER     MsgType = 0x0A
	REGACK       MsgType = 0x0B
	PUBLISH      MsgType = 0x0C
	PUBACK       MsgType = 0x0D
	PUBCOMP      MsgType = 0x0E
	PUBREC       MsgType = 0x0F
	PUBREL       MsgType = 0x10
	SUBSCRIBE    MsgType = 0x12
	SUBACK       MsgType = 0x13
	UNSUBSCRIBE  MsgType = 0x14
	UNSUBACK     MsgType = 0x15
	PINGREQ      MsgType = 0x16
	PINGRESP     MsgType = 0x17
	DISCONNECT   MsgType = 0x18
)

var msgTypeNames = map[MsgType]string{
	ADVERTISE: "ADVERTISE", SEARCHGW: "SEARCHGW", GWINFO: "GWINFO",
	CONNECT: "CONNECT", CONNACK: "CONNACK",
	WILLTOPICREQ: "WILLTOPICREQ", WILLTOPIC: "WILLTOPIC",
	WILLMSGREQ: "WILLMSGREQ", WILLMSG: "WILLMSG",
	REGISTER: "REGISTER", REGACK: "REGACK",
	PUBLISH: "PUBLISH", PUBACK: "PUBACK", PUBCOMP: "PUBCOMP", PUBREC: "PUBREC", PUBREL: "PUBREL",
	SUBSCRIBE: "SUBSCRIBE", SUBACK: "SUBACK", UNSUBSCRIBE: "UNSUBSCRIBE", UNSUBACK: "UNSUBACK",
	PINGREQ: "PINGREQ", PINGRESP: "PINGRESP", DISCONNECT: "DISCONNECT",
}

func (t MsgType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MsgType(0x%02X)", byte(t))
}

// Flags is the MQTT-SN flags octet.
type Flags byte

const (
	FlagDUP          Flags = 0x80
	FlagQoS0         Flags = 0x00
	FlagQoS1         Flags = 0x20
	FlagQoS2         Flags = 0x40
	FlagQoSM1        Flags = 0x60
	FlagRetain       Flags = 0x10
	FlagWill         Flags = 0x08
	FlagCleanSession Flags = 0x04

	TopicNormal     Flags = 0x00
	TopicPredefined Flags = 0x01
	TopicShort      Flags = 0x02

	qosMask       Flags = 0x60
	topicTypeMask Flags = 0x03
)

// QoSFlag maps a numeric QoS level to its flag bits; anything other than
// 1 or 2 selects QoS 0.
func QoSFlag(qos int) Flags {
	switch qos {
	case 1:
		return FlagQoS1
	case 2:
		return FlagQoS2
	default:
		return FlagQoS0
	}
}

// QoS returns the numeric QoS level encoded in f (-1 for QoS -1).
func (f Flags) QoS() int {
	switch f & qosMask {
	case FlagQoS1:
		return 1
	case FlagQoS2:
		return 2
	case FlagQoSM1:
		return -1
	default:
		return 0
	}
}

// TopicType returns the topic id type bits.
func (f Flags) TopicType() Flags { return f & topicTypeMask }

// ReturnCode is the MQTT-SN return code octet.
type ReturnCode byte

const (
	Accepted          ReturnCode = 0x00
	RejectedCongested ReturnCode = 0x01
	RejectedTopicID   ReturnCode = 0x02
	RejectedNotSupp   ReturnCode = 0x03
)

func (rc ReturnCode) String() string {
	switch rc {
	case Accepted:
		return "accepted"
	case RejectedCongested:
		return "rejected: congestion"
	case RejectedTopicID:
		return "rejected: invalid topic ID"
	case RejectedNotSupp:
		return "rejected: not supported"
	default:
		return fmt.Sprintf("rejected: code 0x%02X", byte(rc))
	}
}

const protocolID = 0x01

// Packet is one decoded MQTT-SN message.
type Packet interface {
	Type() MsgType
	appendBody(b []byte) []byte
}

// Connect is sent by the client to open a session.
type Connect struct {
	Flags    Flags
	Duration uint16 // keep-alive in seconds
	ClientID string
}

// Connack answers Connect.
type Connack struct{ ReturnCode ReturnCode }

// WillTopicReq asks the client for its will topic.
type WillTopicReq struct{}

// WillTopic carries the will topic; an empty topic deletes the will.
type WillTopic struct {
	Flags Flags
	Topic string
}

// WillMsgReq asks the client for its will message.
type WillMsgReq struct{}

// WillMsg carries the will message.
type WillMsg struct{ Msg []byte }

// Register maps a topic name to a topic id, in either direction.
type Register struct {
	TopicID   uint16
	MsgID     uint16
	TopicName string
}

// Regack answers Register.
type Regack struct {
	TopicID    uint16
	MsgID      uint16
	ReturnCode ReturnCode
}

// Publish carries application data.
type Publish struct {
	Flags   Flags
	TopicID uint16
	MsgID   uint16
	Data    []byte
}

// Puback acknowledges a QoS 1 Publish or rejects any Publish.
type Puback struct {
	TopicID    uint16
	MsgID      uint16
	ReturnCode ReturnCode
}

// MsgIDOnly covers PUBREC, PUBREL, PUBCOMP and UNSUBACK.
type MsgIDOnly struct {
	T     MsgType
	MsgID uint16
}

// Subscribe asks for a topic name, or a predefined/short topic id.
type Subscribe struct {
	Flags     Flags
	MsgID     uint16
	TopicName string
	TopicID   uint16 // used when Flags.TopicType() is predefined
}

// Suback answers Subscribe.
type Suback struct {
	Flags      Flags
	TopicID    uint16
	MsgID      uint16
	ReturnCode ReturnCode
}

// Unsubscribe has the same layout as Subscribe.
type Unsubscribe Subscribe

// Pingreq keeps the session alive.
type Pingreq struct{ ClientID string }

// Pingresp answers Pingreq.
type Pingresp struct{}

// Disconnect closes the session; a non-zero Duration asks for sleep.
type Disconnect struct{ Duration uint16 }

func (Connect) Type() MsgType { return CONNECT }
func (Connack) Type() MsgType { return CONNACK }
func (WillTopicReq) Type() MsgType { return WILLTOPICREQ }
func (WillTopic) Type() MsgType { return WILLTOPIC }
func (WillMsgReq) Type() MsgType { return WILLMSGREQ }
func (WillMsg) Type() MsgType { return WILLMSG }
func (Register) Type() MsgType { return REGISTER }
func (Regack) Type() MsgType { return REGACK }
func (Publish) Type() MsgType { return PUBLISH }
func (Puback) Type() MsgType { return PUBACK }
func (p MsgIDOnly) Type() MsgType { return p.T }
func (Subscribe) Type() MsgType { return SUBSCRIBE }
func (Suback) Type() MsgType { return SUBACK }
func (Unsubscribe) Type() MsgType { return UNSUBSCRIBE }
func (Pingreq) Type() MsgType { return PINGREQ }
func (Pingresp) Type() MsgType { return PINGRESP }
func (Disconnect) Type() MsgType { return DISCONNECT }

var be = binary.BigEndian

func (p Connect) appendBody(b []byte) []byte {
	b = append(b, byte(p.Flags), protocolID)
	b = be.AppendUint16(b, p.Duration)
	return append(b, p.ClientID...)
}

func (p Connack) appendBody(b []byte) []byte { return append(b, byte(p.ReturnCode)) }
func (WillTopicReq) appendBody(b []byte) []byte { return b }
func (WillMsgReq) appendBody(b []byte) []byte { return b }
func (p WillMsg) appendBody(b []byte) []byte { return append(b, p.Msg...) }
func (Pingresp) appendBody(b []byte) []byte { return b }
func (p Pingreq) appendBody(b []byte) []byte { return append(b, p.ClientID...) }
func (p MsgIDOnly) appendBody(b []byte) []byte { return be.AppendUint16(b, p.MsgID) }
func (p Unsubscribe) appendBody(b []byte) []byte { return Subscribe(p).appendBody(b) }

func (p WillTopic) appendBody(b []byte) []byte {
	if p.Topic == "" {
		return b
	}
	b = append(b, byte(p.Flags))
	return append(b, p.Topic...)
}

func (p Register) appendBody(b []byte) []byte {
	b = be.AppendUint16(b, p.TopicID)
	b = be.AppendUint16(b, p.MsgID)
	return append(b, p.TopicName...)
}

func (p Regack) appendBody(b []byte) []byte {
	b = be.AppendUint16(b, p.TopicID)
	b = be.AppendUint16(b, p.MsgID)
	return append(b, byte(p.ReturnCode))
}

func (p Publish) appendBody(b []byte) []byte {
	b = append(b, byte(p.Flags))
	b = be.AppendUint16(b, p.TopicID)
	b = be.AppendUint16(b, p.MsgID)
	return append(b, p.Data...)
}

func (p Puback) appendBody(b []byte) []byte {
	b = be.AppendUint16(b, p.TopicID)
	b = be.AppendUint16(b, p.MsgID)
	return append(b, byte(p.ReturnCode))
}

func (p Subscribe) appendBody(b []byte) []byte {
	b = append(b, byte(p.Flags))
	b = be.AppendUint16(b, p.MsgID)
	if p.Flags.TopicType() == TopicPredefined {
		return be.AppendUint16(b, p.TopicID)
	}
	return append(b, p.TopicName...)
}

func (p Suback) appendBody(b []byte) []byte {
	b = append(b, byte(p.Flags))
	b = be.AppendUint16(b, p.TopicID)
	b = be.AppendUint16(b, p.MsgID)
	return append(b, byte(p.ReturnCode))
}

func (p Disconnect) appendBody(b []byte) []byte {
	if p.Duration == 0 {
		return b
	}
	return be.AppendUint16(b, p.Duration)
}

// Marshal encodes p with its length header. Messages shorter than 256
// octets use the one-octet length; longer ones use 0x01 followed by a
// two-octet length.
func Marshal(p Packet) ([]byte, error) {
	body := p.appendBody(nil)
	n := len(body) + 2
	switch {
	case n < 256:
		b := make([]byte, 0, n)
		b = append(b, byte(n), byte(p.Type()))
		return append(b, body...), nil
	case n+2 <= 0xFFFF:
		n += 2
		b := make([]byte, 0, n)
		b = append(b, 0x01)
		b = be.AppendUint16(b, uint16(n))
		b = append(b, byte(p.Type()))
		return append(b, body...), nil
	default:
		return nil, fmt.Errorf("%s of %d octets: %w", p.Type(), n, ErrOverflow)
	}
}

// Unmarshal decodes a single datagram.
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: %d octets", ErrMalformed, len(b))
	}
	length, hdr := int(b[0]), 1
	if b[0] == 0x01 {
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: truncated long header", ErrMalformed)
		}
		length, hdr = int(be.Uint16(b[1:3])), 3
	}
	if length != len(b) || length < hdr+1 {
		return nil, fmt.Errorf("%w: length field %d, datagram %d", ErrMalformed, length, len(b))
	}
	t := MsgType(b[hdr])
	body := b[hdr+1:]

	need := func(n int) error {
		if len(body) < n {
			return fmt.Errorf("%w: %s body %d octets, want at least %d", ErrMalformed, t, len(body), n)
		}
		return nil
	}

	switch t {
	case CONNECT:
		if err := need(4); err != nil {
			return nil, err
		}
		if body[1] != protocolID {
			return nil, fmt.Errorf("%w: protocol id 0x%02X", ErrMalformed, body[1])
		}
		return Connect{Flags: Flags(body[0]), Duration: be.Uint16(body[2:4]), ClientID: string(body[4:])}, nil
	case CONNACK:
		if err := need(1); err != nil {
			return nil, err
		}
		return Connack{ReturnCode: ReturnCode(body[0])}, nil
	case WILLTOPICREQ:
		return WillTopicReq{}, nil
	case WILLTOPIC:
		if len(body) == 0 {
			return WillTopic{}, nil
		}
		return WillTopic{Flags: Flags(body[0]), Topic: string(body[1:])}, nil
	case WILLMSGREQ:
		return WillMsgReq{}, nil
	case WILLMSG:
		return WillMsg{Msg: clone(body)}, nil
	case REGISTER:
		if err := need(4); err != nil {
			return nil, err
		}
		return Register{TopicID: be.Uint16(body[0:2]), MsgID: be.Uint16(body[2:4]), TopicName: string(body[4:])}, nil
	case REGACK:
		if err := need(5); err != nil {
			return nil, err
		}
		return Regack{TopicID: be.Uint16(body[0:2]), MsgID: be.Uint16(body[2:4]), ReturnCode: ReturnCode(body[4])}, nil
	case PUBLISH:
		if err := need(5); err != nil {
			return nil, err
		}
		return Publish{Flags: Flags(body[0]), TopicID: be.Uint16(body[1:3]), MsgID: be.Uint16(body[3:5]), Data: clone(body[5:])}, nil
	case PUBACK:
		if err := need(5); err != nil {
			return nil, err
		}
		return Puback{TopicID: be.Uint16(body[0:2]), MsgID: be.Uint16(body[2:4]), ReturnCode: ReturnCode(body[4])}, nil
	case PUBREC, PUBREL, PUBCOMP, UNSUBACK:
		if err := need(2); err != nil {
			return nil, err
		}
		return MsgIDOnly{T: t, MsgID: be.Uint16(body[0:2])}, nil
	case SUBSCRIBE, UNSUBSCRIBE:
		if err := need(3); err != nil {
			return nil, err
		}
		s := Subscribe{Flags: Flags(body[0]), MsgID: be.Uint16(body[1:3])}
		if s.Flags.TopicType() == TopicPredefined {
			if err := need(5); err != nil {
				return nil, err
			}
			s.TopicID = be.Uint16(body[3:5])
		} else {
			s.TopicName = string(body[3:])
		}
		if t == UNSUBSCRIBE {
			return Unsubscribe(s), nil
		}
		return s, nil
	case SUBACK:
		if err := need(6); err != nil {
			return nil, err
		}
		return Suback{Flags: Flags(body[0]), TopicID: be.Uint16(body[1:3]), MsgID: be.Uint16(body[3:5]), ReturnCode: ReturnCode(body[5])}, nil
	case PINGREQ:
		return Pingreq{ClientID: string(body)}, nil
	case PINGRESP:
		return Pingresp{}, nil
	case DISCONNECT:
		if len(body) >= 2 {
			return Disconnect{Duration: be.Uint16(body[0:2])}, nil
		}
		return Disconnect{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported message type %s", ErrMalformed, t)
	}
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
