// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"errors"
	"fmt"

	"github.com/creachadair/volley/packet"
)

// SingleMessage is the payload of a PacketSingle packet. It carries one
// encoded message with its sequence number, and the acknowledgement of the
// sender. A message with Seq == 0 is an unsequenced control message that is
// not retained for retransmission.
type SingleMessage struct {
	Ack  uint64
	Seq  uint64
	Data []byte
}

// Encode encodes m in binary format.
func (m SingleMessage) Encode() []byte {
	var b packet.Builder
	b.Grow(16 + packet.VLen(len(m.Data)))
	b.Uint64(m.Ack)
	b.Uint64(m.Seq)
	b.VPut(m.Data)
	return b.Bytes()
}

// UnmarshalBinary decodes data into a single message payload.
// It implements encoding.BinaryUnmarshaler.
func (m *SingleMessage) UnmarshalBinary(data []byte) (err error) {
	s := packet.NewScanner(data)
	if m.Ack, err = s.Uint64(); err != nil {
		return fmt.Errorf("invalid ack: %w", err)
	}
	if m.Seq, err = s.Uint64(); err != nil {
		return fmt.Errorf("invalid sequence: %w", err)
	}
	if m.Data, err = packet.VGet[[]byte](s); err != nil {
		return fmt.Errorf("invalid message data: %w", err)
	}
	return s.End()
}

// String returns a human-friendly rendering of the message.
func (m SingleMessage) String() string {
	return fmt.Sprintf("Single(Ack=%d, Seq=%d, [%d bytes])", m.Ack, m.Seq, len(m.Data))
}

// minEntrySize is the encoded size of a batch entry with empty data.
const minEntrySize = 9

// An Entry is one sequenced message of a batch.
type Entry struct {
	Seq  uint64
	Data []byte
}

// BatchMessage is the payload of a PacketBatch packet. It carries several
// sequenced messages in order, sharing one acknowledgement.
type BatchMessage struct {
	Ack     uint64
	Entries []Entry
}

// Encode encodes m in binary format.
func (m BatchMessage) Encode() []byte {
	var b packet.Builder
	b.Uint64(m.Ack)
	b.Vint30(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		b.Uint64(e.Seq)
		b.VPut(e.Data)
	}
	return b.Bytes()
}

// UnmarshalBinary decodes data into a batch message payload.
// It implements encoding.BinaryUnmarshaler.
func (m *BatchMessage) UnmarshalBinary(data []byte) (err error) {
	s := packet.NewScanner(data)
	if m.Ack, err = s.Uint64(); err != nil {
		return fmt.Errorf("invalid ack: %w", err)
	}
	n, err := s.Vint30()
	if err != nil {
		return fmt.Errorf("invalid entry count: %w", err)
	} else if n == 0 {
		return errors.New("empty batch")
	} else if n > s.Len()/minEntrySize {
		return fmt.Errorf("entry count %d exceeds payload (%d bytes)", n, s.Len())
	}
	m.Entries = make([]Entry, n)
	for i := range m.Entries {
		if m.Entries[i].Seq, err = s.Uint64(); err != nil {
			return fmt.Errorf("entry %d: invalid sequence: %w", i, err)
		}
		if m.Entries[i].Data, err = packet.VGet[[]byte](s); err != nil {
			return fmt.Errorf("entry %d: invalid data: %w", i, err)
		}
	}
	return s.End()
}

// String returns a human-friendly rendering of the message.
func (m BatchMessage) String() string {
	var first, last uint64
	if len(m.Entries) != 0 {
		first, last = m.Entries[0].Seq, m.Entries[len(m.Entries)-1].Seq
	}
	return fmt.Sprintf("Batch(Ack=%d, Seq=%d..%d, %d entries)", m.Ack, first, last, len(m.Entries))
}

// decodeEnvelope parses the payload of pkt into a *SingleMessage or a
// *BatchMessage. Any error it reports is protocol fatal.
func decodeEnvelope(pkt *Packet) (any, error) {
	switch pkt.Type {
	case PacketSingle:
		m := new(SingleMessage)
		if err := m.UnmarshalBinary(pkt.Payload); err != nil {
			return nil, protocolErrorf(ErrCodeBadFrame, "single message: %v", err)
		}
		return m, nil
	case PacketBatch:
		m := new(BatchMessage)
		if err := m.UnmarshalBinary(pkt.Payload); err != nil {
			return nil, protocolErrorf(ErrCodeBadFrame, "batch message: %v", err)
		}
		return m, nil
	default:
		return nil, protocolErrorf(ErrCodeBadFrame, "unknown packet type %v", pkt.Type)
	}
}

// A Payload is the decoded content of a message. The concrete type is one of
// *OneWayMessage, *RequestMessage, *ResponseMessage, PingMessage, or
// PongMessage.
type Payload interface {
	payloadKind() byte
}

// OneWayMessage is an application message that does not expect a response.
type OneWayMessage struct {
	Body any
}

// RequestMessage is a call to the remote peer. If ExpectsReply is false the
// remote peer does not send a response.
type RequestMessage struct {
	ID           uint64
	ExpectsReply bool
	Body         any
}

// ResponseMessage is the reply to a RequestMessage with the same ID.
type ResponseMessage struct {
	ID      uint64
	Code    ResultCode
	Message string // error text, if Code != CodeSuccess
	Body    any
}

// PingMessage asks the remote peer to reply with a PongMessage.
type PingMessage struct{}

// PongMessage is the reply to a PingMessage.
type PongMessage struct{}

const (
	kindOneWay   = 1
	kindRequest  = 2
	kindResponse = 3
	kindPing     = 4
	kindPong     = 5
)

func (*OneWayMessage) payloadKind() byte   { return kindOneWay }
func (*RequestMessage) payloadKind() byte  { return kindRequest }
func (*ResponseMessage) payloadKind() byte { return kindResponse }
func (PingMessage) payloadKind() byte      { return kindPing }
func (PongMessage) payloadKind() byte      { return kindPong }

// isControl reports whether p is sent outside the sequenced window.
func isControl(p Payload) bool {
	switch p.(type) {
	case PingMessage, PongMessage:
		return true
	}
	return false
}

// Value tags.
const (
	tagNil   = 0
	tagRaw   = 1 // []byte, sent as is
	tagValue = 2 // encoded by the codec
	tagCall  = 3 // a *Call, only as a request body
)

// encodePayload encodes p in binary format, using codec for bodies. Any
// failure is reported as a *CodecError.
func encodePayload(codec Codec, p Payload) ([]byte, error) {
	var b packet.Builder
	b.Put(p.payloadKind())
	var err error
	switch t := p.(type) {
	case *OneWayMessage:
		err = putValue(&b, codec, t.Body, false)
	case *RequestMessage:
		b.Uint64(t.ID)
		b.Bool(t.ExpectsReply)
		err = putValue(&b, codec, t.Body, true)
	case *ResponseMessage:
		b.Uint64(t.ID)
		b.Uint16(uint16(t.Code))
		b.VPutString(t.Message)
		err = putValue(&b, codec, t.Body, false)
	case PingMessage, PongMessage:
		// no content
	default:
		panic(fmt.Sprintf("unknown payload type %T", p))
	}
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return b.Bytes(), nil
}

func putValue(b *packet.Builder, codec Codec, v any, callOK bool) error {
	switch t := v.(type) {
	case nil:
		b.Put(tagNil)
	case []byte:
		b.Put(tagRaw)
		b.VPut(t)
	case *Call:
		if !callOK {
			return fmt.Errorf("call not permitted in %T", v)
		}
		b.Put(tagCall)
		b.Uint32(t.Method)
		b.Uint64(t.Lazy.bits)
		b.Uint64(t.Pre.bits)
		b.Vint30(uint32(len(t.Args)))
		for i, arg := range t.Args {
			if err := putValue(b, codec, arg, false); err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
		}
	default:
		data, err := codec.Encode(v)
		if err != nil {
			return err
		}
		b.Put(tagValue)
		b.VPut(data)
	}
	return nil
}

// decodePayload decodes data into a Payload, using codec for bodies. Any
// failure is reported as a *CodecError. If a request or response failed after
// its header was read, the result is also non-nil, with its ID set and no
// body.
func decodePayload(codec Codec, data []byte) (Payload, error) {
	p, err := parsePayload(codec, packet.NewScanner(data))
	if err != nil {
		return p, &CodecError{Op: "decode", Err: err}
	}
	return p, nil
}

func parsePayload(codec Codec, s *packet.Scanner) (_ Payload, err error) {
	kind, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("missing payload kind: %w", err)
	}
	var out Payload
	switch kind {
	case kindOneWay:
		m := new(OneWayMessage)
		if m.Body, err = getValue(s, codec, false); err != nil {
			return nil, err
		}
		out = m
	case kindRequest:
		m := new(RequestMessage)
		if m.ID, err = s.Uint64(); err != nil {
			return nil, fmt.Errorf("invalid request ID: %w", err)
		}
		if m.ExpectsReply, err = s.Bool(); err != nil {
			return nil, fmt.Errorf("invalid reply flag: %w", err)
		}
		if m.Body, err = getValue(s, codec, true); err != nil {
			return clearBody(m), err
		}
		out = m
	case kindResponse:
		m := new(ResponseMessage)
		if m.ID, err = s.Uint64(); err != nil {
			return nil, fmt.Errorf("invalid request ID: %w", err)
		}
		code, err := s.Uint16()
		if err != nil {
			return nil, fmt.Errorf("invalid result code: %w", err)
		}
		m.Code = ResultCode(code)
		if m.Message, err = packet.VGet[string](s); err != nil {
			return nil, fmt.Errorf("invalid error message: %w", err)
		}
		if m.Body, err = getValue(s, codec, false); err != nil {
			return clearBody(m), err
		}
		out = m
	case kindPing:
		out = PingMessage{}
	case kindPong:
		out = PongMessage{}
	default:
		return nil, fmt.Errorf("unknown payload kind %d", kind)
	}
	if err := s.End(); err != nil {
		return clearBody(out), err
	}
	return out, nil
}

// clearBody returns p with its body removed, or nil if p has no ID.
func clearBody(p Payload) Payload {
	switch t := p.(type) {
	case *RequestMessage:
		t.Body = nil
		return t
	case *ResponseMessage:
		t.Body = nil
		return t
	}
	return nil
}

func getValue(s *packet.Scanner, codec Codec, callOK bool) (any, error) {
	tag, err := s.Byte()
	if err != nil {
		return nil, fmt.Errorf("missing value tag: %w", err)
	}
	switch tag {
	case tagNil:
		return nil, nil
	case tagRaw:
		data, err := packet.VGet[[]byte](s)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), data...), nil
	case tagValue:
		data, err := packet.VGet[[]byte](s)
		if err != nil {
			return nil, err
		}
		return codec.Decode(data)
	case tagCall:
		if !callOK {
			return nil, errors.New("call not permitted here")
		}
		return getCall(s, codec)
	default:
		return nil, fmt.Errorf("unknown value tag %d", tag)
	}
}

func getCall(s *packet.Scanner, codec Codec) (*Call, error) {
	var c Call
	var err error
	if c.Method, err = s.Uint32(); err != nil {
		return nil, fmt.Errorf("invalid method: %w", err)
	}
	if c.Lazy.bits, err = s.Uint64(); err != nil {
		return nil, fmt.Errorf("invalid lazy set: %w", err)
	}
	if c.Pre.bits, err = s.Uint64(); err != nil {
		return nil, fmt.Errorf("invalid pre set: %w", err)
	}
	n, err := s.Vint30()
	if err != nil {
		return nil, fmt.Errorf("invalid argument count: %w", err)
	} else if n > MaxArgs {
		return nil, fmt.Errorf("too many arguments (%d > %d)", n, MaxArgs)
	}
	if n > 0 {
		c.Args = make([]any, n)
	}
	for i := range c.Args {
		if c.Args[i], err = getValue(s, codec, false); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return &c, nil
}
