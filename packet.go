// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Version is the protocol version written in every frame header.
const Version = 0

// maxPayload bounds the payload size accepted by ReadFrom.
const maxPayload = 1 << 30

// Packet is the framed transport unit exchanged on a Channel. Its payload
// carries either a single message or a batch of messages.
type Packet struct {
	Version byte
	Type    PacketType
	Payload []byte
}

// Frame header layout: the magic "VL", the version, the packet type, and the
// payload length as a big-endian uint32.
const headerLen = 8

type header [headerLen]byte

func (h *header) valid() bool       { return h[0] == 'V' && h[1] == 'L' && h[2] == Version }
func (h *header) size() uint32      { return binary.BigEndian.Uint32(h[4:]) }
func (h *header) ptype() PacketType { return PacketType(h[3]) }

// Encode returns the binary framing of p.
func (p Packet) Encode() []byte {
	out := make([]byte, headerLen, headerLen+len(p.Payload))
	out[0], out[1], out[2], out[3] = 'V', 'L', p.Version, byte(p.Type)
	binary.BigEndian.PutUint32(out[4:], uint32(len(p.Payload)))
	return append(out, p.Payload...)
}

// WriteTo writes the binary framing of p to w. It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	nw, err := w.Write(p.Encode())
	return int64(nw), err
}

// ReadFrom reads one framed packet from r into p. It satisfies io.ReaderFrom.
//
// An error before any header byte is read is returned as is, so a clean end
// of input reports io.EOF. An invalid
// header is reported as a *ProtocolError; a truncated frame is not, since it
// indicates a failed transport rather than a misbehaving peer.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var h header
	nr, err := io.ReadFull(r, h[:])
	if nr == 0 && err != nil {
		return 0, err
	} else if err != nil {
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	if !h.valid() {
		return int64(nr), protocolErrorf(ErrCodeBadFrame, "invalid frame header %q", h[:3])
	}
	n := h.size()
	if n > maxPayload {
		return int64(nr), protocolErrorf(ErrCodeBadFrame, "payload too large (%d bytes)", n)
	}
	*p = Packet{Version: h[2], Type: h.ptype()}
	if n == 0 {
		return int64(nr), nil
	}
	p.Payload = make([]byte, n)
	np, err := io.ReadFull(r, p.Payload)
	if err != nil {
		err = fmt.Errorf("short payload: %w", err)
	}
	return int64(nr + np), err
}

// String returns a human-friendly rendering of the packet.
func (p *Packet) String() string {
	pay := fmt.Sprintf("[%d bytes]", len(p.Payload))
	if env, err := decodeEnvelope(p); err == nil {
		pay = env.(fmt.Stringer).String()
	}
	return fmt.Sprintf("Packet(VL%v, %v, %s)", p.Version, p.Type, pay)
}

// PacketType describes the structure of a packet payload.
type PacketType byte

const (
	PacketSingle PacketType = 1 // one message
	PacketBatch  PacketType = 2 // several messages sharing one ack
)

func (p PacketType) String() string {
	switch p {
	case PacketSingle:
		return "SINGLE"
	case PacketBatch:
		return "BATCH"
	default:
		return fmt.Sprintf("TYPE:%d", byte(p))
	}
}
