// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package packet provides support for encoding and decoding the binary
// payloads of volley frames. A [Builder] accumulates fixed-width big-endian
// integers, [Vint30] lengths and length-prefixed strings; a [Scanner] consumes
// them in the same order.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder accumulates the encoded contents of a payload. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Bool appends ok to b as a single byte, 1 for true and 0 for false.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the given bytes to b without framing.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// VPut appends vs to b prefixed by its length as a [Vint30].
func (b *Builder) VPut(vs []byte) { vput(b, vs) }

// VPutString appends s to b prefixed by its length as a [Vint30].
func (b *Builder) VPutString(s string) { vput(b, s) }

func vput[Str ~string | ~[]byte](b *Builder, s Str) {
	b.Grow(VLen(len(s)))
	b.buf = Vint30(len(s)).Append(b.buf)
	b.buf = append(b.buf, s...)
}

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Uint64 appends v to b in big-endian order.
func (b *Builder) Uint64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

// Vint30 appends v to b as a [Vint30]. It panics if v > [MaxVint30].
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// Len reports the number of bytes written to b.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the contents of b. The slice aliases the buffer of b, and is
// valid only until the next write.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow ensures that at least n more bytes can be written to b without
// reallocating.
func (b *Builder) Grow(n int) {
	if need := len(b.buf) + n; need > cap(b.buf) {
		nb := make([]byte, len(b.buf), max(need, 2*cap(b.buf)))
		copy(nb, b.buf)
		b.buf = nb
	}
}

// VLen reports the encoded size of an n-byte string with a [Vint30] length
// prefix.
func VLen(n int) int { return Vint30(n).Size() + n }

// A Scanner consumes encoded values from the head of a payload.
//
// Reading a [Vint30] from empty input reports [io.EOF]; any other read that
// runs out of input reports an error wrapping [io.ErrUnexpectedEOF].
type Scanner struct {
	rest []byte
	pos  int // offset of rest in the original input
}

// NewScanner constructs a [Scanner] that consumes input. The scanner does not
// modify input, but values it returns may alias it.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// take consumes and returns the next n bytes of input.
func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		return nil, fmt.Errorf("offset %d: need %d bytes, have %d: %w",
			s.pos, n, len(s.rest), io.ErrUnexpectedEOF)
	}
	out := s.rest[:n:n]
	s.rest = s.rest[n:]
	s.pos += n
	return out, nil
}

// Byte consumes a single byte.
func (s *Scanner) Byte() (byte, error) {
	b, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool consumes a single byte and reports whether it is non-zero.
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	return b != 0, err
}

// Uint16 consumes a big-endian uint16.
func (s *Scanner) Uint16() (uint16, error) { return fixed(s, 2, binary.BigEndian.Uint16) }

// Uint32 consumes a big-endian uint32.
func (s *Scanner) Uint32() (uint32, error) { return fixed(s, 4, binary.BigEndian.Uint32) }

// Uint64 consumes a big-endian uint64.
func (s *Scanner) Uint64() (uint64, error) { return fixed(s, 8, binary.BigEndian.Uint64) }

func fixed[T uint16 | uint32 | uint64](s *Scanner, n int, dec func([]byte) T) (T, error) {
	b, err := s.take(n)
	if err != nil {
		return 0, err
	}
	return dec(b), nil
}

// Vint30 consumes a [Vint30] value.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	b, err := s.take(int(s.rest[0]&3) + 1)
	if err != nil {
		return 0, err
	}
	var w [4]byte
	copy(w[:], b)
	return int(binary.LittleEndian.Uint32(w[:]) >> 2), nil
}

// End reports an error if any input remains unconsumed.
func (s *Scanner) End() error {
	if n := len(s.rest); n != 0 {
		return fmt.Errorf("offset %d: %d bytes of extra data", s.pos, n)
	}
	return nil
}

// Len reports the number of unconsumed input bytes.
func (s *Scanner) Len() int { return len(s.rest) }

// VGet consumes a string with a [Vint30] length prefix. A slice result
// aliases the input of s.
func VGet[Str ~string | ~[]byte](s *Scanner) (out Str, _ error) {
	n, err := s.Vint30()
	if err != nil {
		return out, err
	}
	b, err := s.take(n)
	if err != nil {
		return out, err
	}
	return Str(b), nil
}

// Vint30 is an unsigned 30-bit integer with a self-framing encoding of 1 to
// 4 bytes.
//
// The value is shifted left two bits and the low two bits hold the number of
// bytes following the first. The result is written in little-endian order,
// so a decoder learns the full length from the first byte:
//
//	v < 1<<6    1 byte
//	v < 1<<14   2 bytes
//	v < 1<<22   3 bytes
//	v < 1<<30   4 bytes
type Vint30 uint32

// MaxVint30 is the largest value representable as a [Vint30].
const MaxVint30 = 1<<30 - 1

// Size reports the encoded size of v in bytes, or -1 if v > [MaxVint30].
func (v Vint30) Size() int {
	for n := 1; n <= 4; n++ {
		if v < 1<<(8*n-2) {
			return n
		}
	}
	return -1
}

// Append appends the encoding of v to buf and returns the result. It panics
// if v > [MaxVint30].
func (v Vint30) Append(buf []byte) []byte {
	n := v.Size()
	if n < 0 {
		panic(fmt.Sprintf("vint30 value %d out of range", v))
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(v)<<2|uint32(n-1))
	return append(buf, w[:n]...)
}
