// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"fmt"
	"math/bits"
	"strings"
)

// MaxArgs is the maximum number of arguments of a Call.
const MaxArgs = 64

// ArgSet is a set of argument positions of a Call. The zero value is empty.
type ArgSet struct{ bits uint64 }

// Args returns an ArgSet containing the given positions.
// It panics if a position is not in [0, MaxArgs).
func Args(pos ...int) ArgSet {
	var a ArgSet
	for _, p := range pos {
		a = a.Add(p)
	}
	return a
}

// Add returns a copy of a with position i added.
// It panics if i is not in [0, MaxArgs).
func (a ArgSet) Add(i int) ArgSet {
	if i < 0 || i >= MaxArgs {
		panic(fmt.Sprintf("argument position %d out of range", i))
	}
	return ArgSet{bits: a.bits | 1<<i}
}

// Has reports whether position i is in a.
func (a ArgSet) Has(i int) bool { return i >= 0 && i < MaxArgs && a.bits&(1<<i) != 0 }

// IsEmpty reports whether a has no positions.
func (a ArgSet) IsEmpty() bool { return a.bits == 0 }

// Len reports the number of positions in a.
func (a ArgSet) Len() int { return bits.OnesCount64(a.bits) }

// Positions returns the positions of a in increasing order.
func (a ArgSet) Positions() []int {
	var out []int
	for w := a.bits; w != 0; w &= w - 1 {
		out = append(out, bits.TrailingZeros64(w))
	}
	return out
}

func (a ArgSet) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range a.Positions() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprint(&sb, p)
	}
	sb.WriteByte('}')
	return sb.String()
}

// A Call is the body of a method call request. Method identifies the method
// on the remote peer and Args are its arguments.
//
// Arguments at positions in Lazy are converted to []byte by the codec on the
// session loop just before the request is sent, so the remote handler
// receives the encoded form. Arguments at positions in Pre are []byte values
// that the remote session decodes with its codec before dispatch, so the
// remote handler receives the decoded value.
type Call struct {
	Method uint32
	Args   []any
	Lazy   ArgSet
	Pre    ArgSet
}

// NewCall returns a call of method with the given arguments.
func NewCall(method uint32, args ...any) *Call {
	return &Call{Method: method, Args: args}
}

// WithLazy returns c after adding the given positions to its lazy set.
func (c *Call) WithLazy(pos ...int) *Call {
	for _, p := range pos {
		c.Lazy = c.Lazy.Add(p)
	}
	return c
}

// WithPre returns c after adding the given positions to its pre set.
func (c *Call) WithPre(pos ...int) *Call {
	for _, p := range pos {
		c.Pre = c.Pre.Add(p)
	}
	return c
}

// Arg returns the argument at position i, or nil if i is out of range.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

func (c *Call) String() string {
	return fmt.Sprintf("Call(Method=%d, %d args, Lazy=%v, Pre=%v)", c.Method, len(c.Args), c.Lazy, c.Pre)
}

// serializeLazy returns a new call in which each lazy argument that is not
// already []byte is replaced by its encoding. The result has an empty lazy
// set. The receiver is not modified. If c has no lazy arguments it is
// returned unchanged.
func (c *Call) serializeLazy(codec Codec) (*Call, error) {
	if c.Lazy.IsEmpty() {
		return c, nil
	}
	out := &Call{Method: c.Method, Args: cloneArgs(c.Args), Pre: c.Pre}
	for _, i := range c.Lazy.Positions() {
		if i >= len(out.Args) {
			break
		}
		switch out.Args[i].(type) {
		case []byte, nil:
			continue
		}
		data, err := codec.Encode(out.Args[i])
		if err != nil {
			return nil, &CodecError{Op: "encode", Err: fmt.Errorf("lazy argument %d: %w", i, err)}
		}
		out.Args[i] = data
	}
	return out, nil
}

// deserializePre returns a new call in which each pre argument that is
// []byte is replaced by its decoding. The result has an empty pre set. The
// receiver is not modified. If c has no pre arguments it is returned
// unchanged.
func (c *Call) deserializePre(codec Codec) (*Call, error) {
	if c.Pre.IsEmpty() {
		return c, nil
	}
	out := &Call{Method: c.Method, Args: cloneArgs(c.Args), Lazy: c.Lazy}
	for _, i := range c.Pre.Positions() {
		if i >= len(out.Args) {
			break
		}
		data, ok := out.Args[i].([]byte)
		if !ok {
			continue
		}
		v, err := codec.Decode(data)
		if err != nil {
			return nil, &CodecError{Op: "decode", Err: fmt.Errorf("pre argument %d: %w", i, err)}
		}
		out.Args[i] = v
	}
	return out, nil
}

func cloneArgs(args []any) []any {
	if args == nil {
		return nil
	}
	return append(make([]any, 0, len(args)), args...)
}
