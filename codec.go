// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"bytes"
	"encoding/gob"
)

// A Codec converts message bodies to and from binary form. A session calls
// its codec only from its own loop, so implementations need not be safe for
// concurrent use unless they are shared among sessions.
//
// Values of type []byte are never passed to a codec: the session sends them
// as raw bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// GobCodec is a Codec that encodes values with encoding/gob. Concrete types
// other than the built-in basic types must be registered with gob.Register
// on both peers before use.
type GobCodec struct{}

// gobBox carries an interface value so gob records its concrete type.
type gobBox struct{ V any }

// Encode implements a method of the [Codec] interface.
func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobBox{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements a method of the [Codec] interface.
func (GobCodec) Decode(data []byte) (any, error) {
	var box gobBox
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&box); err != nil {
		return nil, err
	}
	return box.V, nil
}
