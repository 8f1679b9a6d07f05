// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package catalog gives volley method IDs readable names.
//
// Only numeric method IDs travel on the wire. A Catalog lets both ends of a
// session agree on names for them, either by building the same catalog in
// code or by fetching one from the peer that serves it:
//
//	cat := catalog.New().Add("login", "enter_scene", "leave_scene").Set("gm_kick", 125)
//
//	// Server side.
//	cat.Bind(srv).
//	  Handle("login", handleLogin).
//	  Handle("enter_scene", handleEnter)
//
//	// Client side.
//	v, err := cat.Bind(cli).Call(ctx, "login", "player-1")
//
// Add allocates IDs above the largest ID already in use, so the same sequence
// of Add and Set calls always yields the same IDs.
//
// To publish a catalog, register its Handler under a method of its own:
//
//	cat.Add("catalog")
//	cat.Bind(srv).Handle("catalog", cat.Handler)
//
// and on the other side fetch and Decode the result.
package catalog

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/volley"
	"github.com/creachadair/volley/packet"
)

// A Catalog maps method names to IDs, optionally bound to a session.
// Copies of a Catalog share the same mapping.
type Catalog struct {
	session *volley.Session
	*names
}

type names struct {
	byName map[string]uint32
	byID   map[uint32]string
}

// New returns an empty unbound catalog.
func New() Catalog {
	return Catalog{names: &names{byName: make(map[string]uint32), byID: make(map[uint32]string)}}
}

// Add assigns each name the next unused positive ID, in order, and returns c.
func (c Catalog) Add(methods ...string) Catalog {
	next := uint32(1)
	if len(c.byID) != 0 {
		next = slices.Max(slices.Collect(maps.Keys(c.byID))) + 1
	}
	for _, name := range methods {
		c.Set(name, next)
		next++
	}
	return c
}

// Set maps name to id in c, replacing any previous mapping for name, and
// returns c. Set must not be called concurrently with other uses of c.
func (c Catalog) Set(name string, id uint32) Catalog {
	if old, ok := c.byName[name]; ok && c.byID[old] == name {
		delete(c.byID, old)
	}
	c.byName[name] = id
	c.byID[id] = name
	return c
}

// Bind returns a copy of c that shares its mapping and is bound to s.
func (c Catalog) Bind(s *volley.Session) Catalog { return Catalog{session: s, names: c.names} }

// Session returns the session c is bound to, or nil.
func (c Catalog) Session() *volley.Session { return c.session }

// Lookup returns the ID of name, or 0 if name is not in c.
func (c Catalog) Lookup(name string) uint32 { return c.byName[name] }

// Methods returns a copy of the name to ID mapping of c.
func (c Catalog) Methods() map[string]uint32 { return maps.Clone(c.byName) }

// Name returns the name mapped to id, or "" if there is none.
func (c Catalog) Name(id uint32) string { return c.byID[id] }

// Call calls the named method on the peer of the bound session and waits for
// its result. An unknown name calls method 0.
func (c Catalog) Call(ctx context.Context, name string, args ...any) (any, error) {
	return c.session.Call(ctx, volley.NewCall(c.byName[name], args...))
}

// Invoke sends a call to the named method without waiting for a reply. An
// unknown name calls method 0.
func (c Catalog) Invoke(name string, args ...any) error {
	return c.session.Invoke(volley.NewCall(c.byName[name], args...))
}

// Handle registers h for the named method on the bound session and returns c.
// It panics if name is not in c.
func (c Catalog) Handle(name string, h volley.CallHandler) Catalog {
	id, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("method %q not known", name))
	}
	c.session.Handle(id, h)
	return c
}

// Encode returns the binary form of c: a vint30 count, then for each name in
// lexicographic order a vint30-prefixed name and a big-endian uint32 ID. An
// empty catalog encodes as no bytes.
func (c Catalog) Encode() []byte {
	if len(c.byName) == 0 {
		return nil
	}
	var b packet.Builder
	b.Vint30(uint32(len(c.byName)))
	for _, name := range slices.Sorted(maps.Keys(c.byName)) {
		b.VPutString(name)
		b.Uint32(c.byName[name])
	}
	return b.Bytes()
}

// Decode replaces the contents of c with the catalog encoded in data.
// The session binding of c is not changed.
func (c *Catalog) Decode(data []byte) error {
	if c.names == nil {
		*c = Catalog{session: c.session, names: New().names}
	} else {
		clear(c.byName)
		clear(c.byID)
	}
	if len(data) == 0 {
		return nil
	}
	s := packet.NewScanner(data)
	n, err := s.Vint30()
	if err != nil {
		return fmt.Errorf("invalid method count: %w", err)
	}
	for i := range n {
		name, err := packet.VGet[string](s)
		if err != nil {
			return fmt.Errorf("method %d: invalid name: %w", i, err)
		}
		id, err := s.Uint32()
		if err != nil {
			return fmt.Errorf("method %q: invalid ID: %w", name, err)
		}
		c.Set(name, id)
	}
	return s.End()
}

// Handler is a volley.CallHandler that replies with the encoding of c.
func (c Catalog) Handler(context.Context, *volley.Request) (any, error) {
	return c.Encode(), nil
}
