// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for managing and testing sessions.
package peers

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/volley"
	"github.com/creachadair/volley/channel"
)

// Local is a pair of in-memory connected sessions, suitable for testing.
type Local struct {
	A *volley.Session
	B *volley.Session
}

// Stop shuts down both sessions and blocks until both have exited.
func (p *Local) Stop() error { return errors.Join(p.A.Stop(), p.B.Stop()) }

// NewLocal creates a pair of in-memory connected sessions with the default
// configuration, that communicate via a direct channel without encoding.
func NewLocal() *Local {
	return Connect(volley.NewSession(volley.DefaultConfig()), volley.NewSession(volley.DefaultConfig()))
}

// Connect starts the unstarted sessions a and b on a direct channel connecting
// them, and returns the pair.
func Connect(a, b *volley.Session) *Local {
	a2b, b2a := channel.Direct()
	return &Local{A: a.Start(a2b), B: b.Start(b2a)}
}

// An Accepter accepts channels from remote peers.
type Accepter interface {
	Accept(context.Context) (volley.Channel, error)
}

// Loop accepts channels from acc and starts a session on each, constructed
// by newSession. It returns when acc fails; a closed acc is not an error.
// Loop waits for the sessions it started to exit before returning, and ending
// ctx closes all of them.
func Loop(ctx context.Context, acc Accepter, newSession func() *volley.Session) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			g.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s := newSession().Start(ch)
		stop := context.AfterFunc(ctx, s.Close)
		g.Go(func() error {
			defer stop()
			return s.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

// Accept implements the [Accepter] interface. Since a net.Listener does not
// observe a context, the listener is closed if ctx ends during the call.
func (n netAccepter) Accept(ctx context.Context) (volley.Channel, error) {
	stop := context.AfterFunc(ctx, func() { n.Listener.Close() })
	defer stop()

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// Dial connects to the address on the named network and returns a channel
// for the connection.
func Dial(ctx context.Context, network, addr string) (volley.Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}
