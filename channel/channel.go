// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the volley.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/creachadair/volley"
)

// Direct constructs a connected pair of in-memory channels that pass packets
// directly without encoding into binary. Packets sent to A are received by B
// and vice versa. Closing either end closes the pair.
func Direct() (A, B volley.Channel) {
	a2b := make(chan *volley.Packet)
	b2a := make(chan *volley.Packet)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	A = direct{send: a2b, recv: b2a, done: done, stop: stop}
	B = direct{send: b2a, recv: a2b, done: done, stop: stop}
	return
}

type direct struct {
	send chan<- *volley.Packet
	recv <-chan *volley.Packet
	done chan struct{}
	stop func()
}

// Send implements a method of the [volley.Channel] interface.
func (d direct) Send(pkt *volley.Packet) error {
	select {
	case <-d.done:
		return net.ErrClosed
	default:
	}
	select {
	case d.send <- pkt:
		return nil
	case <-d.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [volley.Channel] interface.
func (d direct) Recv() (*volley.Packet, error) {
	select {
	case pkt := <-d.recv:
		return pkt, nil
	case <-d.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [volley.Channel] interface.
func (d direct) Close() error { d.stop(); return nil }

// IO constructs a channel that receives from r and sends to wc. Closing the
// channel closes wc, and also r if it implements io.Closer.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	c := IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: []io.Closer{wc}}
	if rc, ok := r.(io.Closer); ok && rc != io.Closer(wc) {
		c.c = append(c.c, rc)
	}
	return c
}

// An IOChannel sends and receives packets on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c []io.Closer
}

// Send implements a method of the [volley.Channel] interface.
func (c IOChannel) Send(pkt *volley.Packet) error {
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [volley.Channel] interface.
func (c IOChannel) Recv() (*volley.Packet, error) {
	var pkt volley.Packet
	if _, err := pkt.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &pkt, nil
}

// Close implements a method of the [volley.Channel] interface.
func (c IOChannel) Close() error {
	var err error
	for _, cl := range c.c {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
