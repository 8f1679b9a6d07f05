// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"context"
	"sync"
)

// A completion receives the outcome of a call. The only implementations are
// *Promise and Callback.
type completion interface {
	complete(s *Session, v any, err error)
}

// A Promise is a handle to the outcome of a call issued by Session.Go. It is
// safe for concurrent use by multiple goroutines.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newPromise() *Promise { return &Promise{done: make(chan struct{})} }

func (p *Promise) complete(_ *Session, v any, err error) { p.resolve(v, err) }

func (p *Promise) resolve(v any, err error) {
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
	})
}

// Done returns a channel that is closed when the outcome of p is available.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Result reports the outcome of p. It blocks until the outcome is available.
// A non-nil error has concrete type *CallError.
func (p *Promise) Result() (any, error) {
	<-p.done
	return p.value, p.err
}

// Wait blocks until the outcome of p is available or ctx ends. If ctx ends
// first, Wait reports the error from ctx; the call itself is not affected
// and still completes when its response arrives or its deadline passes.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.value, p.err
	}
}

// A Callback receives the outcome of a call issued by Session.CallAsync. It
// is executed on the application executor of the session. Exactly one of
// its arguments is meaningful: a non-nil error has concrete type *CallError.
type Callback func(value any, err error)

func (cb Callback) complete(s *Session, v any, err error) {
	if s == nil || s.app == nil || !s.app.Execute(func() { cb(v, err) }) {
		cb(v, err) // the executor has stopped
	}
}
