// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// A Request is an inbound request delivered to the application.
type Request struct {
	Session      *Session // the session that received the request
	ID           uint64   // the request ID assigned by the caller
	ExpectsReply bool     // whether the caller waits for a response
	Body         any      // the request body; a *Call for method calls
}

// Call returns the body of r as a method call, or nil if the body is not a
// *Call.
func (r *Request) Call() *Call {
	c, _ := r.Body.(*Call)
	return c
}

// Method returns the method ID of r, or 0 if r is not a method call.
func (r *Request) Method() uint32 {
	if c := r.Call(); c != nil {
		return c.Method
	}
	return 0
}

// A ResponseWriter delivers the response to one inbound request. Only the
// first Reply or Fail takes effect; later calls report ErrAlreadyReplied.
// If the caller does not expect a reply, the response is discarded.
//
// The methods of a ResponseWriter do not block and are safe to call from any
// goroutine.
type ResponseWriter struct {
	s     *Session
	id    uint64
	reply bool
	done  atomic.Bool
}

// RequestID reports the request ID of the request w responds to.
func (w *ResponseWriter) RequestID() uint64 { return w.id }

// Reply sends a successful response with the given body.
func (w *ResponseWriter) Reply(body any) error {
	return w.write(&ResponseMessage{ID: w.id, Code: CodeSuccess, Body: body})
}

// Fail sends a failure response for err. If err is or wraps a *RemoteError,
// its code and message are sent; otherwise the response has code
// CodeServiceError and the text of err. Fail(nil) is equivalent to Reply(nil).
func (w *ResponseWriter) Fail(err error) error {
	if err == nil {
		return w.Reply(nil)
	}
	re := remoteErrorOf(err)
	return w.write(&ResponseMessage{ID: w.id, Code: re.Code, Message: re.Message})
}

func (w *ResponseWriter) write(rsp *ResponseMessage) error {
	if !w.done.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	} else if !w.reply {
		return nil
	}
	if !w.s.post(func() { w.s.writeReply(rsp) }) {
		return ErrSessionClosed
	}
	return nil
}

// A Dispatcher delivers inbound traffic to the application. Its methods are
// called on the application executor of the session.
type Dispatcher interface {
	// DispatchMessage delivers the body of a one-way message.
	DispatchMessage(ctx context.Context, s *Session, body any)

	// DispatchRequest delivers a request. The dispatcher must eventually call
	// exactly one of w.Reply or w.Fail.
	DispatchRequest(ctx context.Context, req *Request, w *ResponseWriter)
}

// A CallHandler processes a request from the remote peer. A handler can
// obtain the session from its context argument using ContextSession.
//
// By default, the error reported by a handler is returned to the caller with
// code CodeServiceError and the text of the error as its message. A handler
// may return a *RemoteError to control the code and message.
type CallHandler func(context.Context, *Request) (any, error)

// A MessageHandler processes the body of a one-way message from the remote
// peer.
type MessageHandler func(ctx context.Context, body any)

// Mux is a Dispatcher that routes requests by method ID. A zero Mux is ready
// for use. Its methods are safe for concurrent use.
type Mux struct {
	μ     sync.Mutex
	calls map[uint32]CallHandler
	onmsg MessageHandler
}

// Handle registers a handler for the specified method ID. Passing a nil
// handler removes any handler for the ID.
//
// As a special case, if method == 0 the handler is called for any request
// with a method ID that does not have a more specific handler registered,
// and for requests whose body is not a *Call.
func (m *Mux) Handle(method uint32, h CallHandler) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.calls == nil {
		m.calls = make(map[uint32]CallHandler)
	}
	if h == nil {
		delete(m.calls, method)
	} else {
		m.calls[method] = h
	}
}

// HandleMessage registers the handler for one-way messages. Passing nil
// causes one-way messages to be discarded.
func (m *Mux) HandleMessage(h MessageHandler) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.onmsg = h
}

func (m *Mux) lookup(method uint32) (CallHandler, bool) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if h, ok := m.calls[method]; ok {
		return h, true
	}
	const wildcardID = 0
	h, ok := m.calls[wildcardID]
	return h, ok
}

// DispatchMessage implements a method of the [Dispatcher] interface.
func (m *Mux) DispatchMessage(ctx context.Context, s *Session, body any) {
	m.μ.Lock()
	h := m.onmsg
	m.μ.Unlock()
	if h == nil {
		return
	}
	defer func() {
		if x := recover(); x != nil {
			s.log.Error("message handler panicked (recovered)", "session", s.id, "panic", x)
		}
	}()
	h(ctx, body)
}

// DispatchRequest implements a method of the [Dispatcher] interface.
func (m *Mux) DispatchRequest(ctx context.Context, req *Request, w *ResponseWriter) {
	h, ok := m.lookup(req.Method())
	if !ok {
		w.Fail(&RemoteError{
			Code:    CodeUnknownMethod,
			Message: fmt.Sprintf("method %d", req.Method()),
		})
		return
	}
	v, err := func() (_ any, err error) {
		// Ensure a panic out of the handler is turned into a graceful response.
		defer func() {
			if x := recover(); x != nil && err == nil {
				err = fmt.Errorf("handler panicked (recovered): %v", x)
			}
		}()
		return h(ctx, req)
	}()
	if err != nil {
		w.Fail(err)
	} else {
		w.Reply(v)
	}
}

// dispatchHandler is the tail of the pipeline. It hands inbound messages and
// requests to the dispatcher on the application executor.
type dispatchHandler struct{ Passthrough }

func (dispatchHandler) Read(hc *HandlerContext, msg any) error {
	s := hc.Session()
	switch m := msg.(type) {
	case *inboundRequest:
		s.dispatch(func(ctx context.Context) { s.disp.DispatchRequest(ctx, m.req, m.w) })
	case *OneWayMessage:
		s.dispatch(func(ctx context.Context) { s.disp.DispatchMessage(ctx, s, m.Body) })
	default:
		s.log.Debug("unhandled inbound message", "session", s.id, "type", fmt.Sprintf("%T", msg))
	}
	return nil
}
