// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package volley implements a session protocol for server-to-server traffic
// in a game backend.
//
// A session runs over a reliable stream transport and adds what the stream
// alone does not provide across reconnects: every message is sequenced and
// kept until the remote peer acknowledges it, acknowledgements ride on every
// outgoing frame, small writes can be batched, unacknowledged messages are
// retransmitted when a transport is reattached, and duplicates are dropped by
// the receiver. On top of this, calls are correlated with their responses and
// expire on a timer.
//
// # Sessions
//
// The core type defined by this package is the [Session]. To create and start
// a session on a channel connected to another session:
//
//	s := volley.NewSession(volley.DefaultConfig()).Start(ch)
//
// The session runs until [Session.Stop] is called, the channel is closed by
// the remote peer, or a protocol fatal error occurs. Call [Session.Wait] to
// wait for the session to exit and return its status:
//
//	if err := s.Wait(); err != nil {
//	   log.Fatalf("Session failed: %v", err)
//	}
//
// All state of a session is owned by one goroutine, the session loop.
// Methods of the session hand their work to the loop in submission order, so
// they are safe for concurrent use. Application code, meaning message and
// request handlers, call callbacks, and lifecycle notifications, runs on a
// separate [Executor], by default one [Loop] per session.
//
// # Messages
//
// To send a one-way message:
//
//	err := s.Send("hello")
//
// Message bodies are encoded by the session [Codec]; values of type []byte
// are sent as they are. Register a handler for inbound messages with
// [Session.HandleMessage].
//
// # Calls
//
// A call is a request paired with its response. The body of a method call
// is a [*Call] naming a method ID and its arguments:
//
//	v, err := s.Call(ctx, volley.NewCall(7, "player-1", 42))
//
// [Session.Go] returns a [Promise] instead of blocking, and
// [Session.CallAsync] runs a [Callback] on the application executor. Every
// call completes exactly once: with the response value, a [*RemoteError]
// from the remote handler, [ErrTimeout] when no response arrives within the
// configured timeout, or [ErrCanceled] when the session loses its transport
// or closes first. Errors reported for calls have concrete type [*CallError].
//
// To handle calls from the remote peer, register a [CallHandler]:
//
//	s.Handle(7, func(ctx context.Context, req *volley.Request) (any, error) {
//	   return lookupScore(req.Call().Args...)
//	})
//
// # Pipeline
//
// Inside a session, traffic passes through a chain of [Handler] stages: the
// transport framer, the sequencing and acknowledgement window, the keepalive
// handler, the call engine, any stages added with [Session.Use], and the
// application dispatcher.
//
// # Reconnection
//
// If [Config.ReconnectTimeout] is positive, a transport failure suspends the
// session instead of closing it. Pending calls fail with [ErrCanceled], but
// sequenced messages are kept. [Session.Reattach] resumes the session on a new
// channel and retransmits everything the remote peer has not acknowledged.
//
// # Metrics
//
// Sessions maintain a collection of metrics while running, shared globally
// among all sessions. Use [Session.Metrics], or [Metrics] where no session is
// at hand, to obtain the [expvar.Map].
package volley
