// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// A Channel is a reliable ordered stream of packets shared by two sessions.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A PacketLogger logs a packet exchanged with the remote peer.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet was
// sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) String() string {
	if p.Sent {
		return fmt.Sprintf("send %v", p.Packet)
	}
	return fmt.Sprintf("recv %v", p.Packet)
}

// State is the lifecycle state of a Session.
type State int32

const (
	StateNew       State = iota // not yet started
	StateActive                 // attached to a transport
	StateSuspended              // transport lost, awaiting reattachment
	StateClosed                 // terminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state %d", int32(s))
	}
}

// A Session is one end of a reliable, ordered message session with a remote
// peer. Outbound messages are sequenced and retained until the remote peer
// acknowledges them, and calls are correlated with their responses.
//
// Configure a session with the setter methods, then call Start with a
// channel. The setters, except Handle and HandleMessage, must not be called
// after Start. Once started, a session runs until Close or Stop is called,
// its transport fails (unless a reconnect timeout is configured), or a
// protocol fatal error occurs. Use Wait to wait for the session to exit and
// report its status.
//
// The state of a session is owned by a single goroutine, the session loop;
// the methods of a started session hand their work to that loop in the order
// they are called, and are safe for concurrent use.
type Session struct {
	id       string
	info     Info
	cfg      Config
	clock    Clock
	codec    Codec
	log      Logger
	plog     PacketLogger
	mux      *Mux
	disp     Dispatcher
	app      Executor
	ownApp   *Loop
	extra    []Handler
	onActive func(*Session)
	onExit   func(error)

	loop   *Loop
	tasks  *taskgroup.Group
	pipe   *pipeline
	queue  *messageQueue
	sender *sender
	rpc    *rpcHandler

	// Owned by the session loop.
	ch          Channel
	gen         uint64 // incremented for each attached channel
	lastRecv    int64
	suspendedAt int64

	state atomic.Int32
	err   error // termination status, valid after Wait
}

// NewSession constructs a new unstarted session with the given settings. It
// is assigned a fresh random ID.
func NewSession(cfg Config) *Session {
	mux := new(Mux)
	return &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		clock: SystemClock(),
		codec: GobCodec{},
		log:   defaultLogger(),
		mux:   mux,
		disp:  mux,
	}
}

func (s *Session) checkUnstarted() {
	if s.loop != nil {
		panic("session is already started")
	}
}

// Identify sets the endpoint description of s, and returns s to permit
// chaining.
func (s *Session) Identify(info Info) *Session { s.checkUnstarted(); s.info = info; return s }

// WithClock sets the clock used for deadlines, and returns s to permit
// chaining. By default s uses the system clock.
func (s *Session) WithClock(c Clock) *Session { s.checkUnstarted(); s.clock = c; return s }

// WithCodec sets the codec used for message bodies, and returns s to permit
// chaining. By default s uses a GobCodec.
func (s *Session) WithCodec(c Codec) *Session { s.checkUnstarted(); s.codec = c; return s }

// LogTo sets the logger for s, and returns s to permit chaining. By default
// s logs to slog.Default().
func (s *Session) LogTo(log Logger) *Session { s.checkUnstarted(); s.log = log; return s }

// LogPackets registers a callback that will be invoked for each packet
// exchanged with the remote peer, and returns s to permit chaining. The
// callback runs on the session loop and must not block.
func (s *Session) LogPackets(log PacketLogger) *Session { s.checkUnstarted(); s.plog = log; return s }

// Executor sets the executor on which application code runs: dispatched
// messages and requests, call callbacks, and lifecycle notifications. It
// returns s to permit chaining. An executor may be shared among sessions.
// By default each session runs its own Loop.
func (s *Session) Executor(e Executor) *Session { s.checkUnstarted(); s.app = e; return s }

// Dispatch replaces the dispatcher for inbound messages and requests, and
// returns s to permit chaining. By default s dispatches to the handlers
// registered with Handle and HandleMessage.
func (s *Session) Dispatch(d Dispatcher) *Session { s.checkUnstarted(); s.disp = d; return s }

// Use adds handlers to the pipeline of s, between the call engine and the
// application dispatcher, and returns s to permit chaining.
func (s *Session) Use(hs ...Handler) *Session {
	s.checkUnstarted()
	s.extra = append(s.extra, hs...)
	return s
}

// OnActive registers a callback invoked on the application executor when s
// becomes active, and returns s to permit chaining.
func (s *Session) OnActive(f func(*Session)) *Session { s.checkUnstarted(); s.onActive = f; return s }

// OnExit registers a callback invoked on the application executor when s
// terminates, with the same error value that would be reported by Wait. It
// returns s to permit chaining.
func (s *Session) OnExit(f func(error)) *Session { s.checkUnstarted(); s.onExit = f; return s }

// Handle registers a handler for the specified method on the default
// dispatcher, and returns s to permit chaining. It is safe to call this
// while the session is running. See Mux.Handle.
func (s *Session) Handle(method uint32, h CallHandler) *Session { s.mux.Handle(method, h); return s }

// HandleMessage registers a handler for one-way messages on the default
// dispatcher, and returns s to permit chaining. It is safe to call this
// while the session is running.
func (s *Session) HandleMessage(h MessageHandler) *Session { s.mux.HandleMessage(h); return s }

// ID returns the unique identifier of s.
func (s *Session) ID() string { return s.id }

// Info returns the endpoint description of s.
func (s *Session) Info() Info { return s.info }

// Config returns the settings of s.
func (s *Session) Config() Config { return s.cfg }

// State reports the current lifecycle state of s.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Metrics returns the metrics map shared by all sessions, the same map
// reported by the package [Metrics] function. It is safe for the caller to add
// additional metrics to the map while sessions are active.
func (s *Session) Metrics() *expvar.Map { return Metrics() }

// init builds the pipeline and queue of s without starting any goroutines.
func (s *Session) init() {
	s.loop = NewLoop()
	s.queue = newMessageQueue()
	s.sender = &sender{q: s.queue}
	s.rpc = &rpcHandler{q: s.queue}
	hs := []Handler{transportHandler{}, s.sender, new(lifecycleHandler), s.rpc}
	hs = append(hs, s.extra...)
	hs = append(hs, dispatchHandler{})
	s.pipe = newPipeline(s, hs...)
}

// Start starts the session running on the given channel. Start does not
// block; call Wait to wait for the session to exit and report its status.
// It panics if s is already started or its configuration is invalid.
func (s *Session) Start(ch Channel) *Session {
	s.checkUnstarted()
	if err := s.cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid session config: %v", err))
	}
	s.init()
	s.tasks = taskgroup.New(nil)
	if s.app == nil {
		app := NewLoop()
		s.app, s.ownApp = app, app
		s.tasks.Go(func() error { return app.Run(context.Background(), 0, nil) })
	}
	s.loop.Execute(func() { s.activate(ch) })
	s.tasks.Go(func() error { return s.loop.Run(context.Background(), s.cfg.TickInterval, s.tick) })
	return s
}

// post hands f to the session loop, and reports whether it was accepted.
func (s *Session) post(f func()) bool { return s.loop != nil && s.loop.Execute(f) }

// do runs f on the session loop and waits for its result.
// It must not be called from the session loop.
func (s *Session) do(f func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- f() }) {
		return ErrSessionClosed
	}
	return <-errc
}

// Send sends a one-way message with the given body to the remote peer. It
// blocks until the message is queued, but does not wait for it to be
// delivered or acknowledged.
func (s *Session) Send(body any) error {
	return s.do(func() error { return s.pipe.fireWrite(&OneWayMessage{Body: body}) })
}

// Go issues a call with the given body to the remote peer, and returns a
// promise for its outcome. Go does not block.
func (s *Session) Go(body any) *Promise {
	p := newPromise()
	s.issue(body, p)
	return p
}

// Call issues a call with the given body to the remote peer, and blocks until
// its outcome is available or ctx ends. An error reported by the call has
// concrete type *CallError; if ctx ends first, Call reports the error from
// ctx and the call continues until it completes or times out.
func (s *Session) Call(ctx context.Context, body any) (any, error) {
	return s.Go(body).Wait(ctx)
}

// CallAsync issues a call with the given body to the remote peer. When the
// outcome is available, cb is invoked on the application executor.
func (s *Session) CallAsync(body any, cb Callback) { s.issue(body, cb) }

// Invoke sends a request with the given body to the remote peer without
// expecting a response. It blocks until the request is queued.
func (s *Session) Invoke(body any) error {
	return s.do(func() error { return s.pipe.fireWrite(&callTask{body: body}) })
}

func (s *Session) issue(body any, done completion) {
	rootMetrics.callOut.Add(1)
	if !s.post(func() { s.pipe.fireWrite(&callTask{body: body, done: done}) }) {
		rootMetrics.callOutErr.Add(1)
		done.complete(s, nil, callError(0, ErrSessionClosed))
	}
}

// Flush writes any buffered outbound messages immediately.
func (s *Session) Flush() error {
	return s.do(func() error { return s.pipe.fireWrite(flushSignal{}) })
}

// Reattach attaches s to a new transport channel and retransmits every
// message that the remote peer has not acknowledged. It is used to resume a
// session whose transport failed; it may also replace a working transport.
// Reattach reports ErrSessionClosed if s has terminated.
func (s *Session) Reattach(ch Channel) error {
	return s.do(func() error { return s.reattach(ch) })
}

// Close begins termination of s. It does not block; call Wait to wait for
// the session to exit.
func (s *Session) Close() { s.post(func() { s.terminate(nil) }) }

// Stop closes s and blocks until it has exited, and returns its status.
func (s *Session) Stop() error { s.Close(); return s.Wait() }

func treatErrorAsSuccess(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until s terminates and reports the error that caused it to
// stop. If s was not started, or stopped because of Close or a closed
// channel, Wait returns nil.
func (s *Session) Wait() error {
	if s.tasks == nil {
		return nil
	}
	s.tasks.Wait()
	if treatErrorAsSuccess(s.err) {
		return nil
	}
	return s.err
}

// The remaining methods run on the session loop.

func (s *Session) activate(ch Channel) {
	s.attach(ch)
	s.setState(StateActive)
	rootMetrics.sessionsActive.Add(1)
	s.log.Info("session active", "session", s.id, "remote", s.info.Remote, "role", s.info.Role)
	s.pipe.fireActive()
}

// attach makes ch the current transport and starts its reader.
func (s *Session) attach(ch Channel) {
	s.ch = ch
	s.gen++
	s.lastRecv = s.clock.Now()
	if s.tasks != nil {
		gen := s.gen
		s.tasks.Go(func() error { s.readLoop(ch, gen); return nil })
	}
}

// readLoop receives packets from ch and hands them to the session loop until
// ch fails. A malformed frame is fatal to the session; any other receive
// error is treated as loss of the transport.
func (s *Session) readLoop(ch Channel, gen uint64) {
	for {
		pkt, err := ch.Recv()
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				s.post(func() {
					if gen == s.gen {
						s.fail(err)
					}
				})
			} else {
				s.post(func() { s.transportLost(gen, err) })
			}
			return
		}
		s.post(func() { s.receive(gen, pkt) })
	}
}

func (s *Session) receive(gen uint64, pkt *Packet) {
	if gen != s.gen || s.State() != StateActive {
		return // stale reader
	}
	rootMetrics.packetRecv.Add(1)
	s.lastRecv = s.clock.Now()
	if s.plog != nil {
		s.plog(PacketInfo{Packet: pkt, Sent: false})
	}
	env, err := decodeEnvelope(pkt)
	if err == nil {
		err = s.pipe.fireRead(env)
	}
	if err != nil {
		s.fail(err)
	}
}

// sendPacket writes pkt to the current transport. If s has no transport the
// packet is dropped; its messages remain queued for retransmission. A
// transport failure is handled on a later turn of the loop.
func (s *Session) sendPacket(pkt *Packet) {
	if s.ch == nil {
		rootMetrics.packetDropped.Add(1)
		return
	}
	if s.plog != nil {
		s.plog(PacketInfo{Packet: pkt, Sent: true})
	}
	rootMetrics.packetSent.Add(1)
	if err := s.ch.Send(pkt); err != nil {
		gen := s.gen
		s.post(func() { s.transportLost(gen, err) })
	}
}

func (s *Session) transportLost(gen uint64, err error) {
	if gen != s.gen || s.ch == nil || s.State() != StateActive {
		return
	}
	s.ch.Close()
	s.ch = nil
	if s.cfg.ReconnectTimeout <= 0 {
		s.terminate(err)
		return
	}
	s.setState(StateSuspended)
	s.suspendedAt = s.clock.Now()
	s.log.Warn("transport lost, session suspended", "session", s.id, "error", err)
	s.pipe.fireSuspend()
}

func (s *Session) reattach(ch Channel) error {
	switch s.State() {
	case StateClosed:
		ch.Close()
		return ErrSessionClosed
	case StateActive:
		s.ch.Close() // the old reader is now stale
	}
	s.attach(ch)
	s.setState(StateActive)
	s.log.Info("session resumed", "session", s.id, "unacked", s.queue.sentLen())
	s.pipe.fireResume()
	return nil
}

func (s *Session) tick() {
	switch s.State() {
	case StateClosed:
		return
	case StateSuspended:
		if s.clock.Now()-s.suspendedAt >= s.cfg.ReconnectTimeout.Milliseconds() {
			s.terminate(ErrReconnectTimeout)
			return
		}
	}
	s.pipe.fireTick()
}

func (s *Session) fail(err error) {
	s.log.Error("session failed", "session", s.id, "error", err)
	s.terminate(err)
}

// terminate closes s with the given status. Pending calls are canceled
// before the queue is detached.
func (s *Session) terminate(err error) {
	if s.State() == StateClosed {
		return
	}
	s.setState(StateClosed)
	s.err = err
	rootMetrics.sessionsActive.Add(-1)
	s.pipe.fireInactive()
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	s.log.Info("session closed", "session", s.id, "error", err)

	if f := s.onExit; f != nil {
		status := err
		if treatErrorAsSuccess(status) {
			status = nil
		}
		if !s.app.Execute(func() { f(status) }) {
			f(status)
		}
	}
	if s.ownApp != nil {
		s.ownApp.Close()
	}
	s.loop.Close()
}

// writeReply sends a response built by a ResponseWriter.
func (s *Session) writeReply(rsp *ResponseMessage) {
	if err := s.pipe.fireWrite(&replyTask{rsp: rsp}); err != nil {
		s.log.Warn("response not sent", "session", s.id, "request", rsp.ID, "error", err)
	}
}

// dispatch runs f on the application executor with a handler context.
func (s *Session) dispatch(f func(context.Context)) {
	ctx := context.WithValue(context.Background(), sessionContextKey{}, s)
	if !s.app.Execute(func() { f(ctx) }) {
		s.log.Warn("application executor stopped, message dropped", "session", s.id)
	}
}

type sessionContextKey struct{}

// ContextSession returns the Session associated with the given context, or
// nil if none is defined. The context passed to a Handler has this value.
func ContextSession(ctx context.Context) *Session {
	if v := ctx.Value(sessionContextKey{}); v != nil {
		return v.(*Session)
	}
	return nil
}
