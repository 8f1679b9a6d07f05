// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import "fmt"

// A Handler is one stage of the session pipeline. Inbound messages and
// lifecycle events flow from the transport (head) toward the application
// (tail); outbound messages flow from the tail toward the head. Each method
// decides whether to forward its event to the next stage through hc.
//
// All methods are called on the session loop.
type Handler interface {
	// OnActive is called once when the session first becomes usable.
	OnActive(hc *HandlerContext)

	// OnSuspend is called when the transport fails and the session waits to
	// be reattached.
	OnSuspend(hc *HandlerContext)

	// OnResume is called when a suspended session is reattached.
	OnResume(hc *HandlerContext)

	// OnInactive is called once when the session closes.
	OnInactive(hc *HandlerContext)

	// Tick is called periodically while the session is open.
	Tick(hc *HandlerContext)

	// Read handles an inbound message. An error is fatal to the session.
	Read(hc *HandlerContext, msg any) error

	// Write handles an outbound message.
	Write(hc *HandlerContext, msg any) error
}

// Passthrough is a Handler that forwards every event unchanged. Embed it in a
// handler to inherit forwarding for the events it does not handle.
type Passthrough struct{}

func (Passthrough) OnActive(hc *HandlerContext)             { hc.FireActive() }
func (Passthrough) OnSuspend(hc *HandlerContext)            { hc.FireSuspend() }
func (Passthrough) OnResume(hc *HandlerContext)             { hc.FireResume() }
func (Passthrough) OnInactive(hc *HandlerContext)           { hc.FireInactive() }
func (Passthrough) Tick(hc *HandlerContext)                 { hc.FireTick() }
func (Passthrough) Read(hc *HandlerContext, msg any) error  { return hc.FireRead(msg) }
func (Passthrough) Write(hc *HandlerContext, msg any) error { return hc.FireWrite(msg) }

// A HandlerContext connects a Handler to its neighbours in a pipeline.
type HandlerContext struct {
	p *pipeline
	i int
}

// Session returns the session that owns the pipeline.
func (hc *HandlerContext) Session() *Session { return hc.p.s }

// FireRead passes msg to the next handler toward the tail.
func (hc *HandlerContext) FireRead(msg any) error { return hc.p.read(hc.i+1, msg) }

// FireWrite passes msg to the next handler toward the head.
func (hc *HandlerContext) FireWrite(msg any) error { return hc.p.write(hc.i-1, msg) }

// FireActive passes the activation event toward the tail.
func (hc *HandlerContext) FireActive() { hc.p.each(hc.i+1, Handler.OnActive) }

// FireSuspend passes the suspension event toward the tail.
func (hc *HandlerContext) FireSuspend() { hc.p.each(hc.i+1, Handler.OnSuspend) }

// FireResume passes the resumption event toward the tail.
func (hc *HandlerContext) FireResume() { hc.p.each(hc.i+1, Handler.OnResume) }

// FireInactive passes the deactivation event toward the tail.
func (hc *HandlerContext) FireInactive() { hc.p.each(hc.i+1, Handler.OnInactive) }

// FireTick passes the tick event toward the tail.
func (hc *HandlerContext) FireTick() { hc.p.each(hc.i+1, Handler.Tick) }

// pipeline is an ordered chain of handlers, head first.
type pipeline struct {
	s    *Session
	hs   []Handler
	ctxs []*HandlerContext
}

func newPipeline(s *Session, hs ...Handler) *pipeline {
	p := &pipeline{s: s, hs: hs}
	for i := range hs {
		p.ctxs = append(p.ctxs, &HandlerContext{p: p, i: i})
	}
	return p
}

// each delivers a lifecycle event to handler i, if it exists.
func (p *pipeline) each(i int, f func(Handler, *HandlerContext)) {
	if i < len(p.hs) {
		f(p.hs[i], p.ctxs[i])
	}
}

func (p *pipeline) read(i int, msg any) error {
	if i >= len(p.hs) {
		p.s.log.Debug("unhandled inbound message", "session", p.s.id, "type", fmt.Sprintf("%T", msg))
		return nil
	}
	return p.hs[i].Read(p.ctxs[i], msg)
}

func (p *pipeline) write(i int, msg any) error {
	if i < 0 {
		return fmt.Errorf("no handler wrote %T", msg)
	}
	return p.hs[i].Write(p.ctxs[i], msg)
}

// Entry points: inbound events start at the head, outbound at the tail.

func (p *pipeline) fireRead(msg any) error  { return p.read(0, msg) }
func (p *pipeline) fireWrite(msg any) error { return p.write(len(p.hs)-1, msg) }
func (p *pipeline) fireActive()             { p.each(0, Handler.OnActive) }
func (p *pipeline) fireSuspend()            { p.each(0, Handler.OnSuspend) }
func (p *pipeline) fireResume()             { p.each(0, Handler.OnResume) }
func (p *pipeline) fireInactive()           { p.each(0, Handler.OnInactive) }
func (p *pipeline) fireTick()               { p.each(0, Handler.Tick) }
