// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import "errors"

// callTask is an outbound call handed to the pipeline by the session. If done
// is nil the request does not expect a reply.
type callTask struct {
	body any
	done completion
}

// replyTask is an outbound response built by a ResponseWriter.
type replyTask struct {
	rsp *ResponseMessage
}

// inboundRequest is a request ready for the application.
type inboundRequest struct {
	req *Request
	w   *ResponseWriter
}

// undecodable is a request or response whose body could not be decoded.
// Its ID is still known, so the call it belongs to can be failed.
type undecodable struct {
	msg Payload // *RequestMessage or *ResponseMessage, without a body
	err error
}

// rpcHandler correlates calls with their responses. Each call expecting a
// reply is registered with a deadline, and is completed exactly once: by its
// response, by expiry on a tick, or by cancellation when the session is
// suspended or closed.
type rpcHandler struct {
	Passthrough
	q *messageQueue
}

func (h *rpcHandler) Write(hc *HandlerContext, msg any) error {
	switch m := msg.(type) {
	case *callTask:
		return h.issue(hc, m)
	case *replyTask:
		return h.reply(hc, m.rsp)
	}
	return hc.FireWrite(msg)
}

func (h *rpcHandler) issue(hc *HandlerContext, t *callTask) error {
	s := hc.Session()
	body := t.body
	if c, ok := body.(*Call); ok {
		lc, err := c.serializeLazy(s.codec)
		if err != nil {
			return h.abort(s, t, 0, err)
		}
		body = lc
	}

	id := h.q.nextRequestID()
	if t.done != nil {
		deadline := s.clock.Now() + s.cfg.RPCTimeout.Milliseconds()
		if err := h.q.registerPending(id, t.done, deadline); err != nil {
			return h.abort(s, t, id, err)
		}
		rootMetrics.callPending.Add(1)
	}
	err := hc.FireWrite(&RequestMessage{ID: id, ExpectsReply: t.done != nil, Body: body})
	if err != nil && t.done != nil {
		if pc, ok := h.take(id); ok {
			h.finish(s, pc.done, id, nil, err)
		}
		return nil
	}
	return err
}

// abort fails a call that could not be issued. A call without a completion
// reports the error to its caller instead.
func (h *rpcHandler) abort(s *Session, t *callTask, id uint64, err error) error {
	if t.done == nil {
		return err
	}
	h.finish(s, t.done, id, nil, err)
	return nil
}

func (h *rpcHandler) reply(hc *HandlerContext, rsp *ResponseMessage) error {
	err := hc.FireWrite(rsp)
	var ce *CodecError
	if errors.As(err, &ce) {
		hc.Session().log.Warn("response body not encodable", "session", hc.Session().id, "request", rsp.ID, "error", err)
		return hc.FireWrite(&ResponseMessage{
			ID:      rsp.ID,
			Code:    CodeServiceError,
			Message: truncate(ce.Error(), 65535),
		})
	}
	return err
}

func (h *rpcHandler) Read(hc *HandlerContext, msg any) error {
	s := hc.Session()
	switch m := msg.(type) {
	case *RequestMessage:
		rootMetrics.callIn.Add(1)
		body := m.Body
		if c, ok := body.(*Call); ok {
			pc, err := c.deserializePre(s.codec)
			if err != nil {
				return h.reject(hc, m, err)
			}
			body = pc
		}
		req := &Request{Session: s, ID: m.ID, ExpectsReply: m.ExpectsReply, Body: body}
		return hc.FireRead(&inboundRequest{req: req, w: &ResponseWriter{s: s, id: m.ID, reply: m.ExpectsReply}})

	case *ResponseMessage:
		pc, ok := h.take(m.ID)
		if !ok {
			// Silently discard response for unknown request ID.
			rootMetrics.responsesDropped.Add(1)
			return nil
		}
		if m.Code == CodeSuccess {
			h.finish(s, pc.done, m.ID, m.Body, nil)
		} else {
			h.finish(s, pc.done, m.ID, nil, &RemoteError{Code: m.Code, Message: m.Message})
		}
		return nil

	case *undecodable:
		switch t := m.msg.(type) {
		case *RequestMessage:
			rootMetrics.callIn.Add(1)
			return h.reject(hc, t, m.err)
		case *ResponseMessage:
			if pc, ok := h.take(t.ID); ok {
				h.finish(s, pc.done, t.ID, nil, m.err)
			} else {
				rootMetrics.responsesDropped.Add(1)
			}
		}
		return nil
	}
	return hc.FireRead(msg)
}

// reject answers a request that cannot be handled with CodeBadRequest, if
// the caller expects a reply.
func (h *rpcHandler) reject(hc *HandlerContext, m *RequestMessage, err error) error {
	s := hc.Session()
	s.log.Warn("rejected request", "session", s.id, "request", m.ID, "error", err)
	if !m.ExpectsReply {
		return nil
	}
	return hc.FireWrite(&ResponseMessage{
		ID:      m.ID,
		Code:    CodeBadRequest,
		Message: truncate(err.Error(), 65535),
	})
}

func (h *rpcHandler) take(id uint64) (*pendingCall, bool) {
	pc, ok := h.q.takePending(id)
	if ok {
		rootMetrics.callPending.Add(-1)
	}
	return pc, ok
}

func (h *rpcHandler) finish(s *Session, done completion, id uint64, v any, err error) {
	if err != nil {
		rootMetrics.callOutErr.Add(1)
		done.complete(s, nil, callError(id, err))
		return
	}
	done.complete(s, v, nil)
}

func (h *rpcHandler) Tick(hc *HandlerContext) {
	s := hc.Session()
	for _, pc := range h.q.expireDue(s.clock.Now()) {
		rootMetrics.callPending.Add(-1)
		rootMetrics.callTimedOut.Add(1)
		h.finish(s, pc.done, pc.id, nil, ErrTimeout)
	}
	hc.FireTick()
}

// cancelAll fails every pending call with ErrCanceled.
func (h *rpcHandler) cancelAll(s *Session) {
	for _, pc := range h.q.cancelAll() {
		rootMetrics.callPending.Add(-1)
		rootMetrics.callCanceled.Add(1)
		h.finish(s, pc.done, pc.id, nil, ErrCanceled)
	}
}

func (h *rpcHandler) OnSuspend(hc *HandlerContext) {
	h.cancelAll(hc.Session())
	hc.FireSuspend()
}

func (h *rpcHandler) OnInactive(hc *HandlerContext) {
	h.cancelAll(hc.Session())
	hc.FireInactive()
}
