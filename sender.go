// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import "fmt"

// transportHandler is the head of the pipeline. It frames outbound messages
// into packets and writes them to the session transport.
type transportHandler struct{ Passthrough }

func (transportHandler) Write(hc *HandlerContext, msg any) error {
	pkt := &Packet{Version: Version}
	switch m := msg.(type) {
	case *SingleMessage:
		pkt.Type = PacketSingle
		pkt.Payload = m.Encode()
	case *BatchMessage:
		pkt.Type = PacketBatch
		pkt.Payload = m.Encode()
	default:
		return fmt.Errorf("cannot frame %T", msg)
	}
	hc.Session().sendPacket(pkt)
	return nil
}

// flushSignal asks the sender to write its buffered messages.
type flushSignal struct{}

// sender sequences outbound messages and keeps them until the remote peer
// acknowledges them. Inbound, it applies the acknowledgement carried by each
// packet and drops duplicate messages.
type sender struct {
	Passthrough
	q        *messageQueue
	lastPing int64
}

func (w *sender) Write(hc *HandlerContext, msg any) error {
	switch m := msg.(type) {
	case flushSignal:
		return w.flushAllUnsent(hc)
	case Payload:
		if isControl(m) {
			return w.writeControl(hc, m)
		}
		_, err := w.send(hc, m)
		return err
	}
	return hc.FireWrite(msg)
}

// send queues p for delivery, and reports whether a transport write occurred.
// With buffering disabled p is written at once; otherwise it is buffered
// until the buffer reaches the flush threshold.
func (w *sender) send(hc *HandlerContext, p Payload) (bool, error) {
	s := hc.Session()
	data, err := encodePayload(s.codec, p)
	if err != nil {
		return false, err
	}
	m := &message{data: data}
	if s.cfg.FlushThreshold <= 0 {
		return true, w.writeAndFlush(hc, m)
	}
	if err := w.q.enqueueUnsent(m); err != nil {
		return false, err
	}
	if w.q.unsentLen() >= s.cfg.FlushThreshold {
		return true, w.flushAllUnsent(hc)
	}
	return false, nil
}

func (w *sender) ackDeadline(hc *HandlerContext) int64 {
	s := hc.Session()
	return s.clock.Now() + s.cfg.AckTimeout.Milliseconds()
}

// writeAndFlush sequences m, moves it to the sent queue, and writes it as a
// single message.
func (w *sender) writeAndFlush(hc *HandlerContext, m *message) error {
	if err := w.q.pushSent(m); err != nil {
		return err
	}
	m.deadline = w.ackDeadline(hc)
	rootMetrics.messagesSent.Add(1)
	return hc.FireWrite(&SingleMessage{Ack: w.q.ack, Seq: m.seq, Data: m.data})
}

// flushAllUnsent writes every buffered message: one as a single message,
// several as one batch.
func (w *sender) flushAllUnsent(hc *HandlerContext) error {
	ms := w.q.drainUnsent()
	switch len(ms) {
	case 0:
		return nil
	case 1:
		return w.writeAndFlush(hc, ms[0])
	}
	deadline := w.ackDeadline(hc)
	batch := &BatchMessage{Entries: make([]Entry, 0, len(ms))}
	for _, m := range ms {
		if err := w.q.pushSent(m); err != nil {
			return err
		}
		m.deadline = deadline
		batch.Entries = append(batch.Entries, Entry{Seq: m.seq, Data: m.data})
	}
	batch.Ack = w.q.ack
	rootMetrics.messagesSent.Add(int64(len(ms)))
	rootMetrics.batchesSent.Add(1)
	return hc.FireWrite(batch)
}

// resend writes every unacknowledged message again, with its original
// sequence number and a fresh ack deadline.
func (w *sender) resend(hc *HandlerContext) error {
	n := w.q.sentLen()
	if n == 0 {
		return nil
	}
	deadline := w.ackDeadline(hc)
	entries := make([]Entry, 0, n)
	w.q.eachSent(func(m *message) {
		m.deadline = deadline
		entries = append(entries, Entry{Seq: m.seq, Data: m.data})
	})
	rootMetrics.messagesResent.Add(int64(n))
	if n == 1 {
		return hc.FireWrite(&SingleMessage{Ack: w.q.ack, Seq: entries[0].Seq, Data: entries[0].Data})
	}
	rootMetrics.batchesSent.Add(1)
	return hc.FireWrite(&BatchMessage{Ack: w.q.ack, Entries: entries})
}

// writeControl writes p as an unsequenced single message.
func (w *sender) writeControl(hc *HandlerContext, p Payload) error {
	data, err := encodePayload(hc.Session().codec, p)
	if err != nil {
		return err
	}
	return hc.FireWrite(&SingleMessage{Ack: w.q.ack, Data: data})
}

// clear cancels all pending calls, then discards all queue state.
func (w *sender) clear(hc *HandlerContext) {
	hc.Session().rpc.cancelAll(hc.Session())
	w.q.detach()
}

func (w *sender) Read(hc *HandlerContext, msg any) error {
	switch m := msg.(type) {
	case *SingleMessage:
		if err := w.q.applyAck(m.Ack); err != nil {
			return err
		}
		if m.Seq == 0 {
			return w.deliver(hc, m.Data, true)
		}
		return w.receive(hc, m.Seq, m.Data)

	case *BatchMessage:
		if err := w.q.applyAck(m.Ack); err != nil {
			return err
		}
		for _, e := range m.Entries {
			if e.Seq == 0 {
				return protocolErrorf(ErrCodeBadFrame, "unsequenced message in batch")
			}
			if err := w.receive(hc, e.Seq, e.Data); err != nil {
				return err
			}
		}
		return nil
	}
	return hc.FireRead(msg)
}

// receive delivers the message with sequence seq if it is the next one
// expected, and drops it if it was already received.
func (w *sender) receive(hc *HandlerContext, seq uint64, data []byte) error {
	switch w.q.accept(seq) {
	case acceptDuplicate:
		rootMetrics.duplicatesDropped.Add(1)
		return nil
	case acceptGap:
		return protocolErrorf(ErrCodeSequenceGap, "received sequence %d, want %d", seq, w.q.ack+1)
	}
	return w.deliver(hc, data, false)
}

func (w *sender) deliver(hc *HandlerContext, data []byte, control bool) error {
	s := hc.Session()
	p, err := decodePayload(s.codec, data)
	if p != nil && control != isControl(p) {
		return protocolErrorf(ErrCodeBadFrame, "%T has the wrong framing", p)
	}
	if err != nil {
		s.log.Warn("undecodable message", "session", s.id, "ack", w.q.ack, "error", err)
		if p == nil {
			rootMetrics.messagesDropped.Add(1)
			return nil
		}
		return hc.FireRead(&undecodable{msg: p, err: err})
	}
	return hc.FireRead(p)
}

func (w *sender) Tick(hc *HandlerContext) {
	s := hc.Session()
	if s.ch != nil {
		if err := w.flushAllUnsent(hc); err != nil {
			s.log.Warn("flush failed", "session", s.id, "error", err)
		}
		if front, ok := w.q.sent.Peek(0); ok {
			now, wait := s.clock.Now(), s.cfg.AckTimeout.Milliseconds()
			if now >= front.deadline && now-w.lastPing >= wait {
				w.lastPing = now
				s.log.Debug("ack overdue", "session", s.id, "seq", front.seq)
				if err := w.writeControl(hc, PingMessage{}); err != nil {
					s.log.Warn("ping failed", "session", s.id, "error", err)
				}
			}
		}
	}
	hc.FireTick()
}

func (w *sender) OnResume(hc *HandlerContext) {
	if err := w.resend(hc); err != nil {
		hc.Session().log.Warn("resend failed", "session", hc.Session().id, "error", err)
	}
	hc.FireResume()
}

func (w *sender) OnInactive(hc *HandlerContext) {
	w.clear(hc)
	hc.FireInactive()
}
