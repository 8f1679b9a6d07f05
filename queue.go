// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"github.com/creachadair/mds/queue"
)

// A message is an outbound message retained until it is acknowledged.
type message struct {
	seq      uint64 // 0 until the message is moved to the sent queue
	deadline int64  // ack deadline in ms, refreshed on each (re)send
	data     []byte // encoded payload
}

// A pendingCall records a call awaiting its response.
type pendingCall struct {
	id       uint64
	done     completion
	deadline int64
}

// messageQueue holds the sequencing state of one session. It is owned by the
// session loop and is not safe for concurrent use.
//
// Sequence numbers are allocated only when a message moves into the sent
// queue, so the messages of the sent queue always have consecutive sequence
// numbers ending at seq.
type messageQueue struct {
	seq uint64 // last allocated sequence number (0 means none)
	ack uint64 // highest in-order sequence received from the remote peer
	rid uint64 // last allocated request ID

	sent   *queue.Queue[*message]
	unsent *queue.Queue[*message]

	pending map[uint64]*pendingCall
	order   []uint64 // request IDs in registration order; may hold stale IDs

	detached bool
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		sent:    new(queue.Queue[*message]),
		unsent:  new(queue.Queue[*message]),
		pending: make(map[uint64]*pendingCall),
	}
}

// nextSequence allocates and returns the next sequence number.
func (q *messageQueue) nextSequence() uint64 { q.seq++; return q.seq }

// nextRequestID allocates and returns the next request ID.
func (q *messageQueue) nextRequestID() uint64 { q.rid++; return q.rid }

// ackBounds reports the range of acknowledgements the remote peer may
// legitimately send.
func (q *messageQueue) ackBounds() (lo, hi uint64) {
	if front, ok := q.sent.Peek(0); ok {
		return front.seq - 1, q.seq
	}
	return q.seq, q.seq
}

// ackValid reports whether ack is within the valid bounds.
func (q *messageQueue) ackValid(ack uint64) bool {
	lo, hi := q.ackBounds()
	return lo <= ack && ack <= hi
}

// applyAck removes every sent message with sequence ≤ ack. If ack is out of
// range, it reports a *ProtocolError and the queue is not modified.
func (q *messageQueue) applyAck(ack uint64) error {
	if !q.ackValid(ack) {
		lo, hi := q.ackBounds()
		return protocolErrorf(ErrCodeBadAck, "ack %d outside [%d, %d]", ack, lo, hi)
	}
	for {
		front, ok := q.sent.Peek(0)
		if !ok || front.seq > ack {
			return nil
		}
		q.sent.Pop()
	}
}

// Results of accept.
const (
	acceptDeliver   = iota // in order; the ack advanced
	acceptDuplicate        // already received
	acceptGap              // skipped ahead
)

// accept classifies an inbound sequence number, advancing the ack when the
// message is the next one expected.
func (q *messageQueue) accept(seq uint64) int {
	switch {
	case seq <= q.ack:
		return acceptDuplicate
	case seq == q.ack+1:
		q.ack = seq
		return acceptDeliver
	default:
		return acceptGap
	}
}

// pushSent allocates a sequence number for m and appends it to the sent
// queue.
func (q *messageQueue) pushSent(m *message) error {
	if q.detached {
		return ErrSessionClosed
	}
	m.seq = q.nextSequence()
	q.sent.Add(m)
	return nil
}

// eachSent calls f for each message of the sent queue in order.
func (q *messageQueue) eachSent(f func(*message)) {
	for i := range q.sent.Len() {
		m, _ := q.sent.Peek(i)
		f(m)
	}
}

func (q *messageQueue) sentLen() int { return q.sent.Len() }

// enqueueUnsent buffers m for a later flush.
func (q *messageQueue) enqueueUnsent(m *message) error {
	if q.detached {
		return ErrSessionClosed
	}
	q.unsent.Add(m)
	return nil
}

func (q *messageQueue) unsentLen() int { return q.unsent.Len() }

// drainUnsent returns the buffered messages in order and leaves the buffer
// empty. The old buffer is swapped out whole, so messages buffered while the
// caller processes the result start a fresh buffer.
func (q *messageQueue) drainUnsent() []*message {
	if q.unsent.IsEmpty() {
		return nil
	}
	old := q.unsent
	q.unsent = new(queue.Queue[*message])
	out := make([]*message, 0, old.Len())
	for {
		m, ok := old.Pop()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// registerPending records a call awaiting the response for id.
func (q *messageQueue) registerPending(id uint64, done completion, deadline int64) error {
	if q.detached {
		return ErrSessionClosed
	}
	q.pending[id] = &pendingCall{id: id, done: done, deadline: deadline}
	q.order = append(q.order, id)
	return nil
}

// takePending removes and returns the pending call for id, if any.
func (q *messageQueue) takePending(id uint64) (*pendingCall, bool) {
	pc, ok := q.pending[id]
	if !ok {
		return nil, false
	}
	delete(q.pending, id)
	if len(q.order) > 2*len(q.pending)+16 {
		q.compactOrder()
	}
	return pc, true
}

func (q *messageQueue) compactOrder() {
	keep := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.pending[id]; ok {
			keep = append(keep, id)
		}
	}
	clear(q.order[len(keep):])
	q.order = keep
}

func (q *messageQueue) pendingLen() int { return len(q.pending) }

// expireDue removes and returns, in registration order, the pending calls
// whose deadline is ≤ now.
func (q *messageQueue) expireDue(now int64) []*pendingCall {
	var out []*pendingCall
	keep := q.order[:0]
	for _, id := range q.order {
		pc, ok := q.pending[id]
		if !ok {
			continue
		}
		if pc.deadline <= now {
			delete(q.pending, id)
			out = append(out, pc)
		} else {
			keep = append(keep, id)
		}
	}
	clear(q.order[len(keep):])
	q.order = keep
	return out
}

// cancelAll removes and returns all pending calls in registration order.
func (q *messageQueue) cancelAll() []*pendingCall {
	var out []*pendingCall
	for _, id := range q.order {
		if pc, ok := q.pending[id]; ok {
			out = append(out, pc)
		}
	}
	clear(q.pending)
	q.order = nil
	return out
}

// detach clears all state. After detach, operations that add messages or
// calls report ErrSessionClosed.
func (q *messageQueue) detach() {
	q.sent.Clear()
	q.unsent.Clear()
	clear(q.pending)
	q.order = nil
	q.detached = true
}
