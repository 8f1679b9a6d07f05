package volley

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/creachadair/volley/packet"
	"github.com/google/go-cmp/cmp"
)

func checkCallError(t *testing.T, err error, id uint64, want error) {
	t.Helper()
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("Error: got %v, want *CallError", err)
	}
	if ce.RequestID != id {
		t.Errorf("Request ID: got %d, want %d", ce.RequestID, id)
	}
	if !errors.Is(err, want) {
		t.Errorf("Error: got %v, want %v", err, want)
	}
}

func isDone(p *Promise) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

func TestCallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RPCTimeout = ms(50)
	ts := newTestSession(t, cfg)

	p := ts.Go(NewCall(1))
	ts.drain()
	req := lastRequest(ts.frames(t))
	if req == nil || req.ID != 1 || !req.ExpectsReply {
		t.Fatalf("Request: got %+v, want ID 1 expecting a reply", req)
	}

	ts.clock.Advance(ms(49))
	ts.tick()
	if isDone(p) {
		t.Fatal("Call completed before its deadline")
	}
	ts.clock.Advance(ms(2))
	ts.tick()
	if !isDone(p) {
		t.Fatal("Call did not time out")
	}
	_, err := p.Result()
	checkCallError(t, err, 1, ErrTimeout)
	if n := ts.queue.pendingLen(); n != 0 {
		t.Errorf("Pending: got %d, want 0", n)
	}

	// A late response is discarded.
	ts.deliverPayload(t, 1, 1, &ResponseMessage{ID: 1, Body: "late"})
	if v, err := p.Result(); v != nil || !errors.Is(err, ErrTimeout) {
		t.Errorf("Result after late response: got (%v, %v)", v, err)
	}
	if st := ts.State(); st != StateActive {
		t.Errorf("State: got %v, want %v", st, StateActive)
	}
}

func TestCallCanceled(t *testing.T) {
	ts := newTestSession(t, testConfig())

	var ps []*Promise
	for i := range 3 {
		ps = append(ps, ts.Go(NewCall(uint32(i+1))))
	}
	ts.drain()
	if n := ts.queue.pendingLen(); n != 3 {
		t.Fatalf("Pending: got %d, want 3", n)
	}

	ts.terminate(nil)
	for i, p := range ps {
		if !isDone(p) {
			t.Fatalf("Call %d not completed", i+1)
		}
		_, err := p.Result()
		checkCallError(t, err, uint64(i+1), ErrCanceled)
	}

	_, err := ts.Go(NewCall(4)).Result()
	checkCallError(t, err, 0, ErrSessionClosed)
}

func TestCancelOnSuspend(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectTimeout = ms(1000)
	ts := newTestSession(t, cfg)

	p := ts.Go(NewCall(1))
	ts.drain()
	ts.transportLost(ts.gen, io.EOF)

	_, err := p.Result()
	checkCallError(t, err, 1, ErrCanceled)
	if n := ts.queue.sentLen(); n != 1 {
		t.Errorf("Sent length: got %d, want 1", n)
	}
}

func TestCallResponse(t *testing.T) {
	ts := newTestSession(t, testConfig())

	p := ts.Go(NewCall(2, "x"))
	ts.drain()
	req := lastRequest(ts.frames(t))
	if req == nil {
		t.Fatal("No request was sent")
	}
	if diff := cmp.Diff(NewCall(2, "x"), req.Body, cmp.AllowUnexported(ArgSet{})); diff != "" {
		t.Errorf("Request body (-want, +got):\n%s", diff)
	}

	ts.deliverPayload(t, 1, 1, &ResponseMessage{ID: req.ID, Body: "ok"})
	if v, err := p.Result(); err != nil || v != "ok" {
		t.Errorf("Result: got (%v, %v), want ok", v, err)
	}

	// A second response for the same ID is dropped.
	ts.deliverPayload(t, 1, 2, &ResponseMessage{ID: req.ID, Body: "again"})
	if v, _ := p.Result(); v != "ok" {
		t.Errorf("Result after duplicate: got %v, want ok", v)
	}

	// Unknown IDs are dropped silently.
	ts.deliverPayload(t, 1, 3, &ResponseMessage{ID: 99})
	if st := ts.State(); st != StateActive {
		t.Errorf("State: got %v, want %v", st, StateActive)
	}
}

func TestCallRemoteError(t *testing.T) {
	ts := newTestSession(t, testConfig())

	p := ts.Go(NewCall(3))
	ts.drain()
	ts.deliverPayload(t, 1, 1, &ResponseMessage{ID: 1, Code: CodeServiceError, Message: "boom"})

	_, err := p.Result()
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Error: got %v, want *RemoteError", err)
	}
	if diff := cmp.Diff(&RemoteError{Code: CodeServiceError, Message: "boom"}, re); diff != "" {
		t.Errorf("Remote error (-want, +got):\n%s", diff)
	}
}

// badBody encodes a request or response header for id followed by a body
// the codec cannot decode.
func badBody(kind byte, id uint64) []byte {
	var b packet.Builder
	b.Put(kind)
	b.Uint64(id)
	switch kind {
	case kindRequest:
		b.Bool(true)
	case kindResponse:
		b.Uint16(uint16(CodeSuccess))
		b.VPutString("")
	}
	b.Put(tagValue)
	b.VPut([]byte("not gob"))
	return b.Bytes()
}

func TestUndecodableBody(t *testing.T) {
	t.Run("Response", func(t *testing.T) {
		ts := newTestSession(t, testConfig())
		p := ts.Go(NewCall(1))
		ts.drain()
		ts.frames(t)

		ts.deliver(t, &Packet{Type: PacketSingle, Payload: SingleMessage{
			Ack: 1, Seq: 1, Data: badBody(kindResponse, 1),
		}.Encode()})
		if !isDone(p) {
			t.Fatal("Call with an undecodable response not completed")
		}
		_, err := p.Result()
		var ce *CodecError
		if !errors.As(err, &ce) || ce.Op != "decode" {
			t.Errorf("Result: got %v, want decode *CodecError", err)
		}
		checkCallError(t, err, 1, ce)
		if n := ts.queue.pendingLen(); n != 0 {
			t.Errorf("Pending: got %d, want 0", n)
		}
		if st := ts.State(); st != StateActive {
			t.Errorf("State: got %v, want %v", st, StateActive)
		}
	})

	t.Run("Request", func(t *testing.T) {
		ts := newTestSession(t, testConfig())
		ts.Handle(9, func(context.Context, *Request) (any, error) {
			t.Error("Handler called for an undecodable request")
			return nil, nil
		})
		ts.deliver(t, &Packet{Type: PacketSingle, Payload: SingleMessage{
			Seq: 1, Data: badBody(kindRequest, 7),
		}.Encode()})

		rsp := lastResponse(ts.frames(t))
		if rsp == nil {
			t.Fatal("No response was sent")
		}
		if rsp.ID != 7 || rsp.Code != CodeBadRequest {
			t.Errorf("Response: got ID %d code %v, want ID 7 code %v", rsp.ID, rsp.Code, CodeBadRequest)
		}
	})
}

func TestCallAsync(t *testing.T) {
	ts := newTestSession(t, testConfig())

	var got []any
	ts.CallAsync(NewCall(1), func(v any, err error) {
		if err != nil {
			t.Errorf("Callback: unexpected error: %v", err)
		}
		got = append(got, v)
	})
	ts.drain()
	ts.deliverPayload(t, 1, 1, &ResponseMessage{ID: 1, Body: int64(17)})
	if diff := cmp.Diff([]any{int64(17)}, got); diff != "" {
		t.Errorf("Callback values (-want, +got):\n%s", diff)
	}
}

func TestInvoke(t *testing.T) {
	ts := newTestSession(t, testConfig())

	if err := ts.pipe.fireWrite(&callTask{body: "hi"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	req := lastRequest(ts.frames(t))
	if req == nil || req.ExpectsReply || req.ID != 1 {
		t.Errorf("Request: got %+v, want ID 1 without reply", req)
	}
	if n := ts.queue.pendingLen(); n != 0 {
		t.Errorf("Pending: got %d, want 0", n)
	}

	// Fire-and-forget requests still consume request IDs.
	ts.Go(NewCall(1))
	ts.drain()
	if req := lastRequest(ts.frames(t)); req == nil || req.ID != 2 {
		t.Errorf("Next request: got %+v, want ID 2", req)
	}

	err := ts.pipe.fireWrite(&callTask{body: NewCall(1, make(chan int)).WithLazy(0)})
	var ce *CodecError
	if !errors.As(err, &ce) {
		t.Errorf("Invoke with bad lazy argument: got %v, want *CodecError", err)
	}
}

func TestLazySerialize(t *testing.T) {
	ts := newTestSession(t, testConfig())

	c := NewCall(5, "a", 7, []byte("raw")).WithLazy(1, 2)
	ts.Go(c)
	ts.drain()
	req := lastRequest(ts.frames(t))
	if req == nil {
		t.Fatal("No request was sent")
	}
	sent := req.Body.(*Call)
	if !sent.Lazy.IsEmpty() {
		t.Errorf("Sent lazy set: got %v, want empty", sent.Lazy)
	}
	data, ok := sent.Args[1].([]byte)
	if !ok {
		t.Fatalf("Argument 1: got %T, want []byte", sent.Args[1])
	}
	if v, err := ts.codec.Decode(data); err != nil || v != 7 {
		t.Errorf("Decode argument 1: got (%v, %v), want 7", v, err)
	}
	if diff := cmp.Diff([]byte("raw"), sent.Args[2]); diff != "" {
		t.Errorf("Argument 2 (-want, +got):\n%s", diff)
	}

	// The caller's call is not modified.
	if c.Args[1] != 7 || !c.Lazy.Has(1) {
		t.Errorf("Original call was modified: %v %v", c.Args, c.Lazy)
	}

	bad := ts.Go(NewCall(5, make(chan int)).WithLazy(0))
	ts.drain()
	if !isDone(bad) {
		t.Fatal("Call with a bad lazy argument not completed")
	}
	_, err := bad.Result()
	var ce *CodecError
	if !errors.As(err, &ce) {
		t.Errorf("Bad lazy argument: got %v, want *CodecError", err)
	}
}

func TestInboundRequest(t *testing.T) {
	ts := newTestSession(t, testConfig())
	ts.Handle(9, func(ctx context.Context, req *Request) (any, error) {
		if ContextSession(ctx) != ts.Session {
			t.Error("Handler context has the wrong session")
		}
		c := req.Call()
		return c.Args[0], nil
	})
	ts.Handle(10, func(context.Context, *Request) (any, error) {
		return nil, errors.New("bad")
	})
	ts.Handle(11, func(context.Context, *Request) (any, error) {
		return nil, &RemoteError{Code: 99, Message: "custom"}
	})
	ts.Handle(12, func(context.Context, *Request) (any, error) {
		return make(chan int), nil
	})
	ts.Handle(13, func(context.Context, *Request) (any, error) {
		panic("unexpected")
	})

	encoded, err := ts.codec.Encode(42)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tests := []struct {
		name string
		body *Call
		want *ResponseMessage
	}{
		{"Echo", NewCall(9, "hello"), &ResponseMessage{Body: "hello"}},
		{"PreDecode", NewCall(9, encoded).WithPre(0), &ResponseMessage{Body: 42}},
		{"PreRaw", NewCall(9, "plain").WithPre(0), &ResponseMessage{Body: "plain"}},
		{"BadPre", NewCall(9, []byte("junk")).WithPre(0), &ResponseMessage{Code: CodeBadRequest}},
		{"Unknown", NewCall(77), &ResponseMessage{Code: CodeUnknownMethod, Message: "method 77"}},
		{"Error", NewCall(10), &ResponseMessage{Code: CodeServiceError, Message: "bad"}},
		{"Custom", NewCall(11), &ResponseMessage{Code: 99, Message: "custom"}},
		{"BadResult", NewCall(12), &ResponseMessage{Code: CodeServiceError}},
		{"Panic", NewCall(13), &ResponseMessage{Code: CodeServiceError}},
	}
	var seq uint64
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seq++
			ts.deliverPayload(t, 0, seq, &RequestMessage{ID: seq, ExpectsReply: true, Body: tc.body})
			rsp := lastResponse(ts.frames(t))
			if rsp == nil {
				t.Fatal("No response was sent")
			}
			if rsp.ID != seq {
				t.Errorf("Response ID: got %d, want %d", rsp.ID, seq)
			}
			if rsp.Code != tc.want.Code {
				t.Errorf("Response code: got %v, want %v", rsp.Code, tc.want.Code)
			}
			if tc.want.Message != "" && rsp.Message != tc.want.Message {
				t.Errorf("Response message: got %q, want %q", rsp.Message, tc.want.Message)
			}
			if rsp.Code != CodeSuccess && rsp.Message == "" {
				t.Error("Failure response has no message")
			}
			if diff := cmp.Diff(tc.want.Body, rsp.Body); diff != "" {
				t.Errorf("Response body (-want, +got):\n%s", diff)
			}
		})
	}
	if st := ts.State(); st != StateActive {
		t.Errorf("State: got %v, want %v", st, StateActive)
	}
}

func TestNoReplyExpected(t *testing.T) {
	ts := newTestSession(t, testConfig())
	var calls int
	ts.Handle(9, func(context.Context, *Request) (any, error) { calls++; return "ignored", nil })

	ts.deliverPayload(t, 0, 1, &RequestMessage{ID: 1, Body: NewCall(9)})
	ts.deliverPayload(t, 0, 2, &RequestMessage{ID: 2, Body: NewCall(9, []byte("junk")).WithPre(0)})
	if calls != 1 {
		t.Errorf("Handler calls: got %d, want 1", calls)
	}
	if fs := ts.frames(t); len(fs) != 0 {
		t.Errorf("Got %d frames, want 0", len(fs))
	}
}

func TestResponseWriter(t *testing.T) {
	ts := newTestSession(t, testConfig())
	w := &ResponseWriter{s: ts.Session, id: 5, reply: true}

	if err := w.Reply("first"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if err := w.Fail(errors.New("second")); !errors.Is(err, ErrAlreadyReplied) {
		t.Errorf("Fail after reply: got %v, want %v", err, ErrAlreadyReplied)
	}
	if err := w.Reply("third"); !errors.Is(err, ErrAlreadyReplied) {
		t.Errorf("Reply after reply: got %v, want %v", err, ErrAlreadyReplied)
	}
	ts.drain()

	fs := ts.frames(t)
	if len(fs) != 1 {
		t.Fatalf("Got %d frames, want 1", len(fs))
	}
	want := &ResponseMessage{ID: 5, Body: "first"}
	if diff := cmp.Diff(want, lastResponse(fs)); diff != "" {
		t.Errorf("Response (-want, +got):\n%s", diff)
	}
}
