package volley

import (
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

func TestArgSet(t *testing.T) {
	var zero ArgSet
	if !zero.IsEmpty() || zero.Len() != 0 {
		t.Errorf("Zero set: IsEmpty=%v Len=%d", zero.IsEmpty(), zero.Len())
	}

	a := Args(5, 0, 63, 5)
	if diff := cmp.Diff([]int{0, 5, 63}, a.Positions()); diff != "" {
		t.Errorf("Positions (-want, +got):\n%s", diff)
	}
	if a.Len() != 3 {
		t.Errorf("Len: got %d, want 3", a.Len())
	}
	for _, i := range []int{-1, 1, 64, 100} {
		if a.Has(i) {
			t.Errorf("Has(%d): got true, want false", i)
		}
	}
	if got, want := a.String(), "{0,5,63}"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}

	b := a.Add(1)
	if a.Has(1) || !b.Has(1) {
		t.Errorf("Add modified the receiver: a=%v b=%v", a, b)
	}

	mtest.MustPanic(t, func() { Args(MaxArgs) })
	mtest.MustPanic(t, func() { Args(-1) })
	mtest.MustPanic(t, func() { NewCall(1).WithLazy(64) })
}

func TestCallArg(t *testing.T) {
	c := NewCall(3, "a", 2)
	if c.Arg(0) != "a" || c.Arg(1) != 2 {
		t.Errorf("Args: got %v, %v", c.Arg(0), c.Arg(1))
	}
	if c.Arg(-1) != nil || c.Arg(2) != nil {
		t.Error("Out-of-range argument is not nil")
	}
}

func TestSerializeLazy(t *testing.T) {
	codec := GobCodec{}

	plain := NewCall(1, "x")
	if got, err := plain.serializeLazy(codec); err != nil || got != plain {
		t.Errorf("No lazy args: got (%p, %v), want (%p, nil)", got, err, plain)
	}

	// Positions past the end are ignored, as are nil and []byte values.
	c := NewCall(1, "x", nil, []byte("y")).WithLazy(0, 1, 2, 40)
	got, err := c.serializeLazy(codec)
	if err != nil {
		t.Fatalf("serializeLazy: %v", err)
	}
	if !got.Lazy.IsEmpty() {
		t.Errorf("Lazy set: got %v, want empty", got.Lazy)
	}
	if got.Args[1] != nil {
		t.Errorf("Argument 1: got %v, want nil", got.Args[1])
	}
	if diff := cmp.Diff([]byte("y"), got.Args[2]); diff != "" {
		t.Errorf("Argument 2 (-want, +got):\n%s", diff)
	}
	back, err := codec.Decode(got.Args[0].([]byte))
	if err != nil || back != "x" {
		t.Errorf("Decode argument 0: got (%v, %v), want x", back, err)
	}
	if c.Args[0] != "x" || c.Lazy.Len() != 4 {
		t.Errorf("Receiver was modified: %v", c)
	}
}

func TestDeserializePre(t *testing.T) {
	codec := GobCodec{}
	data, err := codec.Encode("hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	c := NewCall(1, data, "plain").WithPre(0, 1)
	got, err := c.deserializePre(codec)
	if err != nil {
		t.Fatalf("deserializePre: %v", err)
	}
	if diff := cmp.Diff([]any{"hello", "plain"}, got.Args); diff != "" {
		t.Errorf("Arguments (-want, +got):\n%s", diff)
	}
	if !got.Pre.IsEmpty() {
		t.Errorf("Pre set: got %v, want empty", got.Pre)
	}
	if _, ok := c.Args[0].([]byte); !ok {
		t.Errorf("Receiver was modified: %v", c.Args)
	}

	bad := NewCall(1, []byte("junk")).WithPre(0)
	if _, err := bad.deserializePre(codec); err == nil {
		t.Error("deserializePre(junk): got nil, want error")
	}
}
