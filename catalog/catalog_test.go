// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"context"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/volley"
	"github.com/creachadair/volley/catalog"
	"github.com/creachadair/volley/peers"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func logPackets(t *testing.T, tag string) volley.PacketLogger {
	return func(pkt volley.PacketInfo) { t.Logf("%s: %v", tag, pkt) }
}

func TestCatalogUsage(t *testing.T) {
	defer leaktest.Check(t)()
	cat := catalog.New().Set("test0", 0).Set("test1", 100)

	loc := peers.Connect(
		volley.NewSession(volley.DefaultConfig()).LogPackets(logPackets(t, "A")),
		volley.NewSession(volley.DefaultConfig()),
	)
	defer loc.Stop()

	// The Session method should return the bound session.
	ca := cat.Bind(loc.A)
	if got := ca.Session(); got != loc.A {
		t.Errorf("ca.Session: got %v, want %v", got, loc.A)
	}
	cb := cat.Bind(loc.B)
	if got := cb.Session(); got != loc.B {
		t.Errorf("cb.Session: got %v, want %v", got, loc.B)
	}

	// The original catalog does not have a session.
	if got := cat.Session(); got != nil {
		t.Errorf("cat.Session: got %v, want nil", got)
	}
	ctx := context.Background()

	ca.
		Handle("test0", func(ctx context.Context, req *volley.Request) (any, error) {
			return "default", nil
		}).
		Handle("test1", func(ctx context.Context, req *volley.Request) (any, error) {
			return "one " + req.Call().Arg(0).(string), nil
		})

	t.Run("HandleUnknown", func(t *testing.T) {
		mtest.MustPanic(t, func() { ca.Handle("nonesuch", nil) })
	})

	checkCall := func(t *testing.T, name, want string, args ...any) {
		t.Helper()
		v, err := cb.Call(ctx, name, args...)
		if err != nil {
			t.Fatalf("Call %q unexpectedly failed: %v", name, err)
		} else if got, _ := v.(string); got != want {
			t.Fatalf("Call %q: got %q, want %q", name, v, want)
		}
	}

	t.Run("Call0_B", func(t *testing.T) { checkCall(t, "test0", "default") })
	t.Run("Call1_B", func(t *testing.T) { checkCall(t, "test1", "one arg", "arg") })
	t.Run("Call2_B", func(t *testing.T) { checkCall(t, "test2", "default") }) // fall through to default
	t.Run("CallUnknown_B", func(t *testing.T) { checkCall(t, "nonesuch", "default") })

	// Add a new binding to the catalog and exercise it.
	cat.Set("test2", 935)
	ca.Handle("test2", func(ctx context.Context, req *volley.Request) (any, error) {
		return "two", nil
	})
	t.Run("Call2_B_Defined", func(t *testing.T) { checkCall(t, "test2", "two") })

	t.Run("CallUnknown_A", func(t *testing.T) {
		if v, err := ca.Call(ctx, "nonesuch"); err == nil {
			t.Errorf("Call nonesuch: got %v, want error", v)
		}
	})

	t.Run("Invoke_B", func(t *testing.T) {
		done := make(chan string, 1)
		ca.Handle("test2", func(ctx context.Context, req *volley.Request) (any, error) {
			if req.ExpectsReply {
				t.Error("Invoked request expects a reply")
			}
			done <- req.Call().Arg(0).(string)
			return nil, nil
		})
		if err := cb.Invoke("test2", "fire"); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if got := <-done; got != "fire" {
			t.Errorf("Invoke argument: got %q, want fire", got)
		}
	})
}

func TestCatalogEncoding(t *testing.T) {
	initCat := func() catalog.Catalog {
		return catalog.New().
			Set("minsc", 101).
			Set("boo", 102).
			Set("dynaheir", 100987).
			Set("viconia", 666)
	}
	checkEqual := func(t *testing.T, got, want catalog.Catalog) {
		t.Helper()
		if diff := cmp.Diff(got.Methods(), want.Methods()); diff != "" {
			t.Fatalf("Catalog: (-got, +want):\n%s", diff)
		}
	}

	t.Run("Lookup", func(t *testing.T) {
		want := map[string]uint32{"minsc": 101, "boo": 102, "nonesuch": 0}
		cat := initCat()

		for name, id := range want {
			if got := cat.Lookup(name); got != id {
				t.Errorf("Lookup %q: got %d, want %d", name, got, id)
			}
		}
	})

	t.Run("Name", func(t *testing.T) {
		cat := initCat()
		for id, want := range map[uint32]string{101: "minsc", 666: "viconia", 5: ""} {
			if got := cat.Name(id); got != want {
				t.Errorf("Name %d: got %q, want %q", id, got, want)
			}
		}

		// Remapping a name releases its old ID.
		cat.Set("boo", 103)
		if got := cat.Name(102); got != "" {
			t.Errorf("Name 102 after remap: got %q, want empty", got)
		}
		if got := cat.Name(103); got != "boo" {
			t.Errorf("Name 103: got %q, want boo", got)
		}
	})

	t.Run("Add", func(t *testing.T) {
		cat := initCat().Add("jaheira", "khalid")
		if got := cat.Lookup("jaheira"); got != 100988 {
			t.Errorf("Lookup jaheira: got %d, want 100988", got)
		}
		if got := cat.Lookup("khalid"); got != 100989 {
			t.Errorf("Lookup khalid: got %d, want 100989", got)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		want := initCat()
		enc := want.Encode()
		t.Logf("Encoded catalog: %q", enc)
		var got catalog.Catalog
		if err := got.Decode(enc); err != nil {
			t.Fatalf("Decode catalog: unexpected error: %v", err)
		}
		checkEqual(t, got, want)
	})

	t.Run("Empty", func(t *testing.T) {
		var got catalog.Catalog
		if err := got.Decode(catalog.New().Encode()); err != nil {
			t.Fatalf("Decode empty: unexpected error: %v", err)
		}
		checkEqual(t, got, catalog.New())
	})

	t.Run("Truncated", func(t *testing.T) {
		enc := initCat().Encode()
		var got catalog.Catalog
		if err := got.Decode(enc[:len(enc)-1]); err == nil {
			t.Error("Decode truncated: got nil, want error")
		}
		if err := got.Decode(append(enc, 0)); err == nil {
			t.Error("Decode with trailing data: got nil, want error")
		}
	})

	t.Run("Handler", func(t *testing.T) {
		defer leaktest.Check(t)()
		loc := peers.Connect(
			volley.NewSession(volley.DefaultConfig()).LogPackets(logPackets(t, "A")),
			volley.NewSession(volley.DefaultConfig()),
		)
		defer loc.Stop()

		// Set up a catalog with a method to query the catalog itself.
		cat := initCat().Add("catalog")

		// Bind the handler for that method on A.
		cat.Bind(loc.A).Handle("catalog", cat.Handler)

		// Call the catalog method from B.
		v, err := cat.Bind(loc.B).Call(context.Background(), "catalog")
		if err != nil {
			t.Fatalf("Call: unexpected error: %v", err)
		}

		// Make sure we got the same set back.
		var got catalog.Catalog
		if err := got.Decode(v.([]byte)); err != nil {
			t.Fatalf("Decode response: unexpected error: %v", err)
		}
		checkEqual(t, got, cat)
	})
}
