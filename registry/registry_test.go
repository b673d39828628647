package registry

import (
	"errors"
	"testing"

	"htcp/value"
)

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error { c.closed = true; return nil }

func TestTransactionRegistryLookup(t *testing.T) {
	r := NewTransactionRegistry()
	r.Register("echo", func(args value.Mapping) (value.Value, error) {
		v, _ := args.Get("msg")
		return v, nil
	})

	h, ok := r.Lookup("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	out, err := h(value.Mapping{{Key: value.String("msg"), Value: value.String("hi")}})
	if err != nil || !value.Equal(out, value.String("hi")) {
		t.Fatalf("out=%#v err=%v", out, err)
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing to be absent")
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "echo" {
		t.Fatalf("names = %v", names)
	}
}

func TestConnectionRegistryBoundedAdmission(t *testing.T) {
	r := NewConnectionRegistry(2)
	if err := r.TryAdd("a", &nopCloser{}); err != nil {
		t.Fatalf("TryAdd a: %v", err)
	}
	if err := r.TryAdd("b", &nopCloser{}); err != nil {
		t.Fatalf("TryAdd b: %v", err)
	}
	if err := r.TryAdd("c", &nopCloser{}); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("TryAdd c: err=%v, want ErrRegistryFull", err)
	}
	if r.Count() != 2 {
		t.Fatalf("count = %d", r.Count())
	}

	r.Remove("a")
	if err := r.TryAdd("c", &nopCloser{}); err != nil {
		t.Fatalf("TryAdd c after remove: %v", err)
	}
}

func TestConnectionRegistryUnbounded(t *testing.T) {
	r := NewConnectionRegistry(0)
	for i := 0; i < 100; i++ {
		if err := r.TryAdd(string(rune('a'+i%26))+string(rune(i)), &nopCloser{}); err != nil {
			t.Fatalf("TryAdd: %v", err)
		}
	}
}

func TestConnectionRegistryCloseAll(t *testing.T) {
	r := NewConnectionRegistry(0)
	a, b := &nopCloser{}, &nopCloser{}
	_ = r.TryAdd("a", a)
	_ = r.TryAdd("b", b)
	r.CloseAll()
	if !a.closed || !b.closed {
		t.Fatalf("expected both connections closed: a=%v b=%v", a.closed, b.closed)
	}
}

func TestSubscriptionIndexCancelByID(t *testing.T) {
	idx := NewSubscriptionIndex()
	cancelled := false
	idx.Add("sub-1", "127.0.0.1:1", func() { cancelled = true })

	if !idx.CancelByID("sub-1") {
		t.Fatal("expected sub-1 to be found")
	}
	if !cancelled {
		t.Fatal("expected cancel to be invoked")
	}
	if idx.CancelByID("sub-1") {
		t.Fatal("expected second cancel of sub-1 to be a no-op")
	}
}

func TestSubscriptionIndexUnknownIDIsNoOp(t *testing.T) {
	idx := NewSubscriptionIndex()
	if idx.CancelByID("nope") {
		t.Fatal("expected unknown id cancel to report false")
	}
}

func TestSubscriptionIndexCancelConnection(t *testing.T) {
	idx := NewSubscriptionIndex()
	var cancelled []string
	idx.Add("sub-1", "conn-1", func() { cancelled = append(cancelled, "sub-1") })
	idx.Add("sub-2", "conn-1", func() { cancelled = append(cancelled, "sub-2") })
	idx.Add("sub-3", "conn-2", func() { cancelled = append(cancelled, "sub-3") })

	idx.CancelConnection("conn-1")

	if len(cancelled) != 2 {
		t.Fatalf("cancelled = %v", cancelled)
	}
	if idx.Count() != 1 {
		t.Fatalf("count = %d, want 1 (sub-3 survives)", idx.Count())
	}
}

func TestSubscriptionIndexRemoveWithoutCancel(t *testing.T) {
	idx := NewSubscriptionIndex()
	cancelled := false
	idx.Add("sub-1", "conn-1", func() { cancelled = true })
	idx.Remove("sub-1")
	if cancelled {
		t.Fatal("Remove must not invoke cancel")
	}
	if idx.CancelByID("sub-1") {
		t.Fatal("expected sub-1 to already be gone")
	}
}
