package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	failing bool
}

func (f *fakeConn) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	if f.failing {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, p)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = string(m)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegister_ReplacesAndClosesPrevious(t *testing.T) {
	r := New()
	hA, hB := &fakeConn{}, &fakeConn{}

	if r.Register("u1", hA) {
		t.Fatal("first register must not report replaced")
	}
	if !r.Register("u1", hB) {
		t.Fatal("second register must report replaced")
	}
	if !hA.isClosed() {
		t.Fatal("replaced handle must be closed")
	}
	if err := r.Send("u1", []byte("msg")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := hB.received(); len(got) != 1 || got[0] != "msg" {
		t.Fatalf("hB got %v", got)
	}
	if got := hA.received(); len(got) != 0 {
		t.Fatalf("hA must receive nothing, got %v", got)
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New()
	h := &fakeConn{}
	r.Register("u1", h)

	got, ok := r.Unregister("u1")
	if !ok || got != h {
		t.Fatalf("unregister returned %v %v", got, ok)
	}
	if _, ok := r.Unregister("u1"); ok {
		t.Fatal("second unregister must report absent")
	}
}

func TestRelease_DoesNotEvictSuccessor(t *testing.T) {
	r := New()
	hA, hB := &fakeConn{}, &fakeConn{}
	r.Register("u1", hA)
	r.Register("u1", hB)

	if r.Release("u1", hA) {
		t.Fatal("stale handle must not release successor")
	}
	if c, ok := r.Lookup("u1"); !ok || c != hB {
		t.Fatal("successor must stay registered")
	}
	if !r.Release("u1", hB) {
		t.Fatal("current handle must release")
	}
}

func TestSend_NotFound(t *testing.T) {
	r := New()
	if err := r.Send("ghost", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSend_FailureUnregisters(t *testing.T) {
	r := New()
	h := &fakeConn{failing: true}
	r.Register("u1", h)

	if err := r.Send("u1", []byte("x")); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("dead connection must be unregistered")
	}
	if !h.isClosed() {
		t.Fatal("dead connection must be closed")
	}
	if err := r.Send("u1", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after eviction", err)
	}
}

func TestBroadcast_ExcludesAndSurvivesDeadPeer(t *testing.T) {
	r := New()
	a, b, dead := &fakeConn{}, &fakeConn{}, &fakeConn{failing: true}
	r.Register("a", a)
	r.Register("b", b)
	r.Register("dead", dead)

	n := r.Broadcast([]string{"a", "b", "dead", "missing"}, []byte("hi"), "a")
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(a.received()) != 0 {
		t.Fatal("excluded identity received the broadcast")
	}
	if len(b.received()) != 1 {
		t.Fatal("b did not receive the broadcast")
	}
	if _, ok := r.Lookup("dead"); ok {
		t.Fatal("dead peer must be unregistered by broadcast")
	}
}

func TestBroadcast_PreservesPerSenderOrder(t *testing.T) {
	r := New()
	h := &fakeConn{}
	r.Register("rcv", h)

	for i := 0; i < 50; i++ {
		r.Broadcast([]string{"rcv"}, []byte(fmt.Sprint(i)), "")
	}
	got := h.received()
	for i, m := range got {
		if m != fmt.Sprint(i) {
			t.Fatalf("message %d = %s, out of order", i, m)
		}
	}
}

func TestRegistry_ConcurrentRegisterKeepsOneLiveHandle(t *testing.T) {
	r := New()
	const n = 64
	handles := make([]*fakeConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		handles[i] = &fakeConn{}
		wg.Add(1)
		go func(h *fakeConn) {
			defer wg.Done()
			r.Register("same", h)
		}(handles[i])
	}
	wg.Wait()

	live, ok := r.Lookup("same")
	if !ok {
		t.Fatal("identity must be registered")
	}
	open := 0
	for _, h := range handles {
		if !h.isClosed() {
			open++
			if Conn(h) != live {
				t.Fatal("an unclosed handle is not the live one")
			}
		}
	}
	if open != 1 {
		t.Fatalf("open handles = %d, want 1", open)
	}
}

func TestCloseAll(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}
	r.Register("a", a)
	r.Register("b", b)
	r.CloseAll()
	if r.Count() != 0 || !a.isClosed() || !b.isClosed() {
		t.Fatal("close all must close and forget every connection")
	}
}
