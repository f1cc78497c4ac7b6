package broker

import (
	"testing"
	"time"
)

func TestRegistryCurrentAndUnbind(t *testing.T) {
	r := newRegistry()

	if _, ok := r.current("svc-a"); ok {
		t.Fatal("expected no binding before registration")
	}

	sess := &Session{}
	r.bindings["svc-a"] = &binding{slug: "svc-a", session: sess}

	got, ok := r.current("svc-a")
	if !ok || got != sess {
		t.Fatalf("expected current binding to be sess, got %v, %v", got, ok)
	}

	other := &Session{}
	if r.unbindIfCurrent("svc-a", other) {
		t.Error("expected unbindIfCurrent to refuse for a non-current session")
	}
	if !r.unbindIfCurrent("svc-a", sess) {
		t.Error("expected unbindIfCurrent to succeed for the current session")
	}
	if _, ok := r.current("svc-a"); ok {
		t.Error("expected binding to be gone after unbind")
	}
}

func TestRegistryQueueOrderingAndDrain(t *testing.T) {
	r := newRegistry()

	r.enqueue("svc-a", "id1")
	r.enqueue("svc-a", "id2")
	r.enqueue("svc-a", "id3")

	id, ok := r.popFront("svc-a")
	if !ok || id != "id1" {
		t.Fatalf("expected id1 first, got %q, %v", id, ok)
	}
	id, ok = r.popFront("svc-a")
	if !ok || id != "id2" {
		t.Fatalf("expected id2 second, got %q, %v", id, ok)
	}

	// id3 remains queued; popping further after that drains it too.
	id, ok = r.popFront("svc-a")
	if !ok || id != "id3" {
		t.Fatalf("expected id3 third, got %q, %v", id, ok)
	}
	if _, ok := r.popFront("svc-a"); ok {
		t.Error("expected queue to be empty")
	}
}

func TestRegistryRemoveQueued(t *testing.T) {
	r := newRegistry()
	r.enqueue("svc-a", "id1")
	r.enqueue("svc-a", "id2")
	r.enqueue("svc-a", "id3")

	r.removeQueued("svc-a", "id2")

	first, _ := r.popFront("svc-a")
	second, _ := r.popFront("svc-a")
	if first != "id1" || second != "id3" {
		t.Errorf("expected [id1 id3] after removing id2, got [%s %s]", first, second)
	}
}

func TestRegistryUnbindAll(t *testing.T) {
	r := newRegistry()
	a, b := &Session{}, &Session{}
	r.bindings["svc-a"] = &binding{slug: "svc-a", session: a}
	r.bindings["svc-b"] = &binding{slug: "svc-b", session: b}

	sessions := r.unbindAll()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if _, ok := r.current("svc-a"); ok {
		t.Error("expected svc-a unbound")
	}
	if _, ok := r.current("svc-b"); ok {
		t.Error("expected svc-b unbound")
	}
}

func TestRegistryActiveCount(t *testing.T) {
	r := newRegistry()
	if r.activeCount() != 0 {
		t.Fatalf("expected 0, got %d", r.activeCount())
	}
	r.bindings["svc-a"] = &binding{slug: "svc-a", session: &Session{}}
	if r.activeCount() != 1 {
		t.Fatalf("expected 1, got %d", r.activeCount())
	}
}

func TestRegistryActiveClients(t *testing.T) {
	r := newRegistry()
	if clients := r.activeClients(); len(clients) != 0 {
		t.Fatalf("expected no active clients, got %v", clients)
	}

	now := time.Now()
	r.bindings["svc-a"] = &binding{slug: "svc-a", session: &Session{}, boundAt: now}

	clients := r.activeClients()
	if len(clients) != 1 || clients[0].Slug != "svc-a" || !clients[0].BoundAt.Equal(now) {
		t.Fatalf("unexpected active clients: %v", clients)
	}
}
