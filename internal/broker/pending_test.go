package broker

import (
	"testing"
	"time"
)

type stubTimer struct{ stopped bool }

func (t *stubTimer) Stop() bool {
	wasRunning := !t.stopped
	t.stopped = true
	return wasRunning
}

func TestPendingTableInsertAndRemove(t *testing.T) {
	pt := newPendingTable()
	rec := &pendingRecord{id: "r1", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}, birth: time.Now()}
	pt.insert(rec)

	if pt.size() != 1 {
		t.Fatalf("expected size 1, got %d", pt.size())
	}

	got, ok := pt.remove("r1")
	if !ok || got != rec {
		t.Fatalf("expected to remove rec, got %v, %v", got, ok)
	}
	if pt.size() != 0 {
		t.Fatalf("expected size 0 after remove, got %d", pt.size())
	}

	if _, ok := pt.remove("r1"); ok {
		t.Error("expected second remove to report false: only one actor may own completion")
	}
}

func TestPendingTableBeginForward(t *testing.T) {
	pt := newPendingTable()
	captured := &CapturedRequest{Method: "GET", URL: "/svc-a"}
	rec := &pendingRecord{id: "r1", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}, birth: time.Now(), captured: captured}
	pt.insert(rec)

	sess := &Session{}
	newTimer := &stubTimer{}
	got, c, ok := pt.beginForward("r1", sess, newTimer)
	if !ok {
		t.Fatal("expected beginForward to succeed")
	}
	if c != captured {
		t.Errorf("expected returned captured request to be the original, got %v", c)
	}
	if !got.forwarded || got.session != sess || got.timer != newTimer {
		t.Errorf("unexpected record state after beginForward: %+v", got)
	}
	if got.captured != nil {
		t.Error("expected captured to be cleared once forwarded")
	}

	if _, _, ok := pt.beginForward("missing", sess, &stubTimer{}); ok {
		t.Error("expected beginForward on an absent id to report false")
	}
}

func TestPendingTableCancelForwardedBySession(t *testing.T) {
	pt := newPendingTable()
	sess := &Session{}
	other := &Session{}

	forwarded := &pendingRecord{id: "r1", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}, forwarded: true, session: sess}
	queued := &pendingRecord{id: "r2", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}}
	forwardedOther := &pendingRecord{id: "r3", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}, forwarded: true, session: other}
	pt.insert(forwarded)
	pt.insert(queued)
	pt.insert(forwardedOther)

	cancelled := pt.cancelForwardedBySession("svc-a", sess)
	if len(cancelled) != 1 || cancelled[0].id != "r1" {
		t.Fatalf("expected only r1 cancelled, got %v", cancelled)
	}
	if pt.size() != 2 {
		t.Fatalf("expected 2 records to remain, got %d", pt.size())
	}
	if _, ok := pt.remove("r2"); !ok {
		t.Error("expected queued record r2 to still be present")
	}
	if _, ok := pt.remove("r3"); !ok {
		t.Error("expected forwarded-by-other record r3 to still be present")
	}
}

func TestPendingTableDrainAll(t *testing.T) {
	pt := newPendingTable()
	pt.insert(&pendingRecord{id: "r1", slug: "svc-a", replyCh: make(chan outcome, 1), timer: &stubTimer{}})
	pt.insert(&pendingRecord{id: "r2", slug: "svc-b", replyCh: make(chan outcome, 1), timer: &stubTimer{}})

	all := pt.drainAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 drained records, got %d", len(all))
	}
	if pt.size() != 0 {
		t.Fatalf("expected empty table after drainAll, got %d", pt.size())
	}
}
