package broker

import (
	"sync"
	"time"
)

// outcome is what a pending record resolves to: either a handler's
// structured response, or a failure status/message pair (spec §4.1
// completion policy).
type outcome struct {
	response *StructuredResponse
	status   int
	errMsg   string
}

// pendingRecord is the "pending record" of spec §3: request id, slug,
// reply sink, exactly one deadline timer, birth time, and the captured
// request retained only while unforwarded.
type pendingRecord struct {
	id        string
	slug      string
	replyCh   chan outcome
	timer     Timer
	birth     time.Time
	forwarded bool
	session   *Session // set once forwarded; nil while queued
	captured  *CapturedRequest
}

// pendingTable is the request-id-keyed correlation table of spec §3/§5,
// with a secondary per-slug index so on_session_loss can cancel the k
// forwarded records of a lost session's slug in O(k). Grounded on
// destiny-lucas's internal/hermes/client.go PendingClientRequest plus its
// timeoutMonitor/cleanupTimeoutRequests sweep.
type pendingTable struct {
	mu      sync.Mutex
	records map[string]*pendingRecord
	bySlug  map[string]map[string]struct{}
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		records: make(map[string]*pendingRecord),
		bySlug:  make(map[string]map[string]struct{}),
	}
}

func (t *pendingTable) insert(rec *pendingRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.id] = rec
	set, ok := t.bySlug[rec.slug]
	if !ok {
		set = make(map[string]struct{})
		t.bySlug[rec.slug] = set
	}
	set[rec.id] = struct{}{}
}

// remove is the single atomic remove-by-id required by spec §4.1/§9:
// whichever caller observes ok==true has exclusive ownership of
// completing the record; every other caller sees ok==false and must do
// nothing further.
func (t *pendingTable) remove(id string) (*pendingRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return nil, false
	}
	delete(t.records, id)
	if set, ok := t.bySlug[rec.slug]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(t.bySlug, rec.slug)
		}
	}
	return rec, true
}

// beginForward transitions an unforwarded record to forwarded, replacing
// its queue-wait timer with a fresh forward-deadline timer. It reports
// false if the record is no longer present (a deadline or session-loss
// actor already removed it), in which case the caller has nothing to
// forward.
func (t *pendingTable) beginForward(id string, sess *Session, newTimer Timer) (rec *pendingRecord, captured *CapturedRequest, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok = t.records[id]
	if !ok {
		return nil, nil, false
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.timer = newTimer
	rec.forwarded = true
	rec.session = sess
	captured = rec.captured
	rec.captured = nil
	return rec, captured, true
}

// cancelForwardedBySession returns (and removes) every forwarded record
// for slug whose bound session is sess, for on_session_loss (spec §4.1).
// Unforwarded (still-queued) records for the same slug are left alone.
func (t *pendingTable) cancelForwardedBySession(slug string, sess *Session) []*pendingRecord {
	t.mu.Lock()
	ids := t.bySlug[slug]
	var matched []*pendingRecord
	for id := range ids {
		rec := t.records[id]
		if rec.forwarded && rec.session == sess {
			matched = append(matched, rec)
		}
	}
	for _, rec := range matched {
		delete(t.records, rec.id)
		delete(ids, rec.id)
	}
	if len(ids) == 0 {
		delete(t.bySlug, slug)
	}
	t.mu.Unlock()
	return matched
}

// drainAll removes every record in the table, for shutdown.
func (t *pendingTable) drainAll() []*pendingRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*pendingRecord, 0, len(t.records))
	for _, rec := range t.records {
		all = append(all, rec)
	}
	t.records = make(map[string]*pendingRecord)
	t.bySlug = make(map[string]map[string]struct{})
	return all
}

func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
