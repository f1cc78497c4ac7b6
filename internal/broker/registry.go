package broker

import (
	"sync"
	"time"
)

// binding is a (slug, session, bind time) triple, spec §3.
type binding struct {
	slug    string
	session *Session
	boundAt time.Time
}

// registry holds the slug → binding map and the parallel slug → ordered
// unforwarded-pending-id queue described in spec §4.2. Grounded on
// destiny-lucas's internal/hermes/broker.go BrokerService{Workers, Waiting,
// Requests}.
type registry struct {
	mu       sync.Mutex
	bindings map[string]*binding
	queues   map[string][]string
}

func newRegistry() *registry {
	return &registry{
		bindings: make(map[string]*binding),
		queues:   make(map[string][]string),
	}
}

// current returns the session currently bound to slug, if any.
func (r *registry) current(slug string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[slug]
	if !ok {
		return nil, false
	}
	return b.session, true
}

// replace performs steps 1-3 of the replacement protocol in spec §4.2: it
// resolves the prior session, closes it with reason "replaced", then
// installs the new binding. Step 2 (the close) happens-before step 3 (the
// install) so a response racing in from the old session is guaranteed to
// see itself as no longer current once on_response re-reads the registry.
func (r *registry) replace(slug string, sess *Session) {
	r.mu.Lock()
	old, hadOld := r.bindings[slug]
	r.mu.Unlock()

	if hadOld && old.session != sess {
		old.session.Close(reasonReplaced)
	}

	r.mu.Lock()
	r.bindings[slug] = &binding{slug: slug, session: sess, boundAt: time.Now()}
	r.mu.Unlock()
}

// unbindIfCurrent removes the binding for slug only if it is still held by
// sess, reporting whether it removed anything. Used by on_session_loss so
// a session that has already been replaced doesn't clobber its successor.
func (r *registry) unbindIfCurrent(slug string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[slug]
	if !ok || b.session != sess {
		return false
	}
	delete(r.bindings, slug)
	return true
}

// unbindAll clears every binding, for shutdown. It does not close
// sessions; the caller does that separately so it can also drain pending
// records.
func (r *registry) unbindAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.bindings))
	for slug, b := range r.bindings {
		sessions = append(sessions, b.session)
		delete(r.bindings, slug)
	}
	return sessions
}

// activeCount returns the number of slugs currently bound to a session.
func (r *registry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// ActiveClient is a snapshot of one live (slug, bind time) pair, for the
// status endpoint's activeClients list (spec §6).
type ActiveClient struct {
	Slug    string    `json:"slug"`
	BoundAt time.Time `json:"boundAt"`
}

// activeClients snapshots every current binding.
func (r *registry) activeClients() []ActiveClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveClient, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, ActiveClient{Slug: b.slug, BoundAt: b.boundAt})
	}
	return out
}

// enqueue appends a pending record id to the tail of slug's unforwarded
// queue, preserving admission order (spec §4.2).
func (r *registry) enqueue(slug, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[slug] = append(r.queues[slug], id)
}

// popFront removes and returns the first unforwarded id queued for slug,
// if any. Draining consumes the queue one entry at a time so that a
// forwarding failure partway through leaves the remainder untouched,
// which is exactly the "abort the drain" rule in spec §4.2 expressed as
// "don't pop what you haven't processed yet".
func (r *registry) popFront(slug string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[slug]
	if len(q) == 0 {
		return "", false
	}
	id := q[0]
	if len(q) == 1 {
		delete(r.queues, slug)
	} else {
		r.queues[slug] = q[1:]
	}
	return id, true
}

// removeQueued deletes id from slug's queue wherever it sits, used when a
// queue-wait deadline fires before the record was ever drained.
func (r *registry) removeQueued(slug, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[slug]
	for i, qid := range q {
		if qid == id {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(r.queues, slug)
	} else {
		r.queues[slug] = q
	}
}
