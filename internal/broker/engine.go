package broker

import (
	"fmt"
	"sync"
	"time"

	"switchboard/internal/logger"
)

// Config is the subset of engine behaviour that can vary per deployment,
// separate from the engineOptions used for test substitution.
type Config struct {
	MaxRequestBytes int
	SlugWhitelist   []string // empty means open
}

// Engine is the dispatch engine of spec §4.1: it owns the registry, the
// pending table, and the observability sink, and is the single mutation
// point for all of them (spec §5 "all writers mutate through the engine
// only"). Grounded on destiny-lucas's internal/hermes/broker.go
// BrokerService, generalized from a ZeroMQ worker pool to a websocket
// control-channel registry.
type Engine struct {
	opts *engineOptions
	cfg  Config

	registry *registry
	pending  *pendingTable
	obs      *observer

	whitelist map[string]struct{}

	shutdownOnce sync.Once
	shuttingDown chan struct{}
}

// NewEngine constructs an Engine ready to accept submissions and session
// callbacks.
func NewEngine(cfg Config, options ...Option) *Engine {
	opts := defaultEngineOptions()
	for _, o := range options {
		o(opts)
	}

	e := &Engine{
		opts:         opts,
		cfg:          cfg,
		registry:     newRegistry(),
		pending:      newPendingTable(),
		shuttingDown: make(chan struct{}),
	}
	e.obs = newObserver(e.activeSlugCount, e.pending.size)

	if len(cfg.SlugWhitelist) > 0 {
		e.whitelist = make(map[string]struct{}, len(cfg.SlugWhitelist))
		for _, s := range cfg.SlugWhitelist {
			e.whitelist[s] = struct{}{}
		}
	}

	go e.runMaintenance()
	return e
}

// logPruneInterval and statsMaintenanceInterval are the two periodic tasks
// of spec §4.7.
const logPruneInterval = 60 * time.Second
const statsMaintenanceInterval = 5 * time.Minute

func (e *Engine) runMaintenance() {
	logTicker := time.NewTicker(logPruneInterval)
	statsTicker := time.NewTicker(statsMaintenanceInterval)
	defer logTicker.Stop()
	defer statsTicker.Stop()
	for {
		select {
		case <-e.shuttingDown:
			return
		case now := <-logTicker.C:
			e.obs.pruneLogs(now)
		case now := <-statsTicker.C:
			e.obs.pruneAggregates(now)
			e.obs.broadcastStats()
		}
	}
}

// logHTTP, logControl, logServer, and logErrorf pair a logger call with an
// observability ring record, so every broker-level event a deployer would
// want in the log is also visible to an attached status dashboard (spec
// §4.7 "each new log record is pushed to every attached dashboard").
func (e *Engine) logHTTP(msg string) {
	logger.HTTP(msg)
	e.obs.record(string(logger.TagHTTP), msg)
}

func (e *Engine) logControl(msg string) {
	logger.Control(msg)
	e.obs.record(string(logger.TagControl), msg)
}

func (e *Engine) logServer(msg string) {
	logger.Server(msg)
	e.obs.record(string(logger.TagServer), msg)
}

func (e *Engine) logErrorf(err error, msg string) {
	logger.Errorf(err, msg)
	e.obs.record(string(logger.TagError), fmt.Sprintf("%s: %v", msg, err))
}

// Stats returns the current observability snapshot, for /api/status.
func (e *Engine) Stats() Stats {
	return e.obs.snapshot()
}

// ActiveClients returns a snapshot of every slug currently bound to a
// session, for /api/status's activeClients list (spec §6).
func (e *Engine) ActiveClients() []ActiveClient {
	return e.registry.activeClients()
}

// RequestError is a rejection or failure completion carrying the HTTP
// status the caller should see, per the completion policy of spec §4.1.
// httpapi recovers the status with a type assertion on any error Submit
// returns.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func newAdmissionError(status int, msg string) *RequestError {
	return &RequestError{Status: status, Message: msg}
}

// Submit runs the admission pipeline of spec §4.1 steps (d)-(g) — rate
// limiting and routing are applied by the HTTP layer before calling
// Submit — then either forwards immediately to a bound session or
// enqueues the record to await one, and blocks until a terminal event
// fires for the record.
func (e *Engine) Submit(req CapturedRequest, slug string) (StructuredResponse, error) {
	e.obs.recordReceived()

	select {
	case <-e.shuttingDown:
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(503, "server is shutting down")
	default:
	}

	if err := ValidateSlug(slug); err != nil {
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(400, err.Error())
	}
	if slug == ReservedSlug {
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(400, "slug is reserved")
	}
	if e.whitelist != nil {
		if _, ok := e.whitelist[slug]; !ok {
			e.obs.recordFailed()
			return StructuredResponse{}, newAdmissionError(403, "slug is not on the whitelist")
		}
	}
	if err := ValidateTargetString(req.Method + " " + req.URL); err != nil {
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(400, err.Error())
	}
	if len(req.Body) > e.cfg.MaxRequestBytes {
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(413, "request body exceeds maximum size")
	}

	id := e.opts.ids.NewID()
	replyCh := make(chan outcome, 1)

	if sess, ok := e.registry.current(slug); ok {
		return e.forwardNow(id, slug, sess, req, replyCh)
	}
	return e.enqueueAndWait(id, slug, req, replyCh)
}

func (e *Engine) forwardNow(id, slug string, sess *Session, req CapturedRequest, replyCh chan outcome) (StructuredResponse, error) {
	timer := e.opts.clock.AfterFunc(e.opts.forward, func() { e.onDeadline(id) })
	rec := &pendingRecord{
		id:        id,
		slug:      slug,
		replyCh:   replyCh,
		timer:     timer,
		birth:     e.opts.clock.Now(),
		forwarded: true,
		session:   sess,
	}
	e.pending.insert(rec)

	if !e.send(sess, slug, id, req) {
		if rec, ok := e.pending.remove(id); ok {
			rec.timer.Stop()
		}
		e.obs.recordFailed()
		return StructuredResponse{}, newAdmissionError(500, "failed to forward request to handler")
	}
	return e.await(replyCh)
}

func (e *Engine) enqueueAndWait(id, slug string, req CapturedRequest, replyCh chan outcome) (StructuredResponse, error) {
	timer := e.opts.clock.AfterFunc(e.opts.queueWait, func() { e.onQueueWaitExpiry(id, slug) })
	rec := &pendingRecord{
		id:       id,
		slug:     slug,
		replyCh:  replyCh,
		timer:    timer,
		birth:    e.opts.clock.Now(),
		captured: &req,
	}
	e.pending.insert(rec)
	e.registry.enqueue(slug, id)
	return e.await(replyCh)
}

func (e *Engine) send(sess *Session, slug, id string, req CapturedRequest) bool {
	frame, err := buildForwardedRequest(slug, id, req)
	if err != nil {
		return false
	}
	return sess.Send(frame)
}

func (e *Engine) await(replyCh chan outcome) (StructuredResponse, error) {
	out := <-replyCh
	if out.response != nil {
		return *out.response, nil
	}
	return StructuredResponse{}, newAdmissionError(out.status, out.errMsg)
}

// onDeadline fires when a forwarded record's 150s forward deadline
// expires, spec §4.1.
func (e *Engine) onDeadline(id string) {
	rec, ok := e.pending.remove(id)
	if !ok {
		return
	}
	e.completeFailure(rec, 504, "No response received within timeout")
	e.logErrorf(fmt.Errorf("request %s timed out waiting for a response", id), "forward deadline expired")
}

// onQueueWaitExpiry fires when an unforwarded record's 30s queue-wait
// deadline expires before any handler bound, spec §4.1/§4.3.
func (e *Engine) onQueueWaitExpiry(id, slug string) {
	rec, ok := e.pending.remove(id)
	if !ok {
		return
	}
	e.registry.removeQueued(slug, id)
	e.completeFailure(rec, 504, "No WebSocket client connected within timeout")
	e.logErrorf(fmt.Errorf("request %s for slug %q saw no handler bind in time", id, slug), "queue-wait deadline expired")
}

func (e *Engine) completeFailure(rec *pendingRecord, status int, msg string) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.replyCh <- outcome{status: status, errMsg: msg}
	e.obs.recordFailed()
	e.obs.observeLatency(e.opts.clock.Now().Sub(rec.birth), e.opts.clock.Now())
}

func (e *Engine) completeSuccess(rec *pendingRecord, resp StructuredResponse) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.replyCh <- outcome{response: &resp}
	e.obs.recordSucceeded()
	e.obs.observeLatency(e.opts.clock.Now().Sub(rec.birth), e.opts.clock.Now())
}

// onRegistration implements spec §4.2's replacement protocol and §4.3's
// queue drain, called by a Session's reader loop.
func (e *Engine) onRegistration(sess *Session, slug string) error {
	if err := ValidateSlug(slug); err != nil {
		return err
	}
	if slug == ReservedSlug {
		return fmt.Errorf("slug is reserved")
	}

	e.registry.replace(slug, sess)
	e.logControl(fmt.Sprintf("session registered for slug %q", slug))

	ack, err := buildRegisteredAck(slug)
	if err == nil {
		sess.Send(ack)
	}

	e.drainQueue(slug, sess)
	return nil
}

// drainQueue implements spec §4.3: forward queued records in admission
// order, stopping at the first send failure and leaving the remainder
// queued.
func (e *Engine) drainQueue(slug string, sess *Session) {
	for {
		id, ok := e.registry.popFront(slug)
		if !ok {
			return
		}

		timer := e.opts.clock.AfterFunc(e.opts.forward, func() { e.onDeadline(id) })
		_, captured, ok := e.pending.beginForward(id, sess, timer)
		if !ok {
			// A queue-wait deadline raced this id away; it is not a send
			// failure of this binding, so the drain continues.
			timer.Stop()
			continue
		}
		if captured == nil {
			captured = &CapturedRequest{}
		}

		if !e.send(sess, slug, id, *captured) {
			if removed, ok := e.pending.remove(id); ok {
				e.completeFailure(removed, 500, "failed to forward queued request to handler")
			}
			e.logErrorf(fmt.Errorf("send failed while draining queue for slug %q", slug), "aborting drain")
			return
		}
	}
}

// onResponse implements spec §4.1: a response is only honoured if the
// request id is still pending and the replying session is still the
// current binding for that slug.
func (e *Engine) onResponse(sess *Session, requestID, slug string, resp StructuredResponse) {
	current, ok := e.registry.current(slug)
	if !ok || current != sess {
		e.logControl(fmt.Sprintf("discarding response %s: session is not the current binding for slug %q", requestID, slug))
		return
	}

	// Check the slug before removing: a mismatched response is discarded
	// while its record stays pending for its rightful completion. A
	// record's slug never changes, so this peek cannot go stale.
	e.pending.mu.Lock()
	peek, found := e.pending.records[requestID]
	e.pending.mu.Unlock()
	if found && peek.slug != slug {
		e.logControl(fmt.Sprintf("discarding response %s: slug mismatch", requestID))
		return
	}

	rec, ok := e.pending.remove(requestID)
	if !ok {
		e.logControl(fmt.Sprintf("discarding response %s: no matching pending record", requestID))
		return
	}
	e.completeSuccess(rec, resp)
}

// onSessionLoss implements spec §4.1: unbind if still current, then
// cancel every already-forwarded record bound to this session, leaving
// queued (unforwarded) records for a future binding.
func (e *Engine) onSessionLoss(sess *Session) {
	e.obs.detach(sess)

	slug, bound := sess.BoundSlug()
	if !bound {
		return
	}
	e.registry.unbindIfCurrent(slug, sess)

	for _, rec := range e.pending.cancelForwardedBySession(slug, sess) {
		e.completeFailure(rec, 503, "No active WebSocket client for this slug")
	}
	e.logControl(fmt.Sprintf("session for slug %q lost", slug))
}

func (e *Engine) activeSlugCount() int {
	return e.registry.activeCount()
}

// Shutdown implements spec §5: cancel every pending record with 503,
// close every session currently bound to a slug with reason "server
// shutting down", and return once that is done or after a 10s hard bound,
// whichever is first. Sessions that hold no binding (never registered, or
// dashboard-only) are not closed here.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shuttingDown)

		done := make(chan struct{})
		go func() {
			for _, rec := range e.pending.drainAll() {
				e.completeFailure(rec, 503, "server is shutting down")
			}
			for _, sess := range e.registry.unbindAll() {
				sess.Close(reasonShutdown)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			e.logServer("shutdown hard timeout exceeded")
		}
	})
}
